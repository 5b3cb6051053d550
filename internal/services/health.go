package services

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slhuckstead/accountmap/internal/domains"
)

// Dependency states as reported by /health.
const (
	StoreConfigured    = "configured"
	StoreNotConfigured = "not configured"
	StoreError         = "error"

	AppInitialized = "initialized"
	AppUnknown     = "unknown"
	AppError       = "error"

	BrokerConnected     = "connected"
	BrokerDisconnected  = "disconnected"
	BrokerNotConfigured = "not configured"

	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Readiness tracks application bootstrap. It starts unknown.
type Readiness struct {
	state atomic.Int32
}

const (
	readinessUnknown int32 = iota
	readinessInitialized
	readinessFailed
)

func (r *Readiness) MarkInitialized() { r.state.Store(readinessInitialized) }

func (r *Readiness) MarkFailed() { r.state.Store(readinessFailed) }

func (r *Readiness) State() string {
	switch r.state.Load() {
	case readinessInitialized:
		return AppInitialized
	case readinessFailed:
		return AppError
	default:
		return AppUnknown
	}
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type ConnectionStatus interface {
	IsConnected() bool
}

type GateReporter interface {
	Stats() []GateStats
}

type HealthReport struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Environment string `json:"environment"`
	MongoDB     string `json:"mongodb"`
	Payload     string `json:"payload"`
	Broker      string `json:"broker"`
	Error       string      `json:"error,omitempty"`
	Gates       []GateStats `json:"gates,omitempty"`
}

type HealthOptions struct {
	Environment     string
	AppSecretSet    bool
	StoreConfigured bool
	Store           Pinger
	Readiness       *Readiness
	Broker          ConnectionStatus
	Gates           GateReporter
	Timeout         time.Duration
}

// HealthService aggregates dependency state. Reports carry categories only;
// configuration values and driver errors stay in the log.
type HealthService struct {
	opts HealthOptions
}

func NewHealthService(opts HealthOptions) *HealthService {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Readiness == nil {
		opts.Readiness = &Readiness{}
	}
	return &HealthService{opts: opts}
}

// Check probes every dependency concurrently under the probe timeout. The
// error is non-nil only when the configuration is too broken to serve at all.
func (s *HealthService) Check(ctx context.Context) (*HealthReport, error) {
	report := &HealthReport{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Environment: s.opts.Environment,
		Payload:     s.opts.Readiness.State(),
		MongoDB:     StoreNotConfigured,
		Broker:      BrokerNotConfigured,
	}

	if !s.opts.AppSecretSet {
		report.Status = StatusUnhealthy
		report.MongoDB = StoreError
		report.Payload = AppError
		report.Error = "configuration error: application secret is not set"
		return report, domains.ConfigurationError(report.Error)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	var g errgroup.Group
	if s.opts.StoreConfigured && s.opts.Store != nil {
		g.Go(func() error {
			if err := probe(ctx, s.opts.Store.Ping); err != nil {
				log.Printf("[health] Store probe failed: %v", err)
				report.MongoDB = StoreError
			} else {
				report.MongoDB = StoreConfigured
			}
			return nil
		})
	}
	if s.opts.Broker != nil {
		g.Go(func() error {
			if s.opts.Broker.IsConnected() {
				report.Broker = BrokerConnected
			} else {
				report.Broker = BrokerDisconnected
			}
			return nil
		})
	}
	g.Wait()

	switch {
	case report.MongoDB == StoreNotConfigured:
		report.Error = "database not configured"
	case report.MongoDB == StoreError:
		report.Error = "database unreachable"
	case report.Payload != AppInitialized:
		report.Error = "application not initialized"
	}

	if s.opts.Gates != nil {
		report.Gates = s.opts.Gates.Stats()
	}

	report.Status = StatusHealthy
	if report.Error != "" {
		report.Status = StatusUnhealthy
	}
	return report, nil
}

// probe runs fn but returns as soon as ctx expires, even if fn ignores ctx.
func probe(ctx context.Context, fn func(context.Context) error) error {
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
