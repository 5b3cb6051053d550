package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/slhuckstead/accountmap/internal/domains"
	"github.com/slhuckstead/accountmap/internal/models"
)

// ErrSyncUnavailable is returned by synchronizers that cannot reach their peer.
var ErrSyncUnavailable = errors.New("synchronization collaborator unavailable")

// Synchronizer is the outbound synchronization integration.
type Synchronizer interface {
	Synchronize(ctx context.Context, req models.SyncRequest) (*models.SyncResult, error)
}

// SyncService triggers synchronization runs with a bounded wait.
type SyncService struct {
	syncer  Synchronizer
	timeout time.Duration
}

func NewSyncService(syncer Synchronizer, timeout time.Duration) *SyncService {
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &SyncService{syncer: syncer, timeout: timeout}
}

// Trigger runs one synchronization. Every collaborator failure, including a
// timeout, surfaces as DependencyUnavailable.
func (s *SyncService) Trigger(ctx context.Context, req models.SyncRequest) (*models.SyncResult, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	unavailable := func(cause error) error {
		return domains.DependencyUnavailable("synchronization service unavailable, try again later", cause)
	}
	if s.syncer == nil {
		return nil, unavailable(ErrSyncUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	result, err := s.syncer.Synchronize(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled {
			return nil, domains.FromContext(err)
		}
		log.Printf("[sync] Request %s failed after %s: %v", req.RequestID, time.Since(started).Round(time.Millisecond), err)
		return nil, unavailable(err)
	}
	if result == nil {
		return nil, unavailable(errors.New("empty synchronization result"))
	}

	if result.RequestID == "" {
		result.RequestID = req.RequestID
	}
	if result.Status == "" {
		result.Status = "completed"
	}
	log.Printf("[sync] Request %s %s: %d processed", req.RequestID, result.Status, result.Processed)
	return result, nil
}
