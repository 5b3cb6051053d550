package services

import (
	"sort"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/slhuckstead/accountmap/internal/domains"
)

// Operation classes that pass through an admission gate.
const (
	ClassExport = "export"
	ClassSync   = "sync"
)

// AdmissionGate bounds concurrent instances of one expensive operation class.
// It never queues: a saturated gate rejects immediately.
type AdmissionGate struct {
	class    string
	capacity int64
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	rejected atomic.Int64
}

func NewAdmissionGate(class string, capacity int) *AdmissionGate {
	if capacity <= 0 {
		capacity = 1
	}
	return &AdmissionGate{
		class:    class,
		capacity: int64(capacity),
		sem:      semaphore.NewWeighted(int64(capacity)),
	}
}

// Acquire admits the caller or returns RateLimited. The returned release func
// must be called exactly once; extra calls are ignored.
func (g *AdmissionGate) Acquire() (release func(), err error) {
	if !g.sem.TryAcquire(1) {
		g.rejected.Add(1)
		return nil, domains.RateLimited(g.class)
	}
	g.inFlight.Add(1)

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			g.inFlight.Add(-1)
			g.sem.Release(1)
		}
	}, nil
}

type GateStats struct {
	Class    string `json:"class"`
	Capacity int64  `json:"capacity"`
	InFlight int64  `json:"inFlight"`
	Rejected int64  `json:"rejected"`
}

func (g *AdmissionGate) Stats() GateStats {
	return GateStats{
		Class:    g.class,
		Capacity: g.capacity,
		InFlight: g.inFlight.Load(),
		Rejected: g.rejected.Load(),
	}
}

// LoadShedder holds one gate per operation class. Classes without a gate are
// always admitted.
type LoadShedder struct {
	gates map[string]*AdmissionGate
}

func NewLoadShedder(capacities map[string]int) *LoadShedder {
	s := &LoadShedder{gates: make(map[string]*AdmissionGate, len(capacities))}
	for class, capacity := range capacities {
		s.gates[class] = NewAdmissionGate(class, capacity)
	}
	return s
}

func (s *LoadShedder) Acquire(class string) (func(), error) {
	g, ok := s.gates[class]
	if !ok {
		return func() {}, nil
	}
	return g.Acquire()
}

// Stats reports every gate, ordered by class.
func (s *LoadShedder) Stats() []GateStats {
	out := make([]GateStats, 0, len(s.gates))
	for _, g := range s.gates {
		out = append(out, g.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	return out
}
