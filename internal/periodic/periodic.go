// Package periodic implements the five independently-timed workers
// (§4.6): each holds a mutex-guarded running flag so a tick that lands
// while a cycle is still active is skipped with a warning, not queued,
// and each bounds its per-cycle project concurrency with
// golang.org/x/sync/errgroup's SetLimit.
package periodic

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antigravity-dev/cortex/internal/projects"
)

// The §4.6 interval/concurrency table.
const (
	WyrmInterval    = 60 * time.Second
	WyrmConcurrency = 5

	WyvernInterval    = 60 * time.Second
	WyvernConcurrency = 5

	DrakeExecutionInterval           = 30 * time.Second
	DrakeExecutionProjectConcurrency = 5
	// DrakeExecutionWorkersPerProject bounds how many Kobolds a single
	// Drake execution ProcessOne callback may run concurrently within
	// one project — the caller enforces this inner cap (e.g. with its
	// own errgroup.SetLimit(4)), since it is a property of one Drake's
	// worker pool, not of this service's project-level cycle.
	DrakeExecutionWorkersPerProject = 4

	DrakeMonitoringInterval    = 60 * time.Second
	DrakeMonitoringConcurrency = 5 // InProgress projects per cycle

	VerificationInterval    = 30 * time.Second
	VerificationConcurrency = 3
)

// Stagger offsets available to reduce simultaneous spikes (§4.6).
var Staggers = []time.Duration{0, 20 * time.Second, 40 * time.Second}

// Service is one periodic worker: a timer loop that, on each tick,
// either starts a bounded-concurrency cycle over a list of eligible
// items or skips the tick if a cycle is still running.
type Service struct {
	Name        string
	Interval    time.Duration
	Concurrency int
	Stagger     time.Duration
	Logger      *slog.Logger

	// ListEligible returns the ids to process this cycle.
	ListEligible func(ctx context.Context) ([]string, error)
	// ProcessOne handles a single id. An error is logged, never
	// propagated — "a failure in one project does not abort the cycle".
	ProcessOne func(ctx context.Context, id string) error

	mu      sync.Mutex
	running bool
}

// tryBeginCycle sets the running flag if it isn't already set, per
// "isRunning flag guarded by a mutex" (§4.6).
func (s *Service) tryBeginCycle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Service) endCycle() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning reports whether a cycle is currently active (exposed for
// health/status reporting).
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// runCycle lists eligible items and processes them concurrently up to
// Concurrency, clearing the running flag when every item finishes.
func (s *Service) runCycle(ctx context.Context) {
	defer s.endCycle()

	items, err := s.ListEligible(ctx)
	if err != nil {
		s.Logger.Error("periodic worker: listing eligible items failed", "service", s.Name, "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	var g errgroup.Group
	if s.Concurrency > 0 {
		g.SetLimit(s.Concurrency)
	}
	for _, id := range items {
		g.Go(func() error {
			if err := s.ProcessOne(ctx, id); err != nil {
				s.Logger.Error("periodic worker: item failed", "service", s.Name, "id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait() // ProcessOne never returns a non-nil error to the group
}

// Run blocks until ctx is cancelled, ticking at Interval. A tick is
// dropped — not queued — if the previous cycle is still running (§4.6,
// §8 scenario 5).
func (s *Service) Run(ctx context.Context) {
	if s.Stagger > 0 {
		select {
		case <-time.After(s.Stagger):
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.tryBeginCycle() {
				s.Logger.Warn("periodic worker: tick skipped, cycle still active", "service", s.Name)
				continue
			}
			go s.runCycle(ctx)
		}
	}
}

// ListByStatus builds a ListEligible func for the common case: every
// project currently in one status.
func ListByStatus(repo *projects.Repository, status projects.Status) func(ctx context.Context) ([]string, error) {
	return func(ctx context.Context) ([]string, error) {
		list := repo.List(status)
		ids := make([]string, len(list))
		for i, p := range list {
			ids[i] = p.ID
		}
		return ids, nil
	}
}
