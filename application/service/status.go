package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hermesindex/hermes/infrastructure/postgres"
)

// DefaultStatusInterval is the refresh cadence of the status snapshot.
const DefaultStatusInterval = 30 * time.Second

// StatusSource reads per-source sync progress.
type StatusSource interface {
	Status(ctx context.Context) ([]postgres.SourceStatus, error)
}

// CounterSource reads enrichment table totals.
type CounterSource interface {
	Counters(ctx context.Context) (postgres.EnrichmentCounters, error)
}

// StatusSnapshot is the cached view served by the status endpoint.
type StatusSnapshot struct {
	Sources     []postgres.SourceStatus     `json:"sources"`
	Enrichment  postgres.EnrichmentCounters `json:"enrichment"`
	RefreshedAt time.Time                   `json:"refreshed_at"`
}

// Status keeps a periodically refreshed snapshot of sync and enrichment
// progress so the endpoint never queries the catalog on the request path.
type Status struct {
	states   StatusSource
	counters CounterSource
	interval time.Duration
	logger   *slog.Logger

	mu   sync.RWMutex
	snap StatusSnapshot
}

// NewStatus creates the refresher. counters may be nil when no enrichment
// schema is configured.
func NewStatus(states StatusSource, counters CounterSource, interval time.Duration, logger *slog.Logger) *Status {
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Status{states: states, counters: counters, interval: interval, logger: logger}
}

// Refresh reloads the snapshot once.
func (s *Status) Refresh(ctx context.Context) error {
	sources, err := s.states.Status(ctx)
	if err != nil {
		return err
	}
	snap := StatusSnapshot{Sources: sources, RefreshedAt: time.Now().UTC()}
	if s.counters != nil {
		counters, err := s.counters.Counters(ctx)
		if err != nil {
			s.logger.Warn("enrichment counters failed", slog.String("error", err.Error()))
		} else {
			snap.Enrichment = counters
		}
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

// Run refreshes immediately, then on every tick until ctx is cancelled.
func (s *Status) Run(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("status refresh failed", slog.String("error", err.Error()))
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("status refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Snapshot returns the last refreshed view.
func (s *Status) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
