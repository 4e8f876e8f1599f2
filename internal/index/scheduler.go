package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler re-runs an indexing job on a cron schedule. Overlapping runs are
// already excluded by the indexer's file lock; the scheduler additionally
// skips a tick if the previous run is still going, so skipped ticks do not
// pile up.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	running sync.Mutex
}

// NewScheduler schedules job at the given cron spec (standard 5-field
// syntax, e.g. "0 4 * * *" for daily at 04:00).
func NewScheduler(spec string, job func(ctx context.Context), logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Scheduler{cron: cron.New(), logger: logger}

	_, err := s.cron.AddFunc(spec, func() {
		if !s.running.TryLock() {
			s.logger.Warn("skipping scheduled refresh, previous run still active")
			return
		}
		defer s.running.Unlock()
		job(context.Background())
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron spec %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for an in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
