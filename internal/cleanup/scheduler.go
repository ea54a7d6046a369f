package cleanup

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"taskmaster/internal/model"
	"taskmaster/internal/syncer"
	"taskmaster/pkg/metrics"
)

// Scheduler sweeps away yesterday's completed tasks just after midnight.
// Each sweep deletes permanently through the sync engine, so swept tasks
// are marked deleted and cannot resurrect from the change feed.
type Scheduler struct {
	sync   *syncer.Engine
	logger *zap.Logger
	now    func() time.Time
}

func New(sync *syncer.Engine, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		sync:   sync,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the scheduler's time source. Tests only.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start runs the midnight loop until ctx is cancelled. The next sweep is
// rescheduled after every run, whether or not the run succeeded.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		wait := s.untilNextMidnight()
		s.logger.Info("Next cleanup scheduled", zap.Duration("in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Cleanup run failed", zap.Error(err))
		}
	}
}

// untilNextMidnight returns the duration to the next local midnight, with a
// small delay so the sweep runs on the new day, not at the boundary.
func (s *Scheduler) untilNextMidnight() time.Duration {
	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return next.Sub(now) + 5*time.Second
}

// RunOnce sweeps once: every completed task dated yesterday or earlier, or
// completed on a previous calendar day, is permanently deleted. One change
// notification fires after all deletes settle.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	today := model.FormatDate(s.now())

	var victims []model.Task
	for _, t := range s.sync.Tasks() {
		if t.Status != model.StatusCompleted {
			continue
		}
		if (t.Date != "" && t.Date < today) || t.CompletedBefore(today) {
			victims = append(victims, t)
		}
	}
	if len(victims) == 0 {
		return 0, nil
	}

	// One failed delete must not abort the rest of the sweep, so errors are
	// swallowed per task and only surfaced in aggregate.
	var deleted, failed int64
	var g errgroup.Group
	g.SetLimit(4)
	for _, t := range victims {
		id := t.ID
		g.Go(func() error {
			if _, err := s.sync.DeleteTask(ctx, id); err != nil {
				s.logger.Warn("Cleanup delete failed", zap.String("task_id", id), zap.Error(err))
				atomic.AddInt64(&failed, 1)
				return nil
			}
			atomic.AddInt64(&deleted, 1)
			metrics.CleanupDeletions.Inc()
			return nil
		})
	}
	g.Wait()

	count := int(atomic.LoadInt64(&deleted))
	s.logger.Info("Cleanup run complete",
		zap.Int("candidates", len(victims)),
		zap.Int("deleted", count),
		zap.String("today", today),
	)
	s.sync.SignalChanged()
	if n := atomic.LoadInt64(&failed); n > 0 {
		return count, fmt.Errorf("cleanup: %d of %d deletes failed", n, len(victims))
	}
	return count, nil
}
