package recurrence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"taskmaster/internal/model"
	"taskmaster/internal/syncer"
	"taskmaster/pkg/metrics"
)

// Engine rolls recurring tasks forward. Completing a recurring task becomes
// three writes: a completion marker carrying the next occurrence date, a
// fresh pending occurrence for tomorrow, and a discard of the old document.
type Engine struct {
	sync   *syncer.Engine
	logger *zap.Logger
	now    func() time.Time
}

func New(sync *syncer.Engine, logger *zap.Logger) *Engine {
	return &Engine{
		sync:   sync,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the engine's time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// OnTaskCompleted marks a task completed. For non-recurring tasks that is a
// plain status save. For recurring tasks it also generates tomorrow's
// occurrence and discards the old document once both writes land, so a crash
// mid-sequence leaves either the old task or a marker the catch-up can
// repair, never a silently broken chain.
func (e *Engine) OnTaskCompleted(ctx context.Context, actor model.Identity, id string) (model.Task, error) {
	task, ok := e.sync.Find(id)
	if !ok {
		return model.Task{}, fmt.Errorf("complete %s: task not in cache", id)
	}
	if task.Status == model.StatusCompleted {
		return task, nil
	}

	if !task.Recurring {
		task.Status = model.StatusCompleted
		return e.sync.Save(ctx, actor, task)
	}

	tomorrow := model.FormatDate(e.now().AddDate(0, 0, 1))

	marker := task
	marker.Status = model.StatusCompleted
	marker.NextOccurrenceDate = tomorrow
	marker.RecurrenceCount = task.RecurrenceCount + 1

	saved, err := e.sync.Save(ctx, actor, marker)
	if err != nil {
		return task, fmt.Errorf("complete recurring %s: %w", id, err)
	}

	next, err := e.createOccurrence(ctx, actor, saved, tomorrow, "completion")
	if err != nil {
		// The marker is durable; the next load's catch-up finishes the roll.
		e.logger.Warn("Next occurrence not created, will catch up on next load",
			zap.String("task_id", id),
			zap.Error(err),
		)
		return saved, nil
	}

	if err := e.sync.DiscardOccurrence(ctx, saved.ID); err != nil {
		e.logger.Warn("Failed to discard completed occurrence",
			zap.String("task_id", saved.ID),
			zap.Error(err),
		)
	}
	return next, nil
}

// createOccurrence writes the next pending occurrence of a recurring task.
func (e *Engine) createOccurrence(ctx context.Context, actor model.Identity, parent model.Task, date, source string) (model.Task, error) {
	next := model.Task{
		ID:              model.NewID(),
		Name:            parent.Name,
		Date:            date,
		Notes:           parent.Notes,
		Priority:        parent.Priority,
		Status:          model.StatusPending,
		Recurring:       true,
		ParentTaskID:    parent.ID,
		RecurrenceCount: parent.RecurrenceCount,
		CreatedBy:       parent.CreatedBy,
	}

	saved, err := e.sync.Save(ctx, actor, next)
	if err != nil {
		return model.Task{}, err
	}
	metrics.OccurrencesGenerated.WithLabelValues(source).Inc()
	e.logger.Info("Generated recurring occurrence",
		zap.String("task_id", saved.ID),
		zap.String("parent_id", parent.ID),
		zap.String("date", date),
		zap.Int("recurrence_count", saved.RecurrenceCount),
	)
	return saved, nil
}

// CatchUpPending repairs recurring chains interrupted before the next
// occurrence was written: any cached completed marker whose next occurrence
// date has arrived and has no pending child gets exactly one occurrence for
// today. Failures are logged, never propagated; a broken chain must not
// block the initial load.
func (e *Engine) CatchUpPending(ctx context.Context, today string) {
	tasks := e.sync.Tasks()

	hasPendingChild := make(map[string]bool)
	for _, t := range tasks {
		if t.ParentTaskID != "" && t.Status != model.StatusCompleted {
			hasPendingChild[t.ParentTaskID] = true
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	repaired := 0
	for _, t := range tasks {
		if !t.Recurring || t.Status != model.StatusCompleted {
			continue
		}
		if t.NextOccurrenceDate == "" || t.NextOccurrenceDate > today {
			continue
		}
		if hasPendingChild[t.ID] {
			continue
		}

		marker := t
		repaired++
		g.Go(func() error {
			actor := model.Identity{ID: marker.CreatedBy.ID, DisplayName: marker.CreatedBy.Name}
			if _, err := e.createOccurrence(gctx, actor, marker, today, "catchup"); err != nil {
				e.logger.Warn("Recurrence catch-up failed",
					zap.String("task_id", marker.ID),
					zap.Error(err),
				)
				return nil
			}
			// The debt is settled; clear it so the next pass skips this
			// chain. The completed marker stays around as history.
			marker.NextOccurrenceDate = ""
			if _, err := e.sync.Save(gctx, actor, marker); err != nil {
				e.logger.Warn("Failed to clear caught-up marker",
					zap.String("task_id", marker.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	g.Wait()

	if repaired > 0 {
		e.logger.Info("Recurrence catch-up complete", zap.Int("chains", repaired))
	}
}
