package syncer

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"taskmaster/internal/model"
)

// SeedSamples inserts a small set of demo tasks owned by the actor. Tasks
// that would collide with an existing name are skipped rather than failing
// the whole seed.
func (e *Engine) SeedSamples(ctx context.Context, actor model.Identity) (int, error) {
	now := e.now()
	samples := []model.Task{
		{
			Name:     "Review weekly report",
			Date:     model.FormatDate(now),
			Priority: model.PriorityHigh,
			Status:   model.StatusPending,
			Notes:    "Numbers due before standup",
		},
		{
			Name:     "Water the plants",
			Date:     model.FormatDate(now),
			Priority: model.PriorityLow,
			Status:   model.StatusPending,
		},
		{
			Name:      "Daily standup notes",
			Date:      model.FormatDate(now),
			Priority:  model.PriorityMedium,
			Status:    model.StatusPending,
			Recurring: true,
		},
		{
			Name:     "Book dentist appointment",
			Date:     model.FormatDate(now.AddDate(0, 0, 3)),
			Priority: model.PriorityMedium,
			Status:   model.StatusPending,
		},
	}

	created := 0
	for _, t := range samples {
		if _, err := e.Save(ctx, actor, t); err != nil {
			if errors.Is(err, ErrDuplicateTask) {
				continue
			}
			return created, err
		}
		created++
	}
	e.logger.Info("Seeded sample tasks", zap.Int("created", created), zap.String("user_id", actor.ID))
	return created, nil
}
