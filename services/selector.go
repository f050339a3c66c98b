package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carebell-backend/models"
	"carebell-backend/repository"

	"go.uber.org/zap"
)

// DueReminder is a reminder together with the slot it is due for.
type DueReminder struct {
	Reminder models.Reminder
	DueAt    time.Time
}

type Selector struct {
	reminders   repository.ReminderRepository
	occurrences repository.OccurrenceRepository
	logger      *zap.Logger
}

func NewSelector(reminders repository.ReminderRepository, occurrences repository.OccurrenceRepository, logger *zap.Logger) *Selector {
	return &Selector{reminders: reminders, occurrences: occurrences, logger: logger}
}

// SelectDue lists the reminders that have a slot to materialize at now, in
// start then id order. A slot that already has an occurrence is left out, so
// overlapping cycles do not pick it twice. A reminder whose occurrences cannot
// be read is logged and left for the next tick.
func (s *Selector) SelectDue(ctx context.Context, now time.Time) ([]DueReminder, error) {
	rems, err := s.reminders.ListDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list active reminders: %w", err)
	}

	var due []DueReminder
	for _, rem := range rems {
		log := s.logger.With(zap.String("reminder_id", rem.ID.String()))

		latest, err := s.occurrences.FindLatest(ctx, rem.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			log.Warn("Failed to load latest occurrence", zap.Error(err))
			dispatchedTotal.WithLabelValues(string(rem.Kind), outcomeError).Inc()
			continue
		}

		at, ok := NextDue(rem, latest, now)
		if !ok {
			continue
		}

		_, err = s.occurrences.FindBySlot(ctx, rem.ID, at)
		switch {
		case err == nil:
			log.Debug("Occurrence already materialized", zap.Time("due_at", at))
			continue
		case !errors.Is(err, repository.ErrNotFound):
			log.Warn("Failed to check occurrence slot", zap.Time("due_at", at), zap.Error(err))
			dispatchedTotal.WithLabelValues(string(rem.Kind), outcomeError).Inc()
			continue
		}

		due = append(due, DueReminder{Reminder: rem, DueAt: at})
	}
	return due, nil
}
