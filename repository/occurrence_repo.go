package repository

import (
	"context"
	"fmt"
	"time"

	"carebell-backend/models"
	"carebell-backend/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type GormOccurrenceRepo struct {
	db *gorm.DB
}

func NewOccurrenceRepo(db *gorm.DB) *GormOccurrenceRepo {
	return &GormOccurrenceRepo{db: db}
}

func (r *GormOccurrenceRepo) FindLatest(ctx context.Context, reminderID uuid.UUID) (*models.ReminderOccurrence, error) {
	var occ models.ReminderOccurrence
	err := r.db.WithContext(ctx).
		Where("reminder_id = ?", reminderID).
		Order("scheduled_at DESC").
		First(&occ).Error
	if err != nil {
		return nil, translate(err)
	}
	return &occ, nil
}

func (r *GormOccurrenceRepo) FindBySlot(ctx context.Context, reminderID uuid.UUID, scheduledAt time.Time) (*models.ReminderOccurrence, error) {
	var occ models.ReminderOccurrence
	err := r.db.WithContext(ctx).
		Where("reminder_id = ? AND scheduled_at = ?", reminderID, utils.NormalizeTimestamp(scheduledAt)).
		First(&occ).Error
	if err != nil {
		return nil, translate(err)
	}
	return &occ, nil
}

func (r *GormOccurrenceRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.ReminderOccurrence, error) {
	var occ models.ReminderOccurrence
	if err := r.db.WithContext(ctx).First(&occ, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &occ, nil
}

// Create inserts occ. A second occurrence for the same (reminder, scheduled
// time) fails with ErrDuplicate.
func (r *GormOccurrenceRepo) Create(ctx context.Context, occ *models.ReminderOccurrence) error {
	occ.ScheduledAt = utils.NormalizeTimestamp(occ.ScheduledAt)
	if occ.AttemptedAt != nil {
		at := utils.NormalizeTimestamp(*occ.AttemptedAt)
		occ.AttemptedAt = &at
	}
	if err := r.db.WithContext(ctx).Create(occ).Error; err != nil {
		return fmt.Errorf("create occurrence: %w", translate(err))
	}
	return nil
}

func (r *GormOccurrenceRepo) Update(ctx context.Context, id uuid.UUID, u models.OccurrenceUpdate) (*models.ReminderOccurrence, error) {
	fields := map[string]interface{}{}
	if u.Status != nil {
		fields["status"] = *u.Status
	}
	if u.TakenAt != nil {
		fields["taken_at"] = u.TakenAt.UTC()
	}
	if u.RetryCount != nil {
		fields["retry_count"] = *u.RetryCount
	}
	if u.FamilyNotified != nil {
		fields["family_notified"] = *u.FamilyNotified
	}
	if u.FamilyNotifiedAt != nil {
		fields["family_notified_at"] = u.FamilyNotifiedAt.UTC()
	}
	if u.Notes != nil {
		fields["notes"] = *u.Notes
	}
	if u.AttemptedAt != nil {
		fields["attempted_at"] = utils.NormalizeTimestamp(*u.AttemptedAt)
	}

	var occ models.ReminderOccurrence
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&occ, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		if len(fields) == 0 {
			return nil
		}
		if err := tx.Model(&occ).Updates(fields).Error; err != nil {
			return fmt.Errorf("update occurrence %s: %w", id, err)
		}
		return tx.First(&occ, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &occ, nil
}

func (r *GormOccurrenceRepo) ListForFollowUp(ctx context.Context, f FollowUpFilter) ([]models.ReminderOccurrence, error) {
	q := r.db.WithContext(ctx).
		Select("reminder_occurrences.*").
		Joins("JOIN reminders ON reminders.id = reminder_occurrences.reminder_id").
		Where("reminders.is_active = ?", true).
		Where("reminder_occurrences.status = ?", f.Status).
		Where("(reminder_occurrences.attempted_at IS NULL OR reminder_occurrences.attempted_at <= ?)",
			utils.NormalizeTimestamp(f.AttemptedBefore))
	if f.Status == models.OccurrenceFailure {
		q = q.Where("(reminder_occurrences.retry_count < reminder_occurrences.max_retries OR reminder_occurrences.family_notified = ?)", false)
	}
	q = q.Order("reminder_occurrences.attempted_at ASC").Order("reminder_occurrences.scheduled_at ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var occs []models.ReminderOccurrence
	if err := q.Find(&occs).Error; err != nil {
		return nil, fmt.Errorf("list %s occurrences for follow-up: %w", f.Status, err)
	}
	return occs, nil
}
