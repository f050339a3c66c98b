package repository

import (
	"context"
	"fmt"

	"carebell-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type GormNotificationLogRepo struct {
	db *gorm.DB
}

func NewNotificationLogRepo(db *gorm.DB) *GormNotificationLogRepo {
	return &GormNotificationLogRepo{db: db}
}

func (r *GormNotificationLogRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.NotificationLog, error) {
	var l models.NotificationLog
	if err := r.db.WithContext(ctx).First(&l, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &l, nil
}

func (r *GormNotificationLogRepo) FindByOccurrence(ctx context.Context, occurrenceID uuid.UUID) (*models.NotificationLog, error) {
	var l models.NotificationLog
	if err := r.db.WithContext(ctx).First(&l, "occurrence_id = ?", occurrenceID).Error; err != nil {
		return nil, translate(err)
	}
	return &l, nil
}

func (r *GormNotificationLogRepo) Create(ctx context.Context, l *models.NotificationLog) error {
	if err := r.db.WithContext(ctx).Create(l).Error; err != nil {
		return fmt.Errorf("create notification log: %w", translate(err))
	}
	return nil
}

func (r *GormNotificationLogRepo) Update(ctx context.Context, id uuid.UUID, u models.LogUpdate) (*models.NotificationLog, error) {
	var l models.NotificationLog
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&l, "id = ?", id).Error; err != nil {
			return translate(err)
		}

		fields := map[string]interface{}{}
		if u.Status != nil {
			if !l.Status.CanTransitionTo(*u.Status) {
				return fmt.Errorf("log %s %s -> %s: %w", id, l.Status, *u.Status, ErrIllegalTransition)
			}
			fields["status"] = *u.Status
		}
		if u.SentAt != nil {
			fields["sent_at"] = u.SentAt.UTC()
		}
		if u.DeliveredAt != nil {
			fields["delivered_at"] = u.DeliveredAt.UTC()
		}
		if u.Response != nil {
			fields["response"] = u.Response
		}
		if u.ErrorMessage != nil {
			fields["error_message"] = *u.ErrorMessage
		}
		if len(fields) == 0 {
			return nil
		}

		// The status guard makes the update a compare-and-set against
		// whatever a concurrent writer may have done since the read.
		res := tx.Model(&models.NotificationLog{}).
			Where("id = ? AND status = ?", id, l.Status).
			Updates(fields)
		if res.Error != nil {
			return fmt.Errorf("update notification log %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("log %s changed concurrently: %w", id, ErrIllegalTransition)
		}
		return tx.First(&l, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &l, nil
}
