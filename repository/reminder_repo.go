package repository

import (
	"context"
	"fmt"
	"time"

	"carebell-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type GormReminderRepo struct {
	db *gorm.DB
}

func NewReminderRepo(db *gorm.DB) *GormReminderRepo {
	return &GormReminderRepo{db: db}
}

func (r *GormReminderRepo) ListDue(ctx context.Context, now time.Time) ([]models.Reminder, error) {
	var reminders []models.Reminder
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND start_at <= ?", true, now.UTC()).
		Order("start_at ASC, id ASC").
		Find(&reminders).Error
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	return reminders, nil
}

func (r *GormReminderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Reminder, error) {
	var rem models.Reminder
	if err := r.db.WithContext(ctx).First(&rem, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &rem, nil
}
