// Package repository holds the gorm-backed persistence used by the reminder engine.
package repository

import (
	"context"
	"errors"
	"time"

	"carebell-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicate         = errors.New("duplicate record")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// ReminderRepository reads reminder definitions.
type ReminderRepository interface {
	// ListDue returns active reminders whose start is at or before now,
	// ordered by start then id.
	ListDue(ctx context.Context, now time.Time) ([]models.Reminder, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Reminder, error)
}

// OccurrenceRepository persists reminder occurrences.
type OccurrenceRepository interface {
	FindLatest(ctx context.Context, reminderID uuid.UUID) (*models.ReminderOccurrence, error)
	FindBySlot(ctx context.Context, reminderID uuid.UUID, scheduledAt time.Time) (*models.ReminderOccurrence, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.ReminderOccurrence, error)
	Create(ctx context.Context, occ *models.ReminderOccurrence) error
	Update(ctx context.Context, id uuid.UUID, u models.OccurrenceUpdate) (*models.ReminderOccurrence, error)
	// ListForFollowUp returns the occurrences the follow-up sweep can still
	// act on, least recently attempted first.
	ListForFollowUp(ctx context.Context, f FollowUpFilter) ([]models.ReminderOccurrence, error)
}

// FollowUpFilter selects occurrences of active reminders in Status that
// were last attempted no later than AttemptedBefore. Failures that are out
// of retries and already escalated are never returned.
type FollowUpFilter struct {
	Status          models.OccurrenceStatus
	AttemptedBefore time.Time
	Limit           int
}

// NotificationLogRepository persists one delivery record per occurrence.
type NotificationLogRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.NotificationLog, error)
	FindByOccurrence(ctx context.Context, occurrenceID uuid.UUID) (*models.NotificationLog, error)
	Create(ctx context.Context, l *models.NotificationLog) error
	// Update rejects status changes that LogStatus.CanTransitionTo forbids
	// with ErrIllegalTransition.
	Update(ctx context.Context, id uuid.UUID, u models.LogUpdate) (*models.NotificationLog, error)
}

// SubjectRepository gives read-only access to what reminders are about.
type SubjectRepository interface {
	GetMedicine(ctx context.Context, id uuid.UUID) (*models.Medicine, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*models.Appointment, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*models.ElderlyProfile, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	// ListFamilyContacts returns the notification-enabled family members of a
	// profile, primary contact first.
	ListFamilyContacts(ctx context.Context, elderlyID uuid.UUID) ([]FamilyMember, error)
}

// FamilyMember is a family contact joined with its user row.
type FamilyMember struct {
	Contact models.FamilyContact
	User    models.User
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}
