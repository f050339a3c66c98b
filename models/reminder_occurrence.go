package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OccurrenceStatus string

const (
	OccurrencePending   OccurrenceStatus = "pending"
	OccurrenceWaiting   OccurrenceStatus = "waiting"
	OccurrenceConfirmed OccurrenceStatus = "confirmed"
	OccurrenceSkipped   OccurrenceStatus = "skipped"
	OccurrenceFailure   OccurrenceStatus = "failure"
)

// Dispatched reports whether the message for this occurrence already went out
// (and possibly got answered). Such occurrences are never sent again.
func (s OccurrenceStatus) Dispatched() bool {
	switch s {
	case OccurrenceWaiting, OccurrenceConfirmed, OccurrenceSkipped:
		return true
	}
	return false
}

const DefaultMaxRetries = 3

// ReminderOccurrence is one concrete firing of a Reminder.
// (ReminderID, ScheduledAt) is unique.
type ReminderOccurrence struct {
	ID          uuid.UUID        `gorm:"type:uuid;primary_key" json:"id"`
	ReminderID  uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_occurrence_slot,priority:1" json:"reminderId"`
	ScheduledAt time.Time        `gorm:"not null;uniqueIndex:idx_occurrence_slot,priority:2" json:"scheduledAt"`
	Status      OccurrenceStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	TakenAt          *time.Time `json:"takenAt,omitempty"`
	RetryCount       int        `gorm:"default:0" json:"retryCount"`
	MaxRetries       int        `gorm:"default:3" json:"maxRetries"`
	FamilyNotified   bool       `gorm:"default:false" json:"familyNotified"`
	FamilyNotifiedAt *time.Time `json:"familyNotifiedAt,omitempty"`
	Notes            *string    `gorm:"type:text" json:"notes,omitempty"`
	// AttemptedAt is the engine clock's time of the last delivery or
	// escalation attempt. Follow-up backoff is measured from it.
	AttemptedAt *time.Time `gorm:"index" json:"attemptedAt,omitempty"`

	Log *NotificationLog `gorm:"foreignKey:OccurrenceID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (o *ReminderOccurrence) BeforeCreate(tx *gorm.DB) (err error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = OccurrencePending
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	return
}

// OccurrenceUpdate is a partial update; nil fields are left untouched.
type OccurrenceUpdate struct {
	Status           *OccurrenceStatus
	TakenAt          *time.Time
	RetryCount       *int
	FamilyNotified   *bool
	FamilyNotifiedAt *time.Time
	Notes            *string
	AttemptedAt      *time.Time
}
