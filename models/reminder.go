package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ReminderKind string

const (
	KindMedicine    ReminderKind = "medicine"
	KindAppointment ReminderKind = "appointment"
	KindProfile     ReminderKind = "profile"
)

// Reminder is the recurring rule: what to remind about, how often and when to stop.
// PeriodicityMinutes nil or 0 means the reminder fires exactly once at StartAt.
type Reminder struct {
	ID   uuid.UUID    `gorm:"type:uuid;primary_key" json:"id"`
	Kind ReminderKind `gorm:"type:varchar(50);not null;index" json:"kind"`

	MedicineID    *uuid.UUID `gorm:"type:uuid;index" json:"medicineId,omitempty"`
	AppointmentID *uuid.UUID `gorm:"type:uuid;index" json:"appointmentId,omitempty"`
	ProfileID     *uuid.UUID `gorm:"type:uuid;index" json:"profileId,omitempty"`

	PeriodicityMinutes *int       `json:"periodicityMinutes,omitempty"`
	StartAt            time.Time  `gorm:"not null;index" json:"startAt"`
	EndDate            *time.Time `gorm:"type:date" json:"endDate,omitempty"`
	IsActive           bool       `gorm:"not null;index" json:"isActive"`

	Occurrences []ReminderOccurrence `gorm:"foreignKey:ReminderID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (r *Reminder) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}

// Period returns the repeat interval, or zero for one-shot reminders.
func (r Reminder) Period() time.Duration {
	if r.PeriodicityMinutes == nil || *r.PeriodicityMinutes <= 0 {
		return 0
	}
	return time.Duration(*r.PeriodicityMinutes) * time.Minute
}

// Subject is what a reminder is about. It is one of MedicineSubject,
// AppointmentSubject or OtherSubject.
type Subject interface {
	subjectKind() ReminderKind
}

type MedicineSubject struct {
	// ID is uuid.Nil when the reminder carries no medicine reference.
	ID uuid.UUID
}

type AppointmentSubject struct {
	ID uuid.UUID
}

type OtherSubject struct {
	Kind      ReminderKind
	ProfileID *uuid.UUID
}

func (MedicineSubject) subjectKind() ReminderKind    { return KindMedicine }
func (AppointmentSubject) subjectKind() ReminderKind { return KindAppointment }
func (s OtherSubject) subjectKind() ReminderKind     { return s.Kind }

// Subject interprets the reference columns according to Kind.
func (r Reminder) Subject() Subject {
	switch r.Kind {
	case KindMedicine:
		s := MedicineSubject{}
		if r.MedicineID != nil {
			s.ID = *r.MedicineID
		}
		return s
	case KindAppointment:
		s := AppointmentSubject{}
		if r.AppointmentID != nil {
			s.ID = *r.AppointmentID
		}
		return s
	default:
		return OtherSubject{Kind: r.Kind, ProfileID: r.ProfileID}
	}
}
