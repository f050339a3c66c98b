package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ElderlyProfile struct {
	ID               uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	UserID           uuid.UUID  `gorm:"type:uuid;uniqueIndex;not null" json:"userId"`
	DateOfBirth      *time.Time `gorm:"type:date" json:"dateOfBirth,omitempty"`
	Address          string     `gorm:"type:text" json:"address"`
	EmergencyContact *string    `json:"emergencyContact,omitempty"`
	MedicalNotes     string     `gorm:"type:text" json:"medicalNotes"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Medicine struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	ElderlyID      uuid.UUID `gorm:"type:uuid;index;not null" json:"elderlyId"`
	Name           string    `gorm:"not null" json:"name"`
	Dosage         string    `json:"dosage"`
	TabletsPerDose *int      `gorm:"default:1" json:"tabletsPerDose,omitempty"`
	TabletsLeft    *int      `json:"tabletsLeft,omitempty"`
	Notes          string    `gorm:"type:text" json:"notes"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Appointment struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	ElderlyID   uuid.UUID `gorm:"type:uuid;index;not null" json:"elderlyId"`
	ScheduledAt time.Time `gorm:"not null" json:"scheduledAt"`
	DoctorName  string    `json:"doctorName"`
	Specialty   string    `json:"specialty"`
	Address     string    `gorm:"type:text;not null" json:"address"`
	Status      string    `gorm:"type:varchar(50);default:'scheduled'" json:"status"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FamilyContact links a family member (a User with a phone) to an elderly profile.
type FamilyContact struct {
	ID                  uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	ElderlyID           uuid.UUID `gorm:"type:uuid;index;not null" json:"elderlyId"`
	UserID              uuid.UUID `gorm:"type:uuid;index;not null" json:"userId"`
	RelationshipType    string    `json:"relationshipType"`
	IsPrimaryContact    bool      `gorm:"default:false" json:"isPrimaryContact"`
	NotificationEnabled bool      `gorm:"not null" json:"notificationEnabled"`

	CreatedAt time.Time `json:"createdAt"`
}

func (p *ElderlyProfile) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return
}

func (m *Medicine) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return
}

func (a *Appointment) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return
}

func (f *FamilyContact) BeforeCreate(tx *gorm.DB) (err error) {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return
}
