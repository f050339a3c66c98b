// models/notification_log.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LogStatus string

const (
	LogPending LogStatus = "pending"
	LogSent    LogStatus = "sent"
	LogFailed  LogStatus = "failed"
)

// CanTransitionTo reports whether a log may move from s to next.
// Nothing goes back to pending and sent is final.
func (s LogStatus) CanTransitionTo(next LogStatus) bool {
	switch s {
	case LogPending:
		return next == LogPending || next == LogSent || next == LogFailed
	case LogFailed:
		return next == LogSent || next == LogFailed
	case LogSent:
		return next == LogSent
	}
	return false
}

// NotificationLog records the delivery of one occurrence.
type NotificationLog struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	OccurrenceID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"occurrenceId"`
	Channel        string    `gorm:"type:varchar(50);not null" json:"channel"` // whatsapp, sms, telegram
	RecipientPhone string    `gorm:"not null" json:"recipientPhone"`
	Status         LogStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Message        string    `gorm:"type:text" json:"message"`

	// ScheduledFor is when the send was intended; SentAt is set only once it went out.
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
	SentAt       *time.Time `json:"sentAt,omitempty"`
	DeliveredAt  *time.Time `json:"deliveredAt,omitempty"`
	Response     JSONB      `gorm:"type:text" json:"response,omitempty"`
	ErrorMessage *string    `gorm:"type:text" json:"errorMessage,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (l *NotificationLog) BeforeCreate(tx *gorm.DB) (err error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Status == "" {
		l.Status = LogPending
	}
	return
}

type LogUpdate struct {
	Status       *LogStatus
	SentAt       *time.Time
	DeliveredAt  *time.Time
	Response     JSONB
	ErrorMessage *string
}
