package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrMissingReference = errors.New("reminder has no subject reference")
	ErrSubjectNotFound  = errors.New("subject not found")
	ErrContactMissing   = errors.New("no emergency contact on profile")
	ErrInvalidContact   = errors.New("emergency contact is not a valid phone number")
	ErrKindNotSupported = errors.New("reminder kind not supported")
	ErrUnknownResponse  = errors.New("unknown response option")
)

// ResolutionError names the lookup that failed while resolving who a
// reminder goes to.
type ResolutionError struct {
	ReminderID uuid.UUID
	Step       string
	Table      string
	ID         uuid.UUID
	Err        error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("reminder %s: %s (%s %s): %v", e.ReminderID, e.Step, e.Table, e.ID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }
