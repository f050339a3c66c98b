package services

import (
	"context"
	"errors"
	"fmt"

	"carebell-backend/models"
	"carebell-backend/repository"
	"carebell-backend/utils"

	"github.com/google/uuid"
)

// Resolution is the recipient of a reminder and the rows looked up on the way.
type Resolution struct {
	Contact     string
	Profile     *models.ElderlyProfile
	User        *models.User
	Medicine    *models.Medicine
	Appointment *models.Appointment
}

// RecipientName is the elderly user's display name, or "" if unknown.
func (r *Resolution) RecipientName() string {
	if r == nil || r.User == nil {
		return ""
	}
	return r.User.FullName
}

type ContactResolver struct {
	subjects repository.SubjectRepository
	// requirePhone rejects contacts that are not phone numbers. Telegram
	// chat ids do not pass.
	requirePhone bool
}

func NewContactResolver(subjects repository.SubjectRepository, requirePhone bool) *ContactResolver {
	return &ContactResolver{subjects: subjects, requirePhone: requirePhone}
}

// Resolve walks subject -> elderly profile -> emergency contact.
func (r *ContactResolver) Resolve(ctx context.Context, rem models.Reminder) (*Resolution, error) {
	res, err := r.ResolveSubject(ctx, rem)
	if err != nil {
		return nil, err
	}

	fail := func(err error) error {
		return &ResolutionError{ReminderID: rem.ID, Step: "emergency contact", Table: "elderly_profiles", ID: res.Profile.ID, Err: err}
	}
	if res.Profile.EmergencyContact == nil || *res.Profile.EmergencyContact == "" {
		return nil, fail(ErrContactMissing)
	}
	contact := *res.Profile.EmergencyContact
	if r.requirePhone {
		if !utils.ValidatePhone(contact) {
			return nil, fail(fmt.Errorf("%w: %q", ErrInvalidContact, contact))
		}
		contact = utils.CleanPhone(contact)
	}
	res.Contact = contact
	return res, nil
}

// ResolveSubject loads the subject and its elderly profile without requiring
// a usable emergency contact.
func (r *ContactResolver) ResolveSubject(ctx context.Context, rem models.Reminder) (*Resolution, error) {
	res := &Resolution{}
	var elderlyID uuid.UUID

	switch s := rem.Subject().(type) {
	case models.MedicineSubject:
		if s.ID == uuid.Nil {
			return nil, &ResolutionError{ReminderID: rem.ID, Step: "medicine reference", Table: "reminders", ID: rem.ID, Err: ErrMissingReference}
		}
		med, err := r.subjects.GetMedicine(ctx, s.ID)
		if err != nil {
			return nil, lookupError(rem.ID, "medicine", "medicines", s.ID, err)
		}
		res.Medicine = med
		elderlyID = med.ElderlyID
	case models.AppointmentSubject:
		if s.ID == uuid.Nil {
			return nil, &ResolutionError{ReminderID: rem.ID, Step: "appointment reference", Table: "reminders", ID: rem.ID, Err: ErrMissingReference}
		}
		appt, err := r.subjects.GetAppointment(ctx, s.ID)
		if err != nil {
			return nil, lookupError(rem.ID, "appointment", "appointments", s.ID, err)
		}
		res.Appointment = appt
		elderlyID = appt.ElderlyID
	case models.OtherSubject:
		return nil, &ResolutionError{ReminderID: rem.ID, Step: "kind", Table: "reminders", ID: rem.ID,
			Err: fmt.Errorf("%w: %s", ErrKindNotSupported, s.Kind)}
	}

	profile, err := r.subjects.GetProfile(ctx, elderlyID)
	if err != nil {
		return nil, lookupError(rem.ID, "elderly profile", "elderly_profiles", elderlyID, err)
	}
	res.Profile = profile

	// the display name only personalizes the message
	if user, err := r.subjects.GetUser(ctx, profile.UserID); err == nil {
		res.User = user
	}
	return res, nil
}

func lookupError(reminderID uuid.UUID, step, table string, id uuid.UUID, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		err = ErrSubjectNotFound
	}
	return &ResolutionError{ReminderID: reminderID, Step: step, Table: table, ID: id, Err: err}
}
