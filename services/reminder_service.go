// services/reminder_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carebell-backend/models"
	"carebell-backend/repository"
	"carebell-backend/utils"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const cycleLockKey = "lock:carebell:cycle"

// Locker is an optional cross-process lock around a cycle.
type Locker interface {
	// TryLock returns ok=false when another holder has the key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// ReminderError is one reminder's failure inside a cycle.
type ReminderError struct {
	ReminderID   uuid.UUID  `json:"reminderId"`
	OccurrenceID *uuid.UUID `json:"occurrenceId,omitempty"`
	Error        string     `json:"error"`
}

type CycleResult struct {
	RunID      string          `json:"runId"`
	Skipped    bool            `json:"skipped,omitempty"`
	Processed  int             `json:"processed"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	Errors     []ReminderError `json:"errors"`
}

type FollowUpResult struct {
	RunID     string          `json:"runId"`
	Skipped   bool            `json:"skipped,omitempty"`
	Retried   int             `json:"retried"`
	Recovered int             `json:"recovered"`
	Escalated int             `json:"escalated"`
	Errors    []ReminderError `json:"errors"`
}

type Deps struct {
	Reminders   repository.ReminderRepository
	Occurrences repository.OccurrenceRepository
	Logs        repository.NotificationLogRepository
	Subjects    repository.SubjectRepository
	Channel     Channel
	Generator   TextGenerator // optional
	Locker      Locker        // optional
	Clock       utils.Clock
	Logger      *zap.Logger
}

type Settings struct {
	Concurrency       int
	ChannelTimeout    time.Duration
	GenerationTimeout time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	FollowUpBatch     int
	LockTTL           time.Duration
	Location          *time.Location
	// RequirePhone makes the resolver reject contacts that are not phone
	// numbers.
	RequirePhone bool
}

type ReminderService struct {
	reminders   repository.ReminderRepository
	occurrences repository.OccurrenceRepository
	logs        repository.NotificationLogRepository
	subjects    repository.SubjectRepository

	selector   *Selector
	resolver   *ContactResolver
	composer   *MessageComposer
	dispatcher *Dispatcher
	channel    Channel
	locker     Locker
	clock      utils.Clock

	settings Settings
	logger   *zap.Logger
}

func NewReminderService(d Deps, s Settings) *ReminderService {
	if d.Clock == nil {
		d.Clock = utils.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 1
	}
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = models.DefaultMaxRetries
	}

	resolver := NewContactResolver(d.Subjects, s.RequirePhone)
	composer := NewMessageComposer(d.Generator, s.GenerationTimeout, d.Logger.Named("composer"))
	return &ReminderService{
		reminders:   d.Reminders,
		occurrences: d.Occurrences,
		logs:        d.Logs,
		subjects:    d.Subjects,
		selector:    NewSelector(d.Reminders, d.Occurrences, d.Logger.Named("selector")),
		resolver:    resolver,
		composer:    composer,
		dispatcher: NewDispatcher(d.Occurrences, d.Logs, resolver, composer, d.Channel, d.Clock,
			DispatcherConfig{ChannelTimeout: s.ChannelTimeout, MaxRetries: s.MaxRetries}, d.Logger.Named("dispatcher")),
		channel:  d.Channel,
		locker:   d.Locker,
		clock:    d.Clock,
		settings: s,
		logger:   d.Logger,
	}
}

// Now is the service clock's current time in the scheduler location.
func (s *ReminderService) Now() time.Time {
	return s.clock.Now().In(s.settings.Location)
}

// RunCycle selects every reminder due at now and dispatches them with
// bounded concurrency. It only fails when selection itself fails; one
// reminder's failure is recorded in the result and never stops the others.
func (s *ReminderService) RunCycle(ctx context.Context, now time.Time) (*CycleResult, error) {
	result := &CycleResult{RunID: ulid.Make().String(), Errors: []ReminderError{}}
	log := s.logger.With(zap.String("run_id", result.RunID))

	unlock, ok := s.lock(ctx, log)
	if !ok {
		result.Skipped = true
		log.Info("Reminder cycle skipped, another run holds the lock")
		return result, nil
	}
	defer unlock()

	timer := prometheus.NewTimer(cycleDuration)
	defer timer.ObserveDuration()

	now = now.In(s.settings.Location)
	log.Info("Starting reminder cycle", zap.Time("now", now))

	due, err := s.selector.SelectDue(ctx, now)
	if err != nil {
		log.Error("Failed to select due reminders", zap.Error(err))
		return nil, fmt.Errorf("select due reminders: %w", err)
	}

	results := make([]DispatchResult, len(due))
	var g errgroup.Group
	g.SetLimit(s.settings.Concurrency)
	for i, d := range due {
		g.Go(func() error {
			results[i] = s.safeProcess(ctx, d.Reminder, d.DueAt)
			return nil
		})
	}
	_ = g.Wait()

	result.Processed = len(results)
	for _, r := range results {
		if r.Success && r.Err == nil {
			result.Successful++
			continue
		}
		result.Failed++
		result.Errors = append(result.Errors, reminderError(r))
	}

	log.Info("Reminder cycle completed",
		zap.Int("processed", result.Processed),
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (s *ReminderService) safeProcess(ctx context.Context, rem models.Reminder, dueAt time.Time) DispatchResult {
	return s.guard(rem, dueAt, func() DispatchResult { return s.dispatcher.Process(ctx, rem, dueAt) })
}

func (s *ReminderService) safeResume(ctx context.Context, rem models.Reminder, dueAt time.Time) DispatchResult {
	return s.guard(rem, dueAt, func() DispatchResult { return s.dispatcher.Resume(ctx, rem, dueAt) })
}

func (s *ReminderService) guard(rem models.Reminder, dueAt time.Time, fn func() DispatchResult) (r DispatchResult) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("Panic while dispatching reminder",
				zap.String("reminder_id", rem.ID.String()), zap.Any("panic", p))
			r = DispatchResult{ReminderID: rem.ID, DueAt: dueAt, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	return fn()
}

// FollowUp retries failed and stale pending occurrences while they have
// retries left, and tells the family about the ones that ran out.
func (s *ReminderService) FollowUp(ctx context.Context, now time.Time) (*FollowUpResult, error) {
	result := &FollowUpResult{RunID: ulid.Make().String(), Errors: []ReminderError{}}
	log := s.logger.With(zap.String("run_id", result.RunID))

	unlock, ok := s.lock(ctx, log)
	if !ok {
		result.Skipped = true
		log.Info("Follow-up skipped, another run holds the lock")
		return result, nil
	}
	defer unlock()

	cutoff := now.Add(-s.settings.RetryBackoff)
	var candidates []models.ReminderOccurrence
	for _, status := range []models.OccurrenceStatus{models.OccurrenceFailure, models.OccurrencePending} {
		occs, err := s.occurrences.ListForFollowUp(ctx, repository.FollowUpFilter{
			Status:          status,
			AttemptedBefore: cutoff,
			Limit:           s.settings.FollowUpBatch,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s occurrences: %w", status, err)
		}
		candidates = append(candidates, occs...)
	}

	for _, occ := range candidates {
		occLog := log.With(zap.String("reminder_id", occ.ReminderID.String()), zap.String("occurrence_id", occ.ID.String()))

		rem, err := s.reminders.GetByID(ctx, occ.ReminderID)
		if err != nil {
			occLog.Warn("Failed to load reminder for follow-up", zap.Error(err))
			result.Errors = append(result.Errors, occurrenceError(occ, err))
			continue
		}
		if !rem.IsActive {
			continue
		}

		if occ.RetryCount < occ.MaxRetries {
			retries := occ.RetryCount + 1
			if _, err := s.occurrences.Update(ctx, occ.ID, models.OccurrenceUpdate{RetryCount: &retries, AttemptedAt: &now}); err != nil {
				result.Errors = append(result.Errors, occurrenceError(occ, err))
				continue
			}
			result.Retried++
			r := s.safeResume(ctx, *rem, occ.ScheduledAt)
			if r.Success && r.Err == nil {
				result.Recovered++
				occLog.Info("Retried reminder delivered", zap.Int("retry", retries))
			} else {
				result.Errors = append(result.Errors, reminderError(r))
			}
			continue
		}

		if occ.Status == models.OccurrencePending {
			// the last attempt never finished
			note := fmt.Sprintf("abandoned after %d retries", occ.RetryCount)
			updated, err := s.occurrences.Update(ctx, occ.ID, models.OccurrenceUpdate{
				Status:      statusPtr(models.OccurrenceFailure),
				AttemptedAt: &now,
				Notes:       &note,
			})
			if err != nil {
				result.Errors = append(result.Errors, occurrenceError(occ, err))
				continue
			}
			occLog.Warn("Stale pending occurrence marked failed")
			occ = *updated
		}
		if occ.FamilyNotified {
			continue
		}

		sent, err := s.escalate(ctx, *rem, occ, now)
		if err != nil {
			occLog.Warn("Failed to escalate to family", zap.Error(err))
			result.Errors = append(result.Errors, occurrenceError(occ, err))
			// back of the queue until the next backoff window
			if _, uerr := s.occurrences.Update(context.WithoutCancel(ctx), occ.ID, models.OccurrenceUpdate{AttemptedAt: &now}); uerr != nil {
				occLog.Error("Failed to stamp escalation attempt", zap.Error(uerr))
			}
			continue
		}
		if sent > 0 {
			result.Escalated++
		}
	}

	log.Info("Follow-up completed",
		zap.Int("retried", result.Retried),
		zap.Int("recovered", result.Recovered),
		zap.Int("escalated", result.Escalated))
	return result, nil
}

func (s *ReminderService) escalate(ctx context.Context, rem models.Reminder, occ models.ReminderOccurrence, now time.Time) (int, error) {
	res, err := s.resolver.ResolveSubject(ctx, rem)
	if err != nil {
		return 0, err
	}
	members, err := s.subjects.ListFamilyContacts(ctx, res.Profile.ID)
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, fmt.Errorf("no family contacts to notify for profile %s", res.Profile.ID)
	}

	msg := s.composer.ComposeEscalation(rem, res, occ, s.settings.Location)
	sent := 0
	var errs []error
	for _, m := range members {
		phone := m.User.Phone
		if s.settings.RequirePhone {
			if !utils.ValidatePhone(phone) {
				errs = append(errs, fmt.Errorf("family contact %s has no valid phone", m.Contact.ID))
				continue
			}
			phone = utils.CleanPhone(phone)
		} else if phone == "" {
			continue
		}

		_, err := callWithTimeout(ctx, s.settings.ChannelTimeout, func(ctx context.Context) (*DeliveryReceipt, error) {
			return s.channel.Send(ctx, phone, msg)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("family contact %s: %w", m.Contact.ID, err))
			continue
		}
		sent++
	}

	if sent == 0 {
		return 0, errors.Join(errs...)
	}
	for _, err := range errs {
		s.logger.Warn("Family member not notified", zap.String("occurrence_id", occ.ID.String()), zap.Error(err))
	}

	notified := true
	note := fmt.Sprintf("family notified (%d of %d)", sent, len(members))
	if _, err := s.occurrences.Update(context.WithoutCancel(ctx), occ.ID, models.OccurrenceUpdate{
		FamilyNotified:   &notified,
		FamilyNotifiedAt: &now,
		AttemptedAt:      &now,
		Notes:            &note,
	}); err != nil {
		return sent, fmt.Errorf("mark occurrence %s family notified: %w", occ.ID, err)
	}
	dispatchedTotal.WithLabelValues(string(rem.Kind), outcomeEscalated).Inc()
	return sent, nil
}

// Acknowledge records the recipient's answer to an occurrence.
func (s *ReminderService) Acknowledge(ctx context.Context, occurrenceID uuid.UUID, responseID string, at time.Time) (*models.ReminderOccurrence, error) {
	var next models.OccurrenceStatus
	switch responseID {
	case ResponseTaken, ResponseConfirm:
		next = models.OccurrenceConfirmed
	case ResponseSkip, ResponseCancel, ResponseDismiss:
		next = models.OccurrenceSkipped
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownResponse, responseID)
	}

	occ, err := s.occurrences.FindByID(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}
	if occ.Status == models.OccurrenceConfirmed || occ.Status == models.OccurrenceSkipped {
		return nil, fmt.Errorf("occurrence %s is already %s: %w", occ.ID, occ.Status, repository.ErrIllegalTransition)
	}

	note := "response: " + responseID
	upd := models.OccurrenceUpdate{Status: &next, Notes: &note}
	if next == models.OccurrenceConfirmed {
		upd.TakenAt = &at
	}
	updated, err := s.occurrences.Update(ctx, occ.ID, upd)
	if err != nil {
		return nil, err
	}

	entry, err := s.logs.FindByOccurrence(ctx, occ.ID)
	switch {
	case err == nil:
		lu := models.LogUpdate{}
		if entry.DeliveredAt == nil {
			lu.DeliveredAt = &at
		}
		if entry.Status != models.LogSent {
			// an answer proves the message arrived
			sent := models.LogSent
			lu.Status = &sent
		}
		if lu.DeliveredAt != nil || lu.Status != nil {
			if _, err := s.logs.Update(ctx, entry.ID, lu); err != nil {
				s.logger.Warn("Failed to mark notification delivered",
					zap.String("occurrence_id", occ.ID.String()), zap.Error(err))
			}
		}
	case !errors.Is(err, repository.ErrNotFound):
		s.logger.Warn("Failed to load notification log", zap.String("occurrence_id", occ.ID.String()), zap.Error(err))
	}

	return updated, nil
}

// PreviewNextDue reports when a reminder would next fire.
func (s *ReminderService) PreviewNextDue(ctx context.Context, reminderID uuid.UUID, now time.Time) (time.Time, bool, error) {
	rem, err := s.reminders.GetByID(ctx, reminderID)
	if err != nil {
		return time.Time{}, false, err
	}
	latest, err := s.occurrences.FindLatest(ctx, rem.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return time.Time{}, false, err
	}
	at, ok := NextDue(*rem, latest, now.In(s.settings.Location))
	return at, ok, nil
}

// lock takes the cycle lock when a locker is configured. A locker error is
// logged and the run proceeds unlocked; slot uniqueness still holds.
func (s *ReminderService) lock(ctx context.Context, log *zap.Logger) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	release, ok, err := s.locker.TryLock(ctx, cycleLockKey, s.settings.LockTTL)
	if err != nil {
		log.Warn("Cycle lock unavailable, running unlocked", zap.Error(err))
		return func() {}, true
	}
	if !ok {
		return nil, false
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to release cycle lock", zap.Error(err))
		}
	}, true
}

func reminderError(r DispatchResult) ReminderError {
	e := ReminderError{ReminderID: r.ReminderID, Error: "not delivered"}
	if r.OccurrenceID != uuid.Nil {
		id := r.OccurrenceID
		e.OccurrenceID = &id
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	return e
}

func occurrenceError(occ models.ReminderOccurrence, err error) ReminderError {
	id := occ.ID
	return ReminderError{ReminderID: occ.ReminderID, OccurrenceID: &id, Error: err.Error()}
}
