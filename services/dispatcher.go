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
	"go.uber.org/zap"
)

// DispatchResult reports what happened to one (reminder, slot).
type DispatchResult struct {
	ReminderID   uuid.UUID
	OccurrenceID uuid.UUID
	DueAt        time.Time
	Success      bool
	// AlreadyDispatched is set when the slot was sent (or is being sent) by
	// an earlier or concurrent run and nothing went out this time.
	AlreadyDispatched bool
	Err               error
}

type Dispatcher struct {
	occurrences repository.OccurrenceRepository
	logs        repository.NotificationLogRepository
	resolver    *ContactResolver
	composer    *MessageComposer
	channel     Channel
	clock       utils.Clock

	channelTimeout time.Duration
	maxRetries     int
	logger         *zap.Logger
}

type DispatcherConfig struct {
	ChannelTimeout time.Duration
	MaxRetries     int
}

func NewDispatcher(
	occurrences repository.OccurrenceRepository,
	logs repository.NotificationLogRepository,
	resolver *ContactResolver,
	composer *MessageComposer,
	channel Channel,
	clock utils.Clock,
	cfg DispatcherConfig,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		occurrences:    occurrences,
		logs:           logs,
		resolver:       resolver,
		composer:       composer,
		channel:        channel,
		clock:          clock,
		channelTimeout: cfg.ChannelTimeout,
		maxRetries:     cfg.MaxRetries,
		logger:         logger,
	}
}

// Process runs resolve -> occurrence -> log -> send -> record for one slot.
// Every step commits before the next so an interrupted run leaves an
// occurrence without a log, or a log still pending, for the next pass.
// A pending occurrence found at the slot belongs to a run still in flight
// and is left alone.
func (d *Dispatcher) Process(ctx context.Context, rem models.Reminder, dueAt time.Time) DispatchResult {
	return d.process(ctx, rem, dueAt, false)
}

// Resume is Process for a slot whose earlier attempt failed or was
// interrupted. It takes over a pending occurrence as well.
func (d *Dispatcher) Resume(ctx context.Context, rem models.Reminder, dueAt time.Time) DispatchResult {
	return d.process(ctx, rem, dueAt, true)
}

func (d *Dispatcher) process(ctx context.Context, rem models.Reminder, dueAt time.Time, resume bool) DispatchResult {
	dueAt = utils.NormalizeTimestamp(dueAt)
	result := DispatchResult{ReminderID: rem.ID, DueAt: dueAt}
	kind := string(rem.Kind)
	log := d.logger.With(zap.String("reminder_id", rem.ID.String()), zap.Time("due_at", dueAt))

	attempt := utils.NormalizeTimestamp(d.clock.Now())

	res, err := d.resolver.Resolve(ctx, rem)
	if err != nil {
		log.Warn("Failed to resolve reminder recipient", zap.Error(err))
		dispatchedTotal.WithLabelValues(kind, outcomeUnresolved).Inc()
		result.Err = err
		if resume {
			result.OccurrenceID = d.failUnresolved(ctx, rem, dueAt, attempt, err, log)
		}
		return result
	}

	occ, owned, err := d.materializeOccurrence(ctx, rem, dueAt, attempt, resume)
	if err != nil {
		log.Error("Failed to materialize occurrence", zap.Error(err))
		dispatchedTotal.WithLabelValues(kind, outcomeError).Inc()
		result.Err = err
		return result
	}
	result.OccurrenceID = occ.ID
	log = log.With(zap.String("occurrence_id", occ.ID.String()))

	if !owned || occ.Status.Dispatched() {
		log.Info("Occurrence already dispatched or in flight", zap.String("status", string(occ.Status)))
		dispatchedTotal.WithLabelValues(kind, outcomeDuplicate).Inc()
		result.Success = true
		result.AlreadyDispatched = true
		return result
	}

	entry, msg, err := d.materializeLog(ctx, rem, occ, res, attempt)
	if err != nil {
		log.Error("Failed to materialize notification log", zap.Error(err))
		dispatchedTotal.WithLabelValues(kind, outcomeError).Inc()
		result.Err = err
		return result
	}

	if entry.Status == models.LogSent {
		// sent before the occurrence update landed
		if _, err := d.occurrences.Update(ctx, occ.ID, models.OccurrenceUpdate{Status: statusPtr(models.OccurrenceWaiting)}); err != nil {
			result.Err = fmt.Errorf("mark occurrence %s waiting: %w", occ.ID, err)
			return result
		}
		dispatchedTotal.WithLabelValues(kind, outcomeDuplicate).Inc()
		result.Success = true
		result.AlreadyDispatched = true
		return result
	}

	receipt, sendErr := callWithTimeout(ctx, d.channelTimeout, func(ctx context.Context) (*DeliveryReceipt, error) {
		return d.channel.Send(ctx, res.Contact, msg)
	})

	// The send context may be the one that just expired.
	persistCtx := context.WithoutCancel(ctx)
	now := d.clock.Now()

	if sendErr != nil {
		detail := fmt.Sprintf("channel %s: %v", entry.Channel, sendErr)
		log.Warn("Failed to deliver reminder", zap.String("recipient", res.Contact), zap.Error(sendErr))
		dispatchedTotal.WithLabelValues(kind, outcomeFailed).Inc()
		result.Err = errors.New(detail)

		if _, err := d.occurrences.Update(persistCtx, occ.ID, models.OccurrenceUpdate{
			Status:      statusPtr(models.OccurrenceFailure),
			AttemptedAt: &attempt,
		}); err != nil {
			log.Error("Failed to mark occurrence failed", zap.Error(err))
		}
		failed := models.LogFailed
		if _, err := d.logs.Update(persistCtx, entry.ID, models.LogUpdate{Status: &failed, ErrorMessage: &detail}); err != nil {
			log.Error("Failed to mark notification log failed", zap.Error(err))
		}
		return result
	}

	sent := models.LogSent
	upd := models.LogUpdate{Status: &sent, SentAt: &now}
	if receipt != nil {
		upd.Response = receiptPayload(receipt)
	}
	if _, err := d.logs.Update(persistCtx, entry.ID, upd); err != nil {
		// the message is out; report it but do not send again
		log.Error("Failed to mark notification log sent", zap.Error(err))
	}
	if _, err := d.occurrences.Update(persistCtx, occ.ID, models.OccurrenceUpdate{
		Status:      statusPtr(models.OccurrenceWaiting),
		AttemptedAt: &attempt,
	}); err != nil {
		log.Error("Failed to mark occurrence waiting", zap.Error(err))
		result.Err = fmt.Errorf("mark occurrence %s waiting: %w", occ.ID, err)
	}

	log.Info("Reminder delivered", zap.String("channel", entry.Channel), zap.String("recipient", res.Contact))
	dispatchedTotal.WithLabelValues(kind, outcomeSent).Inc()
	result.Success = true
	return result
}

// materializeOccurrence returns the occurrence for the slot, creating it or
// resetting a failed one to pending. owned is false when another run holds
// the slot.
func (d *Dispatcher) materializeOccurrence(ctx context.Context, rem models.Reminder, dueAt, attempt time.Time, resume bool) (*models.ReminderOccurrence, bool, error) {
	existing, err := d.occurrences.FindBySlot(ctx, rem.ID, dueAt)
	switch {
	case err == nil:
		if existing.Status.Dispatched() {
			return existing, true, nil
		}
		if existing.Status == models.OccurrencePending && !resume {
			return existing, false, nil
		}
		occ, err := d.occurrences.Update(ctx, existing.ID, models.OccurrenceUpdate{
			Status:      statusPtr(models.OccurrencePending),
			AttemptedAt: &attempt,
		})
		if err != nil {
			return nil, false, fmt.Errorf("reset occurrence %s to pending: %w", existing.ID, err)
		}
		return occ, true, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, false, fmt.Errorf("find occurrence: %w", err)
	}

	occ := &models.ReminderOccurrence{
		ReminderID:  rem.ID,
		ScheduledAt: dueAt,
		Status:      models.OccurrencePending,
		MaxRetries:  d.maxRetries,
		AttemptedAt: &attempt,
	}
	if err := d.occurrences.Create(ctx, occ); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			other, findErr := d.occurrences.FindBySlot(ctx, rem.ID, dueAt)
			if findErr != nil {
				return nil, false, fmt.Errorf("load concurrently created occurrence: %w", findErr)
			}
			return other, false, nil
		}
		return nil, false, err
	}
	if occ.ID == uuid.Nil {
		return nil, false, fmt.Errorf("occurrence for reminder %s created without id", rem.ID)
	}
	return occ, true, nil
}

func (d *Dispatcher) materializeLog(ctx context.Context, rem models.Reminder, occ *models.ReminderOccurrence, res *Resolution, attempt time.Time) (*models.NotificationLog, Message, error) {
	entry, err := d.logs.FindByOccurrence(ctx, occ.ID)
	switch {
	case err == nil:
		msg := Message{Text: entry.Message, Options: OptionsFor(rem.Kind)}
		if msg.Text == "" {
			msg = d.composer.Compose(ctx, rem, res)
		}
		return entry, msg, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, Message{}, fmt.Errorf("find notification log: %w", err)
	}

	msg := d.composer.Compose(ctx, rem, res)
	entry = &models.NotificationLog{
		OccurrenceID:   occ.ID,
		Channel:        d.channel.Name(res.Contact),
		RecipientPhone: res.Contact,
		Status:         models.LogPending,
		Message:        msg.Text,
		ScheduledFor:   &attempt,
	}
	if err := d.logs.Create(ctx, entry); err != nil {
		return nil, Message{}, err
	}
	return entry, msg, nil
}

// failUnresolved marks an existing slot as failed when a resumed attempt
// cannot resolve its recipient, so follow-up can escalate it later.
func (d *Dispatcher) failUnresolved(ctx context.Context, rem models.Reminder, dueAt, attempt time.Time, cause error, log *zap.Logger) uuid.UUID {
	occ, err := d.occurrences.FindBySlot(ctx, rem.ID, dueAt)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Error("Failed to load occurrence", zap.Error(err))
		}
		return uuid.Nil
	}
	if occ.Status.Dispatched() {
		return occ.ID
	}
	note := "unresolved: " + cause.Error()
	if _, err := d.occurrences.Update(context.WithoutCancel(ctx), occ.ID, models.OccurrenceUpdate{
		Status:      statusPtr(models.OccurrenceFailure),
		AttemptedAt: &attempt,
		Notes:       &note,
	}); err != nil {
		log.Error("Failed to mark unresolved occurrence failed", zap.Error(err))
	}
	return occ.ID
}

func receiptPayload(r *DeliveryReceipt) models.JSONB {
	payload := models.JSONB{}
	for k, v := range r.Raw {
		payload[k] = v
	}
	if r.ProviderID != "" {
		payload["provider_id"] = r.ProviderID
	}
	return payload
}

func statusPtr(s models.OccurrenceStatus) *models.OccurrenceStatus { return &s }
