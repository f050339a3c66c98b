package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"carebell-backend/models"
	"carebell-backend/repository"

	"github.com/google/uuid"
)

func TestRunCycleDeliversDueReminder(t *testing.T) {
	f := newFixture()
	svc := f.service(nil, nil, Settings{Concurrency: 2})

	res, err := svc.RunCycle(context.Background(), t0)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.RunID == "" {
		t.Error("missing run id")
	}
	if res.Processed != 1 || res.Successful != 1 || res.Failed != 0 || len(res.Errors) != 0 {
		t.Errorf("result = %+v", res)
	}

	// Same tick again: the slot is materialized, nothing is selected.
	res, err = svc.RunCycle(context.Background(), t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if res.Processed != 0 {
		t.Errorf("second cycle processed %d", res.Processed)
	}
	if n := len(f.channel.messages()); n != 1 {
		t.Errorf("messages sent = %d, want 1", n)
	}

	// Next day's slot.
	res, _ = svc.RunCycle(context.Background(), t0.Add(24*time.Hour))
	if res.Processed != 1 || res.Successful != 1 {
		t.Errorf("next day result = %+v", res)
	}
}

func TestRunCycleIsolatesFailures(t *testing.T) {
	f := newFixture()

	missing := uuid.New()
	broken := models.Reminder{ID: uuid.New(), Kind: models.KindMedicine, MedicineID: &missing, StartAt: t0, IsActive: true}
	unreachable := f.reminder
	unreachable.ID = uuid.New()
	otherContact := "+5491166667777"
	otherProfile := &models.ElderlyProfile{ID: uuid.New(), UserID: f.user.ID, EmergencyContact: &otherContact}
	otherMed := &models.Medicine{ID: uuid.New(), ElderlyID: otherProfile.ID, Name: "Metformina"}
	f.subjects.profiles[otherProfile.ID] = otherProfile
	f.subjects.medicines[otherMed.ID] = otherMed
	unreachable.MedicineID = &otherMed.ID

	f.reminders.rems = append(f.reminders.rems, broken, unreachable)
	f.channel.err = errTransport
	f.channel.okFor = map[string]bool{"+5491144445555": true}

	svc := f.service(nil, nil, Settings{Concurrency: 3})
	res, err := svc.RunCycle(context.Background(), t0)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Processed != 3 || res.Successful != 1 || res.Failed != 2 || len(res.Errors) != 2 {
		t.Fatalf("result = %+v", res)
	}

	failed := map[uuid.UUID]ReminderError{}
	for _, e := range res.Errors {
		failed[e.ReminderID] = e
	}
	if e, ok := failed[broken.ID]; !ok || e.OccurrenceID != nil {
		t.Errorf("unresolved reminder error = %+v", e)
	}
	if e, ok := failed[unreachable.ID]; !ok || e.OccurrenceID == nil {
		t.Errorf("channel failure error = %+v", e)
	}

	occ, err := f.occurrences.FindBySlot(context.Background(), unreachable.ID, t0)
	if err != nil || occ.Status != models.OccurrenceFailure {
		t.Errorf("unreachable occurrence = %+v, %v", occ, err)
	}
}

func TestRunCycleSkipsEndedReminder(t *testing.T) {
	f := newFixture()
	end := time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)
	f.reminders.rems[0].StartAt = t0.AddDate(0, 0, -10)
	f.reminders.rems[0].EndDate = &end

	res, err := f.service(nil, nil, Settings{}).RunCycle(context.Background(), t0)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Processed != 0 || len(f.occurrences.all()) != 0 {
		t.Errorf("ended reminder was processed: %+v", res)
	}
}

func TestRunCycleHonorsLock(t *testing.T) {
	f := newFixture()
	locker := &fakeLocker{held: true}
	svc := f.service(nil, locker, Settings{})

	res, err := svc.RunCycle(context.Background(), t0)
	if err != nil || !res.Skipped || res.Processed != 0 {
		t.Fatalf("held lock: res=%+v err=%v", res, err)
	}

	locker.held = false
	res, err = svc.RunCycle(context.Background(), t0)
	if err != nil || res.Skipped || res.Processed != 1 {
		t.Fatalf("free lock: res=%+v err=%v", res, err)
	}
	if locker.held || locker.released != 1 {
		t.Errorf("lock not released: %+v", locker)
	}

	// A broken locker does not stop reminders.
	locker.err = errors.New("redis: connection refused")
	if _, err := svc.RunCycle(context.Background(), t0.Add(24*time.Hour)); err != nil {
		t.Fatalf("RunCycle with broken locker: %v", err)
	}
	if n := len(f.channel.messages()); n != 2 {
		t.Errorf("messages = %d, want 2", n)
	}
}

func TestFollowUpRetriesThenEscalates(t *testing.T) {
	f := newFixture()
	f.channel.err = errTransport

	daughter := models.User{ID: uuid.New(), FullName: "Ana", Phone: "+5491100001111"}
	neighbour := models.User{ID: uuid.New(), FullName: "Luis", Phone: "no phone"}
	f.subjects.family[f.profile.ID] = []repository.FamilyMember{
		{Contact: models.FamilyContact{ID: uuid.New(), IsPrimaryContact: true}, User: daughter},
		{Contact: models.FamilyContact{ID: uuid.New()}, User: neighbour},
	}
	f.channel.okFor = map[string]bool{daughter.Phone: true}

	svc := f.service(nil, nil, Settings{MaxRetries: 2})
	if _, err := svc.RunCycle(context.Background(), t0); err != nil {
		t.Fatal(err)
	}

	now := t0.Add(10 * time.Minute)
	for i := 1; i <= 2; i++ {
		res, err := svc.FollowUp(context.Background(), now)
		if err != nil {
			t.Fatalf("FollowUp %d: %v", i, err)
		}
		if res.Retried != 1 || res.Recovered != 0 || res.Escalated != 0 {
			t.Fatalf("follow-up %d = %+v", i, res)
		}
	}

	occ := f.occurrences.all()[0]
	if occ.RetryCount != 2 || occ.Status != models.OccurrenceFailure {
		t.Fatalf("occurrence after retries = %+v", occ)
	}

	res, err := svc.FollowUp(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Retried != 0 || res.Escalated != 1 {
		t.Fatalf("escalation follow-up = %+v", res)
	}
	occ = f.occurrences.all()[0]
	if !occ.FamilyNotified || occ.FamilyNotifiedAt == nil || !occ.FamilyNotifiedAt.Equal(now) {
		t.Errorf("occurrence after escalation = %+v", occ)
	}
	sent := f.channel.messages()
	if len(sent) != 1 || sent[0].Recipient != daughter.Phone {
		t.Errorf("family messages = %+v", sent)
	}

	// Nothing more to do.
	res, _ = svc.FollowUp(context.Background(), now)
	if res.Retried != 0 || res.Escalated != 0 {
		t.Errorf("repeat follow-up = %+v", res)
	}
}

func TestFollowUpRecovers(t *testing.T) {
	f := newFixture()
	f.channel.err = errTransport
	svc := f.service(nil, nil, Settings{})
	svc.RunCycle(context.Background(), t0)

	f.channel.err = nil
	res, err := svc.FollowUp(context.Background(), t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if res.Retried != 1 || res.Recovered != 1 {
		t.Fatalf("result = %+v", res)
	}
	if occ := f.occurrences.all()[0]; occ.Status != models.OccurrenceWaiting || occ.RetryCount != 1 {
		t.Errorf("occurrence = %+v", occ)
	}
	if entry := f.logs.all()[0]; entry.Status != models.LogSent {
		t.Errorf("log = %s", entry.Status)
	}
}

func TestFollowUpWaitsForBackoff(t *testing.T) {
	f := newFixture()
	f.channel.err = errTransport
	svc := f.service(nil, nil, Settings{RetryBackoff: time.Hour})
	svc.RunCycle(context.Background(), t0)

	if occ := f.occurrences.all()[0]; occ.AttemptedAt == nil || !occ.AttemptedAt.Equal(t0) {
		t.Fatalf("attempted at = %v, want %v", occ.AttemptedAt, t0)
	}
	res, _ := svc.FollowUp(context.Background(), t0.Add(time.Minute))
	if res.Retried != 0 {
		t.Errorf("retried before backoff: %+v", res)
	}
	res, _ = svc.FollowUp(context.Background(), t0.Add(2*time.Hour))
	if res.Retried != 1 {
		t.Errorf("not retried after backoff: %+v", res)
	}
}

func TestFollowUpFailsStalePendingOutOfRetries(t *testing.T) {
	f := newFixture()
	daughter := models.User{ID: uuid.New(), FullName: "Ana", Phone: "+5491100001111"}
	f.subjects.family[f.profile.ID] = []repository.FamilyMember{
		{Contact: models.FamilyContact{ID: uuid.New(), IsPrimaryContact: true}, User: daughter},
	}
	svc := f.service(nil, nil, Settings{MaxRetries: 1, RetryBackoff: 5 * time.Minute})

	// the last resume crashed before recording an outcome
	stale := &models.ReminderOccurrence{
		ReminderID:  f.reminder.ID,
		ScheduledAt: t0,
		Status:      models.OccurrencePending,
		RetryCount:  1,
		MaxRetries:  1,
		AttemptedAt: &t0,
	}
	if err := f.occurrences.Create(context.Background(), stale); err != nil {
		t.Fatal(err)
	}

	res, err := svc.FollowUp(context.Background(), t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("FollowUp: %v", err)
	}
	if res.Retried != 0 || res.Escalated != 1 {
		t.Fatalf("result = %+v", res)
	}
	occ := f.occurrences.all()[0]
	if occ.Status != models.OccurrenceFailure || !occ.FamilyNotified {
		t.Errorf("occurrence = %+v", occ)
	}
	if sent := f.channel.messages(); len(sent) != 1 || sent[0].Recipient != daughter.Phone {
		t.Errorf("messages = %+v", sent)
	}
}

func TestFollowUpRecordsUnresolvedResumeAsFailure(t *testing.T) {
	f := newFixture()
	svc := f.service(nil, nil, Settings{})

	stale := &models.ReminderOccurrence{
		ReminderID:  f.reminder.ID,
		ScheduledAt: t0,
		Status:      models.OccurrencePending,
		AttemptedAt: &t0,
	}
	if err := f.occurrences.Create(context.Background(), stale); err != nil {
		t.Fatal(err)
	}
	delete(f.subjects.medicines, f.medicine.ID)

	now := t0.Add(time.Hour)
	res, err := svc.FollowUp(context.Background(), now)
	if err != nil {
		t.Fatalf("FollowUp: %v", err)
	}
	if res.Retried != 1 || res.Recovered != 0 || len(res.Errors) != 1 {
		t.Fatalf("result = %+v", res)
	}
	occ := f.occurrences.all()[0]
	if occ.Status != models.OccurrenceFailure || occ.RetryCount != 1 {
		t.Errorf("occurrence = %+v", occ)
	}
	if occ.Notes == nil || !strings.HasPrefix(*occ.Notes, "unresolved: ") {
		t.Errorf("notes = %v", occ.Notes)
	}
	if n := len(f.channel.messages()); n != 0 {
		t.Errorf("messages = %d, want 0", n)
	}
}

func TestAcknowledge(t *testing.T) {
	f := newFixture()
	svc := f.service(nil, nil, Settings{})
	svc.RunCycle(context.Background(), t0)
	occ := f.occurrences.all()[0]
	at := t0.Add(7 * time.Minute)

	if _, err := svc.Acknowledge(context.Background(), occ.ID, "maybe", at); !errors.Is(err, ErrUnknownResponse) {
		t.Errorf("unknown response err = %v", err)
	}
	if _, err := svc.Acknowledge(context.Background(), uuid.New(), ResponseTaken, at); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("missing occurrence err = %v", err)
	}

	updated, err := svc.Acknowledge(context.Background(), occ.ID, ResponseTaken, at)
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if updated.Status != models.OccurrenceConfirmed || updated.TakenAt == nil || !updated.TakenAt.Equal(at) {
		t.Errorf("occurrence = %+v", updated)
	}
	if entry := f.logs.all()[0]; entry.DeliveredAt == nil || !entry.DeliveredAt.Equal(at) {
		t.Errorf("log delivered at = %v", entry.DeliveredAt)
	}

	if _, err := svc.Acknowledge(context.Background(), occ.ID, ResponseSkip, at); !errors.Is(err, repository.ErrIllegalTransition) {
		t.Errorf("second answer err = %v", err)
	}
}

func TestAcknowledgeSkipOnFailedDelivery(t *testing.T) {
	f := newFixture()
	f.channel.err = errTransport
	svc := f.service(nil, nil, Settings{})
	svc.RunCycle(context.Background(), t0)
	occ := f.occurrences.all()[0]

	updated, err := svc.Acknowledge(context.Background(), occ.ID, ResponseSkip, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if updated.Status != models.OccurrenceSkipped || updated.TakenAt != nil {
		t.Errorf("occurrence = %+v", updated)
	}
	if entry := f.logs.all()[0]; entry.Status != models.LogSent {
		t.Errorf("answered log should be sent, got %s", entry.Status)
	}
}

func TestPreviewNextDue(t *testing.T) {
	f := newFixture()
	svc := f.service(nil, nil, Settings{})

	at, ok, err := svc.PreviewNextDue(context.Background(), f.reminder.ID, t0)
	if err != nil || !ok || !at.Equal(t0) {
		t.Fatalf("before first cycle: %v %v %v", at, ok, err)
	}
	svc.RunCycle(context.Background(), t0)
	if _, ok, _ := svc.PreviewNextDue(context.Background(), f.reminder.ID, t0.Add(time.Hour)); ok {
		t.Error("nothing should be due an hour later")
	}
	if _, _, err := svc.PreviewNextDue(context.Background(), uuid.New(), t0); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("unknown reminder err = %v", err)
	}
}
