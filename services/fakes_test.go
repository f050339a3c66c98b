package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"carebell-backend/models"
	"carebell-backend/repository"
	"carebell-backend/utils"

	"github.com/google/uuid"
)

type memReminders struct {
	mu   sync.Mutex
	rems []models.Reminder
}

func (m *memReminders) ListDue(ctx context.Context, now time.Time) ([]models.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Reminder
	for _, r := range m.rems {
		if r.IsActive && !r.StartAt.After(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.Before(out[j].StartAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *memReminders) GetByID(ctx context.Context, id uuid.UUID) (*models.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rems {
		if r.ID == id {
			r := r
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

type memOccurrences struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.ReminderOccurrence
	// createErr fails every Create when set.
	createErr error
}

func newMemOccurrences() *memOccurrences {
	return &memOccurrences{rows: map[uuid.UUID]*models.ReminderOccurrence{}}
}

func (m *memOccurrences) FindLatest(ctx context.Context, reminderID uuid.UUID) (*models.ReminderOccurrence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.ReminderOccurrence
	for _, o := range m.rows {
		if o.ReminderID == reminderID && (latest == nil || o.ScheduledAt.After(latest.ScheduledAt)) {
			latest = o
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memOccurrences) FindBySlot(ctx context.Context, reminderID uuid.UUID, at time.Time) (*models.ReminderOccurrence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at = utils.NormalizeTimestamp(at)
	for _, o := range m.rows {
		if o.ReminderID == reminderID && o.ScheduledAt.Equal(at) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memOccurrences) FindByID(ctx context.Context, id uuid.UUID) (*models.ReminderOccurrence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOccurrences) Create(ctx context.Context, occ *models.ReminderOccurrence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	occ.ScheduledAt = utils.NormalizeTimestamp(occ.ScheduledAt)
	for _, o := range m.rows {
		if o.ReminderID == occ.ReminderID && o.ScheduledAt.Equal(occ.ScheduledAt) {
			return repository.ErrDuplicate
		}
	}
	if occ.ID == uuid.Nil {
		occ.ID = uuid.New()
	}
	if occ.MaxRetries == 0 {
		occ.MaxRetries = models.DefaultMaxRetries
	}
	cp := *occ
	m.rows[occ.ID] = &cp
	return nil
}

func (m *memOccurrences) Update(ctx context.Context, id uuid.UUID, u models.OccurrenceUpdate) (*models.ReminderOccurrence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if u.Status != nil {
		o.Status = *u.Status
	}
	if u.TakenAt != nil {
		t := *u.TakenAt
		o.TakenAt = &t
	}
	if u.RetryCount != nil {
		o.RetryCount = *u.RetryCount
	}
	if u.FamilyNotified != nil {
		o.FamilyNotified = *u.FamilyNotified
	}
	if u.FamilyNotifiedAt != nil {
		t := *u.FamilyNotifiedAt
		o.FamilyNotifiedAt = &t
	}
	if u.Notes != nil {
		n := *u.Notes
		o.Notes = &n
	}
	if u.AttemptedAt != nil {
		t := *u.AttemptedAt
		o.AttemptedAt = &t
	}
	cp := *o
	return &cp, nil
}

func (m *memOccurrences) ListForFollowUp(ctx context.Context, f repository.FollowUpFilter) ([]models.ReminderOccurrence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ReminderOccurrence
	for _, o := range m.rows {
		if o.Status != f.Status {
			continue
		}
		if o.AttemptedAt != nil && o.AttemptedAt.After(f.AttemptedBefore) {
			continue
		}
		if o.Status == models.OccurrenceFailure && o.RetryCount >= o.MaxRetries && o.FamilyNotified {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memOccurrences) all() []models.ReminderOccurrence {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ReminderOccurrence
	for _, o := range m.rows {
		out = append(out, *o)
	}
	return out
}

type memLogs struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.NotificationLog
	// history records every status a log has been in.
	history map[uuid.UUID][]models.LogStatus
}

func newMemLogs() *memLogs {
	return &memLogs{rows: map[uuid.UUID]*models.NotificationLog{}, history: map[uuid.UUID][]models.LogStatus{}}
}

func (m *memLogs) FindByID(ctx context.Context, id uuid.UUID) (*models.NotificationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *memLogs) FindByOccurrence(ctx context.Context, occurrenceID uuid.UUID) (*models.NotificationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.rows {
		if l.OccurrenceID == occurrenceID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memLogs) Create(ctx context.Context, l *models.NotificationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows {
		if existing.OccurrenceID == l.OccurrenceID {
			return repository.ErrDuplicate
		}
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Status == "" {
		l.Status = models.LogPending
	}
	cp := *l
	m.rows[l.ID] = &cp
	m.history[l.ID] = append(m.history[l.ID], l.Status)
	return nil
}

func (m *memLogs) Update(ctx context.Context, id uuid.UUID, u models.LogUpdate) (*models.NotificationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if u.Status != nil {
		if !l.Status.CanTransitionTo(*u.Status) {
			return nil, repository.ErrIllegalTransition
		}
		l.Status = *u.Status
		m.history[id] = append(m.history[id], l.Status)
	}
	if u.SentAt != nil {
		t := *u.SentAt
		l.SentAt = &t
	}
	if u.DeliveredAt != nil {
		t := *u.DeliveredAt
		l.DeliveredAt = &t
	}
	if u.Response != nil {
		l.Response = u.Response
	}
	if u.ErrorMessage != nil {
		e := *u.ErrorMessage
		l.ErrorMessage = &e
	}
	cp := *l
	return &cp, nil
}

func (m *memLogs) all() []models.NotificationLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.NotificationLog
	for _, l := range m.rows {
		out = append(out, *l)
	}
	return out
}

type memSubjects struct {
	medicines    map[uuid.UUID]*models.Medicine
	appointments map[uuid.UUID]*models.Appointment
	profiles     map[uuid.UUID]*models.ElderlyProfile
	users        map[uuid.UUID]*models.User
	family       map[uuid.UUID][]repository.FamilyMember
}

func newMemSubjects() *memSubjects {
	return &memSubjects{
		medicines:    map[uuid.UUID]*models.Medicine{},
		appointments: map[uuid.UUID]*models.Appointment{},
		profiles:     map[uuid.UUID]*models.ElderlyProfile{},
		users:        map[uuid.UUID]*models.User{},
		family:       map[uuid.UUID][]repository.FamilyMember{},
	}
}

func (m *memSubjects) GetMedicine(ctx context.Context, id uuid.UUID) (*models.Medicine, error) {
	if v, ok := m.medicines[id]; ok {
		return v, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memSubjects) GetAppointment(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	if v, ok := m.appointments[id]; ok {
		return v, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memSubjects) GetProfile(ctx context.Context, id uuid.UUID) (*models.ElderlyProfile, error) {
	if v, ok := m.profiles[id]; ok {
		return v, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memSubjects) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if v, ok := m.users[id]; ok {
		return v, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memSubjects) ListFamilyContacts(ctx context.Context, elderlyID uuid.UUID) ([]repository.FamilyMember, error) {
	return m.family[elderlyID], nil
}

type sentMessage struct {
	Recipient string
	Message   Message
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []sentMessage
	// err, when set, is returned for every recipient not in okFor.
	err   error
	okFor map[string]bool
	// block makes Send wait for the context.
	block bool
}

func (c *fakeChannel) Name(string) string { return "whatsapp" }

func (c *fakeChannel) Send(ctx context.Context, recipient string, msg Message) (*DeliveryReceipt, error) {
	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil && !c.okFor[recipient] {
		return nil, c.err
	}
	c.sent = append(c.sent, sentMessage{Recipient: recipient, Message: msg})
	return &DeliveryReceipt{ProviderID: "SM" + recipient, Raw: map[string]interface{}{"status": "queued"}}, nil
}

func (c *fakeChannel) messages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

type fakeGenerator struct {
	payload *GeneratedPayload
	err     error
	panics  bool
	prompts []string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (*GeneratedPayload, error) {
	g.prompts = append(g.prompts, prompt)
	if g.panics {
		panic("unexpected response shape")
	}
	return g.payload, g.err
}

type fakeLocker struct {
	held     bool
	err      error
	released int
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func(context.Context) error {
		l.held = false
		l.released++
		return nil
	}, true, nil
}

var errTransport = errors.New("connection reset by peer")

// fixture is a medicine reminder owned by a profile with a valid contact.
type fixture struct {
	reminders   *memReminders
	occurrences *memOccurrences
	logs        *memLogs
	subjects    *memSubjects
	channel     *fakeChannel

	reminder models.Reminder
	medicine *models.Medicine
	profile  *models.ElderlyProfile
	user     *models.User
}

var t0 = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func newFixture() *fixture {
	f := &fixture{
		reminders:   &memReminders{},
		occurrences: newMemOccurrences(),
		logs:        newMemLogs(),
		subjects:    newMemSubjects(),
		channel:     &fakeChannel{},
	}

	f.user = &models.User{ID: uuid.New(), FullName: "Rosa Díaz", Phone: "+5491122223333"}
	contact := "+54 9 11 4444-5555"
	f.profile = &models.ElderlyProfile{ID: uuid.New(), UserID: f.user.ID, EmergencyContact: &contact}
	f.medicine = &models.Medicine{ID: uuid.New(), ElderlyID: f.profile.ID, Name: "Losartán", Dosage: "50mg", TabletsPerDose: intPtr(2)}
	f.subjects.users[f.user.ID] = f.user
	f.subjects.profiles[f.profile.ID] = f.profile
	f.subjects.medicines[f.medicine.ID] = f.medicine

	medID := f.medicine.ID
	f.reminder = models.Reminder{
		ID:                 uuid.New(),
		Kind:               models.KindMedicine,
		MedicineID:         &medID,
		PeriodicityMinutes: intPtr(1440),
		StartAt:            t0,
		IsActive:           true,
	}
	f.reminders.rems = []models.Reminder{f.reminder}
	return f
}

func (f *fixture) service(gen TextGenerator, locker Locker, s Settings) *ReminderService {
	if s.ChannelTimeout == 0 {
		s.ChannelTimeout = time.Second
	}
	if s.GenerationTimeout == 0 {
		s.GenerationTimeout = time.Second
	}
	s.RequirePhone = true
	return NewReminderService(Deps{
		Reminders:   f.reminders,
		Occurrences: f.occurrences,
		Logs:        f.logs,
		Subjects:    f.subjects,
		Channel:     f.channel,
		Generator:   gen,
		Locker:      locker,
		Clock:       utils.FixedClock{At: t0},
	}, s)
}
