package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"carebell-backend/models"

	"go.uber.org/zap"
)

func medicineResolution() *Resolution {
	return &Resolution{
		Contact:  "+5491144445555",
		User:     &models.User{FullName: "Rosa Díaz"},
		Medicine: &models.Medicine{Name: "Losartán", Dosage: "50mg", TabletsPerDose: intPtr(2)},
	}
}

func TestComposeMedicineFallsBackOnEmptyCandidates(t *testing.T) {
	gen := &fakeGenerator{payload: &GeneratedPayload{}}
	c := NewMessageComposer(gen, time.Second, zap.NewNop())

	msg := c.Compose(context.Background(), models.Reminder{Kind: models.KindMedicine}, medicineResolution())

	want := "Querido/a Rosa Díaz, Recordatorio: Es hora de tomar Losartán 50mg (2 tableta(s)). Por favor confirma cuando lo hayas tomado."
	if msg.Text != want {
		t.Errorf("text = %q, want %q", msg.Text, want)
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("generator called %d times, want 1", len(gen.prompts))
	}
	if !strings.Contains(gen.prompts[0], "Losartán 50mg") || !strings.Contains(gen.prompts[0], "2 tableta(s)") {
		t.Errorf("prompt misses medicine details: %q", gen.prompts[0])
	}
	if len(msg.Options) != 2 || msg.Options[0].ID != ResponseTaken || msg.Options[1].ID != ResponseSkip {
		t.Errorf("options = %+v", msg.Options)
	}
}

func TestComposeMedicineUsesGeneratedText(t *testing.T) {
	gen := &fakeGenerator{payload: &GeneratedPayload{Candidates: []string{"  \"Hola Rosa, es hora de tu Losartán.\"\n"}}}
	c := NewMessageComposer(gen, time.Second, zap.NewNop())

	msg := c.Compose(context.Background(), models.Reminder{Kind: models.KindMedicine}, medicineResolution())
	if msg.Text != "Hola Rosa, es hora de tu Losartán." {
		t.Errorf("text = %q", msg.Text)
	}
}

func TestComposeMedicineFallbacks(t *testing.T) {
	tests := []struct {
		name string
		gen  TextGenerator
	}{
		{"no generator", nil},
		{"service error", &fakeGenerator{err: errors.New("503 service unavailable")}},
		{"nil payload", &fakeGenerator{}},
		{"blank candidate", &fakeGenerator{payload: &GeneratedPayload{Candidates: []string{"   "}}}},
		{"panic", &fakeGenerator{panics: true}},
		{"ignores context", blockingGenerator{}},
	}

	res := medicineResolution()
	res.User = nil
	res.Medicine.TabletsPerDose = nil
	want := "Recordatorio: Es hora de tomar Losartán 50mg (la dosis indicada). Por favor confirma cuando lo hayas tomado."

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewMessageComposer(tt.gen, 20*time.Millisecond, zap.NewNop())
			msg := c.Compose(context.Background(), models.Reminder{Kind: models.KindMedicine}, res)
			if msg.Text != want {
				t.Errorf("text = %q, want %q", msg.Text, want)
			}
		})
	}
}

type blockingGenerator struct{}

func (blockingGenerator) Generate(ctx context.Context, prompt string) (*GeneratedPayload, error) {
	time.Sleep(time.Second)
	return &GeneratedPayload{Candidates: []string{"too late"}}, nil
}

func TestComposeMedicineWithoutMedicineRow(t *testing.T) {
	gen := &fakeGenerator{payload: &GeneratedPayload{Candidates: []string{"unused"}}}
	c := NewMessageComposer(gen, time.Second, zap.NewNop())

	msg := c.Compose(context.Background(), models.Reminder{Kind: models.KindMedicine}, &Resolution{})
	if msg.Text != genericMedicineText {
		t.Errorf("text = %q", msg.Text)
	}
	if len(gen.prompts) != 0 {
		t.Error("generator should not be called without a medicine")
	}
}

func TestComposeFixedTemplates(t *testing.T) {
	c := NewMessageComposer(nil, time.Second, zap.NewNop())

	appt := c.Compose(context.Background(), models.Reminder{Kind: models.KindAppointment}, &Resolution{})
	if appt.Text != appointmentText {
		t.Errorf("appointment text = %q", appt.Text)
	}
	if appt.Options[0].ID != ResponseConfirm || appt.Options[1].ID != ResponseCancel {
		t.Errorf("appointment options = %+v", appt.Options)
	}

	other := c.Compose(context.Background(), models.Reminder{Kind: models.KindProfile}, &Resolution{})
	if other.Text != genericText {
		t.Errorf("generic text = %q", other.Text)
	}
	if other.Options[0].ID != ResponseConfirm || other.Options[1].ID != ResponseDismiss {
		t.Errorf("generic options = %+v", other.Options)
	}
}

func TestOptionsForReturnsCopy(t *testing.T) {
	opts := OptionsFor(models.KindMedicine)
	opts[0].Title = "changed"
	if OptionsFor(models.KindMedicine)[0].Title != "Ya lo tomé" {
		t.Error("OptionsFor leaked its shared slice")
	}
}

func TestComposeEscalation(t *testing.T) {
	c := NewMessageComposer(nil, time.Second, zap.NewNop())
	occ := models.ReminderOccurrence{ScheduledAt: t0}

	msg := c.ComposeEscalation(models.Reminder{Kind: models.KindMedicine}, medicineResolution(), occ, time.FixedZone("ART", -3*60*60))
	for _, part := range []string{"Rosa Díaz", "Losartán 50mg", "14/03/2026 05:00"} {
		if !strings.Contains(msg.Text, part) {
			t.Errorf("escalation %q misses %q", msg.Text, part)
		}
	}
	if len(msg.Options) != 0 {
		t.Errorf("escalation should carry no options, got %+v", msg.Options)
	}
}
