package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"carebell-backend/models"

	"go.uber.org/zap"
)

const (
	ResponseTaken   = "taken"
	ResponseSkip    = "skip"
	ResponseConfirm = "confirm"
	ResponseCancel  = "cancel"
	ResponseDismiss = "dismiss"
)

var (
	medicineOptions = []ResponseOption{
		{ID: ResponseTaken, Title: "Ya lo tomé"},
		{ID: ResponseSkip, Title: "Omitir"},
	}
	appointmentOptions = []ResponseOption{
		{ID: ResponseConfirm, Title: "Confirmar"},
		{ID: ResponseCancel, Title: "Cancelar"},
	}
	genericOptions = []ResponseOption{
		{ID: ResponseConfirm, Title: "Confirmar"},
		{ID: ResponseDismiss, Title: "Descartar"},
	}
)

const (
	appointmentText     = "Recordatorio: Tienes una cita médica próximamente. Por favor confirma tu asistencia."
	genericText         = "Tienes un recordatorio pendiente. Por favor confirma."
	genericMedicineText = "Recordatorio: Es hora de tomar tu medicamento. Por favor confirma cuando lo hayas tomado."
)

var errNoGenerator = errors.New("no text generator configured")

// OptionsFor returns the reply options offered for a reminder kind.
func OptionsFor(kind models.ReminderKind) []ResponseOption {
	var opts []ResponseOption
	switch kind {
	case models.KindMedicine:
		opts = medicineOptions
	case models.KindAppointment:
		opts = appointmentOptions
	default:
		opts = genericOptions
	}
	return append([]ResponseOption(nil), opts...)
}

// MessageComposer builds reminder texts. Medicine reminders first ask the
// text generator and fall back to a fixed template; the result is always a
// usable message.
type MessageComposer struct {
	generator TextGenerator
	timeout   time.Duration
	logger    *zap.Logger
}

// NewMessageComposer accepts a nil generator, in which case only templates
// are used.
func NewMessageComposer(generator TextGenerator, timeout time.Duration, logger *zap.Logger) *MessageComposer {
	return &MessageComposer{generator: generator, timeout: timeout, logger: logger}
}

func (c *MessageComposer) Compose(ctx context.Context, rem models.Reminder, res *Resolution) Message {
	switch rem.Kind {
	case models.KindMedicine:
		return Message{Text: c.medicineText(ctx, rem, res), Options: OptionsFor(rem.Kind)}
	case models.KindAppointment:
		return Message{Text: appointmentText, Options: OptionsFor(rem.Kind)}
	default:
		return Message{Text: genericText, Options: OptionsFor(rem.Kind)}
	}
}

func (c *MessageComposer) medicineText(ctx context.Context, rem models.Reminder, res *Resolution) string {
	if res == nil || res.Medicine == nil {
		return genericMedicineText
	}
	med := res.Medicine
	name := res.RecipientName()

	text, err := c.generate(ctx, medicinePrompt(med, name))
	if err == nil {
		c.logger.Debug("Generated medicine reminder",
			zap.String("reminder_id", rem.ID.String()), zap.String("medicine", med.Name))
		return text
	}

	if !errors.Is(err, errNoGenerator) {
		c.logger.Warn("Text generation failed, using template",
			zap.String("reminder_id", rem.ID.String()), zap.Error(err))
		composerFallbackTotal.WithLabelValues(string(rem.Kind)).Inc()
	}
	return MedicineTemplate(med, name)
}

func (c *MessageComposer) generate(ctx context.Context, prompt string) (string, error) {
	if c.generator == nil {
		return "", errNoGenerator
	}
	payload, err := callWithTimeout(ctx, c.timeout, func(ctx context.Context) (*GeneratedPayload, error) {
		return c.generator.Generate(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	if payload == nil || len(payload.Candidates) == 0 {
		return "", errors.New("generator returned no candidates")
	}
	text := strings.Trim(strings.TrimSpace(payload.Candidates[0]), `"`)
	if text == "" {
		return "", errors.New("generator returned empty text")
	}
	return text, nil
}

// MedicineTemplate is the deterministic medicine reminder text.
func MedicineTemplate(med *models.Medicine, recipientName string) string {
	greeting := ""
	if recipientName != "" {
		greeting = fmt.Sprintf("Querido/a %s, ", recipientName)
	}
	return fmt.Sprintf("%sRecordatorio: Es hora de tomar %s (%s). Por favor confirma cuando lo hayas tomado.",
		greeting, medicineLabel(med), doseText(med))
}

// ComposeEscalation is the text sent to family members when a reminder could
// not be delivered.
func (c *MessageComposer) ComposeEscalation(rem models.Reminder, res *Resolution, occ models.ReminderOccurrence, loc *time.Location) Message {
	who := res.RecipientName()
	if who == "" {
		who = "tu familiar"
	}

	what := "un recordatorio"
	switch {
	case res != nil && res.Medicine != nil:
		what = "el recordatorio de " + medicineLabel(res.Medicine)
	case rem.Kind == models.KindAppointment:
		what = "el recordatorio de su cita médica"
	}

	if loc == nil {
		loc = time.UTC
	}
	at := occ.ScheduledAt.In(loc).Format("02/01/2006 15:04")
	return Message{
		Text: fmt.Sprintf("Aviso: no pudimos entregar a %s %s programado para el %s. Por favor comunícate con %s.",
			who, what, at, who),
	}
}

func medicineLabel(med *models.Medicine) string {
	if med.Dosage == "" {
		return med.Name
	}
	return med.Name + " " + med.Dosage
}

func doseText(med *models.Medicine) string {
	if med.TabletsPerDose != nil && *med.TabletsPerDose > 0 {
		return fmt.Sprintf("%d tableta(s)", *med.TabletsPerDose)
	}
	return "la dosis indicada"
}

func medicinePrompt(med *models.Medicine, recipientName string) string {
	var b strings.Builder
	b.WriteString("Escribe en español un recordatorio breve y cálido para una persona mayor que debe tomar su medicamento.\n\n")
	fmt.Fprintf(&b, "Medicamento: %s\n", medicineLabel(med))
	fmt.Fprintf(&b, "Cantidad: %s\n", doseText(med))
	if recipientName != "" {
		fmt.Fprintf(&b, "Nombre de la persona: %s (salúdala por su nombre)\n", recipientName)
	} else {
		b.WriteString("No conocemos su nombre, usa un saludo genérico.\n")
	}
	b.WriteString("\nIndica el nombre del medicamento y la cantidad exacta, usa como máximo tres oraciones, ")
	b.WriteString("pide que confirme cuando lo haya tomado y evita un tono alarmante. ")
	b.WriteString("Devuelve solo el mensaje, sin comillas.")
	return b.String()
}
