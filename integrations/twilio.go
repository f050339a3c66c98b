package integrations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"carebell-backend/services"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// messageCreator is the part of the Twilio API the channel uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioChannel sends WhatsApp messages to E.164 numbers ("+..." prefix) and
// SMS to anything else.
type TwilioChannel struct {
	api            messageCreator
	phoneNumber    string
	whatsAppNumber string
	logger         *zap.Logger
}

func NewTwilioChannel(accountSID, authToken, phoneNumber, whatsAppNumber string, logger *zap.Logger) *TwilioChannel {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioChannel{
		api:            client.Api,
		phoneNumber:    phoneNumber,
		whatsAppNumber: whatsAppNumber,
		logger:         logger,
	}
}

func (c *TwilioChannel) Name(recipient string) string {
	if c.useWhatsApp(recipient) {
		return "whatsapp"
	}
	return "sms"
}

func (c *TwilioChannel) useWhatsApp(recipient string) bool {
	return strings.HasPrefix(recipient, "+") && c.whatsAppNumber != ""
}

// Send delivers msg. The Twilio client takes no context; callers bound the
// call from outside.
func (c *TwilioChannel) Send(ctx context.Context, recipient string, msg services.Message) (*services.DeliveryReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetBody(twilioBody(msg))
	if c.useWhatsApp(recipient) {
		params.SetTo("whatsapp:" + recipient)
		params.SetFrom("whatsapp:" + strings.TrimPrefix(c.whatsAppNumber, "whatsapp:"))
	} else {
		if c.phoneNumber == "" {
			return nil, errors.New("no twilio sms sender configured")
		}
		params.SetTo(recipient)
		params.SetFrom(c.phoneNumber)
	}

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		return nil, fmt.Errorf("twilio: %w", err)
	}

	receipt := &services.DeliveryReceipt{Raw: map[string]interface{}{"channel": c.Name(recipient)}}
	if resp != nil && resp.Sid != nil {
		receipt.ProviderID = *resp.Sid
		c.logger.Debug("Message accepted by Twilio", zap.String("recipient", recipient), zap.String("sid", *resp.Sid))
	} else {
		c.logger.Warn("Message sent but no SID returned", zap.String("recipient", recipient))
	}
	return receipt, nil
}

// twilioBody appends the reply options as text; plain WhatsApp and SMS
// messages have no buttons.
func twilioBody(msg services.Message) string {
	if len(msg.Options) == 0 {
		return msg.Text
	}
	titles := make([]string, 0, len(msg.Options))
	for _, o := range msg.Options {
		titles = append(titles, o.Title)
	}
	return msg.Text + "\n\nResponde: " + strings.Join(titles, " / ")
}
