package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"carebell-backend/services"

	"go.uber.org/zap"
)

const defaultTelegramURL = "https://api.telegram.org"

// TelegramChannel sends through the Bot API. Recipients are chat ids and the
// reply options become an inline keyboard whose callback data is the option id.
type TelegramChannel struct {
	token   string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewTelegramChannel(token, baseURL string, logger *zap.Logger) *TelegramChannel {
	if baseURL == "" {
		baseURL = defaultTelegramURL
	}
	return &TelegramChannel{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (c *TelegramChannel) Name(string) string { return "telegram" }

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type sendMessageRequest struct {
	ChatID      string `json:"chat_id"`
	Text        string `json:"text"`
	ReplyMarkup *struct {
		InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
	} `json:"reply_markup,omitempty"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (c *TelegramChannel) Send(ctx context.Context, recipient string, msg services.Message) (*services.DeliveryReceipt, error) {
	payload := sendMessageRequest{ChatID: recipient, Text: msg.Text}
	if len(msg.Options) > 0 {
		row := make([]inlineButton, 0, len(msg.Options))
		for _, o := range msg.Options {
			row = append(row, inlineButton{Text: o.Title, CallbackData: o.ID})
		}
		payload.ReplyMarkup = &struct {
			InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
		}{InlineKeyboard: [][]inlineButton{row}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram http error: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var out sendMessageResponse
	if err := json.Unmarshal(respBody, &out); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("invalid telegram response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !out.OK {
		desc := out.Description
		if desc == "" {
			desc = string(respBody)
		}
		return nil, fmt.Errorf("telegram send failed | Status=%d | %s", resp.StatusCode, desc)
	}

	c.logger.Debug("Telegram message sent",
		zap.String("chat_id", recipient),
		zap.Int64("message_id", out.Result.MessageID),
		zap.Duration("duration", time.Since(start)))

	return &services.DeliveryReceipt{
		ProviderID: fmt.Sprintf("%d", out.Result.MessageID),
		Raw:        map[string]interface{}{"channel": "telegram", "message_id": out.Result.MessageID},
	}, nil
}
