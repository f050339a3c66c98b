package integrations

import (
	"context"
	"fmt"

	"carebell-backend/services"

	"github.com/go-deepseek/deepseek"
	"github.com/go-deepseek/deepseek/request"
)

const reminderSystemPrompt = "Eres un asistente que redacta recordatorios de salud amables para personas mayores."

// DeepSeekGenerator produces reminder texts with the DeepSeek chat API.
type DeepSeekGenerator struct {
	client      deepseek.Client
	model       string
	maxTokens   int
	temperature float64
}

func NewDeepSeekGenerator(apiKey, model string, maxTokens int, temperature float64) (*DeepSeekGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	client, err := deepseek.NewClient(apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create DeepSeek client: %w", err)
	}
	if model == "" {
		model = "deepseek-chat"
	}
	return &DeepSeekGenerator{client: client, model: model, maxTokens: maxTokens, temperature: temperature}, nil
}

// Generate returns one candidate per choice in the completion.
func (g *DeepSeekGenerator) Generate(ctx context.Context, prompt string) (*services.GeneratedPayload, error) {
	var temp *float32
	if g.temperature > 0 {
		t := float32(g.temperature)
		temp = &t
	}

	resp, err := g.client.CallChatCompletionsChat(ctx, &request.ChatCompletionsRequest{
		Model: g.model,
		Messages: []*request.Message{
			{Role: "system", Content: reminderSystemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   g.maxTokens,
		Temperature: temp,
		Stream:      false,
	})
	if err != nil {
		return nil, fmt.Errorf("DeepSeek API request failed: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("DeepSeek returned no response")
	}

	payload := &services.GeneratedPayload{}
	for _, choice := range resp.Choices {
		payload.Candidates = append(payload.Candidates, choice.Message.Content)
	}
	return payload, nil
}
