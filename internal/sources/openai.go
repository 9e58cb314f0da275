package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"consensus-trader/internal/models"
)

const analysisSystemPrompt = `You are a trading analyst. Given a symbol and a
market snapshot, respond with ONLY a JSON object of the form
{"direction":"BUY"|"SELL"|"NEUTRAL","confidence":0-100,"reason":"..."}.
Do not include any other text.`

// OpenAISource asks an LLM for a directional call on the symbol. It needs a
// quote provider to build the prompt context.
type OpenAISource struct {
	BaseSource
	client *openai.Client
	model  string
	quotes QuoteProvider
}

// NewOpenAISource creates the AI-analysis source.
func NewOpenAISource(name, apiKey, model string, quotes QuoteProvider, marketTTL, offTTL time.Duration) *OpenAISource {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAISource{
		BaseSource: NewBaseSource(name, models.CapabilityAIAnalysis, marketTTL, offTTL),
		client:     openai.NewClient(apiKey),
		model:      model,
		quotes:     quotes,
	}
}

type llmAnswer struct {
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Fetch produces an opinion for the symbol from an LLM completion.
func (s *OpenAISource) Fetch(ctx context.Context, symbol string) (models.SourceOpinion, error) {
	started := time.Now()

	q, err := s.quotes.Quote(ctx, symbol)
	if err != nil {
		return models.SourceOpinion{}, err
	}

	userPrompt := fmt.Sprintf(
		"Symbol: %s\nPrice: %.4f\nOpen: %.4f\nHigh: %.4f\nLow: %.4f\nPrevious close: %.4f\nVolume: %d",
		symbol, q.Price, q.Open, q.High, q.Low, q.PrevClose, q.Volume)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analysisSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return models.SourceOpinion{}, fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.SourceOpinion{}, fmt.Errorf("no response from openai")
	}

	content := resp.Choices[0].Message.Content
	answer, err := parseLLMAnswer(content)
	if err != nil {
		return models.SourceOpinion{}, fmt.Errorf("parsing llm answer: %w", err)
	}

	direction := models.Direction(strings.ToUpper(answer.Direction))
	switch direction {
	case models.DirectionBuy, models.DirectionSell, models.DirectionNeutral:
	default:
		return models.SourceOpinion{}, fmt.Errorf("llm returned unknown direction %q", answer.Direction)
	}

	return s.Opinion(symbol, direction, answer.Confidence, content, started), nil
}

// parseLLMAnswer extracts the JSON object from the completion, tolerating
// markdown fences around it.
func parseLLMAnswer(content string) (llmAnswer, error) {
	var answer llmAnswer

	trimmed := strings.TrimSpace(content)
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}

	if err := json.Unmarshal([]byte(trimmed), &answer); err != nil {
		return answer, err
	}
	return answer, nil
}
