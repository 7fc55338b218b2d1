package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/convograph/convograph/internal/models"
)

const entityExtractionPrompt = `You are an entity extraction service for a chatbot.
Extract the intent and any named entities from the user message.
Respond with strict JSON only, no prose and no code fences, in this shape:
{"entities":[{"entity":"intent","value":"greeting","confidence":0.95}]}
Always include an "intent" entity. Confidence is a number between 0 and 1.`

// chatCompleter is the minimal surface of the chat completion service,
// extracted so tests can substitute a fake.
type chatCompleter interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds OpenAI predictor configuration options.
type Opts struct {
	APIKey string
	Model  string
}

// Option defines a configuration option for the OpenAI predictor.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key, overriding the OPENAI_API_KEY
// environment variable.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model used for extraction.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// OpenAIPredictor extracts entities with a chat completion call.
type OpenAIPredictor struct {
	chat  chatCompleter
	model string
}

// NewOpenAIPredictor creates a predictor backed by the OpenAI API. The key
// falls back to the OPENAI_API_KEY environment variable.
func NewOpenAIPredictor(opts ...Option) (*OpenAIPredictor, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	client := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("NLU OpenAI predictor created", "model", cfg.Model)
	return &OpenAIPredictor{chat: &client.Chat.Completions, model: cfg.Model}, nil
}

// ParseText asks the model for entity guesses over the given text. An empty
// text short-circuits to an empty prediction without an API call.
func (p *OpenAIPredictor) ParseText(ctx context.Context, text string) (*models.ParseEntities, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return &models.ParseEntities{}, nil
	}

	resp, err := p.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(entityExtractionPrompt),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		slog.Error("NLU ParseText completion failed", "error", err)
		return nil, fmt.Errorf("failed to parse text: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	parsed, err := decodePrediction(resp.Choices[0].Message.Content)
	if err != nil {
		slog.Error("NLU ParseText unable to decode prediction", "error", err)
		return nil, err
	}
	slog.Debug("NLU ParseText prediction", "entities", len(parsed.Entities))
	return parsed, nil
}

// decodePrediction parses the model's JSON answer. Raw confidences land in
// the Score field; the Scorer rescales them afterwards. Code fences are
// tolerated even though the prompt forbids them.
func decodePrediction(content string) (*models.ParseEntities, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var raw struct {
		Entities []struct {
			Entity         string  `json:"entity"`
			Value          string  `json:"value"`
			CanonicalValue string  `json:"canonical_value"`
			Confidence     float64 `json:"confidence"`
		} `json:"entities"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode prediction: %w", err)
	}

	parsed := &models.ParseEntities{}
	for _, e := range raw.Entities {
		if e.Entity == "" {
			continue
		}
		parsed.Entities = append(parsed.Entities, models.ScoredEntity{
			Entity:         e.Entity,
			Value:          e.Value,
			CanonicalValue: e.CanonicalValue,
			Score:          e.Confidence,
		})
	}
	return parsed, nil
}
