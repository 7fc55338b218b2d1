package nlu

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/convograph/convograph/internal/models"
)

func TestComputePredictionScore(t *testing.T) {
	scorer := Scorer{
		Threshold: 0.6,
		Weights:   map[string]float64{"intent": 0.5},
	}
	raw := &models.ParseEntities{Entities: []models.ScoredEntity{
		{Entity: "intent", Value: "greeting", Score: 0.9},
		{Entity: "subject", Value: "claim", Score: 0.8},
		{Entity: "noise", Value: "x", Score: 0.3},
	}}

	scored := scorer.ComputePredictionScore(raw)
	if len(scored.Entities) != 2 {
		t.Fatalf("entities = %d, want 2 (low-confidence guess dropped)", len(scored.Entities))
	}
	if got := scored.Entities[0].Score; got != 0.9*0.5 {
		t.Errorf("weighted score = %v, want %v", got, 0.9*0.5)
	}
	// Missing weight counts as 1.
	if got := scored.Entities[1].Score; got != 0.8 {
		t.Errorf("unweighted score = %v, want 0.8", got)
	}
}

func TestComputePredictionScoreDefaults(t *testing.T) {
	raw := &models.ParseEntities{Entities: []models.ScoredEntity{
		{Entity: "intent", Value: "a", Score: 0.49},
		{Entity: "intent", Value: "b", Score: 0.51},
	}}

	scored := Scorer{}.ComputePredictionScore(raw)
	if len(scored.Entities) != 1 || scored.Entities[0].Value != "b" {
		t.Errorf("default threshold should keep only scores >= 0.5, got %+v", scored.Entities)
	}

	if (Scorer{}).ComputePredictionScore(nil) != nil {
		t.Error("nil input should stay nil")
	}
}

func TestDecodePrediction(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{
			"plain json",
			`{"entities":[{"entity":"intent","value":"greeting","confidence":0.95}]}`,
			1, false,
		},
		{
			"json code fence",
			"```json\n{\"entities\":[{\"entity\":\"intent\",\"value\":\"greeting\",\"confidence\":0.9}]}\n```",
			1, false,
		},
		{
			"bare code fence",
			"```\n{\"entities\":[{\"entity\":\"intent\",\"value\":\"greeting\",\"confidence\":0.9}]}\n```",
			1, false,
		},
		{
			"empty entity names skipped",
			`{"entities":[{"entity":"","value":"x","confidence":0.9},{"entity":"intent","value":"greeting","confidence":0.9}]}`,
			1, false,
		},
		{"no entities", `{"entities":[]}`, 0, false},
		{"not json", "I could not extract anything.", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodePrediction(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Error("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodePrediction: %v", err)
			}
			if len(got.Entities) != tt.want {
				t.Errorf("entities = %d, want %d", len(got.Entities), tt.want)
			}
		})
	}
}

func TestDecodePredictionMapsConfidence(t *testing.T) {
	got, err := decodePrediction(`{"entities":[{"entity":"subject","value":"claim","canonical_value":"insurance_claim","confidence":0.8}]}`)
	if err != nil {
		t.Fatalf("decodePrediction: %v", err)
	}
	e := got.Entities[0]
	if e.Score != 0.8 || e.CanonicalValue != "insurance_claim" {
		t.Errorf("entity = %+v", e)
	}
}

// fakeCompleter returns a canned completion.
type fakeCompleter struct {
	content  string
	err      error
	lastBody openai.ChatCompletionNewParams
	calls    int
}

func (f *fakeCompleter) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.calls++
	f.lastBody = body
	if f.err != nil {
		return nil, f.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

func TestParseText(t *testing.T) {
	fake := &fakeCompleter{content: `{"entities":[{"entity":"intent","value":"greeting","confidence":0.95}]}`}
	p := &OpenAIPredictor{chat: fake, model: openai.ChatModelGPT4oMini}

	got, err := p.ParseText(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	if len(got.Entities) != 1 || got.Entities[0].Value != "greeting" {
		t.Errorf("entities = %+v", got.Entities)
	}
	if len(fake.lastBody.Messages) != 2 {
		t.Errorf("messages = %d, want system + user", len(fake.lastBody.Messages))
	}
}

func TestParseTextEmptyShortCircuits(t *testing.T) {
	fake := &fakeCompleter{}
	p := &OpenAIPredictor{chat: fake, model: openai.ChatModelGPT4oMini}

	got, err := p.ParseText(context.Background(), "   ")
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	if len(got.Entities) != 0 {
		t.Errorf("entities = %+v, want none", got.Entities)
	}
	if fake.calls != 0 {
		t.Errorf("empty text must not hit the API, calls = %d", fake.calls)
	}
}

func TestParseTextErrors(t *testing.T) {
	p := &OpenAIPredictor{chat: &fakeCompleter{err: errors.New("api down")}, model: openai.ChatModelGPT4oMini}
	if _, err := p.ParseText(context.Background(), "hello"); err == nil {
		t.Error("API failure should propagate")
	}

	p = &OpenAIPredictor{chat: &fakeCompleter{content: "not json"}, model: openai.ChatModelGPT4oMini}
	if _, err := p.ParseText(context.Background(), "hello"); err == nil {
		t.Error("undecodable answer should fail")
	}
}

func TestNewOpenAIPredictorRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewOpenAIPredictor(); err == nil {
		t.Error("expected an error without an API key")
	}
	if _, err := NewOpenAIPredictor(WithAPIKey("sk-test")); err != nil {
		t.Errorf("NewOpenAIPredictor: %v", err)
	}
}
