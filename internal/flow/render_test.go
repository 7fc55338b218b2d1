package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/convograph/convograph/internal/models"
)

func TestProcessText(t *testing.T) {
	convoCtx := models.Context{
		Vars: map[string]any{
			"phone": "555-0100",
			"drink": "Tea:TEA_PAYLOAD",
			"count": 3,
		},
		User:         models.UserSnapshot{ID: "u1", FirstName: "Ada", LastName: "Lovelace", Language: "en"},
		UserLocation: &models.UserLocation{Lat: 48.85, Lon: 2.35},
	}
	subCtx := models.SubscriberContext{Vars: map[string]any{
		"phone": "overridden",
		"city":  "Paris",
	}}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"var token", "Call {context.vars.phone}", "Call 555-0100"},
		{"subscriber var", "From {context.vars.city}", "From Paris"},
		{"payload part of title:payload capture", "You chose {context.vars.drink}", "You chose TEA_PAYLOAD"},
		{"non-string var", "Count: {context.vars.count}", "Count: 3"},
		{"user tokens", "{context.user.first_name} {context.user.last_name}", "Ada Lovelace"},
		{"location tokens", "{context.user_location.lat},{context.user_location.lon}", "48.85,2.35"},
		{"unknown token untouched", "Hi {context.vars.missing}", "Hi {context.vars.missing}"},
		{"no tokens", "plain text", "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := processText(tt.in, convoCtx, subCtx); got != tt.want {
				t.Errorf("processText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestProcessTextConversationVarWins(t *testing.T) {
	convoCtx := models.Context{Vars: map[string]any{"name": "conversation"}}
	subCtx := models.SubscriberContext{Vars: map[string]any{"name": "subscriber"}}
	if got := processText("{context.vars.name}", convoCtx, subCtx); got != "conversation" {
		t.Errorf("conversation vars should shadow subscriber vars, got %q", got)
	}
}

func TestPickRandomSingleVariant(t *testing.T) {
	if got := pickRandom([]string{"only"}); got != "only" {
		t.Errorf("pickRandom single = %q, want only", got)
	}
}

func TestPickRandomStaysWithinVariants(t *testing.T) {
	variants := []string{"a", "b", "c"}
	for i := 0; i < 20; i++ {
		got := pickRandom(variants)
		if got != "a" && got != "b" && got != "c" {
			t.Fatalf("pickRandom returned %q, not a variant", got)
		}
	}
}

func TestProcessMessageTextVariants(t *testing.T) {
	r := &renderer{}
	block := &models.Block{
		ID:      "b",
		Message: models.BlockMessage{Text: []string{"Hello {context.user.first_name}"}},
	}
	convoCtx := models.Context{User: models.UserSnapshot{FirstName: "Ada"}}

	envelope, err := r.ProcessMessage(context.Background(), block, convoCtx, models.SubscriberContext{}, false, "c1")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if envelope.Format != models.FormatText {
		t.Errorf("format = %s, want text", envelope.Format)
	}
	if envelope.Message.Text != "Hello Ada" {
		t.Errorf("text = %q, want Hello Ada", envelope.Message.Text)
	}
}

func TestProcessMessageQuickReplies(t *testing.T) {
	r := &renderer{}
	block := &models.Block{
		ID: "b",
		Message: models.BlockMessage{
			Text:         []string{"Pick one"},
			QuickReplies: []models.QuickReply{{Title: "Yes {context.vars.item}", Payload: "YES"}},
		},
	}
	convoCtx := models.Context{Vars: map[string]any{"item": "tea"}}

	envelope, err := r.ProcessMessage(context.Background(), block, convoCtx, models.SubscriberContext{}, false, "c1")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if envelope.Format != models.FormatQuickReplies {
		t.Errorf("format = %s, want quickReplies", envelope.Format)
	}
	if got := envelope.Message.QuickReplies[0].Title; got != "Yes tea" {
		t.Errorf("quick reply title = %q, want token replacement applied", got)
	}
}

func TestProcessMessageButtons(t *testing.T) {
	r := &renderer{}
	block := &models.Block{
		ID: "b",
		Message: models.BlockMessage{
			Text:    []string{"Visit us"},
			Buttons: []models.Button{{Type: models.ButtonTypeWebURL, Title: "Website", URL: "https://example.com"}},
		},
	}
	envelope, err := r.ProcessMessage(context.Background(), block, models.Context{}, models.SubscriberContext{}, false, "c1")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if envelope.Format != models.FormatButtons {
		t.Errorf("format = %s, want buttons", envelope.Format)
	}
}

func TestProcessMessageAttachment(t *testing.T) {
	r := &renderer{}
	block := &models.Block{
		ID: "b",
		Message: models.BlockMessage{
			Attachment: &models.AttachmentPayload{Type: models.AttachmentTypeImage, AttachmentID: "att-1"},
		},
	}
	envelope, err := r.ProcessMessage(context.Background(), block, models.Context{}, models.SubscriberContext{}, false, "c1")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if envelope.Format != models.FormatAttachment {
		t.Errorf("format = %s, want attachment", envelope.Format)
	}
	if envelope.Message.Attachment == nil || envelope.Message.Attachment.AttachmentID != "att-1" {
		t.Errorf("attachment not carried through, got %+v", envelope.Message.Attachment)
	}
}

func TestProcessMessageFallbackSubstitution(t *testing.T) {
	r := &renderer{}
	block := &models.Block{
		ID:      "b",
		Message: models.BlockMessage{Text: []string{"Original"}},
		Options: models.BlockOptions{Fallback: &models.FallbackOptions{
			Active:      true,
			MaxAttempts: 1,
			Message:     []string{"Fallback text"},
		}},
	}
	envelope, err := r.ProcessMessage(context.Background(), block, models.Context{}, models.SubscriberContext{}, true, "c1")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if envelope.Message.Text != "Fallback text" {
		t.Errorf("fallback turn should use the fallback message, got %q", envelope.Message.Text)
	}

	// Without a configured fallback message the block message is reused.
	block.Options.Fallback.Message = nil
	envelope, err = r.ProcessMessage(context.Background(), block, models.Context{}, models.SubscriberContext{}, true, "c1")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if envelope.Message.Text != "Original" {
		t.Errorf("missing fallback message should reuse the block text, got %q", envelope.Message.Text)
	}
}

func TestProcessMessageEmptyShape(t *testing.T) {
	r := &renderer{}
	block := &models.Block{ID: "b"}
	_, err := r.ProcessMessage(context.Background(), block, models.Context{}, models.SubscriberContext{}, false, "c1")
	if !errors.Is(err, models.ErrInvalidMessageFormat) {
		t.Errorf("empty message should yield ErrInvalidMessageFormat, got %v", err)
	}
}

func TestRenderContent(t *testing.T) {
	content := &pagedContent{total: 25}
	r := &renderer{content: content}
	block := &models.Block{
		ID:      "catalog",
		Message: models.BlockMessage{Elements: true},
		Options: models.BlockOptions{Content: &models.ContentOptions{
			Display: models.FormatCarousel,
			Limit:   10,
		}},
	}
	convoCtx := models.Context{Skip: map[string]int{"catalog": 10}}

	envelope, err := r.ProcessMessage(context.Background(), block, convoCtx, models.SubscriberContext{}, false, "c1")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if envelope.Format != models.FormatCarousel {
		t.Errorf("format = %s, want carousel", envelope.Format)
	}
	if len(envelope.Message.Elements) != 10 {
		t.Errorf("elements = %d, want 10", len(envelope.Message.Elements))
	}
	if !strings.HasSuffix(envelope.Message.Elements[0].ID, "-10") {
		t.Errorf("first element = %+v, want the second page", envelope.Message.Elements[0])
	}
	p := envelope.Message.Pagination
	if p == nil || p.Total != 25 || p.Skip != 10 || p.Limit != 10 {
		t.Errorf("pagination = %+v, want total 25 skip 10 limit 10", p)
	}
}

func TestRenderContentMissingProvider(t *testing.T) {
	r := &renderer{}
	block := &models.Block{
		ID:      "catalog",
		Message: models.BlockMessage{Elements: true},
		Options: models.BlockOptions{Content: &models.ContentOptions{Display: models.FormatList, Limit: 10}},
	}
	if _, err := r.ProcessMessage(context.Background(), block, models.Context{}, models.SubscriberContext{}, false, "c1"); err == nil {
		t.Error("expected an error without a content provider")
	}
}

func TestRenderContentMissingOptions(t *testing.T) {
	r := &renderer{content: &pagedContent{total: 5}}
	block := &models.Block{ID: "catalog", Message: models.BlockMessage{Elements: true}}
	_, err := r.ProcessMessage(context.Background(), block, models.Context{}, models.SubscriberContext{}, false, "c1")
	if !errors.Is(err, models.ErrInvalidMessageFormat) {
		t.Errorf("paged block without content options should be invalid, got %v", err)
	}
}

// failingPlugin always errors.
type failingPlugin struct{}

func (failingPlugin) Process(ctx context.Context, block *models.Block, convoCtx models.Context, conversationID string) (models.StdOutgoingEnvelope, error) {
	return models.StdOutgoingEnvelope{}, errors.New("boom")
}

func TestProcessMessagePluginDispatch(t *testing.T) {
	RegisterPlugin("render-test-fail", failingPlugin{})
	r := &renderer{}

	block := &models.Block{ID: "b", Message: models.BlockMessage{Plugin: "render-test-fail"}}
	if _, err := r.ProcessMessage(context.Background(), block, models.Context{}, models.SubscriberContext{}, false, "c1"); err == nil {
		t.Error("plugin error should propagate")
	}

	block = &models.Block{ID: "b", Message: models.BlockMessage{Plugin: "never-registered"}}
	_, err := r.ProcessMessage(context.Background(), block, models.Context{}, models.SubscriberContext{}, false, "c1")
	if !errors.Is(err, models.ErrUnknownPlugin) {
		t.Errorf("unknown plugin should yield ErrUnknownPlugin, got %v", err)
	}
}
