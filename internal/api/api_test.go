package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/convograph/convograph/internal/channel"
	"github.com/convograph/convograph/internal/models"
	"github.com/convograph/convograph/internal/nlu"
	"github.com/convograph/convograph/internal/store"
)

// fakeEngine records the events it receives.
type fakeEngine struct {
	events   []channel.Event
	settings []models.Settings
	err      error
}

func (f *fakeEngine) HandleMessageEvent(ctx context.Context, event channel.Event, settings models.Settings) error {
	f.events = append(f.events, event)
	f.settings = append(f.settings, settings)
	return f.err
}

// fakePredictor returns fixed entities for any text.
type fakePredictor struct {
	entities *models.ParseEntities
	err      error
}

func (f *fakePredictor) ParseText(ctx context.Context, text string) (*models.ParseEntities, error) {
	return f.entities, f.err
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *fakeEngine, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	engine := &fakeEngine{}
	return NewServer(engine, st, opts...), engine, st
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v (%s)", err, rec.Body.String())
	}
	return resp
}

func TestWebhookCreatesSubscriberAndDispatches(t *testing.T) {
	server, engine, st := newTestServer(t)
	handler := server.Handler()

	rec := postJSON(t, handler, "/webhook/web",
		`{"foreign_id":"fid-1","type":"message","text":"hello","first_name":"Ada"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if len(engine.events) != 1 {
		t.Fatalf("engine received %d events, want 1", len(engine.events))
	}
	event := engine.events[0]
	if event.Text() != "hello" || event.ChannelName() != "web" {
		t.Errorf("event = text %q channel %q", event.Text(), event.ChannelName())
	}
	sender := event.Sender()
	if sender == nil || sender.ID == "" {
		t.Fatal("sender should have been assigned a stored id")
	}

	stored, _ := st.GetSubscriberByForeignID(context.Background(), "web", "fid-1")
	if stored == nil || stored.FirstName != "Ada" {
		t.Errorf("subscriber not persisted: %+v", stored)
	}

	// A second turn reuses the stored subscriber.
	postJSON(t, handler, "/webhook/web", `{"foreign_id":"fid-1","type":"message","text":"again"}`)
	if got := engine.events[1].Sender().ID; got != sender.ID {
		t.Errorf("second turn resolved a different subscriber: %q vs %q", got, sender.ID)
	}
}

func TestWebhookDefaultsTypeToMessage(t *testing.T) {
	server, engine, _ := newTestServer(t)
	postJSON(t, server.Handler(), "/webhook/web", `{"foreign_id":"fid-1","text":"hi"}`)
	if len(engine.events) != 1 || engine.events[0].MessageType() != models.MessageTypeMessage {
		t.Errorf("missing type should default to message, got %+v", engine.events)
	}
}

func TestWebhookRejectsBadRequests(t *testing.T) {
	server, engine, _ := newTestServer(t)
	handler := server.Handler()

	if rec := postJSON(t, handler, "/webhook/web", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON: status = %d, want 400", rec.Code)
	}
	if rec := postJSON(t, handler, "/webhook/web", `{"type":"message","text":"hi"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing foreign_id: status = %d, want 400", rec.Code)
	}
	if len(engine.events) != 0 {
		t.Errorf("rejected requests must not reach the engine, got %d", len(engine.events))
	}
}

func TestWebhookEngineErrorYields500(t *testing.T) {
	server, engine, _ := newTestServer(t)
	engine.err = errors.New("persistence failed")

	rec := postJSON(t, server.Handler(), "/webhook/web", `{"foreign_id":"fid-1","text":"hi"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Status != string(models.APIStatusError) {
		t.Errorf("response status = %q, want error", resp.Status)
	}
}

func TestWebhookTwilioForm(t *testing.T) {
	server, engine, _ := newTestServer(t)
	handler := server.Handler()

	form := "From=whatsapp%3A%2B15550001111&Body=hello"
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(engine.events) != 1 {
		t.Fatalf("engine received %d events, want 1", len(engine.events))
	}
	event := engine.events[0]
	if event.ChannelName() != "twilio" || event.Text() != "hello" {
		t.Errorf("event = %+v", event)
	}
	if event.Sender().ForeignID != "+15550001111" {
		t.Errorf("foreign id = %q", event.Sender().ForeignID)
	}
}

func TestWebhookTwilioUnusableFormAcknowledged(t *testing.T) {
	server, engine, _ := newTestServer(t)

	// No From: unusable, but Twilio must not retry.
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader("Body=hello"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if len(engine.events) != 0 {
		t.Errorf("unusable form must not reach the engine, got %d", len(engine.events))
	}
}

func TestWebhookEnrichesTextTurnsWithNLU(t *testing.T) {
	predictor := &fakePredictor{entities: &models.ParseEntities{Entities: []models.ScoredEntity{
		{Entity: "intent", Value: "greeting", Score: 0.9},
		{Entity: "noise", Value: "x", Score: 0.2},
	}}}
	server, engine, _ := newTestServer(t,
		WithPredictor(predictor),
		WithScorer(nlu.Scorer{Threshold: 0.5}))

	postJSON(t, server.Handler(), "/webhook/web", `{"foreign_id":"fid-1","type":"message","text":"hello"}`)
	if len(engine.events) != 1 {
		t.Fatal("engine received no event")
	}
	nlp := engine.events[0].NLP()
	if nlp == nil || len(nlp.Entities) != 1 || nlp.Entities[0].Value != "greeting" {
		t.Errorf("NLP = %+v, want the scored greeting entity only", nlp)
	}

	// Non-text turns are not enriched.
	postJSON(t, server.Handler(), "/webhook/web", `{"foreign_id":"fid-1","type":"postback","payload":"GO"}`)
	if engine.events[1].NLP() != nil {
		t.Error("postback turns must not carry NLU predictions")
	}
}

func TestWebhookNLUFailureDegrades(t *testing.T) {
	server, engine, _ := newTestServer(t,
		WithPredictor(&fakePredictor{err: errors.New("model down")}))

	rec := postJSON(t, server.Handler(), "/webhook/web", `{"foreign_id":"fid-1","text":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("NLU failure must not fail the turn, status = %d", rec.Code)
	}
	if len(engine.events) != 1 || engine.events[0].NLP() != nil {
		t.Errorf("turn should proceed without NLU, events = %+v", engine.events)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Status != string(models.APIStatusOK) {
		t.Errorf("response = %+v", resp)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	server, engine, _ := newTestServer(t, WithSettings(models.Settings{
		Chatbot: models.ChatbotSettings{GlobalFallback: true},
	}))
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodPut, "/settings",
		strings.NewReader(`{"chatbot":{"global_fallback":false,"fallback_message":["Sorry"]},"nlu":{"penalty_factor":0.9}}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT /settings status = %d", rec.Code)
	}

	got := server.Settings()
	if got.Chatbot.GlobalFallback || got.NLU.PenaltyFactor != 0.9 {
		t.Errorf("settings = %+v", got)
	}

	// The next dispatched turn sees the new snapshot.
	postJSON(t, handler, "/webhook/web", `{"foreign_id":"fid-1","text":"hi"}`)
	if len(engine.settings) != 1 || engine.settings[0].NLU.PenaltyFactor != 0.9 {
		t.Errorf("engine settings = %+v", engine.settings)
	}

	req = httptest.NewRequest(http.MethodGet, "/settings", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if resp := decodeResponse(t, rec); resp.Status != string(models.APIStatusOK) {
		t.Errorf("GET /settings = %+v", resp)
	}
}

func TestBlockCRUDEndpoints(t *testing.T) {
	server, _, st := newTestServer(t)
	handler := server.Handler()

	rec := postJSON(t, handler, "/blocks",
		`{"name":"Welcome","patterns":[{"type":"text","text":"hi"}],"message":{"text":["Hello"]},"starts_conversation":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /blocks status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Result models.Block `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Result.ID == "" {
		t.Fatal("created block should get a generated id")
	}
	id := created.Result.ID

	// Invalid block is rejected.
	if rec := postJSON(t, handler, "/blocks", `{"name":"","message":{}}`); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid block: status = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/blocks/"+id, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /blocks/%s status = %d", id, rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/blocks/missing", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing block: status = %d, want 404", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/blocks/"+id,
		strings.NewReader(`{"name":"Renamed","message":{"text":["Hello"]}}`))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT /blocks/%s status = %d", id, rec.Code)
	}
	stored, _ := st.GetBlock(context.Background(), id)
	if stored == nil || stored.Name != "Renamed" {
		t.Errorf("update not persisted: %+v", stored)
	}

	req = httptest.NewRequest(http.MethodDelete, "/blocks/"+id, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE /blocks/%s status = %d", id, rec.Code)
	}
	if stored, _ := st.GetBlock(context.Background(), id); stored != nil {
		t.Errorf("block not deleted: %+v", stored)
	}
}
