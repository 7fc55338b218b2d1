// Package api: webhook and health handlers.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/convograph/convograph/internal/channel"
	"github.com/convograph/convograph/internal/channel/twilio"
	"github.com/convograph/convograph/internal/models"
)

// webhookEvent is the generic JSON webhook body. Channels with their own
// wire format (Twilio form posts) are translated before reaching it.
type webhookEvent struct {
	ForeignID   string                     `json:"foreign_id"`
	Type        models.IncomingMessageType `json:"type"`
	Text        string                     `json:"text,omitempty"`
	Payload     string                     `json:"payload,omitempty"`
	PayloadType models.PayloadType         `json:"payload_type,omitempty"`
	Lat         float64                    `json:"lat,omitempty"`
	Lon         float64                    `json:"lon,omitempty"`
	FirstName   string                     `json:"first_name,omitempty"`
	LastName    string                     `json:"last_name,omitempty"`
	Language    string                     `json:"language,omitempty"`
}

func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	channelName := r.PathValue("channel")
	slog.Debug("Server.webhookHandler: processing webhook", "channel", channelName)

	event, ok := s.decodeEvent(w, r, channelName)
	if !ok {
		return
	}

	if err := s.DispatchEvent(r.Context(), event); err != nil {
		slog.Error("Server.webhookHandler: message handling failed", "channel", channelName, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to handle message"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// DispatchEvent resolves the event's subscriber, enriches text turns with
// NLU predictions and hands the event to the flow engine. Channels that
// bypass HTTP (the WhatsApp listener) feed their events through here too.
func (s *Server) DispatchEvent(ctx context.Context, event *channel.GenericEvent) error {
	if err := s.resolveSubscriber(ctx, event); err != nil {
		slog.Error("Server.DispatchEvent: subscriber resolution failed", "channel", event.Channel, "error", err)
		return err
	}
	s.enrichWithNLU(ctx, event)
	return s.engine.HandleMessageEvent(ctx, event, s.Settings())
}

// decodeEvent parses the request into a channel event. A false return means
// the response was already written.
func (s *Server) decodeEvent(w http.ResponseWriter, r *http.Request, channelName string) (*channel.GenericEvent, bool) {
	if channelName == twilio.ChannelName &&
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			slog.Warn("Server.webhookHandler: failed to parse Twilio form", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form body"))
			return nil, false
		}
		event := twilio.ParseWebhookForm(r.PostForm)
		if event == nil {
			// Unusable but well-formed; acknowledge so Twilio stops retrying.
			writeJSONResponse(w, http.StatusOK, models.Success(nil))
			return nil, false
		}
		return event, true
	}

	var body webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		slog.Warn("Server.webhookHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return nil, false
	}
	if body.ForeignID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: foreign_id"))
		return nil, false
	}
	if body.Type == models.MessageTypeUnknown {
		body.Type = models.MessageTypeMessage
	}

	return &channel.GenericEvent{
		Channel:  channelName,
		Type:     body.Type,
		RawText:  body.Text,
		RawLoad:  body.Payload,
		LoadType: body.PayloadType,
		Lat:      body.Lat,
		Lon:      body.Lon,
		Profile: &models.Subscriber{
			Channel:   channelName,
			ForeignID: body.ForeignID,
			FirstName: body.FirstName,
			LastName:  body.LastName,
			Language:  body.Language,
		},
	}, true
}

// resolveSubscriber swaps the event's provisional sender profile for the
// stored subscriber, creating one on first contact.
func (s *Server) resolveSubscriber(ctx context.Context, event *channel.GenericEvent) error {
	provisional := event.Profile

	existing, err := s.store.GetSubscriberByForeignID(ctx, event.Channel, provisional.ForeignID)
	if err != nil {
		return err
	}
	if existing != nil {
		event.SetSender(existing)
		return nil
	}

	provisional.ID = uuid.NewString()
	if err := s.store.CreateSubscriber(ctx, provisional); err != nil {
		return err
	}
	slog.Info("Server.DispatchEvent: new subscriber created", "subscriber", provisional.ID, "channel", event.Channel)
	return nil
}

// enrichWithNLU attaches scored entity predictions to plain text turns.
// Prediction failures degrade to no NLU rather than failing the turn.
func (s *Server) enrichWithNLU(ctx context.Context, event *channel.GenericEvent) {
	if s.predictor == nil || event.Type != models.MessageTypeMessage || event.RawText == "" {
		return
	}
	raw, err := s.predictor.ParseText(ctx, event.RawText)
	if err != nil {
		slog.Warn("Server.DispatchEvent: NLU prediction failed", "error", err)
		return
	}
	event.Entities = s.scorer.ComputePredictionScore(raw)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "convograph"}))
}
