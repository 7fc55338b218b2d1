// Package twilio wraps the Twilio WhatsApp API as a ConvoGraph channel
// handler.
package twilio

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/convograph/convograph/internal/channel"
	"github.com/convograph/convograph/internal/models"
)

// ChannelName is the identifier used in block trigger_channels.
const ChannelName = "twilio"

// messageCreator is the slice of the Twilio REST API the handler uses,
// extracted so tests can substitute a fake.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds configuration options for the Twilio handler.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio handler.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID, overriding TWILIO_ACCOUNT_SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token, overriding TWILIO_AUTH_TOKEN.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the sending WhatsApp number, overriding
// TWILIO_FROM_NUMBER.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Handler is the Twilio WhatsApp channel handler.
type Handler struct {
	api       messageCreator
	fromWhats string // "whatsapp:+1234567890" format
}

// NewHandler creates a Twilio-backed handler. Credentials fall back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER environment
// variables.
func NewHandler(opts ...Option) (*Handler, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio handler config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("from number must be provided")
	}
	if !strings.HasPrefix(cfg.FromWhats, "whatsapp:") {
		cfg.FromWhats = "whatsapp:" + cfg.FromWhats
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &Handler{api: client.Api, fromWhats: cfg.FromWhats}, nil
}

// Name returns the channel identifier.
func (h *Handler) Name() string { return ChannelName }

// SendMessage delivers the envelope as a Twilio WhatsApp text message to the
// event sender's phone number.
func (h *Handler) SendMessage(ctx context.Context, event channel.Event, envelope models.StdOutgoingEnvelope, options models.BlockOptions, convoCtx models.Context) (models.SendResponse, error) {
	profile := event.Sender()
	if profile == nil || profile.ForeignID == "" {
		return models.SendResponse{}, fmt.Errorf("event sender has no phone number")
	}

	body := channel.FormatEnvelope(envelope)
	if body == "" {
		return models.SendResponse{}, fmt.Errorf("message body cannot be empty")
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + profile.ForeignID)
	params.SetFrom(h.fromWhats)
	params.SetBody(body)

	resp, err := h.api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", profile.ForeignID, "error", err)
		return models.SendResponse{}, fmt.Errorf("failed to send message to %s: %w", profile.ForeignID, err)
	}

	var mid string
	if resp != nil && resp.Sid != nil {
		mid = *resp.Sid
	}
	slog.Debug("Twilio message sent", "to", profile.ForeignID, "mid", mid)
	return models.SendResponse{MID: mid}, nil
}

// ParseWebhookForm translates a Twilio inbound-message webhook form into a
// channel event. The sender profile carries only channel and foreign id; the
// webhook layer resolves it into a stored subscriber. Unusable shapes yield
// nil.
func ParseWebhookForm(form url.Values) *channel.GenericEvent {
	from := strings.TrimPrefix(form.Get("From"), "whatsapp:")
	if from == "" {
		return nil
	}
	profile := &models.Subscriber{Channel: ChannelName, ForeignID: from}

	if latStr, lonStr := form.Get("Latitude"), form.Get("Longitude"); latStr != "" && lonStr != "" {
		lat, latErr := strconv.ParseFloat(latStr, 64)
		lon, lonErr := strconv.ParseFloat(lonStr, 64)
		if latErr == nil && lonErr == nil {
			return &channel.GenericEvent{
				Channel: ChannelName,
				Type:    models.MessageTypeLocation,
				Lat:     lat,
				Lon:     lon,
				Profile: profile,
			}
		}
	}

	// Interactive button replies carry ButtonPayload alongside Body.
	if payload := form.Get("ButtonPayload"); payload != "" {
		return &channel.GenericEvent{
			Channel: ChannelName,
			Type:    models.MessageTypeQuickReply,
			RawText: form.Get("ButtonText"),
			RawLoad: payload,
			Profile: profile,
		}
	}

	body := form.Get("Body")
	if body == "" {
		return nil
	}
	return &channel.GenericEvent{
		Channel: ChannelName,
		Type:    models.MessageTypeMessage,
		RawText: body,
		Profile: profile,
	}
}
