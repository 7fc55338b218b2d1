// Package whatsapp wraps the Whatsmeow client as a ConvoGraph channel
// handler.
//
// Outgoing envelopes are flattened to plain text; incoming WhatsApp
// messages are translated into channel events with the sender's phone
// number as foreign id.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/convograph/convograph/internal/channel"
	"github.com/convograph/convograph/internal/models"
	"github.com/convograph/convograph/internal/store"
)

const (
	// ChannelName is the identifier used in block trigger_channels.
	ChannelName = "whatsapp"
	// DefaultSQLitePath is the default whatsmeow session database path.
	DefaultSQLitePath = "/var/lib/convograph/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users.
	JIDSuffix = "s.whatsapp.net"
)

// Opts holds configuration options for the WhatsApp handler, covering the
// whatsmeow session database and login behaviour.
type Opts struct {
	DBDSN       string
	QRPath      string
	NumericCode bool
}

// Option defines a configuration option for the WhatsApp handler.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow session database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) { o.DBDSN = dsn }
}

// WithQRCodeOutput writes the login QR code to the given path instead of
// stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) { o.QRPath = path }
}

// WithNumericCode prints a numeric login code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) { o.NumericCode = true }
}

// Handler is the WhatsApp channel handler.
type Handler struct {
	waClient *whatsmeow.Client
}

// NewHandler connects a whatsmeow client, running the QR/numeric login flow
// when no session exists yet.
func NewHandler(opts ...Option) (*Handler, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewHandler options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}

	var dbDriver string
	if store.DetectDSNType(dbDSN) == "postgres" {
		dbDriver = "postgres"
	} else {
		dbDriver = "sqlite3"
		// whatsmeow strongly recommends foreign keys on SQLite sessions.
		if !strings.Contains(dbDSN, "foreign_keys") {
			slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled",
				"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
		}
	}

	ctx := context.Background()
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		slog.Error("WhatsApp failed to initialize session store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("WhatsApp failed to get device from session store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))

	if waClient.Store.ID == nil {
		slog.Info("WhatsApp login required; starting QR code flow")
		qrChan, _ := waClient.GetQRChannel(context.Background())
		if err := waClient.Connect(); err != nil {
			slog.Error("WhatsApp failed to connect during login", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
		}
		writer := io.Writer(os.Stdout)
		if cfg.QRPath != "" {
			f, ferr := os.Create(cfg.QRPath)
			if ferr != nil {
				return nil, fmt.Errorf("failed to create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				if cfg.NumericCode {
					fmt.Fprintln(writer, evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
				}
			} else {
				slog.Debug("WhatsApp login event", "event", evt.Event)
			}
		}
	} else {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := waClient.Connect(); err != nil {
			slog.Error("WhatsApp failed to connect to server", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}

	slog.Info("WhatsApp handler connected")
	return &Handler{waClient: waClient}, nil
}

// Name returns the channel identifier.
func (h *Handler) Name() string { return ChannelName }

// SendMessage delivers the envelope as a plain WhatsApp text message to the
// event sender's phone number.
func (h *Handler) SendMessage(ctx context.Context, event channel.Event, envelope models.StdOutgoingEnvelope, options models.BlockOptions, convoCtx models.Context) (models.SendResponse, error) {
	if h.waClient == nil {
		return models.SendResponse{}, fmt.Errorf("whatsapp client not initialized")
	}
	profile := event.Sender()
	if profile == nil || profile.ForeignID == "" {
		return models.SendResponse{}, fmt.Errorf("event sender has no phone number")
	}

	body := channel.FormatEnvelope(envelope)
	if body == "" {
		return models.SendResponse{}, fmt.Errorf("message body cannot be empty")
	}

	to := strings.TrimPrefix(profile.ForeignID, "+")
	jid := types.NewJID(to, JIDSuffix)
	msg := &waE2E.Message{Conversation: &body}

	resp, err := h.waClient.SendMessage(ctx, jid, msg)
	if err != nil {
		slog.Error("WhatsApp failed to send message", "to", to, "error", err)
		return models.SendResponse{}, fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	slog.Debug("WhatsApp message sent", "to", to, "mid", resp.ID)
	return models.SendResponse{MID: resp.ID}, nil
}

// Listen registers a whatsmeow event handler translating incoming messages
// into channel events. The callback receives an event whose sender profile
// carries only channel and foreign id; the webhook layer resolves it into a
// stored subscriber.
func (h *Handler) Listen(onEvent func(*channel.GenericEvent)) {
	h.waClient.AddEventHandler(func(raw any) {
		msg, ok := raw.(*events.Message)
		if !ok {
			return
		}
		evt := translateMessage(msg)
		if evt == nil {
			return
		}
		onEvent(evt)
	})
	slog.Debug("WhatsApp event handler registered")
}

// translateMessage maps a whatsmeow message event onto a channel event, or
// nil for shapes the engine does not consume.
func translateMessage(msg *events.Message) *channel.GenericEvent {
	if msg.Message == nil {
		return nil
	}

	number := msg.Info.Sender.User
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	profile := &models.Subscriber{Channel: ChannelName, ForeignID: number}

	if loc := msg.Message.GetLocationMessage(); loc != nil {
		return &channel.GenericEvent{
			Channel: ChannelName,
			Type:    models.MessageTypeLocation,
			Lat:     loc.GetDegreesLatitude(),
			Lon:     loc.GetDegreesLongitude(),
			Profile: profile,
		}
	}

	var text string
	switch {
	case msg.Message.Conversation != nil:
		text = msg.Message.GetConversation()
	case msg.Message.ExtendedTextMessage != nil:
		text = msg.Message.ExtendedTextMessage.GetText()
	default:
		slog.Debug("WhatsApp ignoring non-text message", "from", msg.Info.Sender.String())
		return nil
	}

	return &channel.GenericEvent{
		Channel: ChannelName,
		Type:    models.MessageTypeMessage,
		RawText: text,
		Profile: profile,
	}
}
