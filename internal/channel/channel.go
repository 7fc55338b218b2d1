// Package channel defines the contracts between the flow engine and the
// channel adapters that physically receive and send messages.
package channel

import (
	"context"

	"github.com/convograph/convograph/internal/models"
)

// Event is one inbound subscriber turn as surfaced by a channel adapter.
type Event interface {
	// ChannelName identifies the originating channel handler.
	ChannelName() string
	// MessageType classifies the event shape.
	MessageType() models.IncomingMessageType
	// Text returns the raw message text ("" when not a text turn).
	Text() string
	// Payload returns the string payload of a postback/quick-reply turn.
	Payload() string
	// PayloadType returns the structured payload kind, if any.
	PayloadType() models.PayloadType
	// NLP returns the pre-scored NLU entities for this turn, or nil.
	NLP() *models.ParseEntities
	// Coordinates returns lat/lon for location turns.
	Coordinates() (lat, lon float64)
	// Sender returns the subscriber profile attached to the event.
	Sender() *models.Subscriber
	// SetSender replaces the attached subscriber profile.
	SetSender(s *models.Subscriber)
}

// Handler sends rendered envelopes over a concrete channel. Send failures
// propagate as errors; the flow controller ends the conversation on any of
// them and never retries.
type Handler interface {
	// Name returns the channel identifier used in trigger_channels.
	Name() string
	// SendMessage delivers an envelope to the event's sender.
	SendMessage(ctx context.Context, event Event, envelope models.StdOutgoingEnvelope, options models.BlockOptions, convoCtx models.Context) (models.SendResponse, error)
}

// GenericEvent is a plain Event implementation used by the webhook API and
// tests. Channel adapters decode their wire formats into it.
type GenericEvent struct {
	Channel  string
	Type     models.IncomingMessageType
	RawText  string
	RawLoad  string
	LoadType models.PayloadType
	Entities *models.ParseEntities
	Lat, Lon float64
	Profile  *models.Subscriber
}

func (e *GenericEvent) ChannelName() string                     { return e.Channel }
func (e *GenericEvent) MessageType() models.IncomingMessageType { return e.Type }
func (e *GenericEvent) Text() string                            { return e.RawText }
func (e *GenericEvent) Payload() string                         { return e.RawLoad }
func (e *GenericEvent) PayloadType() models.PayloadType         { return e.LoadType }
func (e *GenericEvent) NLP() *models.ParseEntities              { return e.Entities }
func (e *GenericEvent) Coordinates() (float64, float64)         { return e.Lat, e.Lon }
func (e *GenericEvent) Sender() *models.Subscriber              { return e.Profile }
func (e *GenericEvent) SetSender(s *models.Subscriber)          { e.Profile = s }
