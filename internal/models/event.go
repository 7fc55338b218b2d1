// Package models defines incoming event types for ConvoGraph.
package models

// IncomingMessageType classifies an inbound channel event.
type IncomingMessageType string

const (
	// MessageTypeMessage is a plain text message.
	MessageTypeMessage IncomingMessageType = "message"
	// MessageTypePostback is a button press carrying a payload.
	MessageTypePostback IncomingMessageType = "postback"
	// MessageTypeQuickReply is a quick reply selection.
	MessageTypeQuickReply IncomingMessageType = "quick_reply"
	// MessageTypeLocation is a shared location.
	MessageTypeLocation IncomingMessageType = "location"
	// MessageTypeAttachments is one or more media attachments.
	MessageTypeAttachments IncomingMessageType = "attachments"
	// MessageTypeUnknown is an unrecognized event shape.
	MessageTypeUnknown IncomingMessageType = ""
)

// PayloadType identifies structured (non-string) payload kinds.
type PayloadType string

const (
	// PayloadTypeLocation is a location quick reply payload.
	PayloadTypeLocation PayloadType = "location"
	// PayloadTypeAttachments is an attachment postback payload.
	PayloadTypeAttachments PayloadType = "attachments"
)

// ViewMorePayload is the reserved payload value a channel sends to request
// the next page of a list/carousel block.
const ViewMorePayload = "VIEW_MORE"
