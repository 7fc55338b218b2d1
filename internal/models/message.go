// Package models defines message envelope types for ConvoGraph.
package models

import "errors"

// OutgoingMessageFormat identifies the shape of an outgoing envelope.
type OutgoingMessageFormat string

const (
	// FormatText is a plain text message.
	FormatText OutgoingMessageFormat = "text"
	// FormatQuickReplies is a text message with quick reply options.
	FormatQuickReplies OutgoingMessageFormat = "quickReplies"
	// FormatButtons is a text message with buttons.
	FormatButtons OutgoingMessageFormat = "buttons"
	// FormatAttachment is a media attachment message.
	FormatAttachment OutgoingMessageFormat = "attachment"
	// FormatList is a paged vertical list of content elements.
	FormatList OutgoingMessageFormat = "list"
	// FormatCarousel is a paged horizontal carousel of content elements.
	FormatCarousel OutgoingMessageFormat = "carousel"
	// FormatSystem is an internal envelope that drives outcome-based
	// branching and is never sent to the subscriber.
	FormatSystem OutgoingMessageFormat = "system"
)

// QuickReply is a selectable quick reply option.
type QuickReply struct {
	ContentType string `json:"content_type,omitempty"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

// ButtonType discriminates button behaviours.
type ButtonType string

const (
	// ButtonTypePostback posts the button payload back to the engine.
	ButtonTypePostback ButtonType = "postback"
	// ButtonTypeWebURL opens an external URL.
	ButtonTypeWebURL ButtonType = "web_url"
)

// Button is a pressable button attached to a message.
type Button struct {
	Type    ButtonType `json:"type"`
	Title   string     `json:"title"`
	Payload string     `json:"payload,omitempty"`
	URL     string     `json:"url,omitempty"`
}

// AttachmentType identifies the media kind of an attachment.
type AttachmentType string

const (
	AttachmentTypeImage AttachmentType = "image"
	AttachmentTypeVideo AttachmentType = "video"
	AttachmentTypeAudio AttachmentType = "audio"
	AttachmentTypeFile  AttachmentType = "file"
)

// AttachmentPayload references a stored attachment.
type AttachmentPayload struct {
	Type         AttachmentType `json:"type"`
	AttachmentID string         `json:"attachment_id"`
}

// ContentElement is one element of a list/carousel page.
type ContentElement struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Payload  string `json:"payload,omitempty"`
}

// BlockMessage is a tagged union over the message payload a block can carry.
// Exactly one variant is populated; Dispatch selects the envelope format.
type BlockMessage struct {
	// Text holds one or more plain text variants; one is picked at random.
	Text []string `json:"text,omitempty"`
	// QuickReplies extends a single text with quick reply options.
	QuickReplies []QuickReply `json:"quick_replies,omitempty"`
	// Buttons extends a single text with buttons.
	Buttons []Button `json:"buttons,omitempty"`
	// Attachment references stored media.
	Attachment *AttachmentPayload `json:"attachment,omitempty"`
	// Elements marks the message as paged content (list/carousel); the
	// actual elements are fetched through the content provider.
	Elements bool `json:"elements,omitempty"`
	// Plugin names an injected block plugin strategy.
	Plugin string `json:"plugin,omitempty"`
	// Args carries plugin-specific arguments.
	Args map[string]any `json:"args,omitempty"`
}

var errEmptyBlockMessage = errors.New("block message has no content")

// Validate checks that the message carries at least one variant.
func (m *BlockMessage) Validate() error {
	if len(m.Text) == 0 && m.Attachment == nil && !m.Elements && m.Plugin == "" {
		return errEmptyBlockMessage
	}
	return nil
}

// StdOutgoingMessage is the channel-agnostic content of an envelope.
type StdOutgoingMessage struct {
	Text         string             `json:"text,omitempty"`
	QuickReplies []QuickReply       `json:"quick_replies,omitempty"`
	Buttons      []Button           `json:"buttons,omitempty"`
	Attachment   *AttachmentPayload `json:"attachment,omitempty"`
	Elements     []ContentElement   `json:"elements,omitempty"`
	Pagination   *Pagination        `json:"pagination,omitempty"`
	Outcome      string             `json:"outcome,omitempty"` // FormatSystem only
}

// Pagination describes the window of a paged list/carousel envelope.
type Pagination struct {
	Total int `json:"total"`
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
}

// StdOutgoingEnvelope is the finalized, channel-agnostic outgoing payload
// produced for a block. Channel handlers translate it into wire messages.
type StdOutgoingEnvelope struct {
	Format  OutgoingMessageFormat `json:"format"`
	Message StdOutgoingMessage    `json:"message"`
}

// SendResponse is returned by channel handlers after a successful send.
type SendResponse struct {
	MID string `json:"mid,omitempty"`
}
