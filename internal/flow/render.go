// Package flow: block message rendering into channel-agnostic envelopes.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/convograph/convograph/internal/models"
)

// ContentProvider feeds paged list/carousel blocks with content elements.
type ContentProvider interface {
	// GetContent returns one page of elements for the given options plus the
	// total number of available elements.
	GetContent(ctx context.Context, options models.ContentOptions, skip int) ([]models.ContentElement, int, error)
}

// pickRandom returns a random element of a non-empty slice.
func pickRandom(variants []string) string {
	if len(variants) == 1 {
		return variants[0]
	}
	return variants[rand.IntN(len(variants))]
}

// processText replaces context tokens in a text message.
//
//	"Your phone number is {context.vars.phone}"
//
// becomes the captured value. Supported tokens: {context.vars.X},
// {context.user.first_name|last_name|id|language} and
// {context.user_location.lat|lon}.
func processText(text string, convoCtx models.Context, subCtx models.SubscriberContext) string {
	vars := map[string]any{}
	for k, v := range subCtx.Vars {
		vars[k] = v
	}
	for k, v := range convoCtx.Vars {
		vars[k] = v
	}
	for key, value := range vars {
		str, ok := value.(string)
		if !ok {
			str = fmt.Sprintf("%v", value)
		}
		// "TITLE:PAYLOAD" captures keep the payload part only.
		if idx := strings.Index(str, ":"); idx != -1 {
			str = str[idx+1:]
		}
		text = strings.ReplaceAll(text, "{context.vars."+key+"}", str)
	}

	if loc := convoCtx.UserLocation; loc != nil {
		text = strings.ReplaceAll(text, "{context.user_location.lat}", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
		text = strings.ReplaceAll(text, "{context.user_location.lon}", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
	}

	user := convoCtx.User
	text = strings.ReplaceAll(text, "{context.user.id}", user.ID)
	text = strings.ReplaceAll(text, "{context.user.first_name}", user.FirstName)
	text = strings.ReplaceAll(text, "{context.user.last_name}", user.LastName)
	text = strings.ReplaceAll(text, "{context.user.language}", user.Language)
	return text
}

// renderer builds outgoing envelopes from block messages.
type renderer struct {
	content ContentProvider
}

// ProcessMessage renders the block's message (or its local fallback message
// when fallback is set) into an envelope, dispatching on the message
// variant. Unsupported shapes yield ErrInvalidMessageFormat.
func (r *renderer) ProcessMessage(ctx context.Context, block *models.Block, convoCtx models.Context, subCtx models.SubscriberContext, fallback bool, conversationID string) (models.StdOutgoingEnvelope, error) {
	msg := block.Message
	if fallback && block.Options.Fallback != nil && len(block.Options.Fallback.Message) > 0 {
		msg = models.BlockMessage{Text: block.Options.Fallback.Message}
	}

	switch {
	case len(msg.Text) > 0 && len(msg.QuickReplies) > 0:
		return models.StdOutgoingEnvelope{
			Format: models.FormatQuickReplies,
			Message: models.StdOutgoingMessage{
				Text:         processText(pickRandom(msg.Text), convoCtx, subCtx),
				QuickReplies: renderQuickReplies(msg.QuickReplies, convoCtx, subCtx),
			},
		}, nil

	case len(msg.Text) > 0 && len(msg.Buttons) > 0:
		return models.StdOutgoingEnvelope{
			Format: models.FormatButtons,
			Message: models.StdOutgoingMessage{
				Text:    processText(pickRandom(msg.Text), convoCtx, subCtx),
				Buttons: renderButtons(msg.Buttons, convoCtx, subCtx),
			},
		}, nil

	case len(msg.Text) > 0:
		return models.StdOutgoingEnvelope{
			Format:  models.FormatText,
			Message: models.StdOutgoingMessage{Text: processText(pickRandom(msg.Text), convoCtx, subCtx)},
		}, nil

	case msg.Attachment != nil:
		return models.StdOutgoingEnvelope{
			Format: models.FormatAttachment,
			Message: models.StdOutgoingMessage{
				Attachment:   msg.Attachment,
				QuickReplies: msg.QuickReplies,
			},
		}, nil

	case msg.Elements:
		return r.renderContent(ctx, block, convoCtx)

	case msg.Plugin != "":
		return processPlugin(ctx, msg.Plugin, block, convoCtx, conversationID)

	default:
		slog.Error("Renderer unsupported block message shape", "block", block.ID)
		return models.StdOutgoingEnvelope{}, models.ErrInvalidMessageFormat
	}
}

func (r *renderer) renderContent(ctx context.Context, block *models.Block, convoCtx models.Context) (models.StdOutgoingEnvelope, error) {
	options := block.Options.Content
	if options == nil {
		return models.StdOutgoingEnvelope{}, models.ErrInvalidMessageFormat
	}
	if r.content == nil {
		return models.StdOutgoingEnvelope{}, fmt.Errorf("no content provider configured for block %s", block.ID)
	}

	skip := 0
	if options.Display == models.FormatList || options.Display == models.FormatCarousel {
		skip = convoCtx.Skip[block.ID]
	}

	elements, total, err := r.content.GetContent(ctx, *options, skip)
	if err != nil {
		slog.Error("Renderer unable to retrieve content for paged block", "block", block.ID, "error", err)
		return models.StdOutgoingEnvelope{}, err
	}

	return models.StdOutgoingEnvelope{
		Format: options.Display,
		Message: models.StdOutgoingMessage{
			Elements:   elements,
			Pagination: &models.Pagination{Total: total, Skip: skip, Limit: options.Limit},
		},
	}, nil
}

func renderQuickReplies(qrs []models.QuickReply, convoCtx models.Context, subCtx models.SubscriberContext) []models.QuickReply {
	out := make([]models.QuickReply, len(qrs))
	for i, qr := range qrs {
		if qr.Title != "" {
			qr.Title = processText(qr.Title, convoCtx, subCtx)
		}
		out[i] = qr
	}
	return out
}

func renderButtons(buttons []models.Button, convoCtx models.Context, subCtx models.SubscriberContext) []models.Button {
	out := make([]models.Button, len(buttons))
	for i, btn := range buttons {
		if btn.Title != "" {
			btn.Title = processText(btn.Title, convoCtx, subCtx)
		}
		out[i] = btn
	}
	return out
}
