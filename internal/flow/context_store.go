// Package flow: conversation context capture.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/convograph/convograph/internal/channel"
	"github.com/convograph/convograph/internal/models"
)

// StoreContextData merges the current turn into the conversation context and
// persists it. The transient fields (channel, text, payload, nlp) are
// overwritten every turn. When captureVars is set and the next block
// declares capture vars, values are resolved with this precedence: a scored
// NLU entity matching the selector, then the whole-message sentinel, then
// the postback-payload sentinel. Only truthy resolved values are written, so
// a failed turn never erases a previously captured value. Captured vars
// whose declaration is permanent are additionally merged into the
// subscriber's durable context.
//
// Persistence errors are logged and rethrown; the caller treats them as a
// hard stop for the turn.
func (c *Controller) StoreContextData(ctx context.Context, convo *models.Conversation, next *models.Block, event channel.Event, captureVars bool) (*models.Conversation, error) {
	msgType := event.MessageType()

	convo.Context.Channel = event.ChannelName()
	convo.Context.Text = event.Text()
	convo.Context.Payload = event.Payload()
	convo.Context.NLP = event.NLP()
	if convo.Context.Vars == nil {
		convo.Context.Vars = map[string]any{}
	}

	var captured []models.CaptureVar
	if captureVars && len(next.CaptureVars) > 0 {
		captured = c.captureVars(convo, next, event, msgType)
	}

	// Refresh the embedded user snapshot from the live profile.
	if profile := event.Sender(); profile != nil {
		convo.Context.User.ID = profile.ID
		convo.Context.User.FirstName = profile.FirstName
		convo.Context.User.LastName = profile.LastName
		if profile.Language != "" {
			convo.Context.User.Language = profile.Language
		}
	}

	if msgType == models.MessageTypeLocation {
		lat, lon := event.Coordinates()
		convo.Context.UserLocation = &models.UserLocation{Lat: lat, Lon: lon}
	}

	// Pagination bookkeeping for paged content blocks: the view-more payload
	// advances the offset by one page, anything else resets it.
	if opts := next.Options.Content; opts != nil &&
		(opts.Display == models.FormatList || opts.Display == models.FormatCarousel) {
		if convo.Context.Skip == nil {
			convo.Context.Skip = map[string]int{}
		}
		if event.Payload() == models.ViewMorePayload {
			convo.Context.Skip[next.ID] += opts.Limit
		} else {
			convo.Context.Skip[next.ID] = 0
		}
	}

	if err := c.store.UpdateConversation(ctx, convo); err != nil {
		slog.Error("ContextStore unable to persist conversation context", "conversation", convo.ID, "error", err)
		return nil, fmt.Errorf("failed to store context for conversation %s: %w", convo.ID, err)
	}

	if len(captured) > 0 {
		if err := c.persistPermanentVars(ctx, convo, event, captured); err != nil {
			return nil, err
		}
	}

	return convo, nil
}

// captureVars resolves each declared capture var against the current turn
// and returns the capture declarations that actually produced a value.
func (c *Controller) captureVars(convo *models.Conversation, next *models.Block, event channel.Event, msgType models.IncomingMessageType) []models.CaptureVar {
	var captured []models.CaptureVar
	nlp := event.NLP()

	for _, capture := range next.CaptureVars {
		var value string

		if entity := nlp.Find(capture.Entity); entity != nil {
			value = entity.Value
		} else if capture.Entity == models.CaptureWholeMessage {
			if msgType == models.MessageTypeMessage || msgType == models.MessageTypeQuickReply {
				value = event.Text()
			} else {
				value = event.Payload()
			}
		} else if capture.Entity == models.CapturePostbackPayload {
			value = event.Payload()
		}

		value = strings.TrimSpace(value)
		if value == "" {
			// Never overwrite a previously captured value with nothing.
			continue
		}
		convo.Context.Vars[capture.ContextVar] = value
		captured = append(captured, capture)
		slog.Debug("ContextStore captured var", "conversation", convo.ID, "var", capture.ContextVar)
	}
	return captured
}

// persistPermanentVars merges captured vars whose declaration is permanent
// into the subscriber's durable context and refreshes the in-memory sender
// snapshot used by the caller.
func (c *Controller) persistPermanentVars(ctx context.Context, convo *models.Conversation, event channel.Event, captured []models.CaptureVar) error {
	profile := event.Sender()
	if profile == nil {
		return nil
	}

	changed := false
	for _, capture := range captured {
		decl, err := c.store.GetContextVarByName(ctx, capture.ContextVar)
		if err != nil {
			slog.Error("ContextStore unable to load context var declaration", "var", capture.ContextVar, "error", err)
			return fmt.Errorf("failed to load context var %s: %w", capture.ContextVar, err)
		}
		if decl == nil || !decl.Permanent {
			continue
		}
		if profile.Context.Vars == nil {
			profile.Context.Vars = map[string]any{}
		}
		profile.Context.Vars[capture.ContextVar] = convo.Context.Vars[capture.ContextVar]
		changed = true
	}
	if !changed {
		return nil
	}

	if err := c.store.UpdateSubscriber(ctx, profile); err != nil {
		slog.Error("ContextStore unable to persist subscriber context", "subscriber", profile.ID, "error", err)
		return fmt.Errorf("failed to store subscriber context for %s: %w", profile.ID, err)
	}
	event.SetSender(profile)
	return nil
}
