// Package flow: the conversation state machine.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convograph/convograph/internal/channel"
	"github.com/convograph/convograph/internal/matcher"
	"github.com/convograph/convograph/internal/models"
	"github.com/convograph/convograph/internal/store"
)

// Stats entry names emitted through the hook side-channel.
const (
	StatsOutgoing              = "outgoing"
	StatsAllMessages           = "all_messages"
	StatsNewConversations      = "new_conversations"
	StatsExistingConversations = "existing_conversations"
	StatsPopular               = "popular"
)

// Opts holds controller configuration.
type Opts struct {
	Emitter Emitter
	Content ContentProvider
}

// Option defines a configuration option for the controller.
type Option func(*Opts)

// WithEmitter routes hook events to the given emitter.
func WithEmitter(e Emitter) Option {
	return func(o *Opts) { o.Emitter = e }
}

// WithContentProvider configures the source of paged list/carousel content.
func WithContentProvider(p ContentProvider) Option {
	return func(o *Opts) { o.Content = p }
}

// Controller drives conversations: it starts them when an entry block
// matches a fresh message, advances them turn by turn, repeats the current
// block on local fallback and ends them on graph exhaustion or error.
//
// Every turn is serialized per subscriber; apart from that, turns are
// independent and share state only through the store.
type Controller struct {
	store    store.Store
	emitter  Emitter
	renderer *renderer

	hmu      sync.RWMutex
	handlers map[string]channel.Handler

	locks *subscriberLocks
}

// NewController creates a flow controller over the given store.
func NewController(st store.Store, opts ...Option) *Controller {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Emitter == nil {
		cfg.Emitter = NopEmitter{}
	}
	slog.Debug("Creating flow Controller", "content_provider_set", cfg.Content != nil)
	return &Controller{
		store:    st,
		emitter:  cfg.Emitter,
		renderer: &renderer{content: cfg.Content},
		handlers: make(map[string]channel.Handler),
		locks:    newSubscriberLocks(),
	}
}

// RegisterHandler makes a channel handler available for outbound sends.
func (c *Controller) RegisterHandler(h channel.Handler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[h.Name()] = h
	slog.Debug("Controller channel handler registered", "channel", h.Name())
}

func (c *Controller) handler(name string) (channel.Handler, error) {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	h, ok := c.handlers[name]
	if !ok {
		return nil, fmt.Errorf("no channel handler registered for %q", name)
	}
	return h, nil
}

// HandleMessageEvent processes one inbound channel event against the given
// settings snapshot. All errors except a context-store persistence failure
// on a conversation's very first turn are recovered here: the conversation
// is ended, nothing is sent, and the webhook call itself succeeds.
func (c *Controller) HandleMessageEvent(ctx context.Context, event channel.Event, settings models.Settings) error {
	sender := event.Sender()
	if sender == nil {
		return errors.New("event carries no sender profile")
	}

	unlock := c.locks.Lock(sender.ID)
	defer unlock()

	captured, err := c.processConversationMessage(ctx, event, settings)
	if err != nil {
		slog.Debug("Controller ongoing conversation turn failed", "subscriber", sender.ID, "error", err)
		return nil
	}
	if captured {
		return nil
	}

	// No active conversation handled the message: search for entry blocks.
	blocks, err := c.store.FindEntryBlocks(ctx)
	if err != nil {
		slog.Error("Controller unable to retrieve entry blocks", "error", err)
		return nil
	}
	if len(blocks) == 0 {
		slog.Debug("Controller no entry blocks defined")
		return nil
	}

	block := matcher.Select(blocks, event, settings.PenaltyFactor(), true)
	if block == nil {
		slog.Debug("Controller no entry block matched", "subscriber", sender.ID)
		return c.globalFallback(ctx, event, settings)
	}

	return c.startConversation(ctx, event, block, settings)
}

// processConversationMessage routes the event into the subscriber's active
// conversation, if any. It reports whether the message was captured by an
// ongoing conversation; errors mean the conversation was ended on a failure.
func (c *Controller) processConversationMessage(ctx context.Context, event channel.Event, settings models.Settings) (bool, error) {
	sender := event.Sender()
	convo, err := c.store.GetActiveConversation(ctx, sender.ID)
	if err != nil {
		slog.Error("Controller conversation lookup failed", "subscriber", sender.ID, "error", err)
		return false, err
	}
	if convo == nil {
		slog.Debug("Controller no active conversation", "subscriber", sender.ID)
		return false, nil
	}

	c.emitter.Emit(HookEvent{Kind: HookStatsEntry, Name: StatsExistingConversations, SubscriberID: sender.ID})
	return c.handleOngoingTurn(ctx, convo, event, settings)
}

// handleOngoingTurn matches the event against the conversation's next
// blocks, attempting a local fallback repeat of the current block when
// nothing matches.
func (c *Controller) handleOngoingTurn(ctx context.Context, convo *models.Conversation, event channel.Event, settings models.Settings) (bool, error) {
	// Reload next blocks fully populated.
	nextBlocks, err := c.store.GetBlocks(ctx, convo.Next)
	if err != nil {
		slog.Error("Controller unable to populate next blocks", "conversation", convo.ID, "error", err)
		c.endConversation(ctx, convo, true)
		return true, err
	}

	matched := matcher.Select(nextBlocks, event, settings.PenaltyFactor(), false)

	fallback := false
	var next *models.Block
	switch {
	case matched != nil:
		convo.Context.Attempt = 0
		next = matched
	case c.shouldAttemptLocalFallback(convo, event):
		// Attempts are compared before incrementing, so max_attempts = N
		// permits exactly N fallback repeats.
		convo.Context.Attempt++
		fallback = true
		next = synthesizeFallbackBlock(convo)
	}

	if next == nil {
		// The message was consumed by the conversation even though nothing
		// responds to it; it is not retried against entry blocks.
		slog.Debug("Controller no matching next block, ending conversation", "conversation", convo.ID)
		c.endConversation(ctx, convo, false)
		return true, nil
	}

	c.emitter.Emit(HookEvent{Kind: HookStatsEntry, Name: StatsPopular, BlockID: next.ID, ConversationID: convo.ID})

	// Local fallback turns never capture vars, so a previously captured
	// value is not replaced by a failed attempt.
	updated, err := c.StoreContextData(ctx, convo, next, event, !fallback)
	if err != nil {
		slog.Error("Controller unable to store context data", "conversation", convo.ID, "error", err)
		c.endConversation(ctx, convo, true)
		return true, err
	}

	return true, c.triggerBlock(ctx, updated, event, next, fallback, settings)
}

// shouldAttemptLocalFallback reports whether the current block's fallback
// should repeat instead of ending the conversation: its fallback option is
// active, the turn is a plain text or quick reply message, and the attempt
// budget is not exhausted.
func (c *Controller) shouldAttemptLocalFallback(convo *models.Conversation, event channel.Event) bool {
	current := convo.Current
	if current == nil || current.Options.Fallback == nil || !current.Options.Fallback.Active {
		return false
	}
	msgType := event.MessageType()
	if msgType != models.MessageTypeMessage && msgType != models.MessageTypeQuickReply {
		return false
	}
	return convo.Context.Attempt < current.Options.Fallback.MaxAttempts
}

// synthesizeFallbackBlock derives a pseudo-block from the conversation's
// current block for a fallback repeat: labels and the attached block are
// stripped (labels were already assigned on the first pass) and the next
// blocks are pinned to the conversation's current expectations.
func synthesizeFallbackBlock(convo *models.Conversation) *models.Block {
	fb := *convo.Current
	fb.NextBlocks = append([]string(nil), convo.Next...)
	fb.AssignLabels = nil
	fb.TriggerLabels = nil
	fb.AttachedBlock = ""
	return &fb
}

// startConversation launches a new conversation on the matched entry block.
func (c *Controller) startConversation(ctx context.Context, event channel.Event, block *models.Block, settings models.Settings) error {
	sender := event.Sender()
	c.emitter.Emit(HookEvent{Kind: HookStatsEntry, Name: StatsPopular, BlockID: block.ID, SubscriberID: sender.ID})

	convo := &models.Conversation{
		ID:        uuid.NewString(),
		Sender:    sender.ID,
		Active:    true,
		Context:   models.DefaultContext(),
		CreatedAt: time.Now(),
	}
	if err := c.store.CreateConversation(ctx, convo); err != nil {
		slog.Error("Controller unable to create conversation", "subscriber", sender.ID, "error", err)
		return nil
	}
	c.emitter.Emit(HookEvent{Kind: HookStatsEntry, Name: StatsNewConversations, SubscriberID: sender.ID, ConversationID: convo.ID})

	updated, err := c.StoreContextData(ctx, convo, block, event, true)
	if err != nil {
		slog.Error("Controller unable to store context data on first turn", "conversation", convo.ID, "error", err)
		c.endConversation(ctx, convo, true)
		// The one error allowed to reach the webhook caller.
		return err
	}

	slog.Debug("Controller started conversation", "conversation", convo.ID, "subscriber", sender.ID, "block", block.ID)
	return c.triggerBlock(ctx, updated, event, block, false, settings)
}

// triggerBlock sends the block's rendered message and chains through
// attached and next blocks. System-format envelopes are never sent; their
// outcome selects the next block instead of user input. Any failure ends
// the conversation with no retry.
func (c *Controller) triggerBlock(ctx context.Context, convo *models.Conversation, event channel.Event, block *models.Block, fallback bool, settings models.Settings) error {
	envelope, err := c.renderer.ProcessMessage(ctx, block, convo.Context, senderContext(event), fallback, convo.ID)
	if err != nil {
		slog.Error("Controller unable to process block message", "conversation", convo.ID, "block", block.ID, "error", err)
		c.endConversation(ctx, convo, true)
		return nil
	}

	if envelope.Format != models.FormatSystem {
		if err := c.sendToSubscriber(ctx, event, block, envelope, convo, fallback); err != nil {
			slog.Error("Controller unable to send message", "conversation", convo.ID, "block", block.ID, "error", err)
			c.endConversation(ctx, convo, true)
			return nil
		}
	}

	switch {
	case block.AttachedBlock != "":
		// Sequential multi-message delivery.
		attached, err := c.store.GetBlock(ctx, block.AttachedBlock)
		if err == nil && attached == nil {
			err = fmt.Errorf("%w: attached block %s", models.ErrBlockNotFound, block.AttachedBlock)
		}
		if err != nil {
			slog.Error("Controller unable to retrieve attached block", "conversation", convo.ID, "attached", block.AttachedBlock, "error", err)
			c.endConversation(ctx, convo, true)
			return nil
		}
		return c.triggerBlock(ctx, convo, event, attached, fallback, settings)

	case len(block.NextBlocks) > 0:
		if envelope.Format == models.FormatSystem {
			return c.branchOnOutcome(ctx, convo, event, block, envelope.Message.Outcome, settings)
		}
		// Conversation continues: await the subscriber's next turn.
		slog.Debug("Controller conversation continues", "conversation", convo.ID, "current", block.ID)
		convo.Current = block
		convo.Next = append([]string(nil), block.NextBlocks...)
		if err := c.store.UpdateConversation(ctx, convo); err != nil {
			slog.Error("Controller unable to advance conversation", "conversation", convo.ID, "error", err)
		}
		return nil

	default:
		slog.Debug("Controller no attached/next blocks, ending conversation", "conversation", convo.ID)
		c.endConversation(ctx, convo, false)
		return nil
	}
}

// branchOnOutcome resolves the successor of a system-format block by
// matching its outcome against the next blocks' outcome patterns.
func (c *Controller) branchOnOutcome(ctx context.Context, convo *models.Conversation, event channel.Event, block *models.Block, outcome string, settings models.Settings) error {
	nextBlocks, err := c.store.GetBlocks(ctx, block.NextBlocks)
	if err != nil {
		slog.Error("Controller unable to populate outcome blocks", "conversation", convo.ID, "error", err)
		c.endConversation(ctx, convo, true)
		return nil
	}
	next := matcher.MatchOutcome(nextBlocks, outcome)
	if next == nil {
		slog.Debug("Controller no block matched outcome", "conversation", convo.ID, "outcome", outcome)
		c.endConversation(ctx, convo, false)
		return nil
	}
	return c.triggerBlock(ctx, convo, event, next, false, settings)
}

// sendToSubscriber delivers the envelope over the event's channel and
// applies the block's subscriber updates (labels, handover).
func (c *Controller) sendToSubscriber(ctx context.Context, event channel.Event, block *models.Block, envelope models.StdOutgoingEnvelope, convo *models.Conversation, fallback bool) error {
	h, err := c.handler(event.ChannelName())
	if err != nil {
		return err
	}

	resp, err := h.SendMessage(ctx, event, envelope, block.Options, convo.Context)
	if err != nil {
		return fmt.Errorf("failed to send block %s: %w", block.ID, err)
	}

	c.emitter.Emit(HookEvent{Kind: HookStatsEntry, Name: StatsOutgoing, ConversationID: convo.ID})
	c.emitter.Emit(HookEvent{Kind: HookStatsEntry, Name: StatsAllMessages, ConversationID: convo.ID})
	c.emitter.Emit(HookEvent{Kind: HookMessageSent, Name: resp.MID, BlockID: block.ID, ConversationID: convo.ID, SubscriberID: convo.Sender})
	if fallback {
		c.emitter.Emit(HookEvent{Kind: HookFallbackLocal, BlockID: block.ID, ConversationID: convo.ID})
	} else {
		c.emitter.Emit(HookEvent{Kind: HookAnalyticsBlock, BlockID: block.ID, ConversationID: convo.ID})
	}

	return c.applySubscriberUpdates(ctx, event, block)
}

// applySubscriberUpdates assigns the block's labels to the subscriber (set
// union) and applies the human handoff target, if any.
func (c *Controller) applySubscriberUpdates(ctx context.Context, event channel.Event, block *models.Block) error {
	if len(block.AssignLabels) == 0 && block.Options.AssignTo == "" {
		return nil
	}
	profile := event.Sender()
	if profile == nil {
		return nil
	}

	for _, label := range block.AssignLabels {
		if !profile.HasLabel(label) {
			profile.Labels = append(profile.Labels, label)
		}
	}
	if block.Options.AssignTo != "" {
		profile.AssignedTo = block.Options.AssignTo
	}

	if err := c.store.UpdateSubscriber(ctx, profile); err != nil {
		return fmt.Errorf("failed to apply subscriber updates for %s: %w", profile.ID, err)
	}
	event.SetSender(profile)
	slog.Debug("Controller applied subscriber updates", "subscriber", profile.ID, "labels", block.AssignLabels, "assign_to", block.Options.AssignTo)
	return nil
}

// globalFallback reacts to a fresh message that matched no entry block.
// When enabled, it starts a conversation on the configured fallback block,
// or sends the configured fallback message as a throwaway block without
// creating a conversation.
func (c *Controller) globalFallback(ctx context.Context, event channel.Event, settings models.Settings) error {
	if !settings.Chatbot.GlobalFallback {
		return nil
	}
	c.emitter.Emit(HookEvent{Kind: HookFallbackGlobal, SubscriberID: event.Sender().ID})
	slog.Debug("Controller sending global fallback", "subscriber", event.Sender().ID)

	if settings.Chatbot.FallbackBlockID != "" {
		block, err := c.store.GetBlock(ctx, settings.Chatbot.FallbackBlockID)
		if err == nil && block == nil {
			err = fmt.Errorf("%w: global fallback block %s", models.ErrBlockNotFound, settings.Chatbot.FallbackBlockID)
		}
		if err == nil {
			return c.startConversation(ctx, event, block, settings)
		}
		slog.Warn("Controller unable to retrieve global fallback block, sending plain message", "error", err)
	}

	message := settings.Chatbot.FallbackMessage
	if len(message) == 0 {
		slog.Debug("Controller global fallback enabled but no message configured")
		return nil
	}

	throwaway := &models.Block{
		ID:      "global-fallback",
		Name:    "Global Fallback",
		Message: models.BlockMessage{Text: message},
		Builtin: true,
	}
	envelope, err := c.renderer.ProcessMessage(ctx, throwaway, models.DefaultContext(), senderContext(event), false, "")
	if err != nil {
		slog.Error("Controller unable to render global fallback", "error", err)
		return nil
	}
	h, err := c.handler(event.ChannelName())
	if err != nil {
		slog.Error("Controller unable to send global fallback", "error", err)
		return nil
	}
	if _, err := h.SendMessage(ctx, event, envelope, throwaway.Options, models.DefaultContext()); err != nil {
		slog.Error("Controller unable to send global fallback", "error", err)
	}
	return nil
}

// endConversation marks the conversation inactive and emits the end hook.
// It is best-effort: a failing store update is logged, not propagated.
func (c *Controller) endConversation(ctx context.Context, convo *models.Conversation, failed bool) {
	if err := c.store.EndConversation(ctx, convo.ID); err != nil {
		slog.Error("Controller unable to end conversation", "conversation", convo.ID, "error", err)
	}
	convo.Active = false
	c.emitter.Emit(HookEvent{Kind: HookConversationEnd, ConversationID: convo.ID, SubscriberID: convo.Sender, Failed: failed})
	slog.Debug("Controller conversation ended", "conversation", convo.ID, "failed", failed)
}

func senderContext(event channel.Event) models.SubscriberContext {
	if profile := event.Sender(); profile != nil {
		return profile.Context
	}
	return models.SubscriberContext{}
}
