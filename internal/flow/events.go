// Package flow implements the conversation flow engine: it decides which
// block responds to an inbound event, executes it and advances or ends the
// conversation.
package flow

import "log/slog"

// HookKind identifies a fire-and-forget notification emitted by the engine.
type HookKind string

const (
	// HookStatsEntry counts an engine-level statistic (outgoing messages,
	// new/existing conversations, popular blocks).
	HookStatsEntry HookKind = "stats:entry"
	// HookAnalyticsBlock records a block being triggered by a user turn.
	HookAnalyticsBlock HookKind = "analytics:block"
	// HookFallbackLocal records a local fallback repeat of the current block.
	HookFallbackLocal HookKind = "analytics:fallback-local"
	// HookFallbackGlobal records the global fallback firing.
	HookFallbackGlobal HookKind = "analytics:fallback-global"
	// HookMessageSent records a successfully sent outgoing message.
	HookMessageSent HookKind = "chatbot:sent"
	// HookConversationEnd records a conversation ending; Failed tells error
	// terminations apart from normal graph exhaustion.
	HookConversationEnd HookKind = "conversation:end"
)

// HookEvent is one side-channel notification. The engine emits these inline
// with state transitions but never depends on their outcome.
type HookEvent struct {
	Kind           HookKind
	Name           string // stats entry name or block name
	BlockID        string
	ConversationID string
	SubscriberID   string
	Failed         bool // HookConversationEnd only
}

// Emitter consumes hook events. Implementations must not block: the engine
// fires hooks on its own goroutine and drops nothing by itself.
type Emitter interface {
	Emit(event HookEvent)
}

// NopEmitter discards all hook events.
type NopEmitter struct{}

func (NopEmitter) Emit(HookEvent) {}

// ChanEmitter forwards hook events to a buffered channel, dropping events
// when the consumer falls behind rather than blocking the engine.
type ChanEmitter struct {
	ch chan HookEvent
}

// NewChanEmitter creates a ChanEmitter with the given buffer size.
func NewChanEmitter(buffer int) *ChanEmitter {
	return &ChanEmitter{ch: make(chan HookEvent, buffer)}
}

// Events returns the receive side of the emitter.
func (e *ChanEmitter) Events() <-chan HookEvent { return e.ch }

func (e *ChanEmitter) Emit(event HookEvent) {
	select {
	case e.ch <- event:
	default:
		slog.Warn("ChanEmitter dropping hook event, consumer too slow", "kind", event.Kind, "name", event.Name)
	}
}
