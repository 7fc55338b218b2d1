// Package models defines the core data structures for ConvoGraph.
//
// It includes the block graph types, conversation state, subscriber profiles
// and the NLU/envelope types shared across modules.
package models

import (
	"errors"
	"strings"
)

// PatternType discriminates the kinds of trigger patterns a block may carry.
type PatternType string

const (
	// PatternTypeText matches the message text on case-insensitive equality.
	PatternTypeText PatternType = "text"
	// PatternTypeRegex matches the message text against a regular expression.
	PatternTypeRegex PatternType = "regex"
	// PatternTypePayload matches a postback/quick-reply payload.
	PatternTypePayload PatternType = "payload"
	// PatternTypeNLU matches a list of AND-combined NLU entity constraints.
	PatternTypeNLU PatternType = "nlp"
	// PatternTypeOutcome matches a symbolic outcome produced by system blocks.
	PatternTypeOutcome PatternType = "outcome"
)

// NLUMatchType selects how a single NLU constraint is evaluated.
type NLUMatchType string

const (
	// NLUMatchEntity requires the entity to be present, whatever its value.
	NLUMatchEntity NLUMatchType = "entity"
	// NLUMatchValue requires the entity to be present with a specific value.
	NLUMatchValue NLUMatchType = "value"
)

// NLUConstraint is one element of an AND-combined NLU pattern list.
type NLUConstraint struct {
	Entity string       `json:"entity"`
	Match  NLUMatchType `json:"match"`
	Value  string       `json:"value,omitempty"`
}

// PayloadPattern matches either a literal payload value (with an optional
// "value:extra" prefix form) or a structured payload by type (e.g. location).
type PayloadPattern struct {
	Label string      `json:"label"`
	Value string      `json:"value,omitempty"`
	Type  PayloadType `json:"type,omitempty"`
}

// Pattern is a tagged union over the trigger pattern variants. Exactly one of
// the variant fields is set, as indicated by Type.
type Pattern struct {
	Type    PatternType     `json:"type"`
	Text    string          `json:"text,omitempty"`    // PatternTypeText: literal, case-insensitive
	Regex   string          `json:"regex,omitempty"`   // PatternTypeRegex: expression without the /…/ wrapping
	Payload *PayloadPattern `json:"payload,omitempty"` // PatternTypePayload
	NLU     []NLUConstraint `json:"nlp,omitempty"`     // PatternTypeNLU: AND-combined constraints
	Outcome string          `json:"outcome,omitempty"` // PatternTypeOutcome: literal outcome or "any"
}

// ParsePattern builds a Pattern from its string form. Strings wrapped in
// slashes ("/wel.*ome/") denote regular expressions, anything else is a
// literal text pattern.
func ParsePattern(s string) Pattern {
	if len(s) > 1 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/") {
		return Pattern{Type: PatternTypeRegex, Regex: s[1 : len(s)-1]}
	}
	return Pattern{Type: PatternTypeText, Text: s}
}

// CaptureVar binds an entity selector to a named context variable.
// Entity holds either an NLU entity name, or one of the reserved selectors
// CaptureWholeMessage / CapturePostbackPayload.
type CaptureVar struct {
	Entity     string `json:"entity"`
	ContextVar string `json:"context_var"`
}

// Reserved capture entity selectors.
const (
	// CaptureWholeMessage captures the raw text for message/quick-reply turns,
	// the raw payload otherwise.
	CaptureWholeMessage = "-1"
	// CapturePostbackPayload captures the raw postback payload.
	CapturePostbackPayload = "-2"
)

// FallbackOptions configure a block's local fallback behaviour.
type FallbackOptions struct {
	Active      bool     `json:"active"`
	MaxAttempts int      `json:"max_attempts"`
	Message     []string `json:"message,omitempty"`
}

// ContentOptions configure a paged list/carousel block.
type ContentOptions struct {
	Display OutgoingMessageFormat `json:"display"`
	Limit   int                   `json:"limit"`
	Query   string                `json:"query,omitempty"` // source query passed to the content provider
	Entity  string                `json:"entity,omitempty"`
}

// BlockOptions carries optional per-block behaviour.
type BlockOptions struct {
	Fallback *FallbackOptions `json:"fallback,omitempty"`
	Content  *ContentOptions  `json:"content,omitempty"`
	AssignTo string           `json:"assign_to,omitempty"` // human handoff target
}

// Block is a node in the conversation flow graph.
//
// The graph is directed and may contain cycles; the engine never validates
// acyclicity. Cycles are bounded only by fallback attempt limits or external
// termination, which legitimate loop constructs (repeated prompts) rely on.
type Block struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Patterns           []Pattern    `json:"patterns,omitempty"`
	TriggerChannels    []string     `json:"trigger_channels,omitempty"` // empty = all channels
	TriggerLabels      []string     `json:"trigger_labels,omitempty"`   // empty = all subscribers
	AssignLabels       []string     `json:"assign_labels,omitempty"`
	Message            BlockMessage `json:"message"`
	Options            BlockOptions `json:"options"`
	NextBlocks         []string     `json:"next_blocks,omitempty"`
	AttachedBlock      string       `json:"attached_block,omitempty"`
	CaptureVars        []CaptureVar `json:"capture_vars,omitempty"`
	StartsConversation bool         `json:"starts_conversation"`
	Builtin            bool         `json:"builtin,omitempty"`
}

// Error variables for block validation and flow processing.
var (
	ErrInvalidMessageFormat = errors.New("invalid message format")
	ErrBlockNotFound        = errors.New("block not found")
	ErrNoFallbackBlock      = errors.New("no global fallback block is defined")
	ErrUnknownPlugin        = errors.New("unknown plugin")
	ErrEmptyBlockID         = errors.New("block id cannot be empty")
	ErrEmptyBlockName       = errors.New("block name cannot be empty")
)

// Validate performs basic structural validation on a Block.
func (b *Block) Validate() error {
	if b.ID == "" {
		return ErrEmptyBlockID
	}
	if b.Name == "" {
		return ErrEmptyBlockName
	}
	return b.Message.Validate()
}

// SupportsChannel reports whether the block may be triggered from the given
// channel. An empty TriggerChannels list means all channels are accepted.
func (b *Block) SupportsChannel(channel string) bool {
	if len(b.TriggerChannels) == 0 {
		return true
	}
	for _, c := range b.TriggerChannels {
		if c == channel {
			return true
		}
	}
	return false
}

// ContextVar declares a capturable variable. Permanent vars are persisted on
// the subscriber and outlive any single conversation; ephemeral vars live
// only on the conversation context.
type ContextVar struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Permanent bool   `json:"permanent"`
}
