// Package models defines the configuration snapshot passed to the engine.
package models

// DefaultNLUPenaltyFactor is applied to entity-presence matches when no
// penalty factor is configured.
const DefaultNLUPenaltyFactor = 0.95

// ChatbotSettings configure global fallback behaviour.
type ChatbotSettings struct {
	// GlobalFallback enables the system-wide default response when no entry
	// block matches a fresh message.
	GlobalFallback bool `json:"global_fallback"`
	// FallbackBlockID optionally designates a block to start a conversation
	// on when global fallback fires. When empty, FallbackMessage is sent as
	// a throwaway reply without creating a conversation.
	FallbackBlockID string `json:"fallback_block,omitempty"`
	// FallbackMessage holds the text variants of the synthesized fallback.
	FallbackMessage []string `json:"fallback_message,omitempty"`
}

// NLUSettings configure NLU-based matching.
type NLUSettings struct {
	// PenaltyFactor in (0,1] discounts entity-presence matches relative to
	// exact value matches. Zero means "unset" and falls back to the default.
	PenaltyFactor float64 `json:"penalty_factor,omitempty"`
}

// Settings is an explicit configuration snapshot handed to the flow
// controller per event; the engine never reads mutable global state.
type Settings struct {
	Chatbot ChatbotSettings `json:"chatbot"`
	NLU     NLUSettings     `json:"nlu"`
}

// PenaltyFactor returns the configured penalty factor, or the hard-coded
// default when unset or out of range.
func (s Settings) PenaltyFactor() float64 {
	if s.NLU.PenaltyFactor > 0 && s.NLU.PenaltyFactor <= 1 {
		return s.NLU.PenaltyFactor
	}
	return DefaultNLUPenaltyFactor
}
