// Package models defines conversation state structures for ConvoGraph.
package models

import "time"

// UserSnapshot is the per-turn snapshot of the subscriber embedded in the
// conversation context. It is refreshed on every turn.
type UserSnapshot struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Language  string `json:"language,omitempty"`
}

// UserLocation is the subscriber's last known position.
type UserLocation struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Context is the ephemeral, conversation-scoped state. The transient fields
// (Channel, Text, Payload, NLP) are overwritten on every turn and never
// accumulate.
type Context struct {
	Channel      string         `json:"channel,omitempty"`
	Text         string         `json:"text,omitempty"`
	Payload      string         `json:"payload,omitempty"`
	NLP          *ParseEntities `json:"nlp,omitempty"`
	Vars         map[string]any `json:"vars"`
	User         UserSnapshot   `json:"user"`
	UserLocation *UserLocation  `json:"user_location,omitempty"`
	Skip         map[string]int `json:"skip"`    // block id -> pagination offset
	Attempt      int            `json:"attempt"` // consecutive local-fallback counter
}

// DefaultContext returns a fresh conversation context.
func DefaultContext() Context {
	return Context{
		Vars: map[string]any{},
		Skip: map[string]int{},
	}
}

// SubscriberContext is the durable, subscriber-scoped variable store. Its
// vars are a strict subset of Context.Vars, populated only from permanent
// context vars, and outlive any single conversation.
type SubscriberContext struct {
	Vars map[string]any `json:"vars"`
}

// Conversation is one active dialogue per subscriber. At most one active
// conversation per subscriber is assumed, never enforced transactionally.
type Conversation struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"` // subscriber id
	Active    bool      `json:"active"`
	Current   *Block    `json:"current,omitempty"` // last triggered block
	Next      []string  `json:"next,omitempty"`    // block ids eligible next turn
	Context   Context   `json:"context"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscriber is a chat end user.
type Subscriber struct {
	ID         string            `json:"id"`
	ForeignID  string            `json:"foreign_id"` // channel-specific id (phone, psid, ...)
	FirstName  string            `json:"first_name"`
	LastName   string            `json:"last_name"`
	Language   string            `json:"language,omitempty"`
	Labels     []string          `json:"labels,omitempty"`
	AssignedTo string            `json:"assigned_to,omitempty"`
	Channel    string            `json:"channel,omitempty"`
	Context    SubscriberContext `json:"context"`
}

// HasLabel reports whether the subscriber holds the given label.
func (s *Subscriber) HasLabel(label string) bool {
	for _, l := range s.Labels {
		if l == label {
			return true
		}
	}
	return false
}
