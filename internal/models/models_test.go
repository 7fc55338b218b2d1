package models

import (
	"errors"
	"testing"
)

func TestParsePattern(t *testing.T) {
	tests := []struct {
		in       string
		wantType PatternType
		want     string
	}{
		{"Hello", PatternTypeText, "Hello"},
		{"/wel.*ome/", PatternTypeRegex, "wel.*ome"},
		{"/a/", PatternTypeRegex, "a"},
		{"/", PatternTypeText, "/"},
		{"not/a/regex", PatternTypeText, "not/a/regex"},
		{"", PatternTypeText, ""},
	}
	for _, tt := range tests {
		p := ParsePattern(tt.in)
		if p.Type != tt.wantType {
			t.Errorf("ParsePattern(%q).Type = %s, want %s", tt.in, p.Type, tt.wantType)
			continue
		}
		got := p.Text
		if p.Type == PatternTypeRegex {
			got = p.Regex
		}
		if got != tt.want {
			t.Errorf("ParsePattern(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBlockValidate(t *testing.T) {
	valid := Block{ID: "b1", Name: "B", Message: BlockMessage{Text: []string{"hi"}}}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid block rejected: %v", err)
	}

	noID := valid
	noID.ID = ""
	if err := noID.Validate(); !errors.Is(err, ErrEmptyBlockID) {
		t.Errorf("missing id: got %v, want ErrEmptyBlockID", err)
	}

	noName := valid
	noName.Name = ""
	if err := noName.Validate(); !errors.Is(err, ErrEmptyBlockName) {
		t.Errorf("missing name: got %v, want ErrEmptyBlockName", err)
	}

	empty := Block{ID: "b1", Name: "B"}
	if err := empty.Validate(); err == nil {
		t.Error("empty message should be rejected")
	}
}

func TestBlockMessageValidate(t *testing.T) {
	tests := []struct {
		name string
		msg  BlockMessage
		ok   bool
	}{
		{"text", BlockMessage{Text: []string{"hi"}}, true},
		{"attachment", BlockMessage{Attachment: &AttachmentPayload{Type: AttachmentTypeImage, AttachmentID: "a1"}}, true},
		{"elements", BlockMessage{Elements: true}, true},
		{"plugin", BlockMessage{Plugin: "p"}, true},
		{"empty", BlockMessage{}, false},
		{"quick replies alone", BlockMessage{QuickReplies: []QuickReply{{Title: "Yes"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSupportsChannel(t *testing.T) {
	open := Block{}
	if !open.SupportsChannel("whatsapp") {
		t.Error("empty trigger channels should accept any channel")
	}

	restricted := Block{TriggerChannels: []string{"whatsapp", "twilio"}}
	if !restricted.SupportsChannel("twilio") {
		t.Error("listed channel should be accepted")
	}
	if restricted.SupportsChannel("web") {
		t.Error("unlisted channel should be rejected")
	}
}

func TestSettingsPenaltyFactor(t *testing.T) {
	tests := []struct {
		name   string
		factor float64
		want   float64
	}{
		{"unset", 0, DefaultNLUPenaltyFactor},
		{"configured", 0.8, 0.8},
		{"one", 1, 1},
		{"negative", -0.5, DefaultNLUPenaltyFactor},
		{"above one", 1.5, DefaultNLUPenaltyFactor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Settings{NLU: NLUSettings{PenaltyFactor: tt.factor}}
			if got := s.PenaltyFactor(); got != tt.want {
				t.Errorf("PenaltyFactor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseEntitiesFind(t *testing.T) {
	p := &ParseEntities{Entities: []ScoredEntity{
		{Entity: "intent", Value: "greeting", Score: 0.9},
		{Entity: "intent", Value: "farewell", Score: 0.4},
	}}
	if got := p.Find("intent"); got == nil || got.Value != "greeting" {
		t.Errorf("Find should return the first match, got %+v", got)
	}
	if p.Find("missing") != nil {
		t.Error("missing entity should return nil")
	}
	var nilEntities *ParseEntities
	if nilEntities.Find("intent") != nil {
		t.Error("nil receiver should return nil")
	}
}

func TestSubscriberHasLabel(t *testing.T) {
	s := &Subscriber{Labels: []string{"vip"}}
	if !s.HasLabel("vip") || s.HasLabel("basic") {
		t.Errorf("HasLabel mismatch for %v", s.Labels)
	}
}
