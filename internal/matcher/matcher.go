// Package matcher implements the pattern matching that decides which block
// responds to an incoming event. All functions here are pure: one block (or
// a set of candidates) against one event dimension, no I/O.
package matcher

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/convograph/convograph/internal/models"
)

// Payload is the payload view of an incoming event: either a plain string
// (postback/quick-reply value) or a structured payload identified by type.
type Payload struct {
	Value string
	Type  models.PayloadType
}

// MatchPayload scans the block's payload patterns in declaration order and
// returns the first one matching the given payload, or nil. A string payload
// matches on equality with the pattern value or on a "value:extra" prefix; a
// structured payload matches a pattern with the same type.
func MatchPayload(payload Payload, block *models.Block) *models.PayloadPattern {
	for i := range block.Patterns {
		p := block.Patterns[i]
		if p.Type != models.PatternTypePayload || p.Payload == nil {
			continue
		}
		pt := p.Payload
		if payload.Type != "" && pt.Type == payload.Type {
			return pt
		}
		if payload.Value != "" && pt.Value != "" &&
			(pt.Value == payload.Value || strings.HasPrefix(payload.Value, pt.Value+":")) {
			return pt
		}
	}
	return nil
}

// MatchText tests the incoming text against the block's text and regex
// patterns in declaration order. Regex patterns are evaluated case
// insensitively and return their capture groups, with the global match
// dropped when the expression defines extra groups. Literal patterns match
// on case-insensitive equality with the trimmed text. The first match wins;
// empty text or no patterns yields nil.
func MatchText(text string, block *models.Block) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	for _, p := range block.Patterns {
		switch p.Type {
		case models.PatternTypeRegex:
			re, err := regexp.Compile("(?i)" + p.Regex)
			if err != nil {
				slog.Warn("Matcher MatchText invalid regex pattern", "pattern", p.Regex, "block", block.ID, "error", err)
				continue
			}
			matches := re.FindStringSubmatch(text)
			if matches == nil {
				continue
			}
			if len(matches) >= 2 {
				// Drop the global match, keep capture groups only.
				matches = matches[1:]
			}
			return matches
		case models.PatternTypeText:
			if strings.EqualFold(trimmed, p.Text) {
				return []string{text}
			}
		case models.PatternTypePayload:
			// Quick reply labels also match on their title text.
			if p.Payload != nil && p.Payload.Label != "" && strings.EqualFold(trimmed, p.Payload.Label) {
				return []string{text}
			}
		}
	}
	return nil
}

// MatchNLU scores the block against the turn's scored entities. Each NLU
// pattern is a list of AND-combined constraints; a list contributes only if
// every constraint matches. A value constraint requires entity presence and
// value (or canonical value) equality and scores the full entity score; an
// entity constraint requires presence only and is discounted by
// penaltyFactor. The block score is the maximum over its fully matching
// pattern lists, zero when nothing matches.
func MatchNLU(nlp *models.ParseEntities, block *models.Block, penaltyFactor float64) float64 {
	if nlp == nil || len(nlp.Entities) == 0 {
		return 0
	}
	var best float64
	for _, p := range block.Patterns {
		if p.Type != models.PatternTypeNLU || len(p.NLU) == 0 {
			continue
		}
		score, ok := scoreConstraintList(nlp, p.NLU, penaltyFactor)
		if ok && score > best {
			best = score
		}
	}
	return best
}

func scoreConstraintList(nlp *models.ParseEntities, constraints []models.NLUConstraint, penaltyFactor float64) (float64, bool) {
	var total float64
	for _, c := range constraints {
		matched := false
		for _, e := range nlp.Entities {
			if e.Entity != c.Entity {
				continue
			}
			switch c.Match {
			case models.NLUMatchValue:
				if e.Value == c.Value || (e.CanonicalValue != "" && e.CanonicalValue == c.Value) {
					total += e.Score
					matched = true
				}
			case models.NLUMatchEntity:
				total += e.Score * penaltyFactor
				matched = true
			default:
				slog.Warn("Matcher MatchNLU unknown match type", "match", c.Match, "entity", c.Entity)
			}
			if matched {
				break
			}
		}
		if !matched {
			return 0, false
		}
	}
	return total, true
}

// OutcomeAny is the wildcard outcome pattern that matches any outcome.
const OutcomeAny = "any"

// MatchOutcome selects the first block whose patterns contain an outcome
// pattern equal to the given outcome or the wildcard "any". Used to branch
// after system-format responses instead of user input.
func MatchOutcome(blocks []*models.Block, outcome string) *models.Block {
	for _, b := range blocks {
		for _, p := range b.Patterns {
			if p.Type != models.PatternTypeOutcome {
				continue
			}
			if p.Outcome == outcome || p.Outcome == OutcomeAny {
				return b
			}
		}
	}
	return nil
}
