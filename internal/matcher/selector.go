// Package matcher: candidate selection over a set of blocks.
package matcher

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/convograph/convograph/internal/channel"
	"github.com/convograph/convograph/internal/models"
)

// Select narrows a list of candidate blocks to the single best match for the
// given event, or nil when nothing matches.
//
// Candidates are first filtered by channel and label eligibility, then
// sorted by descending trigger label count: blocks targeting specific labels
// outrank generic ones, and this order is the tie-break for every later
// step. Matching dimensions are consulted in fixed priority: payload, then
// text, then NLU. When a payload or text dimension produces more than one
// match and allowMultiple is false, Select declares ambiguity and returns
// nil — an ambiguous match is worse than none, it forces the caller into
// fallback. NLU candidates are scored; the winner needs a strictly highest
// positive score, ties keep the first (most specific) candidate.
func Select(blocks []*models.Block, event channel.Event, penaltyFactor float64, allowMultiple bool) *models.Block {
	if len(blocks) == 0 {
		return nil
	}

	candidates := filterEligible(blocks, event)
	if len(candidates) == 0 {
		return nil
	}

	// Stable sort keeps declaration order as the secondary key, which makes
	// the NLU tie-break deterministic.
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].TriggerLabels) > len(candidates[j].TriggerLabels)
	})

	if payload := eventPayload(event); payload.Value != "" || payload.Type != "" {
		return pickSingle(candidates, allowMultiple, func(b *models.Block) bool {
			return MatchPayload(payload, b) != nil
		})
	}

	if text := strings.TrimSpace(event.Text()); text != "" {
		return pickSingle(candidates, allowMultiple, func(b *models.Block) bool {
			return MatchText(event.Text(), b) != nil
		})
	}

	if nlp := event.NLP(); nlp != nil && len(nlp.Entities) > 0 {
		return pickBestNLU(candidates, nlp, penaltyFactor)
	}

	// Neither payload, text nor NLU apply.
	return nil
}

func filterEligible(blocks []*models.Block, event channel.Event) []*models.Block {
	ch := event.ChannelName()
	var labels []string
	if sender := event.Sender(); sender != nil {
		labels = sender.Labels
	}

	eligible := make([]*models.Block, 0, len(blocks))
	for _, b := range blocks {
		if !b.SupportsChannel(ch) {
			continue
		}
		if !labelsEligible(b, labels) {
			continue
		}
		eligible = append(eligible, b)
	}
	return eligible
}

// labelsEligible passes blocks with no trigger labels, subscribers with no
// labels at all, and otherwise requires a non-empty intersection.
func labelsEligible(b *models.Block, subscriberLabels []string) bool {
	if len(b.TriggerLabels) == 0 || len(subscriberLabels) == 0 {
		return true
	}
	for _, tl := range b.TriggerLabels {
		for _, sl := range subscriberLabels {
			if tl == sl {
				return true
			}
		}
	}
	return false
}

func eventPayload(event channel.Event) Payload {
	return Payload{Value: event.Payload(), Type: event.PayloadType()}
}

func pickSingle(candidates []*models.Block, allowMultiple bool, matches func(*models.Block) bool) *models.Block {
	var matched []*models.Block
	for _, b := range candidates {
		if matches(b) {
			matched = append(matched, b)
			if allowMultiple {
				// First (most specific) match wins, no ambiguity check.
				break
			}
			if len(matched) > 1 {
				break
			}
		}
	}
	if len(matched) == 0 {
		return nil
	}
	if len(matched) > 1 && !allowMultiple {
		slog.Debug("Selector ambiguous match, forcing fallback", "first", matched[0].ID, "second", matched[1].ID)
		return nil
	}
	return matched[0]
}

func pickBestNLU(candidates []*models.Block, nlp *models.ParseEntities, penaltyFactor float64) *models.Block {
	var winner *models.Block
	var best float64
	for _, b := range candidates {
		score := MatchNLU(nlp, b, penaltyFactor)
		if score > best {
			best = score
			winner = b
		}
	}
	if winner == nil {
		return nil
	}
	slog.Debug("Selector NLU winner", "block", winner.ID, "score", best)
	return winner
}
