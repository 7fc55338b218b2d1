// Package nlu turns free text into scored entity predictions for trigger
// matching. A Predictor produces raw guesses with model confidences; the
// Scorer rescales them with per-entity weights and drops anything under the
// confidence threshold before the matcher sees them.
package nlu

import (
	"context"

	"github.com/convograph/convograph/internal/models"
)

// Predictor extracts entity guesses from a single message text.
type Predictor interface {
	ParseText(ctx context.Context, text string) (*models.ParseEntities, error)
}

// DefaultThreshold is the minimum confidence a raw guess needs to survive
// scoring when no threshold is configured.
const DefaultThreshold = 0.5

// Scorer converts raw predictions into the scored entities the matcher
// consumes. Weights are keyed by entity name; missing entries count as 1.
type Scorer struct {
	Threshold float64
	Weights   map[string]float64
}

// ComputePredictionScore filters out guesses below the threshold and sets
// each survivor's score to confidence times the entity's weight.
func (s Scorer) ComputePredictionScore(raw *models.ParseEntities) *models.ParseEntities {
	if raw == nil {
		return nil
	}
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	scored := &models.ParseEntities{}
	for _, guess := range raw.Entities {
		if guess.Score < threshold {
			continue
		}
		weight := 1.0
		if w, ok := s.Weights[guess.Entity]; ok && w > 0 {
			weight = w
		}
		guess.Score *= weight
		scored.Entities = append(scored.Entities, guess)
	}
	return scored
}
