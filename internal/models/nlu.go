// Package models defines NLU result types consumed by the matcher.
package models

// ScoredEntity is one entity guess produced by the NLU scorer.
type ScoredEntity struct {
	Entity         string  `json:"entity"`
	Value          string  `json:"value"`
	CanonicalValue string  `json:"canonical_value,omitempty"`
	Score          float64 `json:"score"`
}

// ParseEntities is the scored output of an NLU prediction for one turn.
type ParseEntities struct {
	Entities []ScoredEntity `json:"entities"`
}

// Find returns the first entity with the given name, or nil.
func (p *ParseEntities) Find(entity string) *ScoredEntity {
	if p == nil {
		return nil
	}
	for i := range p.Entities {
		if p.Entities[i].Entity == entity {
			return &p.Entities[i]
		}
	}
	return nil
}
