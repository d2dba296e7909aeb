// Package scoring computes profile confidence from conversation state.
// Scores are a derived projection: recomputed from scratch every turn, never
// stored as the source of truth. Given the same messages and facts the
// scorer always returns the same numbers.
package scoring

import (
	"math"

	"github.com/skinsense/skinsense/store"
)

// Component weights. Coverage and depth dominate: a profile is trustworthy
// when the user talked enough and across enough topics.
const (
	weightDepth       = 0.3
	weightDetail      = 0.2
	weightCoverage    = 0.3
	weightConsistency = 0.2
)

// Saturation points. Beyond these, more of the same stops raising the score.
const (
	depthSaturationTurns = 12  // user messages
	detailSaturationLen  = 80  // mean characters per user message
	factsPerTopicTarget  = 3.0 // facts needed for full topic confidence
)

// Topic keys reported in ConfidenceScores.Topics.
const (
	TopicSkinType  = "skin-type"
	TopicConcerns  = "concerns"
	TopicRoutine   = "routine"
	TopicLifestyle = "lifestyle"
)

var topicCategories = map[string][]store.FactCategory{
	TopicSkinType:  {store.FactSkinType},
	TopicConcerns:  {store.FactConcern, store.FactPattern},
	TopicRoutine:   {store.FactRoutine},
	TopicLifestyle: {store.FactLifestyle, store.FactPreference},
}

// allCategories is the denominator for coverage.
var allCategories = []store.FactCategory{
	store.FactSkinType,
	store.FactConcern,
	store.FactPattern,
	store.FactRoutine,
	store.FactLifestyle,
	store.FactPreference,
}

// Scorer turns messages and facts into confidence scores.
type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

// Score computes the overall and per-topic confidence. Adding facts without
// removing any never lowers any score.
func (s *Scorer) Score(msgs []store.Message, facts []store.Fact) store.ConfidenceScores {
	lengths := userLengths(msgs)

	overall := weightDepth*depthScore(len(lengths)) +
		weightDetail*detailScore(lengths) +
		weightCoverage*coverageScore(facts) +
		weightConsistency*consistencyScore(lengths)

	topics := make(map[string]float64, len(topicCategories))
	for topic, cats := range topicCategories {
		topics[topic] = topicScore(facts, cats)
	}

	return store.ConfidenceScores{
		Overall: clamp01(overall),
		Topics:  topics,
	}
}

func userLengths(msgs []store.Message) []float64 {
	lengths := make([]float64, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == store.RoleUser {
			lengths = append(lengths, float64(len([]rune(m.Content))))
		}
	}
	return lengths
}

// depthScore saturates at depthSaturationTurns user messages.
func depthScore(userTurns int) float64 {
	return clamp01(float64(userTurns) / depthSaturationTurns)
}

// detailScore saturates when user messages average detailSaturationLen chars.
func detailScore(lengths []float64) float64 {
	if len(lengths) == 0 {
		return 0
	}
	return clamp01(mean(lengths) / detailSaturationLen)
}

// coverageScore is the fraction of fact categories with at least one fact.
func coverageScore(facts []store.Fact) float64 {
	covered := make(map[store.FactCategory]bool, len(allCategories))
	for _, f := range facts {
		covered[f.Category] = true
	}
	n := 0
	for _, cat := range allCategories {
		if covered[cat] {
			n++
		}
	}
	return float64(n) / float64(len(allCategories))
}

// consistencyScore rewards steady message lengths. Highly erratic answer
// lengths usually mean the user alternates between engagement and one-word
// replies, which makes inferred facts less reliable.
func consistencyScore(lengths []float64) float64 {
	if len(lengths) < 2 {
		return 0.5
	}
	m := mean(lengths)
	if m == 0 {
		return 0.5
	}
	var variance float64
	for _, l := range lengths {
		variance += (l - m) * (l - m)
	}
	variance /= float64(len(lengths))
	cv := math.Sqrt(variance) / m
	return 1 / (1 + cv)
}

// topicScore is fact count toward factsPerTopicTarget, capped at 1.
func topicScore(facts []store.Fact, cats []store.FactCategory) float64 {
	n := 0
	for _, f := range facts {
		for _, cat := range cats {
			if f.Category == cat {
				n++
				break
			}
		}
	}
	return clamp01(float64(n) / factsPerTopicTarget)
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
