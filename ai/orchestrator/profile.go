package orchestrator

import (
	"strings"

	"github.com/skinsense/skinsense/ai/memory"
	"github.com/skinsense/skinsense/store"
)

// SkinProfile is the structured result of a finalized onboarding session.
// It is a rendering of the fact set, not independent state: re-deriving it
// from the same session yields the same profile.
type SkinProfile struct {
	SkinType    string                 `json:"skin_type"`
	Concerns    []string               `json:"concerns"`
	Patterns    []string               `json:"patterns"`
	Routine     []string               `json:"routine"`
	Lifestyle   []string               `json:"lifestyle"`
	Preferences []string               `json:"preferences"`
	Confidence  store.ConfidenceScores `json:"confidence"`

	skinTypeRank int
}

// renderProfile projects facts and scores into the final profile shape.
func renderProfile(facts []store.Fact, scores store.ConfidenceScores) *SkinProfile {
	p := &SkinProfile{
		Concerns:    []string{},
		Patterns:    []string{},
		Routine:     []string{},
		Lifestyle:   []string{},
		Preferences: []string{},
		Confidence:  scores,
	}
	for _, f := range facts {
		switch f.Category {
		case store.FactSkinType:
			// Highest-confidence skin type wins; first mention breaks ties.
			if p.SkinType == "" || confidenceRank(f.Confidence) > p.skinTypeRank {
				p.SkinType = f.Description
				p.skinTypeRank = confidenceRank(f.Confidence)
			}
		case store.FactConcern:
			p.Concerns = append(p.Concerns, f.Description)
		case store.FactPattern:
			p.Patterns = append(p.Patterns, f.Description)
		case store.FactRoutine:
			p.Routine = append(p.Routine, f.Description)
		case store.FactLifestyle:
			p.Lifestyle = append(p.Lifestyle, f.Description)
		case store.FactPreference:
			p.Preferences = append(p.Preferences, f.Description)
		}
	}
	return p
}

func confidenceRank(c store.FactConfidence) int {
	switch c {
	case store.ConfidenceHigh:
		return 3
	case store.ConfidenceMedium:
		return 2
	default:
		return 1
	}
}

// openingMessage is the canned first assistant message. The location hint
// only flavors the greeting.
func openingMessage(locationHint string) string {
	greeting := "Hi! I'm here to get to know your skin so we can build a routine that actually fits you."
	if hint := strings.TrimSpace(locationHint); hint != "" {
		greeting = "Hi! I'm here to get to know your skin, and the climate in " + hint + " definitely plays a part."
	}
	return greeting + " To start: how would you describe your skin on a typical day?"
}

func openingSuggestions() []string {
	return []string{"Oily and shiny", "Dry or flaky", "A bit of both", "Sensitive", "Honestly, not sure"}
}

// phaseFocus names what the assistant should be probing at each phase.
func phaseFocus(phase int) string {
	switch phase {
	case 0, 1:
		return "establish skin type and the main concern"
	case 2:
		return "when and where symptoms appear"
	case 3:
		return "current routine and products in use"
	default:
		return "lifestyle, preferences, and confirming the collected picture"
	}
}

// suggestions builds the quick-reply chips for the next turn from the
// current phase and whichever fact categories are still uncovered.
func (o *Orchestrator) suggestions(phase int, facts []store.Fact, final bool) []string {
	if final {
		return []string{"Show my routine", "Start over"}
	}

	covered := memory.CoveredCategories(facts)
	out := make([]string, 0, 4)

	switch {
	case phase <= 1:
		if !covered[store.FactSkinType] {
			out = append(out, "My skin is oily", "My skin feels dry")
		}
		if !covered[store.FactConcern] {
			out = append(out, "I get breakouts", "I have redness")
		}
	case phase == 2:
		if !covered[store.FactPattern] {
			out = append(out, "Worse in the morning", "Worse when stressed", "Changes with seasons")
		}
	case phase == 3:
		if !covered[store.FactRoutine] {
			out = append(out, "I use a cleanser", "Just water", "I have a full routine")
		}
	default:
		if !covered[store.FactLifestyle] {
			out = append(out, "I sleep badly", "I'm outdoors a lot")
		}
		if !covered[store.FactPreference] {
			out = append(out, "Fragrance-free please", "Keep it affordable")
		}
	}

	if len(out) == 0 {
		out = append(out, "Tell me more", "That's everything")
	}
	return out
}
