// Package engagement classifies how talkative the user is so the assistant
// can adapt its questioning style. The classification is a pure function of
// message statistics; no LLM involvement.
package engagement

import (
	"strings"

	"github.com/skinsense/skinsense/store"
)

// Level is the engagement classification for a conversation.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Message-length thresholds, in characters.
const (
	briefThreshold    = 40
	detailedThreshold = 120
)

// Stats are the raw numbers behind a classification.
type Stats struct {
	UserMessages     int
	MeanLength       float64
	MeanWords        float64
	BriefFraction    float64
	DetailedFraction float64
}

// Analyzer computes engagement levels from conversation history.
type Analyzer struct{}

func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze classifies the user's engagement from their messages alone.
// A strict majority of brief messages reads as low, a strict majority of
// detailed messages as high, everything else (including an empty history)
// as medium.
func (a *Analyzer) Analyze(msgs []store.Message) (Level, Stats) {
	var stats Stats
	brief, detailed := 0, 0
	totalLen, totalWords := 0, 0

	for _, m := range msgs {
		if m.Role != store.RoleUser {
			continue
		}
		stats.UserMessages++
		n := len([]rune(m.Content))
		totalLen += n
		totalWords += len(strings.Fields(m.Content))
		switch {
		case n < briefThreshold:
			brief++
		case n >= detailedThreshold:
			detailed++
		}
	}

	if stats.UserMessages == 0 {
		return LevelMedium, stats
	}

	stats.MeanLength = float64(totalLen) / float64(stats.UserMessages)
	stats.MeanWords = float64(totalWords) / float64(stats.UserMessages)
	stats.BriefFraction = float64(brief) / float64(stats.UserMessages)
	stats.DetailedFraction = float64(detailed) / float64(stats.UserMessages)

	switch {
	case brief*2 > stats.UserMessages:
		return LevelLow, stats
	case detailed*2 > stats.UserMessages:
		return LevelHigh, stats
	default:
		return LevelMedium, stats
	}
}

// Guidance returns the prompt fragment matching an engagement level. It goes
// into the dynamic layer so it never disturbs the stable prompt prefix.
func Guidance(level Level) string {
	switch level {
	case LevelLow:
		return "The user gives short answers. Ask simple yes/no or multiple-choice questions and offer concrete options to pick from."
	case LevelHigh:
		return "The user is engaged and detailed. Ask open follow-up questions that reference their own wording."
	default:
		return "Ask one clear, focused question at a time."
	}
}
