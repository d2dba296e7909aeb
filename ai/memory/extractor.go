// Package memory turns raw dialogue into structured skin facts. Extraction
// is deliberately deterministic keyword matching, not an LLM call: facts
// feed confidence scoring and finalization, and those need to be replayable
// from the same history.
package memory

import (
	"sort"
	"strings"

	"github.com/skinsense/skinsense/store"
)

// factRule binds a set of trigger keywords to one canonical fact. The label
// is the stable identity: two rules with the same category and label would
// collapse into one fact, so labels are unique per category.
type factRule struct {
	Category   store.FactCategory
	Label      string
	Confidence store.FactConfidence
	Keywords   []string
}

var factRules = []factRule{
	// Skin type. First-person statements about type read as high confidence.
	{store.FactSkinType, "oily skin", store.ConfidenceHigh, []string{"oily", "greasy", "shiny skin", "shine"}},
	{store.FactSkinType, "dry skin", store.ConfidenceHigh, []string{"dry skin", "dryness", "flaky", "flaking", "tightness", "feels tight"}},
	{store.FactSkinType, "combination skin", store.ConfidenceHigh, []string{"combination", "t-zone", "t zone"}},
	{store.FactSkinType, "sensitive skin", store.ConfidenceHigh, []string{"sensitive", "reacts to", "stinging", "burns when"}},
	{store.FactSkinType, "normal skin", store.ConfidenceMedium, []string{"normal skin", "balanced skin"}},

	// Concerns.
	{store.FactConcern, "acne", store.ConfidenceHigh, []string{"acne", "breakout", "break out", "pimple", "zit"}},
	{store.FactConcern, "blackheads", store.ConfidenceHigh, []string{"blackhead", "clogged pore"}},
	{store.FactConcern, "redness", store.ConfidenceMedium, []string{"redness", "red patches", "flushed"}},
	{store.FactConcern, "dark spots", store.ConfidenceMedium, []string{"dark spot", "hyperpigmentation", "pigmentation", "sun spot"}},
	{store.FactConcern, "fine lines", store.ConfidenceMedium, []string{"fine line", "wrinkle", "aging", "anti-aging"}},
	{store.FactConcern, "dullness", store.ConfidenceLow, []string{"dull", "tired looking", "no glow"}},
	{store.FactConcern, "uneven texture", store.ConfidenceLow, []string{"texture", "bumpy", "rough skin"}},

	// Patterns: when and where symptoms show up.
	{store.FactPattern, "worse in the morning", store.ConfidenceMedium, []string{"in the morning", "when i wake up", "wake up with"}},
	{store.FactPattern, "worse in the evening", store.ConfidenceMedium, []string{"by evening", "end of the day", "at night"}},
	{store.FactPattern, "seasonal changes", store.ConfidenceMedium, []string{"in winter", "in summer", "when it's cold", "seasonal"}},
	{store.FactPattern, "stress related", store.ConfidenceMedium, []string{"when stressed", "when i'm stressed", "during exams", "stressful"}},
	{store.FactPattern, "hormonal cycle", store.ConfidenceMedium, []string{"before my period", "around my period", "hormonal"}},
	{store.FactPattern, "diet triggered", store.ConfidenceLow, []string{"after eating", "when i eat", "dairy", "sugar makes"}},

	// Current routine.
	{store.FactRoutine, "uses cleanser", store.ConfidenceHigh, []string{"cleanser", "face wash", "cleansing"}},
	{store.FactRoutine, "uses moisturizer", store.ConfidenceHigh, []string{"moisturizer", "moisturiser", "moisturize", "lotion", "cream"}},
	{store.FactRoutine, "uses sunscreen", store.ConfidenceHigh, []string{"sunscreen", "spf", "sun protection"}},
	{store.FactRoutine, "uses serum", store.ConfidenceMedium, []string{"serum", "vitamin c", "niacinamide", "hyaluronic"}},
	{store.FactRoutine, "uses retinoids", store.ConfidenceMedium, []string{"retinol", "retinoid", "tretinoin"}},
	{store.FactRoutine, "uses exfoliant", store.ConfidenceMedium, []string{"exfoliat", "scrub", "peeling", "aha", "bha"}},
	{store.FactRoutine, "no routine yet", store.ConfidenceMedium, []string{"no routine", "don't use anything", "just water", "nothing really"}},

	// Lifestyle.
	{store.FactLifestyle, "poor sleep", store.ConfidenceMedium, []string{"don't sleep", "bad sleep", "insomnia", "sleep late", "not enough sleep"}},
	{store.FactLifestyle, "high stress", store.ConfidenceMedium, []string{"stressed", "stressful job", "anxiety", "under pressure"}},
	{store.FactLifestyle, "low hydration", store.ConfidenceLow, []string{"don't drink water", "forget to drink", "dehydrated"}},
	{store.FactLifestyle, "frequent sun exposure", store.ConfidenceMedium, []string{"outdoors a lot", "in the sun", "outside all day", "beach"}},
	{store.FactLifestyle, "exercises regularly", store.ConfidenceLow, []string{"work out", "workout", "gym", "exercise", "running"}},
	{store.FactLifestyle, "smoker", store.ConfidenceHigh, []string{"smoke", "smoking", "cigarette"}},

	// Preferences.
	{store.FactPreference, "prefers fragrance-free", store.ConfidenceHigh, []string{"fragrance-free", "fragrance free", "no fragrance", "unscented"}},
	{store.FactPreference, "prefers natural products", store.ConfidenceMedium, []string{"natural", "organic", "clean beauty"}},
	{store.FactPreference, "prefers vegan products", store.ConfidenceHigh, []string{"vegan", "cruelty-free", "cruelty free"}},
	{store.FactPreference, "budget conscious", store.ConfidenceMedium, []string{"cheap", "affordable", "budget", "drugstore", "not expensive"}},
	{store.FactPreference, "prefers minimal routine", store.ConfidenceMedium, []string{"simple routine", "minimal", "low maintenance", "few steps"}},
}

// categoryOrder fixes the rendering order of the memory context.
var categoryOrder = []store.FactCategory{
	store.FactSkinType,
	store.FactConcern,
	store.FactPattern,
	store.FactRoutine,
	store.FactLifestyle,
	store.FactPreference,
}

var categoryHeading = map[store.FactCategory]string{
	store.FactSkinType:   "Skin type",
	store.FactConcern:    "Concerns",
	store.FactPattern:    "Patterns",
	store.FactRoutine:    "Current routine",
	store.FactLifestyle:  "Lifestyle",
	store.FactPreference: "Preferences",
}

// Extractor derives facts from user messages by keyword matching.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract scans the full history and returns the deduplicated fact set.
// Only user messages are inspected; assistant replies restate user facts and
// would double-count them. The same history always yields the same facts.
func (e *Extractor) Extract(msgs []store.Message) []store.Fact {
	seen := make(map[string]int) // category+label -> index into out
	out := make([]store.Fact, 0)

	for i, m := range msgs {
		if m.Role != store.RoleUser {
			continue
		}
		text := strings.ToLower(m.Content)
		for _, rule := range factRules {
			if !rule.matches(text) {
				continue
			}
			key := string(rule.Category) + "/" + rule.Label
			if _, ok := seen[key]; ok {
				// First mention wins; repeats don't move the message index.
				continue
			}
			seen[key] = len(out)
			out = append(out, store.Fact{
				Category:     rule.Category,
				Confidence:   rule.Confidence,
				Description:  rule.Label,
				MessageIndex: i,
			})
		}
	}
	return out
}

func (r *factRule) matches(lowered string) bool {
	for _, kw := range r.Keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// ContextText renders facts as the memory block of the dynamic prompt
// layer. Grouped by category in a fixed order so identical fact sets always
// produce identical bytes.
func ContextText(facts []store.Fact) string {
	if len(facts) == 0 {
		return ""
	}

	byCategory := make(map[store.FactCategory][]string)
	for _, f := range facts {
		byCategory[f.Category] = append(byCategory[f.Category], f.Description)
	}

	var b strings.Builder
	b.WriteString("What we know about the user so far:")
	for _, cat := range categoryOrder {
		labels := byCategory[cat]
		if len(labels) == 0 {
			continue
		}
		sort.Strings(labels)
		b.WriteString("\n" + categoryHeading[cat] + ": " + strings.Join(labels, ", "))
	}
	return b.String()
}

// CoveredCategories returns which fact categories have at least one fact.
func CoveredCategories(facts []store.Fact) map[store.FactCategory]bool {
	covered := make(map[store.FactCategory]bool)
	for _, f := range facts {
		covered[f.Category] = true
	}
	return covered
}
