// Package prompt implements the layered prompt assembly for onboarding
// conversations. The prompt is built from three stability classes: core and
// stable-reference layers are immutable constants built once at process
// start, the dynamic layer is supplied per call. Keeping the stable prefix
// byte-identical across calls is what lets the provider-side prompt cache
// reuse it; drifting content degrades the hit rate silently, so layers are
// value holders that are never mutated in place.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// StabilityClass classifies how often a layer's content changes.
type StabilityClass string

const (
	// ClassCore is the base system identity, fixed for the process lifetime.
	ClassCore StabilityClass = "core"
	// ClassStableReference is reference knowledge, fixed for the process lifetime.
	ClassStableReference StabilityClass = "stable-reference"
	// ClassDynamic is per-turn context. Never cacheable.
	ClassDynamic StabilityClass = "dynamic"
)

// Layer is an immutable, versioned prompt fragment.
type Layer struct {
	ID      string
	Class   StabilityClass
	Content string
	Version string
}

// NewLayer builds a layer with a content-derived version.
func NewLayer(id string, class StabilityClass, content string) Layer {
	return Layer{
		ID:      id,
		Class:   class,
		Content: content,
		Version: contentVersion(content),
	}
}

func contentVersion(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:8])
}

// LayerSet holds the stable portion of the prompt, assembled once.
// Concatenation order is fixed: core, stable-reference, dynamic.
type LayerSet struct {
	layers       []Layer
	stablePrefix string
	fingerprint  string
}

// NewLayerSet builds a layer set from core and stable-reference layers.
// The stable prefix is precomputed so every Assemble call reuses the exact
// same bytes.
func NewLayerSet(core []Layer, stable []Layer) (*LayerSet, error) {
	for _, l := range core {
		if l.Class != ClassCore {
			return nil, fmt.Errorf("layer %q has class %q, want %q", l.ID, l.Class, ClassCore)
		}
	}
	for _, l := range stable {
		if l.Class != ClassStableReference {
			return nil, fmt.Errorf("layer %q has class %q, want %q", l.ID, l.Class, ClassStableReference)
		}
	}
	if len(core) == 0 {
		return nil, fmt.Errorf("at least one core layer is required")
	}

	layers := make([]Layer, 0, len(core)+len(stable))
	layers = append(layers, core...)
	layers = append(layers, stable...)

	parts := make([]string, 0, len(layers))
	for _, l := range layers {
		parts = append(parts, l.Content)
	}
	prefix := strings.Join(parts, "\n\n")

	return &LayerSet{
		layers:       layers,
		stablePrefix: prefix,
		fingerprint:  contentVersion(prefix),
	}, nil
}

// Assemble returns the full prompt for one LLM call. This is a pure function
// of the layer set and the dynamic content; it has no error conditions.
func (s *LayerSet) Assemble(dynamic string) string {
	if dynamic == "" {
		return s.stablePrefix
	}
	return s.stablePrefix + "\n\n" + dynamic
}

// StableFingerprint identifies the immutable prefix. Two calls within one
// process always share the same fingerprint.
func (s *LayerSet) StableFingerprint() string {
	return s.fingerprint
}

// Layers returns a copy of the stable layers, in concatenation order.
func (s *LayerSet) Layers() []Layer {
	out := make([]Layer, len(s.layers))
	copy(out, s.layers)
	return out
}

// DefaultLayerSet builds the production layer set for the skincare
// onboarding assistant.
func DefaultLayerSet() *LayerSet {
	core := []Layer{
		NewLayer("identity", ClassCore, coreIdentity),
	}
	stable := []Layer{
		NewLayer("skin-reference", ClassStableReference, skinReference),
		NewLayer("conversation-guide", ClassStableReference, conversationGuide),
	}
	set, err := NewLayerSet(core, stable)
	if err != nil {
		// Constants above are validated at package build time by tests.
		panic(err)
	}
	return set
}

const coreIdentity = `You are a warm, knowledgeable skincare consultant guiding a new user
through onboarding. Your goal is to understand their skin well enough to
build a personalized profile: skin type, concerns, observed patterns,
current routine, lifestyle factors, and product preferences.

Rules:
- Ask one focused question per reply.
- Acknowledge what the user shared before asking the next question.
- Never give medical diagnoses; suggest seeing a dermatologist for
  persistent or painful conditions.
- Keep replies under 80 words.`

const skinReference = `Reference:
Skin types: oily (shine, enlarged pores), dry (tightness, flaking),
combination (oily T-zone, dry cheeks), sensitive (reacts to products,
redness), normal (balanced).
Common concerns: acne and breakouts, blackheads, redness, dark spots,
fine lines, dullness, uneven texture.
Routine elements: cleanser, moisturizer, sunscreen, serum, exfoliant,
toner, retinoids.
Lifestyle factors: sleep, stress, hydration, diet, sun exposure,
exercise, smoking.`

const conversationGuide = `Question pacing:
Phase 0-1: establish skin type and the main concern.
Phase 2: probe when and where symptoms appear (patterns).
Phase 3: current routine and products in use.
Phase 4: lifestyle and preferences, then confirm the collected picture.
When the user gives short answers, offer concrete options to choose from.
When the user is detailed, ask follow-ups that reference their wording.`
