// Package conversation bounds the history replayed to the LLM. Long
// onboarding chats are folded into a deterministic summary message so the
// per-call token cost stays flat while early context survives in condensed
// form.
package conversation

import (
	"fmt"
	"strings"

	"github.com/skinsense/skinsense/store"
)

// summaryMarker prefixes the synthetic summary message. It is how a later
// pass recognizes already-compressed history and leaves it alone.
const summaryMarker = "[Summary of earlier conversation]"

// excerptLimit caps each middle-message excerpt inside the summary.
const excerptLimit = 80

// Compressor folds old messages into a summary while keeping the most
// recent tail verbatim. Compression is pure: the input slice is never
// mutated, and compressing an already-compressed history is the identity.
type Compressor struct {
	keepTail int
}

func NewCompressor(keepTail int) *Compressor {
	if keepTail < 2 {
		keepTail = 2
	}
	return &Compressor{keepTail: keepTail}
}

// Compress returns the history to replay to the LLM.
//
// Short histories pass through untouched. Longer ones become: the first
// message (the opening exchange anchors tone), one synthetic summary of the
// middle, then the last keepTail-1 messages verbatim.
func (c *Compressor) Compress(msgs []store.Message) []store.Message {
	if len(msgs) <= c.keepTail {
		return msgs
	}
	if c.isCompressed(msgs) {
		return msgs
	}

	first := msgs[0]
	tail := msgs[len(msgs)-(c.keepTail-1):]
	middle := msgs[1 : len(msgs)-(c.keepTail-1)]

	out := make([]store.Message, 0, c.keepTail+1)
	out = append(out, first)
	out = append(out, store.Message{
		Role:      store.RoleAssistant,
		Content:   c.summarize(middle),
		CreatedTs: middle[len(middle)-1].CreatedTs,
	})
	out = append(out, tail...)
	return out
}

// isCompressed reports whether msgs is already the output of a previous
// Compress call: a summary in slot 1 and at most keepTail+1 messages total.
func (c *Compressor) isCompressed(msgs []store.Message) bool {
	return len(msgs) <= c.keepTail+1 &&
		len(msgs) >= 2 &&
		strings.HasPrefix(msgs[1].Content, summaryMarker)
}

func (c *Compressor) summarize(middle []store.Message) string {
	var b strings.Builder
	b.WriteString(summaryMarker)
	for _, m := range middle {
		excerpt := strings.TrimSpace(m.Content)
		if runes := []rune(excerpt); len(runes) > excerptLimit {
			excerpt = string(runes[:excerptLimit]) + "..."
		}
		b.WriteString(fmt.Sprintf("\n- %s: %s", m.Role, excerpt))
	}
	return b.String()
}
