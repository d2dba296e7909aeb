package conversation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skinsense/skinsense/store"
)

func makeMessages(n int) []store.Message {
	msgs := make([]store.Message, 0, n)
	for i := 0; i < n; i++ {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		msgs = append(msgs, store.Message{
			Role:      role,
			Content:   fmt.Sprintf("message %d", i),
			CreatedTs: int64(1000 + i),
		})
	}
	return msgs
}

func TestCompress_ShortHistoryUntouched(t *testing.T) {
	c := NewCompressor(10)

	msgs := makeMessages(10)
	out := c.Compress(msgs)

	assert.Equal(t, msgs, out)
}

func TestCompress_LongHistory(t *testing.T) {
	c := NewCompressor(10)

	msgs := makeMessages(15)
	out := c.Compress(msgs)

	// 1 first + 1 summary + 9 tail.
	require.Len(t, out, 11)
	assert.Equal(t, "message 0", out[0].Content)
	assert.True(t, strings.HasPrefix(out[1].Content, summaryMarker))
	assert.Equal(t, store.RoleAssistant, out[1].Role)
	assert.Equal(t, "message 6", out[2].Content)
	assert.Equal(t, "message 14", out[10].Content)

	// Summary covers exactly the folded middle.
	assert.Contains(t, out[1].Content, "message 1")
	assert.Contains(t, out[1].Content, "message 5")
	assert.NotContains(t, out[1].Content, "message 6")
}

func TestCompress_Idempotent(t *testing.T) {
	c := NewCompressor(10)

	once := c.Compress(makeMessages(25))
	twice := c.Compress(once)

	assert.Equal(t, once, twice)
}

func TestCompress_DoesNotMutateInput(t *testing.T) {
	c := NewCompressor(4)

	msgs := makeMessages(12)
	snapshot := makeMessages(12)
	_ = c.Compress(msgs)

	assert.Equal(t, snapshot, msgs)
}

func TestCompress_AfterAppendRecompresses(t *testing.T) {
	c := NewCompressor(4)

	out := c.Compress(makeMessages(12))
	require.Len(t, out, 5)

	// New turns arrive on top of the compressed history.
	out = append(out, store.Message{Role: store.RoleUser, Content: "new question"})
	out = append(out, store.Message{Role: store.RoleAssistant, Content: "new answer"})

	again := c.Compress(out)
	require.Len(t, again, 5)
	assert.True(t, strings.HasPrefix(again[1].Content, summaryMarker))
	assert.Equal(t, "new answer", again[len(again)-1].Content)
}

func TestCompress_LongContentTruncated(t *testing.T) {
	c := NewCompressor(2)

	msgs := makeMessages(6)
	msgs[2].Content = strings.Repeat("x", 300)
	out := c.Compress(msgs)

	require.Len(t, out, 3)
	assert.Contains(t, out[1].Content, strings.Repeat("x", excerptLimit)+"...")
	assert.NotContains(t, out[1].Content, strings.Repeat("x", excerptLimit+1))
}
