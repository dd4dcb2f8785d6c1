package contextguard

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadhif/lira/pkg/provider"
)

// charEstimator counts one token per four characters of content
type charEstimator struct{}

func (charEstimator) EstimateTokens(messages []provider.Message) int {
	chars := 0
	for _, msg := range messages {
		chars += len(msg.Content)
		for _, tc := range msg.ToolCalls {
			chars += len(tc.Name) + len(tc.Args)
		}
	}
	return chars / 4
}

func conversation(n int) []provider.Message {
	msgs := []provider.Message{{Role: "system", Content: "You are Lira."}}
	for i := 0; len(msgs) < n; i++ {
		if i%2 == 0 {
			msgs = append(msgs, provider.Message{Role: "user", Content: strings.Repeat("question ", 30)})
		} else {
			msgs = append(msgs, provider.Message{Role: "assistant", Content: strings.Repeat("answer ", 30)})
		}
	}
	return msgs
}

func TestNeedsCompaction_Threshold(t *testing.T) {
	msgs := conversation(10)
	est := charEstimator{}

	tight := New(10, 0.8)
	assert.True(t, tight.NeedsCompaction(msgs, est))

	roomy := New(1_000_000, 0.8)
	assert.False(t, roomy.NeedsCompaction(msgs, est))
}

func TestNeedsCompaction_MonotonicInBudget(t *testing.T) {
	msgs := conversation(10)
	est := charEstimator{}

	prev := true
	for _, budget := range []int{1, 10, 100, 1000, 10000, 1_000_000} {
		needs := New(budget, 0.8).NeedsCompaction(msgs, est)
		if !prev {
			assert.False(t, needs, "raising the budget must never re-trigger compaction")
		}
		prev = needs
	}
}

func TestNew_ThresholdFallback(t *testing.T) {
	msgs := conversation(10)
	est := charEstimator{}

	// Invalid thresholds behave like the 0.8 default
	assert.Equal(t,
		New(100, 0.8).NeedsCompaction(msgs, est),
		New(100, 1.5).NeedsCompaction(msgs, est))
	assert.Equal(t,
		New(100, 0.8).NeedsCompaction(msgs, est),
		New(100, 0).NeedsCompaction(msgs, est))
}

func TestCompact_IdentityOnSmallConversations(t *testing.T) {
	g := New(100, 0.8)

	small := conversation(4)
	assert.Equal(t, small, g.Compact(small))

	// System plus exactly four non-system messages has nothing to summarize
	borderline := conversation(5)
	assert.Equal(t, borderline, g.Compact(borderline))

	assert.Empty(t, g.Compact(nil))
}

func TestCompact_IdempotentOnOwnSmallOutput(t *testing.T) {
	g := New(100, 0.8)

	once := g.Compact(conversation(4))
	twice := g.Compact(once)
	assert.Equal(t, once, twice)
}

func TestCompact_PreservesSystemAndRecentWindow(t *testing.T) {
	g := New(100, 0.8)
	msgs := conversation(12)

	compacted := g.Compact(msgs)

	require.NotEmpty(t, compacted)
	assert.Equal(t, "system", compacted[0].Role)
	assert.Equal(t, msgs[0].Content, compacted[0].Content)

	// [system, summary, recent x4]
	require.Len(t, compacted, 6)
	assert.Equal(t, "user", compacted[1].Role)
	assert.Equal(t, msgs[len(msgs)-4:], compacted[2:])
}

func TestCompact_DigestLines(t *testing.T) {
	g := New(100, 0.8)

	longQuestion := strings.Repeat("q", 150)
	longResult := strings.Repeat("r", 90)

	msgs := []provider.Message{
		{Role: "user", Content: longQuestion},
		{Role: "assistant", ToolCalls: []provider.ToolCall{
			{ID: "c1", Name: "exec", Args: []byte(`{}`)},
			{ID: "c2", Name: "read_file", Args: []byte(`{}`)},
		}},
		{Role: "tool", ToolCallID: "c1", Content: longResult},
		{Role: "assistant", Content: "short answer"},
		// Recent window
		{Role: "user", Content: "u1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "u2"},
		{Role: "assistant", Content: "a2"},
	}

	compacted := g.Compact(msgs)
	require.Len(t, compacted, 5)

	summary := compacted[0].Content
	assert.Contains(t, summary, "User asked: "+longQuestion[:100])
	assert.NotContains(t, summary, longQuestion[:101])
	assert.Contains(t, summary, "Assistant used tools: exec, read_file")
	assert.Contains(t, summary, "Tool result: "+longResult[:60])
	assert.NotContains(t, summary, longResult[:61])
	assert.Contains(t, summary, "Assistant: short answer")
}

func TestCompact_DigestTruncatesOnRuneBoundaries(t *testing.T) {
	g := New(100, 0.8)

	longQuestion := strings.Repeat("é", 150)
	longResult := strings.Repeat("界", 90)

	msgs := []provider.Message{
		{Role: "user", Content: longQuestion},
		{Role: "tool", ToolCallID: "c1", Content: longResult},
		// Recent window
		{Role: "user", Content: "u1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "u2"},
		{Role: "assistant", Content: "a2"},
	}

	compacted := g.Compact(msgs)
	require.Len(t, compacted, 5)

	summary := compacted[0].Content
	assert.True(t, utf8.ValidString(summary))
	assert.Contains(t, summary, "User asked: "+strings.Repeat("é", 100))
	assert.NotContains(t, summary, strings.Repeat("é", 101))
	assert.Contains(t, summary, "Tool result: "+strings.Repeat("界", 60))
	assert.NotContains(t, summary, strings.Repeat("界", 61))
}

func TestCompact_Deterministic(t *testing.T) {
	g := New(100, 0.8)
	msgs := conversation(20)

	assert.Equal(t, g.Compact(msgs), g.Compact(msgs))
}

func TestCompact_ReducesEstimate(t *testing.T) {
	g := New(100, 0.8)
	est := charEstimator{}
	msgs := conversation(40)

	compacted := g.Compact(msgs)
	assert.Less(t, est.EstimateTokens(compacted), est.EstimateTokens(msgs))
	assert.NotEmpty(t, compacted)
}
