// Package contextguard keeps a conversation inside a token budget by
// replacing older messages with a structured digest when the estimated
// size crosses a threshold.
package contextguard

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/nadhif/lira/pkg/provider"
)

const (
	// recentWindow is how many trailing non-system messages survive
	// compaction verbatim
	recentWindow = 4

	userDigestLimit      = 100
	assistantDigestLimit = 100
	toolDigestLimit      = 60

	summaryHeader  = "[Conversation summary. Earlier messages were condensed to stay within the context window.]"
	summaryTrailer = "Continue the conversation using this summary as context for what happened before."
)

// Estimator approximates the token footprint of a conversation. Token
// boundaries differ per backend, so estimation always belongs to the
// active provider rather than the guard.
type Estimator interface {
	EstimateTokens(messages []provider.Message) int
}

// Guard decides when a conversation needs compaction and performs it
type Guard struct {
	maxTokens int
	threshold float64
}

// New creates a Guard. Threshold must sit in (0, 1); out-of-range
// values fall back to 0.8.
func New(maxTokens int, threshold float64) *Guard {
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.8
	}
	return &Guard{
		maxTokens: maxTokens,
		threshold: threshold,
	}
}

// NeedsCompaction reports whether the estimated token count exceeds the
// budget's threshold
func (g *Guard) NeedsCompaction(messages []provider.Message, estimator Estimator) bool {
	estimated := estimator.EstimateTokens(messages)
	return float64(estimated) > float64(g.maxTokens)*g.threshold
}

// Compact returns a reduced conversation: the leading system message
// unchanged, a single synthesized digest of everything older, then the
// last four non-system messages verbatim. Conversations with nothing to
// summarize are returned as is. Output is deterministic for identical
// input.
func (g *Guard) Compact(messages []provider.Message) []provider.Message {
	if len(messages) <= recentWindow {
		return messages
	}

	var system *provider.Message
	nonSystem := messages
	if messages[0].Role == "system" {
		system = &messages[0]
		nonSystem = messages[1:]
	}

	if len(nonSystem) <= recentWindow {
		return messages
	}

	older := nonSystem[:len(nonSystem)-recentWindow]
	recent := nonSystem[len(nonSystem)-recentWindow:]

	lines := make([]string, 0, len(older))
	for _, msg := range older {
		lines = append(lines, digestLine(msg))
	}

	summary := provider.Message{
		Role: "user",
		Content: summaryHeader + "\n" +
			strings.Join(lines, "\n") + "\n" +
			summaryTrailer,
	}

	compacted := make([]provider.Message, 0, recentWindow+2)
	if system != nil {
		compacted = append(compacted, *system)
	}
	compacted = append(compacted, summary)
	compacted = append(compacted, recent...)

	log.Debug().
		Int("messages_before", len(messages)).
		Int("messages_after", len(compacted)).
		Msg("Conversation compacted")

	return compacted
}

// digestLine renders one message as a single summary line
func digestLine(msg provider.Message) string {
	switch msg.Role {
	case "user":
		return "User asked: " + truncate(msg.Content, userDigestLimit)
	case "assistant":
		if len(msg.ToolCalls) > 0 {
			names := make([]string, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				names = append(names, tc.Name)
			}
			return "Assistant used tools: " + strings.Join(names, ", ")
		}
		return "Assistant: " + truncate(msg.Content, assistantDigestLimit)
	case "tool":
		return "Tool result: " + truncate(msg.Content, toolDigestLimit)
	default:
		return fmt.Sprintf("%s: %s", msg.Role, truncate(msg.Content, assistantDigestLimit))
	}
}

// truncate keeps the first limit characters, never splitting a rune
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
