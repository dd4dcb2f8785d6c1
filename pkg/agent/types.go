package agent

import "github.com/nadhif/lira/pkg/provider"

// RunParams describes one user message to process
type RunParams struct {
	SessionKey string
	Prompt     string
}

// Result is the terminal outcome of one turn
type Result struct {
	SessionKey string
	Response   string
	Turns      int
	Usage      *provider.TokenUsage
}

// Notice types emitted while a turn is running
const (
	NoticeToolInvoked      = "tool_invoked"
	NoticeProviderFallback = "provider_fallback"
	NoticeContextCompacted = "context_compacted"
)

// Notice is an observable progress event for a host UI
type Notice struct {
	Type string

	// tool_invoked
	Tool string

	// provider_fallback
	FromProvider string
	ToProvider   string

	// context_compacted
	TokensBefore   int
	TokensAfter    int
	MessagesBefore int
	MessagesAfter  int
}

// NoticeFunc receives notices. It is called synchronously from the
// turn loop, so handlers must be fast.
type NoticeFunc func(Notice)

// SkillSelector supplies additional system-prompt text relevant to the
// user's raw input, consulted once per turn
type SkillSelector interface {
	SelectRelevantText(userInput string) string
}
