// Package agent drives the turn loop: compact the conversation if
// needed, call the model (falling back on failure), dispatch requested
// tools strictly one at a time, feed results back, and repeat until a
// final answer or the turn budget runs out.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nadhif/lira/internal/tracing"
	"github.com/nadhif/lira/pkg/contextguard"
	"github.com/nadhif/lira/pkg/lane"
	"github.com/nadhif/lira/pkg/provider"
	"github.com/nadhif/lira/pkg/session"
	"github.com/nadhif/lira/pkg/tool"
)

const (
	defaultMaxTurns         = 15
	defaultMaxTokens        = 4096
	defaultMaxContextTokens = 32_000
	defaultBasePrompt       = "You are Lira, a helpful assistant running on the user's own machine."
)

// Config wires the agent's collaborators together
type Config struct {
	Primary  provider.ChatProvider
	Fallback provider.ChatProvider

	Registry *tool.Registry
	Sessions *session.Manager
	Skills   SkillSelector
	Queue    *lane.Queue
	Logger   zerolog.Logger

	BasePrompt          string
	MaxTurns            int
	MaxTokens           int
	MaxContextTokens    int
	CompactionThreshold float64
	Temperature         float64
	ToolNames           []string
	ToolTimeout         time.Duration

	Notify NoticeFunc
}

// Agent orchestrates turns for its conversations. The active provider
// is sticky: once a turn switches to the fallback, later turns keep
// using it until the process restarts.
type Agent struct {
	cfg    Config
	guard  *contextguard.Guard
	logger zerolog.Logger

	active   provider.ChatProvider
	activeMu sync.Mutex
}

// New creates an Agent, applying defaults for unset limits
func New(cfg Config) (*Agent, error) {
	if cfg.Primary == nil {
		return nil, fmt.Errorf("primary provider is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("lane queue is required")
	}

	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = defaultMaxContextTokens
	}
	if cfg.BasePrompt == "" {
		cfg.BasePrompt = defaultBasePrompt
	}

	return &Agent{
		cfg:    cfg,
		guard:  contextguard.New(cfg.MaxContextTokens, cfg.CompactionThreshold),
		logger: cfg.Logger,
		active: cfg.Primary,
	}, nil
}

// ProcessMessage runs one full turn for a user message. The work is
// enqueued on the session's lane, so overlapping calls for the same
// session serialize while distinct sessions proceed independently.
func (a *Agent) ProcessMessage(ctx context.Context, params RunParams) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if params.SessionKey == "" {
		return Result{}, fmt.Errorf("session key is required")
	}
	if params.Prompt == "" {
		return Result{}, fmt.Errorf("prompt is required")
	}

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithSessionKey(ctx, params.SessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"lira.agent",
		"agent.process_message",
		attribute.String("session_key", params.SessionKey),
	)
	defer span.End()

	laneKey := fmt.Sprintf("session-%s", params.SessionKey)

	value, err := a.cfg.Queue.EnqueueWithContext(ctx, laneKey, func(taskCtx context.Context) (interface{}, error) {
		return a.runTurn(taskCtx, params)
	}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	return value.(Result), nil
}

// runTurn executes the state machine for one user message. It runs
// inside the lane, so conversation state is single-writer throughout.
func (a *Agent) runTurn(ctx context.Context, params RunParams) (Result, error) {
	ctx = tracing.NewTurnContext(ctx)
	logger := tracing.LoggerFromContext(ctx, a.logger)

	entries, err := a.cfg.Sessions.LoadWithContext(ctx, params.SessionKey)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load session: %w", err)
	}

	// The system message is recomputed every turn from the base prompt
	// plus freshly selected skill text, never accumulated, so skill
	// relevance can change message to message.
	conversation := make([]provider.Message, 0, len(entries)+2)
	conversation = append(conversation, provider.Message{
		Role:    "system",
		Content: a.systemPrompt(params.Prompt),
	})
	conversation = append(conversation, session.AsConversation(entries)...)

	userMsg := provider.Message{Role: "user", Content: params.Prompt}
	conversation = append(conversation, userMsg)
	if err := a.persist(ctx, params.SessionKey, userMsg); err != nil {
		return Result{}, err
	}

	descriptors := a.cfg.Registry.Descriptors(a.cfg.ToolNames...)

	for turn := 1; turn <= a.cfg.MaxTurns; turn++ {
		conversation = a.compactIfNeeded(conversation)

		response, err := a.chatWithFallback(ctx, provider.ChatRequest{
			Messages:     conversation[1:],
			Tools:        descriptors,
			Temperature:  a.cfg.Temperature,
			MaxTokens:    a.cfg.MaxTokens,
			SystemPrompt: conversation[0].Content,
		})
		if err != nil {
			return Result{}, err
		}

		assistantMsg := provider.Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		}
		// A final answer with no text still becomes a durable log entry;
		// the session store rejects fully empty messages
		if assistantMsg.Content == "" && len(assistantMsg.ToolCalls) == 0 {
			assistantMsg.Content = "(empty response)"
		}
		conversation = append(conversation, assistantMsg)
		if err := a.persist(ctx, params.SessionKey, assistantMsg); err != nil {
			return Result{}, err
		}

		if len(response.ToolCalls) == 0 {
			logger.Debug().Int("turns", turn).Msg("Turn finished with final answer")
			return Result{
				SessionKey: params.SessionKey,
				Response:   response.Content,
				Turns:      turn,
				Usage:      response.Usage,
			}, nil
		}

		// Tool requests run strictly one at a time in the order the
		// model emitted them, even when it asked for several at once.
		for _, call := range response.ToolCalls {
			toolMsg, err := a.dispatchTool(ctx, call)
			if err != nil {
				return Result{}, err
			}
			conversation = append(conversation, toolMsg)
			if err := a.persist(ctx, params.SessionKey, toolMsg); err != nil {
				return Result{}, err
			}
		}
	}

	logger.Warn().Int("max_turns", a.cfg.MaxTurns).Msg("Turn limit reached")

	return Result{
		SessionKey: params.SessionKey,
		Response: fmt.Sprintf(
			"Reached the limit of %d model calls for this message; the last response may be incomplete.",
			a.cfg.MaxTurns),
		Turns: a.cfg.MaxTurns,
	}, nil
}

// systemPrompt merges the base prompt with skill text selected for the
// current user input
func (a *Agent) systemPrompt(userInput string) string {
	prompt := a.cfg.BasePrompt
	if a.cfg.Skills != nil {
		if text := a.cfg.Skills.SelectRelevantText(userInput); text != "" {
			prompt = prompt + "\n\n" + text
		}
	}
	return prompt
}

// compactIfNeeded consults the context guard before a provider call,
// replacing the conversation when it crosses the budget threshold
func (a *Agent) compactIfNeeded(conversation []provider.Message) []provider.Message {
	estimator := a.activeProvider()

	if !a.guard.NeedsCompaction(conversation, estimator) {
		return conversation
	}

	tokensBefore := estimator.EstimateTokens(conversation)
	compacted := a.guard.Compact(conversation)
	if len(compacted) == len(conversation) {
		return conversation
	}

	a.notify(Notice{
		Type:           NoticeContextCompacted,
		TokensBefore:   tokensBefore,
		TokensAfter:    estimator.EstimateTokens(compacted),
		MessagesBefore: len(conversation),
		MessagesAfter:  len(compacted),
	})

	return compacted
}

// chatWithFallback calls the active provider, switching to the fallback
// on failure and retrying the same call exactly once
func (a *Agent) chatWithFallback(ctx context.Context, request provider.ChatRequest) (*provider.ChatResponse, error) {
	active := a.activeProvider()

	response, err := active.Chat(ctx, request)
	if err == nil {
		return response, nil
	}

	// The fallback may be the same provider kind with a different model,
	// so "already active" is instance identity, not Name()
	fallback := a.cfg.Fallback
	if fallback == nil || active == fallback {
		return nil, fmt.Errorf("provider %s failed: %w", active.Name(), err)
	}

	a.logger.Warn().
		Str("from", active.Name()).
		Str("to", fallback.Name()).
		Bool("retryable", provider.IsRetryable(err)).
		Err(err).
		Msg("Switching to fallback provider")

	a.notify(Notice{
		Type:         NoticeProviderFallback,
		FromProvider: active.Name(),
		ToProvider:   fallback.Name(),
	})
	a.setActiveProvider(fallback)

	response, fallbackErr := fallback.Chat(ctx, request)
	if fallbackErr != nil {
		return nil, fmt.Errorf("both providers failed: %s: %v; fallback %s: %w",
			active.Name(), err, fallback.Name(), fallbackErr)
	}

	return response, nil
}

// dispatchTool answers one tool invocation request. Unknown tools and
// malformed arguments become explanatory tool results, never turn
// aborts; only a broken collaborator contract returns an error.
func (a *Agent) dispatchTool(ctx context.Context, call provider.ToolCall) (provider.Message, error) {
	logger := tracing.LoggerFromContext(ctx, a.logger)

	if a.cfg.Registry.Get(call.Name) == nil {
		logger.Warn().Str("tool", call.Name).Msg("Model requested unknown tool")
		return toolMessage(call.ID, fmt.Sprintf("unknown tool: %s", call.Name)), nil
	}

	var args map[string]interface{}
	if err := json.Unmarshal(call.Args, &args); err != nil {
		logger.Warn().Str("tool", call.Name).Err(err).Msg("Malformed tool arguments")
		return toolMessage(call.ID,
			fmt.Sprintf("malformed arguments for tool %s: %v", call.Name, err)), nil
	}

	a.notify(Notice{Type: NoticeToolInvoked, Tool: call.Name})

	result := a.cfg.Registry.Execute(ctx, call.Name, args, a.cfg.ToolTimeout)

	content := result.Output
	if content == "" {
		if result.Success {
			content = "(no output)"
		} else {
			content = "tool failed without output"
		}
	}

	logger.Debug().
		Str("tool", call.Name).
		Bool("success", result.Success).
		Msg("Tool dispatched")

	// The success flag travels as content for the model to react to;
	// it is not a control signal at this layer
	return toolMessage(call.ID, content), nil
}

func toolMessage(callID, content string) provider.Message {
	return provider.Message{
		Role:       "tool",
		Content:    content,
		ToolCallID: callID,
	}
}

// persist appends a message to durable history. A write failure is
// fatal for the turn: continuing would let in-memory and durable state
// diverge.
func (a *Agent) persist(ctx context.Context, sessionKey string, msg provider.Message) error {
	err := a.cfg.Sessions.AppendWithContext(ctx, sessionKey, session.Message{
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCalls:  msg.ToolCalls,
		ToolCallID: msg.ToolCallID,
	})
	if err != nil {
		return fmt.Errorf("failed to persist %s message: %w", msg.Role, err)
	}
	return nil
}

func (a *Agent) activeProvider() provider.ChatProvider {
	a.activeMu.Lock()
	defer a.activeMu.Unlock()
	return a.active
}

func (a *Agent) setActiveProvider(p provider.ChatProvider) {
	a.activeMu.Lock()
	defer a.activeMu.Unlock()
	a.active = p
}

func (a *Agent) notify(notice Notice) {
	if a.cfg.Notify != nil {
		a.cfg.Notify(notice)
	}
}
