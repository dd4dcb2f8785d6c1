package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nadhif/lira/internal/config"
	"github.com/nadhif/lira/internal/logger"
	"github.com/nadhif/lira/internal/tracing"
	"github.com/nadhif/lira/pkg/agent"
	"github.com/nadhif/lira/pkg/approval"
	"github.com/nadhif/lira/pkg/coretools"
	"github.com/nadhif/lira/pkg/lane"
	"github.com/nadhif/lira/pkg/provider"
	"github.com/nadhif/lira/pkg/session"
	"github.com/nadhif/lira/pkg/skills"
	"github.com/nadhif/lira/pkg/tool"
)

var chatSessionKey string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session with Lira.
Messages are processed one at a time and persisted to the session log,
so you can quit and pick the conversation back up later.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionKey, "session", "main", "session key to resume or create")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// The REPL owns stdout, so logs go to the file only
	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   false,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()
	zlog := lg.GetZerolog()

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(tracing.Config{
			ServiceName: "lira",
			SampleRatio: cfg.Tracing.SampleRatio,
		}); err != nil {
			zlog.Warn().Err(err).Msg("tracing disabled")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracing.ShutdownOpenTelemetry(shutdownCtx)
		}()
	}

	queue := lane.New()
	defer queue.Close()

	sessions, err := session.New(filepath.Join(cfg.DataDir, "sessions"))
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer sessions.Close()

	out := cmd.OutOrStdout()
	stdin := bufio.NewReader(cmd.InOrStdin())

	var skillSelector agent.SkillSelector
	if cfg.Skills.Enabled {
		selector, err := skills.NewSelector(cfg.Skills.Dir)
		if err != nil {
			return fmt.Errorf("failed to load skills: %w", err)
		}
		defer selector.Close()
		if cfg.Skills.Watch {
			if err := selector.Watch(); err != nil {
				zlog.Warn().Err(err).Str("dir", cfg.Skills.Dir).Msg("skill watching disabled")
			}
		}
		skillSelector = selector
	}

	store, err := approval.NewStore(cfg.Tools.ExecApprovals.AllowlistPath)
	if err != nil {
		return fmt.Errorf("failed to load exec approvals: %w", err)
	}
	var approvalHandler approval.Handler = approval.AutoApproveHandler{}
	if cfg.Tools.ExecApprovals.Enabled {
		approvalHandler = &terminalApprovalHandler{in: stdin, out: out}
	}
	approvals := approval.NewManager(store, approvalHandler)

	registry := tool.NewRegistry()
	if err := coretools.Register(registry, coretools.Options{
		WorkspaceRoot: cfg.WorkspacePath,
		Approvals:     approvals,
	}); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	primary, err := provider.New(cfg.Providers.Primary)
	if err != nil {
		return fmt.Errorf("failed to create primary provider: %w", err)
	}
	var fallback provider.ChatProvider
	if cfg.Providers.Fallback != nil {
		fallback, err = provider.New(*cfg.Providers.Fallback)
		if err != nil {
			return fmt.Errorf("failed to create fallback provider: %w", err)
		}
	}

	ag, err := agent.New(agent.Config{
		Primary:             primary,
		Fallback:            fallback,
		Registry:            registry,
		Sessions:            sessions,
		Skills:              skillSelector,
		Queue:               queue,
		Logger:              zlog,
		BasePrompt:          cfg.Agent.SystemPrompt,
		MaxTurns:            cfg.Agent.MaxTurns,
		MaxTokens:           cfg.Agent.MaxTokens,
		MaxContextTokens:    cfg.Agent.MaxContextTokens,
		CompactionThreshold: cfg.Agent.CompactionThreshold,
		Temperature:         cfg.Agent.Temperature,
		ToolNames:           cfg.Agent.Tools,
		ToolTimeout:         time.Duration(cfg.Agent.ToolTimeoutSeconds) * time.Second,
		Notify: func(n agent.Notice) {
			fmt.Fprintln(out, formatNotice(n))
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	fmt.Fprintf(out, "Lira %s (session %q, provider %s)\n", version, chatSessionKey, primary.Name())
	fmt.Fprintln(out, "Type a message, or /exit to quit.")

	for {
		fmt.Fprint(out, "\nyou> ")
		line, err := stdin.ReadString('\n')
		if err == io.EOF {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}

		result, err := ag.ProcessMessage(cmd.Context(), agent.RunParams{
			SessionKey: chatSessionKey,
			Prompt:     input,
		})
		if err != nil {
			zlog.Error().Err(err).Str("session_key", chatSessionKey).Msg("turn failed")
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}

		fmt.Fprintf(out, "lira> %s\n", result.Response)
	}
}

// formatNotice renders a progress notice for the terminal
func formatNotice(n agent.Notice) string {
	switch n.Type {
	case agent.NoticeToolInvoked:
		return fmt.Sprintf("[running tool: %s]", n.Tool)
	case agent.NoticeProviderFallback:
		return fmt.Sprintf("[provider %s unavailable, switched to %s]", n.FromProvider, n.ToProvider)
	case agent.NoticeContextCompacted:
		return fmt.Sprintf("[conversation compacted: %d -> %d messages, ~%d -> ~%d tokens]",
			n.MessagesBefore, n.MessagesAfter, n.TokensBefore, n.TokensAfter)
	default:
		return fmt.Sprintf("[%s]", n.Type)
	}
}

// terminalApprovalHandler asks the user on the terminal before a shell
// command runs. It shares the REPL's stdin reader; prompts only appear
// while a turn is in flight, when the REPL itself is not reading.
type terminalApprovalHandler struct {
	in  *bufio.Reader
	out io.Writer
}

func (h *terminalApprovalHandler) RequestApproval(ctx context.Context, req approval.Request) (approval.Response, error) {
	fmt.Fprintf(h.out, "\nLira wants to run: %s\n", req.Command)
	if req.Cwd != "" {
		fmt.Fprintf(h.out, "  in: %s\n", req.Cwd)
	}
	fmt.Fprint(h.out, "Allow? [y]es / [a]lways / [N]o: ")

	line, err := h.in.ReadString('\n')
	if err != nil {
		return approval.Response{}, fmt.Errorf("failed to read approval answer: %w", err)
	}

	return parseApprovalAnswer(line), nil
}

func parseApprovalAnswer(line string) approval.Response {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return approval.Response{Approved: true}
	case "a", "always":
		return approval.Response{Approved: true, Remember: true}
	default:
		return approval.Response{Approved: false, Reason: "denied at the prompt"}
	}
}
