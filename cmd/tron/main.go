// Package main provides the CLI entry point for tron, a single-process
// agent runtime: a Session/Event Controller, a Context Manager, a Tool
// Executor, and a Turn Runner driving an Anthropic-backed Provider.
//
// # Basic Usage
//
// Start a new session and run one turn to completion:
//
//	tron run "what's in this directory?"
//
// Resume an existing session with another message:
//
//	tron resume <session-id> "and now summarize it"
//
// List known sessions:
//
//	tron sessions list
//
// # Environment Variables
//
//   - TRON_CONFIG: path to the YAML configuration file (default: tron.yaml)
//   - ANTHROPIC_API_KEY: overrides llm.providers.anthropic.api_key
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tronrun/tron/internal/agent/providers"
	"github.com/tronrun/tron/internal/config"
	"github.com/tronrun/tron/internal/contextmgr"
	"github.com/tronrun/tron/internal/eventbus"
	"github.com/tronrun/tron/internal/observability"
	"github.com/tronrun/tron/internal/sessioncore"
	"github.com/tronrun/tron/internal/toolexec"
	"github.com/tronrun/tron/internal/turnrunner"
	"github.com/tronrun/tron/pkg/models"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tron",
		Short:        "tron - a single-process agent runtime",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildRunCmd(), buildResumeCmd(), buildSessionsCmd())
	return root
}

// runtime bundles the collaborators a session needs to drive a turn; each
// CLI command builds one from config and tears it down when done.
type runtime struct {
	cfg        *config.Config
	logger     *observability.Logger
	controller *sessioncore.Controller
	orch       *turnrunner.Orchestrator
}

func newRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	// Database.URL is repurposed here as a SQLite file path for the event
	// log; empty keeps everything in memory for a single CLI invocation.
	eventLogPath := strings.TrimSpace(cfg.Database.URL)
	var log sessioncore.EventLog
	if eventLogPath == "" {
		log = sessioncore.NewMemoryLog()
	} else {
		sqliteLog, err := sessioncore.NewSQLiteLog(eventLogPath)
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
		log = sqliteLog
	}

	controller := sessioncore.NewController(log, sessioncore.NewMemoryStore(), logger)

	factory := func(ctx context.Context, req turnrunner.SpawnRequest, child *models.Session) (string, error) {
		return runSessionToCompletion(ctx, cfg, logger, controller, child, req.Task)
	}
	orch := turnrunner.NewOrchestrator(controller, factory, nil, logger)

	return &runtime{cfg: cfg, logger: logger, controller: controller, orch: orch}, nil
}

func (rt *runtime) Close() {
	rt.orch.Stop()
	rt.controller.Close()
}

func anthropicAPIKey(cfg *config.Config) string {
	if key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); key != "" {
		return key
	}
	return cfg.LLM.Providers["anthropic"].APIKey
}

func defaultModel(cfg *config.Config) string {
	if m := cfg.LLM.Providers["anthropic"].DefaultModel; m != "" {
		return m
	}
	return "claude-sonnet-4-20250514"
}

// newRunnerForSession builds a Turn Runner for an already-created,
// already-active session.
func newRunnerForSession(cfg *config.Config, logger *observability.Logger, controller *sessioncore.Controller, sessionID, model string) (*turnrunner.Runner, error) {
	anthropic, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:       anthropicAPIKey(cfg),
		DefaultModel: model,
	})
	if err != nil {
		return nil, fmt.Errorf("build anthropic provider: %w", err)
	}
	provider := turnrunner.NewAnthropicStreamProvider(anthropic)

	emitter := eventbus.NewEmitter(sessionID, logger)
	ctxMgr := contextmgr.NewManager(contextmgr.Config{Model: model}, emitter)
	executor := toolexec.NewExecutor(toolexec.NewRegistry(), toolexec.NewHookRegistry(logger), nil, ctxMgr, emitter, logger, toolexec.DefaultConfig())

	runnerCfg := turnrunner.DefaultConfig()
	return turnrunner.New(sessionID, provider, executor, ctxMgr, controller, emitter, logger, nil, runnerCfg), nil
}

// runSessionToCompletion creates, activates, drives to completion, and
// deactivates a session in one shot - used both by the "run" command and as
// the Orchestrator's SessionFactory for spawned subagents.
func runSessionToCompletion(ctx context.Context, cfg *config.Config, logger *observability.Logger, controller *sessioncore.Controller, sess *models.Session, task string) (string, error) {
	if sess.LatestModel == "" {
		sess.LatestModel = defaultModel(cfg)
	}
	if err := controller.CreateSession(ctx, sess); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	controller.Activate(sess)
	defer controller.Deactivate(ctx, sess.ID)

	runner, err := newRunnerForSession(cfg, logger, controller, sess.ID, sess.LatestModel)
	if err != nil {
		return "", err
	}

	userMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Role:      models.RoleUser,
		Content:   task,
		CreatedAt: time.Now().UTC(),
	}

	result, err := runner.RunToCompletion(ctx, userMsg, nil)
	if err != nil {
		return "", err
	}
	return lastAssistantText(result), nil
}

func lastAssistantText(result *turnrunner.LoopResult) string {
	for i := len(result.Turns) - 1; i >= 0; i-- {
		if msg := result.Turns[i].Message; msg != nil && msg.Content != "" {
			return msg.Content
		}
	}
	return ""
}

func buildRunCmd() *cobra.Command {
	var configPath string
	var model string
	var agentID string
	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Start a new session and run one turn to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			sess := &models.Session{
				ID:          uuid.NewString(),
				AgentID:     agentID,
				LatestModel: model,
			}
			text, err := runSessionToCompletion(ctx, rt.cfg, rt.logger, rt.controller, sess, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session: %s\n\n%s\n", sess.ID, text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "tron.yaml", "path to the YAML configuration file")
	cmd.Flags().StringVar(&model, "model", "", "model id (defaults to llm.providers.anthropic.default_model)")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id to attribute the session to")
	return cmd
}

func buildResumeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "resume <session-id> [message]",
		Short: "Resume an existing session with another message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			sessionID := args[0]
			sess, err := rt.controller.GetState(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("load session %s: %w", sessionID, err)
			}
			rt.controller.Activate(sess)
			defer rt.controller.Deactivate(ctx, sess.ID)

			runner, err := newRunnerForSession(rt.cfg, rt.logger, rt.controller, sess.ID, sess.LatestModel)
			if err != nil {
				return err
			}
			userMsg := &models.Message{
				ID:        uuid.NewString(),
				SessionID: sess.ID,
				Role:      models.RoleUser,
				Content:   args[1],
				CreatedAt: time.Now().UTC(),
			}
			result, err := runner.RunToCompletion(ctx, userMsg, nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), lastAssistantText(result))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "tron.yaml", "path to the YAML configuration file")
	return cmd
}

func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect known sessions",
	}
	cmd.AddCommand(buildSessionsListCmd(), buildSessionsEventsCmd())
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			sessions, err := rt.controller.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}
			for _, s := range sessions {
				fmt.Fprintf(out, "%s  agent=%s  model=%s  updated=%s\n", s.ID, s.AgentID, s.LatestModel, s.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "tron.yaml", "path to the YAML configuration file")
	return cmd
}

func buildSessionsEventsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "events <session-id>",
		Short: "Print a session's event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			events, err := rt.controller.GetEvents(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, ev := range events {
				fmt.Fprintf(out, "[%d] %s %s\n", ev.Sequence, ev.Type, string(ev.Payload))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "tron.yaml", "path to the YAML configuration file")
	return cmd
}

// signalContext returns a context canceled on SIGINT/SIGTERM, so a
// mid-stream interruption reaches the Turn Runner's abort handling rather
// than killing the process outright.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
