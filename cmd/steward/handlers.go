package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/haasonsaas/steward/internal/agent"
	"github.com/haasonsaas/steward/internal/agent/providers"
	"github.com/haasonsaas/steward/internal/agent/window"
	"github.com/haasonsaas/steward/internal/audit"
	"github.com/haasonsaas/steward/internal/config"
	"github.com/haasonsaas/steward/internal/observability"
	"github.com/haasonsaas/steward/pkg/models"
)

type runOptions struct {
	configPath           string
	provider             string
	model                string
	system               string
	prompt               string
	maxTurns             int
	maxTokens            int
	autoApproveSensitive bool
	jsonOut              bool
	debug                bool
}

// runTask wires the engine from configuration and drives one task to a
// terminal state. The returned error reflects the task outcome so the
// process exit code does too.
func runTask(ctx context.Context, out, errOut io.Writer, opts runOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Logging, opts.debug)
	slog.SetDefault(logger)

	if opts.provider == "" {
		opts.provider = cfg.DefaultProvider
	}
	if opts.maxTurns > 0 {
		cfg.Loop.MaxTurns = opts.maxTurns
	}
	if opts.maxTokens > 0 {
		cfg.Loop.MaxTokens = opts.maxTokens
	}
	if opts.autoApproveSensitive {
		cfg.Gate.AutoApproveSensitive = true
	}

	registry := buildProviderRegistry(cfg, logger)
	if len(registry.IDs()) == 0 {
		return errors.New("no providers available; set ANTHROPIC_API_KEY (or another provider key) or add credentials to the config")
	}
	if _, err := registry.Get(opts.provider); err != nil {
		return fmt.Errorf("provider %q is not available (registered: %s)",
			opts.provider, strings.Join(registry.IDs(), ", "))
	}

	auditLog, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to start audit log: %w", err)
	}
	defer auditLog.Close()

	metrics := observability.NewNopMetrics()
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
		go serveMetrics(cfg.Metrics.Listen, logger)
	}

	tools := agent.NewRegistry(logger)
	if err := registerBuiltins(tools); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	// Approval prompts go to stderr so --json keeps stdout machine-readable.
	broker := newConsoleBroker(errOut, os.Stdin)
	gate := agent.NewGate(gateConfig(cfg), tools, broker, auditLog, metrics, logger)
	broker.bind(gate)

	executor := agent.NewExecutor(agent.ExecutorConfig{
		MaxConcurrency: cfg.Executor.MaxConcurrency,
		Timeout:        cfg.Executor.Timeout,
		Retries:        cfg.Executor.Retries,
	}, tools, auditLog, metrics, logger)

	loop, err := agent.NewLoop(agent.LoopDeps{
		Providers: registry,
		Tools:     tools,
		Gate:      gate,
		Executor:  executor,
		Window: window.New(window.Config{
			KeepRecent:         cfg.Window.KeepRecent,
			MaxToolResultChars: cfg.Window.MaxToolResultChars,
		}),
		Audit:   auditLog,
		Metrics: metrics,
		Logger:  logger,
	}, agent.LoopConfig{
		Provider:      opts.provider,
		Model:         opts.model,
		FallbackChain: cfg.FallbackChain,
		MaxTurns:      cfg.Loop.MaxTurns,
		MaxTokens:     cfg.Loop.MaxTokens,
		Temperature:   cfg.Loop.Temperature,
		BudgetTokens:  cfg.Window.BudgetTokens,
		EventBuffer:   cfg.Loop.EventBuffer,
	})
	if err != nil {
		return fmt.Errorf("failed to build loop: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	task := models.NewTask(opts.system, nil, opts.prompt)
	events := loop.Run(ctx, task)

	if opts.jsonOut {
		return renderJSON(out, events)
	}
	return renderText(out, errOut, events)
}

// listTools prints the registered tool descriptors.
func listTools(out io.Writer, jsonOut bool) error {
	registry := agent.NewRegistry(slog.Default())
	if err := registerBuiltins(registry); err != nil {
		return err
	}

	descriptors := registry.Descriptors()
	if jsonOut {
		type entry struct {
			Name        string          `json:"name"`
			Tier        string          `json:"tier"`
			Description string          `json:"description"`
			Schema      json.RawMessage `json:"schema"`
		}
		entries := make([]entry, 0, len(descriptors))
		for _, d := range descriptors {
			entries = append(entries, entry{
				Name:        d.Name,
				Tier:        string(d.Tier),
				Description: d.Description,
				Schema:      d.Schema,
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	for _, d := range descriptors {
		fmt.Fprintf(out, "%-14s %-10s %s\n", d.Name, d.Tier, d.Description)
	}
	return nil
}

// validateConfig loads a config file and reports the outcome.
func validateConfig(out io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	fmt.Fprintf(out, "Config OK (provider: %s)\n", cfg.DefaultProvider)
	return nil
}

// loadConfig reads the config file, falling back to built-in defaults when
// the default path does not exist. An explicitly given path must exist.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigName {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func newLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := cfg.Level
	if debug {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:     level,
		Format:    cfg.Format,
		AddSource: debug,
	})
}

// buildProviderRegistry constructs an adapter for every provider with usable
// credentials. Keys come from the config or the conventional environment
// variables; bedrock is built only when the config references it because the
// AWS credential chain has no cheap presence check.
func buildProviderRegistry(cfg *config.Config, logger *slog.Logger) *providers.Registry {
	registry := providers.NewRegistry()

	register := func(id string, adapter providers.Adapter, err error) {
		if err != nil {
			logger.Warn("provider unavailable", "provider", id, "error", err)
			return
		}
		if err := registry.Register(adapter); err != nil {
			logger.Warn("provider registration failed", "provider", id, "error", err)
		}
	}

	if key := providerKey(cfg, providers.IDAnthropic); key != "" {
		pc := cfg.Provider(providers.IDAnthropic)
		a, err := providers.NewAnthropic(providers.AnthropicConfig{
			APIKey:       key,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
			MaxRetries:   pc.MaxRetries,
		})
		register(providers.IDAnthropic, a, err)
	}
	if key := providerKey(cfg, providers.IDOpenAI); key != "" {
		pc := cfg.Provider(providers.IDOpenAI)
		a, err := providers.NewOpenAI(providers.OpenAIConfig{
			APIKey:       key,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
			MaxRetries:   pc.MaxRetries,
		})
		register(providers.IDOpenAI, a, err)
	}
	if key := providerKey(cfg, providers.IDGoogle); key != "" {
		pc := cfg.Provider(providers.IDGoogle)
		a, err := providers.NewGoogle(providers.GoogleConfig{
			APIKey:       key,
			DefaultModel: pc.DefaultModel,
			MaxRetries:   pc.MaxRetries,
		})
		register(providers.IDGoogle, a, err)
	}
	if wantsBedrock(cfg) {
		pc := cfg.Provider(providers.IDBedrock)
		a, err := providers.NewBedrock(providers.BedrockConfig{
			Region:          pc.Region,
			AccessKeyID:     pc.AccessKeyID,
			SecretAccessKey: pc.SecretAccessKey,
			SessionToken:    pc.SessionToken,
			DefaultModel:    pc.DefaultModel,
			MaxRetries:      pc.MaxRetries,
		})
		register(providers.IDBedrock, a, err)
	}

	return registry
}

func providerKey(cfg *config.Config, id string) string {
	if key := cfg.Provider(id).APIKey; key != "" {
		return key
	}
	return providers.EnvKey(id)
}

func wantsBedrock(cfg *config.Config) bool {
	if _, ok := cfg.Providers[providers.IDBedrock]; ok {
		return true
	}
	if cfg.DefaultProvider == providers.IDBedrock {
		return true
	}
	for _, id := range cfg.FallbackChain {
		if id == providers.IDBedrock {
			return true
		}
	}
	return false
}

func gateConfig(cfg *config.Config) agent.GateConfig {
	rules := make([]agent.EscalationRule, 0, len(cfg.Gate.Escalations))
	for _, r := range cfg.Gate.Escalations {
		rules = append(rules, agent.EscalationRule{
			ToolPattern:  r.Tool,
			InputPattern: r.Input,
			Tier:         models.PermissionTier(r.Tier),
			Reason:       r.Reason,
		})
	}
	return agent.GateConfig{
		AutoApproveSensitive: cfg.Gate.AutoApproveSensitive,
		ApprovalTTL:          cfg.Gate.ApprovalTTL,
		Escalations:          rules,
	}
}

// renderText streams tokens to stdout and tool activity to stderr.
func renderText(out, errOut io.Writer, events <-chan models.Event) error {
	var taskErr error
	for ev := range events {
		switch ev.Kind {
		case models.EventToken:
			fmt.Fprint(out, ev.Text)
		case models.EventToolCalls:
			for _, c := range ev.Calls {
				fmt.Fprintf(errOut, "\n[tool] %s %s\n", c.Name, compact(string(c.Input), 200))
			}
		case models.EventToolEnd:
			if ev.Result != nil && ev.Result.IsError {
				fmt.Fprintf(errOut, "[tool] %s failed: %s\n", ev.Call.Name, compact(ev.Result.Content, 200))
			} else {
				fmt.Fprintf(errOut, "[tool] %s ok\n", ev.Call.Name)
			}
		case models.EventTaskComplete:
			fmt.Fprintln(out)
		case models.EventTaskError:
			taskErr = errors.New(ev.Err)
		case models.EventTaskCancelled:
			taskErr = errors.New("task cancelled")
		}
	}
	return taskErr
}

// renderJSON writes one event per line.
func renderJSON(out io.Writer, events <-chan models.Event) error {
	enc := json.NewEncoder(out)
	var taskErr error
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
		switch ev.Kind {
		case models.EventTaskError:
			taskErr = errors.New(ev.Err)
		case models.EventTaskCancelled:
			taskErr = errors.New("task cancelled")
		}
	}
	return taskErr
}

func serveMetrics(listen string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	logger.Info("metrics listener started", "addr", listen)
	if err := http.ListenAndServe(listen, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics listener stopped", "error", err)
	}
}

func compact(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// consoleBroker prompts on the terminal for blocked tool calls and feeds the
// answer back to the gate. Prompts are serialized so concurrent approval
// requests do not interleave on the terminal; an unanswered prompt is denied
// by the gate when the approval window expires.
type consoleBroker struct {
	out  io.Writer
	in   *bufio.Reader
	mu   sync.Mutex
	gate *agent.Gate
}

func newConsoleBroker(out io.Writer, in io.Reader) *consoleBroker {
	return &consoleBroker{out: out, in: bufio.NewReader(in)}
}

// bind attaches the gate after construction; the gate needs the broker first.
func (b *consoleBroker) bind(g *agent.Gate) { b.gate = g }

// Publish implements agent.Broker. It returns immediately; the gate is
// already waiting on the resolution channel.
func (b *consoleBroker) Publish(req models.ApprovalRequest) {
	go b.prompt(req)
}

func (b *consoleBroker) prompt(req models.ApprovalRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fmt.Fprintf(b.out, "\napproval required: %s (%s)\n", req.Call.Name, req.Tier)
	if req.Reason != "" {
		fmt.Fprintf(b.out, "  reason: %s\n", req.Reason)
	}
	fmt.Fprintf(b.out, "  input:  %s\n", compact(string(req.Call.Input), 400))
	fmt.Fprintf(b.out, "approve? [y/N]: ")

	line, err := b.in.ReadString('\n')
	if err != nil {
		b.gate.Resolve(req.ID, false)
		return
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	b.gate.Resolve(req.ID, answer == "y" || answer == "yes")
}
