package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/steward/internal/agent/providers"
	"github.com/haasonsaas/steward/internal/agent/window"
	"github.com/haasonsaas/steward/internal/audit"
	"github.com/haasonsaas/steward/internal/observability"
	"github.com/haasonsaas/steward/pkg/models"
)

// defaultMaxTurns bounds how many model calls a task gets before it errors.
const defaultMaxTurns = 10

// LoopConfig controls one loop instance. The zero value of optional fields
// picks defaults; Provider must name a registered adapter.
type LoopConfig struct {
	// Provider is the active provider id.
	Provider string

	// Model overrides the active provider's default model. Fallback
	// providers always use their own defaults.
	Model string

	// FallbackChain lists providers to try, in order, when the active one
	// fails with a failover-eligible error.
	FallbackChain []string

	// MaxTurns bounds model calls per task.
	MaxTurns int

	// MaxTokens caps model output per call. Zero uses the adapter default.
	MaxTokens int

	// Temperature, when set, is passed through to the provider.
	Temperature *float64

	// BudgetTokens is the conversation window budget. Zero uses the window
	// manager's default.
	BudgetTokens int

	// EventBuffer sizes each task's event channel.
	EventBuffer int
}

// LoopDeps are the collaborators a loop drives. Providers, Tools, Gate, and
// Executor are required; the rest default to no-ops.
type LoopDeps struct {
	Providers *providers.Registry
	Tools     *Registry
	Gate      *Gate
	Executor  *Executor
	Window    *window.Manager
	Audit     *audit.Logger
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// Loop drives tasks to completion: model calls run serially, one per turn,
// and each turn's tool calls fan out concurrently and are folded back before
// the next call. A loop is stateless across tasks and safe for concurrent
// Run calls.
type Loop struct {
	providers *providers.Registry
	tools     *Registry
	gate      *Gate
	executor  *Executor
	window    *window.Manager
	audit     *audit.Logger
	metrics   *observability.Metrics
	logger    *slog.Logger
	cfg       LoopConfig
}

// NewLoop wires a loop from its dependencies.
func NewLoop(deps LoopDeps, cfg LoopConfig) (*Loop, error) {
	if deps.Providers == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("permission gate is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Provider == "" {
		return nil, fmt.Errorf("active provider is required")
	}
	if _, err := deps.Providers.Get(cfg.Provider); err != nil {
		return nil, err
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if deps.Window == nil {
		deps.Window = window.New(window.Config{})
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNopMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Loop{
		providers: deps.Providers,
		tools:     deps.Tools,
		gate:      deps.Gate,
		executor:  deps.Executor,
		window:    deps.Window,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With("component", "loop"),
		cfg:       cfg,
	}, nil
}

// Run starts driving the task in its own goroutine and returns the task's
// event stream. The stream carries exactly one terminal event and is closed
// after it; the caller must drain the channel. Cancel ctx to stop the task
// cooperatively.
func (l *Loop) Run(ctx context.Context, task *models.Task) <-chan models.Event {
	em := NewEmitter(task.ID, l.cfg.EventBuffer)
	go l.run(ctx, task, em)
	return em.Events()
}

func (l *Loop) run(ctx context.Context, task *models.Task, em *Emitter) {
	l.metrics.TaskStarted()
	l.audit.Log(ctx, &audit.Event{
		Type:   audit.EventTaskStart,
		Level:  audit.LevelInfo,
		TaskID: task.ID,
		Action: "task_started",
	})
	em.TaskStart()
	l.logger.Info("task started", "task_id", task.ID, "provider", l.cfg.Provider)

	status := l.drive(ctx, task, em)

	task.Status = status
	task.CompletedAt = time.Now().UTC()
	l.metrics.TaskEnded(string(status))
	l.audit.Log(ctx, &audit.Event{
		Type:   audit.EventTaskEnd,
		Level:  audit.LevelInfo,
		TaskID: task.ID,
		Action: "task_ended",
		Error:  task.Error,
		Details: map[string]any{
			"status": string(status),
			"turns":  len(task.Turns),
		},
	})
	l.logger.Info("task ended",
		"task_id", task.ID,
		"status", string(status),
		"turns", len(task.Turns))
}

// drive is the turn loop. Every return path has emitted exactly one terminal
// event and set the task's final fields.
func (l *Loop) drive(ctx context.Context, task *models.Task, em *Emitter) models.TaskStatus {
	for turn := 0; ; turn++ {
		if ctx.Err() != nil {
			em.Cancelled()
			return models.TaskCancelled
		}
		if turn >= l.cfg.MaxTurns {
			err := fmt.Errorf("%w: %d", ErrMaxTurns, l.cfg.MaxTurns)
			task.Error = err.Error()
			l.metrics.RecordError("loop", "max_turns")
			em.Fail(err)
			return models.TaskErrored
		}

		prepared, report := l.window.Prepare(task.Messages, l.cfg.BudgetTokens)
		if report.PairsRemoved > 0 || report.ResultCapped {
			task.Messages = prepared
			for i := 0; i < report.PairsRemoved; i++ {
				l.metrics.RecordTruncation("pair_removed")
			}
			if report.ResultCapped {
				l.metrics.RecordTruncation("result_capped")
			}
			l.logger.Debug("conversation truncated",
				"task_id", task.ID,
				"pairs_removed", report.PairsRemoved,
				"result_capped", report.ResultCapped,
				"tokens_before", report.TokensBefore,
				"tokens_after", report.TokensAfter)
		}

		em.TurnStart(turn)
		turnRec := models.Turn{Index: turn, StartedAt: time.Now().UTC()}

		resp, err := l.complete(ctx, task, em)
		if err != nil {
			if ctx.Err() != nil {
				em.Cancelled()
				return models.TaskCancelled
			}
			task.Error = err.Error()
			em.Fail(err)
			return models.TaskErrored
		}

		task.Messages = append(task.Messages, models.NewAssistantMessage(resp.Text, resp.ToolCalls...))
		turnRec.Text = resp.Text
		turnRec.StopReason = resp.StopReason
		turnRec.Usage = resp.Usage
		turnRec.Calls = resp.ToolCalls

		if len(resp.ToolCalls) == 0 {
			turnRec.EndedAt = time.Now().UTC()
			task.Turns = append(task.Turns, turnRec)
			task.FinalText = resp.Text
			em.TurnEnd(resp.Usage)
			em.Complete(resp.Text)
			return models.TaskCompleted
		}

		em.ToolCalls(resp.ToolCalls)

		// Authorization waits run concurrently so one blocked call does not
		// stall its siblings' approval clocks.
		work := make([]Work, len(resp.ToolCalls))
		var wg sync.WaitGroup
		for i, call := range resp.ToolCalls {
			wg.Add(1)
			go func(i int, call models.ToolCall) {
				defer wg.Done()
				work[i] = Work{Call: call, Decision: l.gate.Authorize(ctx, task.ID, call)}
			}(i, call)
		}
		wg.Wait()

		results, states := l.executor.ExecuteAll(ctx, task.ID, work, em)
		if ctx.Err() != nil {
			// Executions that were in flight at cancellation ran to their
			// own timeouts; their results are discarded, not folded.
			em.Cancelled()
			return models.TaskCancelled
		}

		for i := range results {
			if capped, ok := l.window.CapResult(results[i].Content); ok {
				results[i].Content = capped
				l.metrics.RecordTruncation("result_capped")
			}
		}

		task.Messages = append(task.Messages, models.NewToolResultMessage(results...))
		turnRec.Results = results
		turnRec.States = states
		turnRec.EndedAt = time.Now().UTC()
		task.Turns = append(task.Turns, turnRec)

		em.ToolResults(results)
		em.TurnEnd(resp.Usage)
	}
}

// complete runs one model call, trying the active provider first and walking
// the fallback chain on failover-eligible errors. Transient transport errors
// are retried inside the adapters; only definitive failures reach here.
func (l *Loop) complete(ctx context.Context, task *models.Task, em *Emitter) (*providers.Response, error) {
	chain := l.chain()
	var lastErr error

	for i, id := range chain {
		adapter, err := l.providers.Get(id)
		if err != nil {
			lastErr = err
			continue
		}

		req := providers.Request{
			System:      task.System,
			Messages:    task.Messages,
			Tools:       l.tools.DefinitionsFor(KindForProvider(id)),
			MaxTokens:   l.cfg.MaxTokens,
			Temperature: l.cfg.Temperature,
		}
		// The configured model belongs to the active provider; a fallback
		// provider would not recognize it.
		if id == l.cfg.Provider {
			req.Model = l.cfg.Model
		}
		modelLabel := req.Model
		if modelLabel == "" {
			modelLabel = "default"
		}

		start := time.Now()
		resp, err := l.completeOnce(ctx, adapter, req, em)
		elapsed := time.Since(start).Seconds()
		if err != nil {
			l.metrics.RecordModelRequest(id, modelLabel, "error", elapsed, 0, 0)
			if ctx.Err() != nil {
				return nil, err
			}
			if providers.ShouldFailover(err) && i < len(chain)-1 {
				l.metrics.RecordError("provider", failoverReason(err))
				l.logger.Warn("provider failover",
					"task_id", task.ID,
					"from", id,
					"to", chain[i+1],
					"error", err)
				lastErr = err
				continue
			}
			return nil, err
		}

		l.metrics.RecordModelRequest(id, modelLabel, "success", elapsed,
			resp.Usage.InputTokens, resp.Usage.OutputTokens)
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoProvider, lastErr)
	}
	return nil, ErrNoProvider
}

func (l *Loop) completeOnce(ctx context.Context, adapter providers.Adapter, req providers.Request, em *Emitter) (*providers.Response, error) {
	stream, err := adapter.CompleteWithTools(ctx, req)
	if err != nil {
		return nil, err
	}
	return providers.Collect(ctx, stream, func(token string) {
		em.Token(token)
	})
}

// chain returns the providers to try in order: the active provider, then the
// fallback chain with duplicates removed.
func (l *Loop) chain() []string {
	ids := append([]string{l.cfg.Provider}, l.cfg.FallbackChain...)
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func failoverReason(err error) string {
	if perr, ok := providers.AsProviderError(err); ok {
		return string(perr.Reason)
	}
	return "unknown"
}
