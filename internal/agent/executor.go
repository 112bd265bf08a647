package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/steward/internal/audit"
	"github.com/haasonsaas/steward/internal/backoff"
	"github.com/haasonsaas/steward/internal/observability"
	"github.com/haasonsaas/steward/pkg/models"
)

const (
	// defaultMaxConcurrency bounds the tool fan-out per turn.
	defaultMaxConcurrency = 5

	// defaultToolTimeout bounds one execution attempt.
	defaultToolTimeout = 30 * time.Second
)

// ExecutorConfig controls concurrency, per-attempt timeouts, and retries.
// Retries counts extra attempts for transient failures; zero disables them.
type ExecutorConfig struct {
	MaxConcurrency int
	Timeout        time.Duration
	Retries        int
}

// Work is one gated call handed to the executor: the call itself plus the
// gate's decision. Denied calls synthesize an error result without running.
type Work struct {
	Call     models.ToolCall
	Decision Decision
}

// Executor runs a turn's approved tool calls concurrently under a semaphore.
// Each call gets a per-attempt timeout and bounded retries; failures become
// error results instead of aborting the turn, so one bad call never starves
// its siblings of their results.
type Executor struct {
	registry *Registry
	cfg      ExecutorConfig
	policy   backoff.Policy
	audit    *audit.Logger
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewExecutor creates a tool executor. Zero config fields pick defaults.
func NewExecutor(cfg ExecutorConfig, registry *Registry, auditLog *audit.Logger, metrics *observability.Metrics, logger *slog.Logger) *Executor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultToolTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if auditLog == nil {
		auditLog = audit.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		cfg:      cfg,
		policy:   backoff.ToolPolicy(),
		audit:    auditLog,
		metrics:  metrics,
		logger:   logger.With("component", "executor"),
	}
}

// ExecuteAll runs every approved call concurrently and returns one result
// per call, index-aligned with work. Approved calls that are still queued
// when ctx is cancelled never start; calls already running are detached from
// the cancellation and finish on their own timeout.
func (e *Executor) ExecuteAll(ctx context.Context, taskID string, work []Work, events *Emitter) ([]models.ToolResult, map[string]models.CallState) {
	results := make([]models.ToolResult, len(work))
	sem := make(chan struct{}, e.cfg.MaxConcurrency)
	var wg sync.WaitGroup

	for i := range work {
		w := work[i]
		if !w.Decision.Approved {
			results[i] = deniedResult(w)
			e.metrics.RecordToolExecution(w.Call.Name, "denied", 0)
			continue
		}
		wg.Add(1)
		go func(i int, w Work) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = models.ToolResult{
					ToolCallID: w.Call.ID,
					Content:    "task cancelled before execution",
					IsError:    true,
				}
				return
			}
			results[i] = e.runOne(context.WithoutCancel(ctx), taskID, w, events)
		}(i, w)
	}
	wg.Wait()

	states := make(map[string]models.CallState, len(work))
	for i, w := range work {
		switch {
		case !w.Decision.Approved:
			states[w.Call.ID] = models.CallDenied
		case results[i].IsError:
			states[w.Call.ID] = models.CallFailed
		default:
			states[w.Call.ID] = models.CallSucceeded
		}
	}
	return results, states
}

// runOne executes a single approved call: dispatch intent goes to the audit
// trail before the tool runs, attempts are bounded by the per-attempt
// timeout, and only transient failures retry.
func (e *Executor) runOne(ctx context.Context, taskID string, w Work, events *Emitter) models.ToolResult {
	call := w.Call
	events.ToolStart(call)
	e.audit.LogDispatch(ctx, taskID, call, w.Decision.Tier, w.Decision.AutoApproved)

	start := time.Now()
	var outcome *ToolOutcome
	err := backoff.Retry(ctx, e.policy, e.cfg.Retries+1, retryableToolError, func(int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
		out, derr := e.registry.Dispatch(attemptCtx, call)
		if derr != nil {
			return derr
		}
		outcome = out
		return nil
	})
	duration := time.Since(start)

	result := models.ToolResult{ToolCallID: call.ID}
	if err != nil {
		result.Content = err.Error()
		result.IsError = true
		e.metrics.RecordToolExecution(call.Name, "error", duration.Seconds())
		e.audit.LogCompletion(ctx, taskID, call, false, result.Content, duration)
		e.logger.Warn("tool failed",
			"task_id", taskID,
			"tool", call.Name,
			"call_id", call.ID,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		result.Content = outcome.Content
		e.metrics.RecordToolExecution(call.Name, "success", duration.Seconds())
		e.audit.LogCompletion(ctx, taskID, call, true, outcome.Content, duration)
		e.logger.Debug("tool succeeded",
			"task_id", taskID,
			"tool", call.Name,
			"call_id", call.ID,
			"duration_ms", duration.Milliseconds())
	}
	events.ToolEnd(call, result)
	return result
}

// deniedResult synthesizes the error result for a call the gate rejected.
func deniedResult(w Work) models.ToolResult {
	content := w.Decision.Reason
	if content == "" {
		content = "denied by user"
	}
	return models.ToolResult{
		ToolCallID: w.Call.ID,
		Content:    content,
		IsError:    true,
	}
}

// retryableToolError limits retries to failures that might clear on another
// attempt: per-attempt timeouts and errors a tool explicitly marked
// transient. Unknown tools and invalid input fail identically every time,
// and a panicking tool is not trusted to run again.
func retryableToolError(err error) bool {
	if errors.Is(err, ErrToolNotFound) || errors.Is(err, ErrToolInputInvalid) || errors.Is(err, ErrToolPanic) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || IsTransient(err)
}
