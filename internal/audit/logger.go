package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/steward/pkg/models"
)

// Config controls audit logging behavior.
type Config struct {
	// Enabled turns the audit trail on. A disabled logger is a no-op.
	Enabled bool `yaml:"enabled"`

	// Level is the minimum severity to record. Default: info.
	Level Level `yaml:"level"`

	// Output selects the destination: "stdout", "stderr", or "file:<path>".
	// Default: stderr, keeping the trail off the task's stdout stream.
	Output string `yaml:"output"`

	// BufferSize is the async event buffer capacity. Default: 1000.
	BufferSize int `yaml:"buffer_size"`

	// FlushInterval bounds how long an event sits in the buffer. Default: 5s.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// MaxFieldSize truncates oversized detail fields. Default: 1024.
	MaxFieldSize int `yaml:"max_field_size"`

	// IncludeInput records redacted tool inputs verbatim. When false only a
	// content hash is recorded.
	IncludeInput bool `yaml:"include_input"`

	// IncludeOutput records tool outputs (truncated). When false only the
	// output size is recorded.
	IncludeOutput bool `yaml:"include_output"`
}

// Logger writes audit events asynchronously through a buffered channel; a
// background goroutine drains it to the slog handler. Close flushes whatever
// remains.
type Logger struct {
	config  Config
	output  io.WriteCloser
	slogger *slog.Logger
	buffer  chan *Event
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewNop returns a disabled logger whose methods all no-op. Useful as the
// default in tests and when auditing is turned off.
func NewNop() *Logger {
	return &Logger{}
}

// NewLogger creates an audit logger from config.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	if config.Level == "" {
		config.Level = LevelInfo
	}
	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.MaxFieldSize == 0 {
		config.MaxFieldSize = 1024
	}

	var output io.WriteCloser
	switch {
	case config.Output == "stderr" || config.Output == "":
		output = os.Stderr
	case config.Output == "stdout":
		output = os.Stdout
	case strings.HasPrefix(config.Output, "file:"):
		path := strings.TrimPrefix(config.Output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("unsupported audit output: %s", config.Output)
	}

	l := &Logger{
		config: config,
		output: output,
		buffer: make(chan *Event, config.BufferSize),
		done:   make(chan struct{}),
	}
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: l.slogLevel()})
	l.slogger = slog.New(handler).With("component", "audit")

	l.wg.Add(1)
	go l.writeLoop()

	return l, nil
}

// Close flushes remaining events and closes the logger.
func (l *Logger) Close() error {
	if !l.config.Enabled {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	if l.output != os.Stdout && l.output != os.Stderr {
		return l.output.Close()
	}
	return nil
}

// Log records an audit event.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if !l.config.Enabled {
		return
	}
	if !l.shouldLog(event.Level) {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case l.buffer <- event:
	default:
		// Buffer full: write synchronously rather than drop.
		l.writeEvent(event)
	}
}

// LogClassification records a permission classification. The call input is
// redacted before anything is written.
func (l *Logger) LogClassification(ctx context.Context, taskID string, call models.ToolCall, tier models.PermissionTier, reason string, escalated bool) {
	details := map[string]any{
		"reason":    reason,
		"escalated": escalated,
	}
	l.attachInput(details, call.Input)
	l.Log(ctx, &Event{
		Type:       EventToolClassified,
		Level:      LevelInfo,
		TaskID:     taskID,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Tier:       string(tier),
		Action:     "tool_classified",
		Details:    details,
	})
}

// LogDispatch records intent to execute a call. It is written before the
// executor is invoked so a crash mid-call still leaves the intent on record.
func (l *Logger) LogDispatch(ctx context.Context, taskID string, call models.ToolCall, tier models.PermissionTier, autoApproved bool) {
	details := map[string]any{
		"auto_approved": autoApproved,
	}
	l.attachInput(details, call.Input)
	l.Log(ctx, &Event{
		Type:       EventToolDispatch,
		Level:      LevelInfo,
		TaskID:     taskID,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Tier:       string(tier),
		Action:     "tool_dispatch",
		Details:    details,
	})
}

// LogCompletion records a finished tool execution.
func (l *Logger) LogCompletion(ctx context.Context, taskID string, call models.ToolCall, success bool, output string, duration time.Duration) {
	level := LevelInfo
	if !success {
		level = LevelWarn
	}
	details := map[string]any{
		"success":     success,
		"duration_ms": duration.Milliseconds(),
	}
	if l.config.IncludeOutput && output != "" {
		details["output"] = l.truncate(output)
	} else if output != "" {
		details["output_size"] = len(output)
	}
	l.Log(ctx, &Event{
		Type:       EventToolCompletion,
		Level:      level,
		TaskID:     taskID,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Action:     "tool_completed",
		Details:    details,
		Duration:   duration,
	})
}

// LogDenied records a call that was denied (by decision or timeout) and
// therefore never ran.
func (l *Logger) LogDenied(ctx context.Context, taskID string, call models.ToolCall, tier models.PermissionTier, reason string) {
	l.Log(ctx, &Event{
		Type:       EventToolDenied,
		Level:      LevelWarn,
		TaskID:     taskID,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Tier:       string(tier),
		Action:     "tool_denied",
		Details:    map[string]any{"reason": reason},
	})
}

// LogApprovalRequested records the publication of an approval request.
func (l *Logger) LogApprovalRequested(ctx context.Context, req models.ApprovalRequest) {
	l.Log(ctx, &Event{
		Type:       EventApprovalRequested,
		Level:      LevelInfo,
		TaskID:     req.TaskID,
		ToolName:   req.Call.Name,
		ToolCallID: req.Call.ID,
		Tier:       string(req.Tier),
		Action:     "approval_requested",
		Details: map[string]any{
			"request_id": req.ID,
			"expires_at": req.ExpiresAt.Format(time.RFC3339),
		},
	})
}

// LogApprovalResolved records how an approval request ended. state is
// approved, denied, or timed_out.
func (l *Logger) LogApprovalResolved(ctx context.Context, taskID, requestID string, state models.ApprovalState) {
	typ := EventApprovalResolved
	level := LevelInfo
	if state == models.ApprovalTimedOut {
		typ = EventApprovalTimeout
		level = LevelWarn
	}
	l.Log(ctx, &Event{
		Type:   typ,
		Level:  level,
		TaskID: taskID,
		Action: "approval_resolved",
		Details: map[string]any{
			"request_id": requestID,
			"state":      string(state),
		},
	})
}

func (l *Logger) attachInput(details map[string]any, input json.RawMessage) {
	if input == nil {
		return
	}
	if l.config.IncludeInput {
		details["input"] = l.truncate(string(Redact(input)))
		return
	}
	details["input_hash"] = hashString(string(input))
}

func (l *Logger) truncate(s string) string {
	if len(s) > l.config.MaxFieldSize {
		return s[:l.config.MaxFieldSize] + "...(truncated)"
	}
	return s
}

// writeLoop drains buffered events until Close.
func (l *Logger) writeLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-ticker.C:
			l.flushBuffer()
		case <-l.done:
			l.flushBuffer()
			return
		}
	}
}

func (l *Logger) flushBuffer() {
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		default:
			return
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"audit_type", event.Type,
		"action", event.Action,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	}
	if event.TaskID != "" {
		attrs = append(attrs, "task_id", event.TaskID)
	}
	if event.ToolName != "" {
		attrs = append(attrs, "tool_name", event.ToolName)
	}
	if event.ToolCallID != "" {
		attrs = append(attrs, "tool_call_id", event.ToolCallID)
	}
	if event.Tier != "" {
		attrs = append(attrs, "tier", event.Tier)
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	switch event.Level {
	case LevelDebug:
		l.slogger.Debug("audit", attrs...)
	case LevelWarn:
		l.slogger.Warn("audit", attrs...)
	case LevelError:
		l.slogger.Error("audit", attrs...)
	default:
		l.slogger.Info("audit", attrs...)
	}
}

func (l *Logger) shouldLog(level Level) bool {
	ranks := map[Level]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3}
	return ranks[level] >= ranks[l.config.Level]
}

func (l *Logger) slogLevel() slog.Level {
	switch l.config.Level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
