// Package audit provides a structured, buffered audit trail of permission
// classifications, approval decisions, and tool dispatches. Records are
// written as JSON through log/slog; sensitive parameter values are redacted
// by name pattern before they reach the log.
package audit

import (
	"time"
)

// EventType categorizes audit events.
type EventType string

const (
	EventToolClassified EventType = "tool.classified"
	EventToolDispatch   EventType = "tool.dispatch"
	EventToolCompletion EventType = "tool.completion"
	EventToolDenied     EventType = "tool.denied"

	EventApprovalRequested EventType = "approval.requested"
	EventApprovalResolved  EventType = "approval.resolved"
	EventApprovalTimeout   EventType = "approval.timeout"

	EventTaskStart EventType = "task.start"
	EventTaskEnd   EventType = "task.end"
)

// Level represents audit log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is a single audit record. TaskID is always set by callers so records
// correlate without any ambient state.
type Event struct {
	// ID is a unique identifier for this audit event.
	ID string `json:"id"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// Level is the severity level.
	Level Level `json:"level"`

	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// TaskID identifies the task that produced the event.
	TaskID string `json:"task_id,omitempty"`

	// ToolName identifies the tool for tool-related events.
	ToolName string `json:"tool_name,omitempty"`

	// ToolCallID links to a specific tool call.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Tier is the resolved permission tier, when relevant.
	Tier string `json:"tier,omitempty"`

	// Action describes what happened.
	Action string `json:"action"`

	// Details contains event-specific structured data.
	Details map[string]any `json:"details,omitempty"`

	// Duration is the time taken for timed operations.
	Duration time.Duration `json:"duration,omitempty"`

	// Error contains error information if applicable.
	Error string `json:"error,omitempty"`
}
