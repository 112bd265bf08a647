package models

import "time"

// EventKind names one entry in a task's progress stream.
type EventKind string

const (
	EventTaskStart     EventKind = "task_start"
	EventTurnStart     EventKind = "turn_start"
	EventToken         EventKind = "token"
	EventToolCalls     EventKind = "tool_calls"
	EventToolStart     EventKind = "tool_start"
	EventToolEnd       EventKind = "tool_end"
	EventToolResults   EventKind = "tool_results"
	EventTurnEnd       EventKind = "turn_end"
	EventTaskComplete  EventKind = "task_complete"
	EventTaskError     EventKind = "task_error"
	EventTaskCancelled EventKind = "task_cancelled"
)

// Terminal reports whether the kind ends the stream. A task emits exactly
// one terminal event and nothing after it.
func (k EventKind) Terminal() bool {
	return k == EventTaskComplete || k == EventTaskError || k == EventTaskCancelled
}

// Event is one append-only record in a task's ordered progress stream. Only
// the fields relevant to Kind are set; events are never revised once
// emitted.
type Event struct {
	Kind    EventKind    `json:"kind"`
	TaskID  string       `json:"task_id"`
	Turn    int          `json:"turn,omitempty"`
	Time    time.Time    `json:"time"`
	Text    string       `json:"text,omitempty"`    // token delta, or final text on task_complete
	Calls   []ToolCall   `json:"calls,omitempty"`   // tool_calls
	Call    *ToolCall    `json:"call,omitempty"`    // tool_start, tool_end
	Result  *ToolResult  `json:"result,omitempty"`  // tool_end
	Results []ToolResult `json:"results,omitempty"` // tool_results
	Status  TaskStatus   `json:"status,omitempty"`  // terminal events
	Err     string       `json:"error,omitempty"`   // task_error
	Usage   *Usage       `json:"usage,omitempty"`   // turn_end
}
