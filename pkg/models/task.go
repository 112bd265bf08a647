package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
	TaskErrored   TaskStatus = "errored"
)

// Task is one user request and the turns taken to fulfil it. A task owns its
// conversation exclusively; only the loop driving the task mutates it.
type Task struct {
	ID          string     `json:"id"`
	System      string     `json:"system,omitempty"`
	Status      TaskStatus `json:"status"`
	Messages    []Message  `json:"messages"`
	Turns       []Turn     `json:"turns,omitempty"`
	FinalText   string     `json:"final_text,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt time.Time  `json:"completed_at,omitzero"`
}

// NewTask seeds a running task from a system prompt, prior session messages,
// and the new user request. The request becomes the last user message.
func NewTask(system string, prior []Message, prompt string) *Task {
	msgs := make([]Message, 0, len(prior)+1)
	msgs = append(msgs, prior...)
	msgs = append(msgs, NewUserMessage(prompt))
	return &Task{
		ID:        uuid.NewString(),
		System:    system,
		Status:    TaskRunning,
		Messages:  msgs,
		CreatedAt: time.Now().UTC(),
	}
}

// Turn records one loop iteration: the raw model response, the tool calls it
// requested, and their resolved results.
type Turn struct {
	Index      int                  `json:"index"`
	Text       string               `json:"text,omitempty"`
	StopReason string               `json:"stop_reason,omitempty"`
	Calls      []ToolCall           `json:"calls,omitempty"`
	States     map[string]CallState `json:"states,omitempty"`
	Results    []ToolResult         `json:"results,omitempty"`
	Usage      Usage                `json:"usage,omitzero"`
	StartedAt  time.Time            `json:"started_at"`
	EndedAt    time.Time            `json:"ended_at,omitzero"`
}

// Usage is the token accounting reported by a provider for one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Add accumulates usage across calls.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
