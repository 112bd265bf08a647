package models

import "encoding/json"

// ToolCall represents a model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the outcome of a tool call folded back into the
// conversation. IsError marks failures (including denials); the loop never
// surfaces executor failures any other way.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// CallState tracks a tool call through gating and execution. Denied calls
// terminate without running.
type CallState string

const (
	CallPending   CallState = "pending"
	CallApproved  CallState = "approved"
	CallDenied    CallState = "denied"
	CallRunning   CallState = "running"
	CallSucceeded CallState = "succeeded"
	CallFailed    CallState = "failed"
)

// Terminal reports whether the state is final for the call.
func (s CallState) Terminal() bool {
	return s == CallDenied || s == CallSucceeded || s == CallFailed
}

// ToolDefinition is the provider-neutral tool shape handed to model
// adapters. Schema is a JSON Schema document; for provider kinds that cannot
// parse nested parameter schemas it is the flattened variant.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema"`
}
