package models

import (
	"encoding/json"
	"fmt"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// Message is the canonical, provider-neutral conversation entry. A
// conversation is an ordered []Message owned by exactly one Task: it is
// append-only within a turn and mutated only by window truncation between
// turns. Assistant messages may carry tool calls; tool_result messages carry
// the matching results.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// NewUserMessage creates a plain user message.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// NewAssistantMessage creates an assistant message with optional tool calls.
func NewAssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// NewToolResultMessage creates a tool_result message folding one turn's
// results back into the conversation.
func NewToolResultMessage(results ...ToolResult) Message {
	return Message{Role: RoleToolResult, ToolResults: results}
}

// HasToolCalls reports whether the message requests any tool executions.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Chars returns the character footprint of the message: text content plus
// tool-call inputs plus tool-result contents. Used as the token-estimate
// basis (chars / 4).
func (m Message) Chars() int {
	n := len(m.Content)
	for _, tc := range m.ToolCalls {
		n += len(tc.Name) + len(tc.Input)
	}
	for _, tr := range m.ToolResults {
		n += len(tr.Content)
	}
	return n
}

// CheckToolPairing verifies that every tool call in the conversation is
// answered by exactly one tool result sharing its id before the next user or
// assistant message. Returns the first violation found.
func CheckToolPairing(msgs []Message) error {
	open := map[string]bool{}
	for i, msg := range msgs {
		switch msg.Role {
		case RoleUser, RoleAssistant:
			for id := range open {
				return fmt.Errorf("message %d: tool call %s has no result before next %s turn", i, id, msg.Role)
			}
			for _, tc := range msg.ToolCalls {
				if tc.ID == "" {
					return fmt.Errorf("message %d: tool call %q has empty id", i, tc.Name)
				}
				open[tc.ID] = true
			}
		case RoleToolResult:
			for _, tr := range msg.ToolResults {
				if !open[tr.ToolCallID] {
					return fmt.Errorf("message %d: result for unknown or already answered call %s", i, tr.ToolCallID)
				}
				delete(open, tr.ToolCallID)
			}
		}
	}
	for id := range open {
		return fmt.Errorf("tool call %s never answered", id)
	}
	return nil
}

// CloneMessages returns a shallow copy of the slice so truncation can
// rearrange it without aliasing the caller's backing array.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// RawInput is a convenience for building tool-call inputs in tests and
// examples without hand-writing JSON.
func RawInput(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
