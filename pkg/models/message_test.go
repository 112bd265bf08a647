package models

import (
	"strings"
	"testing"
)

func TestCheckToolPairing(t *testing.T) {
	call := ToolCall{ID: "tc-1", Name: "search", Input: RawInput(map[string]string{"q": "go"})}
	result := ToolResult{ToolCallID: "tc-1", Content: "ok"}

	tests := []struct {
		name    string
		msgs    []Message
		wantErr string
	}{
		{
			name: "paired call and result",
			msgs: []Message{
				NewUserMessage("find it"),
				NewAssistantMessage("", call),
				NewToolResultMessage(result),
				NewAssistantMessage("done"),
			},
		},
		{
			name: "call answered after next assistant turn",
			msgs: []Message{
				NewUserMessage("find it"),
				NewAssistantMessage("", call),
				NewAssistantMessage("moving on"),
				NewToolResultMessage(result),
			},
			wantErr: "no result before next",
		},
		{
			name: "result without call",
			msgs: []Message{
				NewUserMessage("hi"),
				NewToolResultMessage(result),
			},
			wantErr: "unknown or already answered",
		},
		{
			name: "duplicate result for one call",
			msgs: []Message{
				NewAssistantMessage("", call),
				NewToolResultMessage(result, result),
			},
			wantErr: "unknown or already answered",
		},
		{
			name: "dangling call at end",
			msgs: []Message{
				NewUserMessage("hi"),
				NewAssistantMessage("", call),
			},
			wantErr: "never answered",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckToolPairing(tt.msgs)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("CheckToolPairing() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("CheckToolPairing() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("CheckToolPairing() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestMessageChars(t *testing.T) {
	msg := Message{
		Role:    RoleAssistant,
		Content: "four",
		ToolCalls: []ToolCall{
			{ID: "1", Name: "ab", Input: RawInput(map[string]int{"n": 1})},
		},
	}
	// 4 content + 2 name + len(`{"n":1}`) input
	want := 4 + 2 + 7
	if got := msg.Chars(); got != want {
		t.Errorf("Chars() = %d, want %d", got, want)
	}

	res := NewToolResultMessage(ToolResult{ToolCallID: "1", Content: "xyz"})
	if got := res.Chars(); got != 3 {
		t.Errorf("Chars() = %d, want 3", got)
	}
}

func TestEventKindTerminal(t *testing.T) {
	for _, k := range []EventKind{EventTaskComplete, EventTaskError, EventTaskCancelled} {
		if !k.Terminal() {
			t.Errorf("%s should be terminal", k)
		}
	}
	for _, k := range []EventKind{EventTaskStart, EventToken, EventToolResults, EventTurnEnd} {
		if k.Terminal() {
			t.Errorf("%s should not be terminal", k)
		}
	}
}

func TestPermissionTierRank(t *testing.T) {
	if TierSafe.Rank() >= TierSensitive.Rank() || TierSensitive.Rank() >= TierDangerous.Rank() {
		t.Fatalf("tier ranks out of order: safe=%d sensitive=%d dangerous=%d",
			TierSafe.Rank(), TierSensitive.Rank(), TierDangerous.Rank())
	}
	if !TierDangerous.Valid() || PermissionTier("wild").Valid() {
		t.Error("tier validity misclassified")
	}
}
