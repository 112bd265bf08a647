package providers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"google.golang.org/genai"

	"github.com/haasonsaas/steward/pkg/models"
)

func TestNormalizeGoogleStop(t *testing.T) {
	tests := []struct {
		in   genai.FinishReason
		want string
	}{
		{genai.FinishReasonStop, "end_turn"},
		{genai.FinishReasonMaxTokens, "max_tokens"},
		{genai.FinishReason(""), ""},
		{genai.FinishReason("SAFETY"), "safety"},
	}
	for _, tt := range tests {
		if got := normalizeGoogleStop(tt.in); got != tt.want {
			t.Errorf("normalizeGoogleStop(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGoogleStatusFromMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want int
	}{
		{"googleapi: Error 401: unauthenticated", http.StatusUnauthorized},
		{"permission denied on project", http.StatusForbidden},
		{"model not found", http.StatusNotFound},
		{"RESOURCE EXHAUSTED: quota", http.StatusTooManyRequests},
		{"service unavailable, retry later", http.StatusServiceUnavailable},
		{"internal error occurred", http.StatusInternalServerError},
		{"something else entirely", 0},
	}
	for _, tt := range tests {
		if got := googleStatusFromMessage(errors.New(tt.msg)); got != tt.want {
			t.Errorf("googleStatusFromMessage(%q) = %d, want %d", tt.msg, got, tt.want)
		}
	}
}

func TestConvertGoogleMessagesRoles(t *testing.T) {
	call := models.ToolCall{ID: "c1", Name: "search", Input: json.RawMessage(`{"q":"go"}`)}
	msgs := []models.Message{
		models.NewUserMessage("find go docs"),
		models.NewAssistantMessage("searching", call),
		models.NewToolResultMessage(models.ToolResult{ToolCallID: "c1", Content: `{"hits":3}`}),
	}

	got, err := convertGoogleMessages(msgs)
	if err != nil {
		t.Fatalf("convertGoogleMessages() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}

	if got[0].Role != genai.RoleUser || got[0].Parts[0].Text != "find go docs" {
		t.Errorf("first content = %+v, want user text", got[0])
	}

	if got[1].Role != genai.RoleModel {
		t.Errorf("assistant role = %q, want model", got[1].Role)
	}
	if len(got[1].Parts) != 2 || got[1].Parts[1].FunctionCall == nil {
		t.Fatalf("assistant parts = %+v, want text plus function call", got[1].Parts)
	}
	if got[1].Parts[1].FunctionCall.Name != "search" {
		t.Errorf("call name = %q", got[1].Parts[1].FunctionCall.Name)
	}

	// The function response is correlated by the originating call's name;
	// Gemini has no call ids.
	fr := got[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "search" {
		t.Fatalf("function response = %+v, want name search", fr)
	}
	if fr.Response["hits"] != float64(3) {
		t.Errorf("response payload = %+v", fr.Response)
	}
}

func TestConvertGoogleMessagesWrapsPlainTextResult(t *testing.T) {
	msgs := []models.Message{
		models.NewAssistantMessage("", models.ToolCall{ID: "c1", Name: "read", Input: json.RawMessage(`{}`)}),
		models.NewToolResultMessage(models.ToolResult{ToolCallID: "c1", Content: "plain text", IsError: true}),
	}

	got, err := convertGoogleMessages(msgs)
	if err != nil {
		t.Fatalf("convertGoogleMessages() error = %v", err)
	}

	fr := got[1].Parts[0].FunctionResponse
	if fr == nil {
		t.Fatalf("expected function response part")
	}
	if fr.Response["result"] != "plain text" {
		t.Errorf("result = %+v", fr.Response)
	}
	if fr.Response["error"] != true {
		t.Errorf("error flag missing: %+v", fr.Response)
	}
}

func TestGoogleToolName(t *testing.T) {
	msgs := []models.Message{
		models.NewAssistantMessage("", models.ToolCall{ID: "c9", Name: "list_dir", Input: json.RawMessage(`{}`)}),
	}

	if got := googleToolName("c9", msgs); got != "list_dir" {
		t.Errorf("googleToolName(c9) = %q, want list_dir", got)
	}
	if got := googleToolName("missing", msgs); got != "" {
		t.Errorf("googleToolName(missing) = %q, want empty", got)
	}
}
