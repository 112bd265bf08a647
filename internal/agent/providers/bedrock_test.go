package providers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/haasonsaas/steward/pkg/models"
)

func TestBedrockStatusFromCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"ThrottlingException", http.StatusTooManyRequests},
		{"ServiceUnavailableException", http.StatusServiceUnavailable},
		{"ModelTimeoutException", http.StatusRequestTimeout},
		{"AccessDeniedException", http.StatusForbidden},
		{"ExpiredTokenException", http.StatusUnauthorized},
		{"ResourceNotFoundException", http.StatusNotFound},
		{"ValidationException", http.StatusBadRequest},
		{"InternalServerException", http.StatusInternalServerError},
		{"SomethingNovel", 0},
	}
	for _, tt := range tests {
		if got := bedrockStatusFromCode(tt.code); got != tt.want {
			t.Errorf("bedrockStatusFromCode(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestConvertBedrockMessagesShapes(t *testing.T) {
	call := models.ToolCall{ID: "c1", Name: "search", Input: json.RawMessage(`{"q":"go"}`)}
	msgs := []models.Message{
		models.NewUserMessage("find go docs"),
		models.NewAssistantMessage("searching", call),
		models.NewToolResultMessage(models.ToolResult{ToolCallID: "c1", Content: "golang.org", IsError: true}),
	}

	got, err := convertBedrockMessages(msgs)
	if err != nil {
		t.Fatalf("convertBedrockMessages() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}

	if got[0].Role != types.ConversationRoleUser {
		t.Errorf("first role = %q, want user", got[0].Role)
	}
	if text, ok := got[0].Content[0].(*types.ContentBlockMemberText); !ok || text.Value != "find go docs" {
		t.Errorf("first block = %T, want text", got[0].Content[0])
	}

	if got[1].Role != types.ConversationRoleAssistant {
		t.Errorf("assistant role = %q", got[1].Role)
	}
	if len(got[1].Content) != 2 {
		t.Fatalf("assistant blocks = %d, want text plus tool use", len(got[1].Content))
	}
	use, ok := got[1].Content[1].(*types.ContentBlockMemberToolUse)
	if !ok {
		t.Fatalf("second assistant block = %T, want tool use", got[1].Content[1])
	}
	if aws.ToString(use.Value.ToolUseId) != "c1" || aws.ToString(use.Value.Name) != "search" {
		t.Errorf("tool use = %s/%s", aws.ToString(use.Value.ToolUseId), aws.ToString(use.Value.Name))
	}

	// Tool results ride a user-role message.
	if got[2].Role != types.ConversationRoleUser {
		t.Errorf("result role = %q, want user", got[2].Role)
	}
	result, ok := got[2].Content[0].(*types.ContentBlockMemberToolResult)
	if !ok {
		t.Fatalf("result block = %T", got[2].Content[0])
	}
	if aws.ToString(result.Value.ToolUseId) != "c1" {
		t.Errorf("result id = %q", aws.ToString(result.Value.ToolUseId))
	}
	if result.Value.Status != types.ToolResultStatusError {
		t.Errorf("result status = %q, want error", result.Value.Status)
	}
}

func TestConvertBedrockMessagesRejectsBadToolInput(t *testing.T) {
	msgs := []models.Message{
		models.NewAssistantMessage("", models.ToolCall{ID: "c1", Name: "x", Input: json.RawMessage(`{broken`)}),
	}

	_, err := convertBedrockMessages(msgs)
	if err == nil || !strings.Contains(err.Error(), "c1") {
		t.Fatalf("expected error naming the call, got %v", err)
	}
}
