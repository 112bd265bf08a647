package window

import (
	"strings"
	"testing"

	"github.com/haasonsaas/steward/pkg/models"
)

func toolPair(id string, resultSize int) []models.Message {
	return []models.Message{
		models.NewAssistantMessage("", models.ToolCall{
			ID:    id,
			Name:  "fetch",
			Input: models.RawInput(map[string]string{"url": "https://example.com/" + id}),
		}),
		models.NewToolResultMessage(models.ToolResult{
			ToolCallID: id,
			Content:    strings.Repeat("x", resultSize),
		}),
	}
}

func hasResultFor(msgs []models.Message, id string) bool {
	for _, msg := range msgs {
		for _, tr := range msg.ToolResults {
			if tr.ToolCallID == id {
				return true
			}
		}
	}
	return false
}

func TestPrepareUnderBudgetUnchanged(t *testing.T) {
	msgs := []models.Message{
		models.NewUserMessage("hello"),
		models.NewAssistantMessage("hi there"),
	}

	mgr := New(Config{})
	out, report := mgr.Prepare(msgs, 1000)

	if len(out) != 2 {
		t.Fatalf("got %d messages, want 2", len(out))
	}
	if report.PairsRemoved != 0 || report.ResultCapped {
		t.Errorf("unexpected truncation: %+v", report)
	}
	if report.TokensBefore != report.TokensAfter {
		t.Errorf("estimate changed without truncation: %+v", report)
	}
}

func TestPrepareRemovesOldestPairsFirst(t *testing.T) {
	msgs := []models.Message{models.NewUserMessage(strings.Repeat("u", 4000))}
	ids := []string{"call_0", "call_1", "call_2", "call_3", "call_4", "call_5"}
	for _, id := range ids {
		msgs = append(msgs, toolPair(id, 40000)...)
	}
	msgs = append(msgs, models.NewAssistantMessage(strings.Repeat("a", 400)))

	mgr := New(Config{KeepRecent: 4})
	out, report := mgr.Prepare(msgs, 45000)

	if report.PairsRemoved != 2 {
		t.Fatalf("PairsRemoved = %d, want 2 (report %+v)", report.PairsRemoved, report)
	}
	if report.TokensAfter > 45000 {
		t.Errorf("still over budget: %+v", report)
	}
	if len(out) != len(msgs)-4 {
		t.Errorf("got %d messages, want %d", len(out), len(msgs)-4)
	}

	if out[0].Role != models.RoleUser || out[0].Content != msgs[0].Content {
		t.Error("first user message was not preserved")
	}
	for _, id := range []string{"call_0", "call_1"} {
		if hasResultFor(out, id) {
			t.Errorf("%s should have been removed", id)
		}
	}
	for _, id := range []string{"call_2", "call_3", "call_4", "call_5"} {
		if !hasResultFor(out, id) {
			t.Errorf("%s should have been kept", id)
		}
	}
	if err := models.CheckToolPairing(out); err != nil {
		t.Errorf("truncation split a tool pair: %v", err)
	}
}

func TestPrepareNeverSplitsPairAtProtectedBoundary(t *testing.T) {
	// The newest pair's result sits inside the protected tail, so the pair
	// must survive even though the budget is still exceeded.
	msgs := []models.Message{models.NewUserMessage(strings.Repeat("u", 8000))}
	msgs = append(msgs, toolPair("call_old", 40000)...)
	msgs = append(msgs, toolPair("call_new", 40000)...)
	msgs = append(msgs, models.NewAssistantMessage("done"))

	mgr := New(Config{KeepRecent: 3})
	out, report := mgr.Prepare(msgs, 1000)

	if report.PairsRemoved != 1 {
		t.Fatalf("PairsRemoved = %d, want 1", report.PairsRemoved)
	}
	if hasResultFor(out, "call_old") {
		t.Error("oldest pair should have been removed")
	}
	if !hasResultFor(out, "call_new") {
		t.Error("protected pair was removed")
	}
	if err := models.CheckToolPairing(out); err != nil {
		t.Errorf("truncation split a tool pair: %v", err)
	}
}

func TestPrepareCapsNewestResultAsLastResort(t *testing.T) {
	msgs := []models.Message{
		models.NewUserMessage(strings.Repeat("u", 2000)),
		models.NewAssistantMessage("", models.ToolCall{ID: "call_1", Name: "read", Input: models.RawInput(map[string]string{"path": "big.txt"})}),
		models.NewToolResultMessage(models.ToolResult{ToolCallID: "call_1", Content: strings.Repeat("r", 40000)}),
		models.NewAssistantMessage("working on it"),
	}
	original := msgs[2].ToolResults[0].Content

	mgr := New(Config{KeepRecent: 4})
	out, report := mgr.Prepare(msgs, 3000)

	if report.PairsRemoved != 0 {
		t.Fatalf("PairsRemoved = %d, want 0", report.PairsRemoved)
	}
	if !report.ResultCapped {
		t.Fatal("expected the newest tool result to be capped")
	}
	if len(out) != 4 {
		t.Fatalf("message count changed: %d", len(out))
	}

	capped := out[2].ToolResults[0].Content
	if !strings.HasSuffix(capped, truncationMarker) {
		t.Errorf("capped content missing marker: ...%q", capped[max(0, len(capped)-30):])
	}
	if len(capped) >= len(original) {
		t.Errorf("content not shortened: %d >= %d", len(capped), len(original))
	}
	if report.TokensAfter > 3000 {
		t.Errorf("still over budget after capping: %+v", report)
	}

	if msgs[2].ToolResults[0].Content != original {
		t.Error("input conversation was mutated")
	}
}

func TestCapResult(t *testing.T) {
	mgr := New(Config{MaxToolResultChars: 100})

	short, capped := mgr.CapResult("small result")
	if capped || short != "small result" {
		t.Errorf("short content changed: %q capped=%v", short, capped)
	}

	long, capped := mgr.CapResult(strings.Repeat("z", 500))
	if !capped {
		t.Fatal("expected capping")
	}
	if !strings.HasSuffix(long, truncationMarker) {
		t.Errorf("missing marker: %q", long[len(long)-20:])
	}
	if len(long) != 100+len(truncationMarker) {
		t.Errorf("capped length = %d", len(long))
	}
}

func TestEstimateTokens(t *testing.T) {
	msgs := []models.Message{
		models.NewUserMessage(strings.Repeat("a", 400)),
		models.NewToolResultMessage(models.ToolResult{ToolCallID: "c", Content: strings.Repeat("b", 400)}),
	}
	if got := EstimateTokens(msgs); got != 200 {
		t.Errorf("EstimateTokens = %d, want 200", got)
	}
}
