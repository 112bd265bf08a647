package models

import "testing"

func TestNewTaskSeedsConversation(t *testing.T) {
	prior := []Message{
		NewUserMessage("earlier question"),
		NewAssistantMessage("earlier answer"),
	}

	task := NewTask("be terse", prior, "new request")
	if task.ID == "" {
		t.Fatalf("expected a task id")
	}
	if task.Status != TaskRunning {
		t.Errorf("Status = %q, want running", task.Status)
	}
	if task.System != "be terse" {
		t.Errorf("System = %q", task.System)
	}
	if len(task.Messages) != 3 {
		t.Fatalf("Messages = %d, want 3", len(task.Messages))
	}
	last := task.Messages[2]
	if last.Role != RoleUser || last.Content != "new request" {
		t.Errorf("last message = %+v, want the new request", last)
	}
	if task.CreatedAt.IsZero() {
		t.Errorf("CreatedAt not set")
	}
}

func TestUsageAdd(t *testing.T) {
	var total Usage
	total.Add(Usage{InputTokens: 10, OutputTokens: 5})
	total.Add(Usage{InputTokens: 7})

	if total.InputTokens != 17 || total.OutputTokens != 5 {
		t.Errorf("total = %+v, want 17/5", total)
	}
}

func TestCloneMessagesIsIndependent(t *testing.T) {
	orig := []Message{NewUserMessage("one"), NewAssistantMessage("two")}

	clone := CloneMessages(orig)
	clone[0].Content = "mutated"
	clone = append(clone, NewUserMessage("three"))

	if orig[0].Content != "one" {
		t.Errorf("clone mutation leaked into the original")
	}
	if len(orig) != 2 {
		t.Errorf("append to clone changed the original length")
	}
	if len(clone) != 3 {
		t.Errorf("clone length = %d, want 3", len(clone))
	}
}
