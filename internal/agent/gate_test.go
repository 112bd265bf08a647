package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/steward/pkg/models"
)

// tieredRegistry registers one tool per tier with no-op executions.
func tieredRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry(discardLogger())
	noop := func(ctx context.Context, input json.RawMessage) (*ToolOutcome, error) {
		return &ToolOutcome{Content: "ok"}, nil
	}
	tools := []ToolDescriptor{
		{Name: "read_file", Tier: models.TierSafe, Execute: noop},
		{Name: "write_file", Tier: models.TierSensitive, Execute: noop},
		{Name: "delete_file", Tier: models.TierDangerous, Execute: noop},
	}
	for _, d := range tools {
		if err := reg.Register(d); err != nil {
			t.Fatalf("register %s: %v", d.Name, err)
		}
	}
	return reg
}

func TestClassifyUsesBaseTier(t *testing.T) {
	gate := NewGate(GateConfig{}, tieredRegistry(t), nil, nil, nil, discardLogger())

	cases := map[string]models.PermissionTier{
		"read_file":   models.TierSafe,
		"write_file":  models.TierSensitive,
		"delete_file": models.TierDangerous,
	}
	for name, want := range cases {
		cls := gate.Classify(name, nil)
		if cls.Tier != want {
			t.Errorf("Classify(%s).Tier = %q, want %q", name, cls.Tier, want)
		}
		if cls.Escalated {
			t.Errorf("Classify(%s) escalated with no rules configured", name)
		}
	}
}

func TestClassifyEscalatesOnInputPattern(t *testing.T) {
	cfg := GateConfig{
		Escalations: []EscalationRule{
			{ToolPattern: "write_*", InputPattern: "*prod*", Tier: models.TierDangerous, Reason: "writes to production"},
		},
	}
	gate := NewGate(cfg, tieredRegistry(t), nil, nil, nil, discardLogger())

	cls := gate.Classify("write_file", json.RawMessage(`{"path":"/srv/prod/app.conf"}`))
	if cls.Tier != models.TierDangerous {
		t.Errorf("tier = %q, want dangerous", cls.Tier)
	}
	if !cls.Escalated {
		t.Error("escalation not flagged")
	}
	if cls.Reason != "writes to production" {
		t.Errorf("reason = %q, want rule reason", cls.Reason)
	}

	clean := gate.Classify("write_file", json.RawMessage(`{"path":"/tmp/scratch"}`))
	if clean.Tier != models.TierSensitive {
		t.Errorf("non-matching input escalated to %q", clean.Tier)
	}
}

func TestClassifyMatchesNestedInputValues(t *testing.T) {
	cfg := GateConfig{
		Escalations: []EscalationRule{
			{ToolPattern: "*", InputPattern: "*rm -rf*", Tier: models.TierDangerous},
		},
	}
	gate := NewGate(cfg, tieredRegistry(t), nil, nil, nil, discardLogger())

	input := json.RawMessage(`{"steps":[{"cmd":"rm -rf /data"}]}`)
	cls := gate.Classify("read_file", input)
	if cls.Tier != models.TierDangerous {
		t.Errorf("nested value did not escalate, tier = %q", cls.Tier)
	}
}

func TestClassifyNeverLowersTier(t *testing.T) {
	cfg := GateConfig{
		Escalations: []EscalationRule{
			{ToolPattern: "delete_file", Tier: models.TierSafe},
		},
	}
	gate := NewGate(cfg, tieredRegistry(t), nil, nil, nil, discardLogger())

	cls := gate.Classify("delete_file", nil)
	if cls.Tier != models.TierDangerous {
		t.Errorf("rule lowered tier to %q", cls.Tier)
	}
	if cls.Escalated {
		t.Error("a no-op rule was reported as escalation")
	}
}

func TestAuthorizeSafePassesImmediately(t *testing.T) {
	gate := NewGate(GateConfig{}, tieredRegistry(t), nil, nil, nil, discardLogger())

	d := gate.Authorize(context.Background(), "task1", models.ToolCall{ID: "c1", Name: "read_file"})
	if !d.Approved || !d.AutoApproved {
		t.Errorf("safe call decision = %+v, want auto-approved", d)
	}
	if d.RequestID != "" {
		t.Errorf("safe call produced approval request %q", d.RequestID)
	}
}

func TestAuthorizeSensitiveAutoApprove(t *testing.T) {
	gate := NewGate(GateConfig{AutoApproveSensitive: true}, tieredRegistry(t), nil, nil, nil, discardLogger())

	d := gate.Authorize(context.Background(), "task1", models.ToolCall{ID: "c1", Name: "write_file"})
	if !d.Approved || !d.AutoApproved {
		t.Errorf("sensitive call decision = %+v, want auto-approved", d)
	}
}

func TestAuthorizeBlocksUntilResolved(t *testing.T) {
	var gate *Gate
	broker := BrokerFunc(func(req models.ApprovalRequest) {
		go func() {
			time.Sleep(40 * time.Millisecond)
			if !gate.Resolve(req.ID, true) {
				t.Error("Resolve reported no pending request")
			}
		}()
	})
	gate = NewGate(GateConfig{ApprovalTTL: 5 * time.Second}, tieredRegistry(t), broker, nil, nil, discardLogger())

	start := time.Now()
	d := gate.Authorize(context.Background(), "task1", models.ToolCall{ID: "c1", Name: "delete_file"})
	elapsed := time.Since(start)

	if !d.Approved {
		t.Fatalf("decision = %+v, want approved", d)
	}
	if d.AutoApproved {
		t.Error("human-approved call marked auto-approved")
	}
	if elapsed < 30*time.Millisecond {
		t.Errorf("Authorize returned after %v, before the resolver ran", elapsed)
	}
}

func TestAuthorizeDeniedByUser(t *testing.T) {
	var gate *Gate
	broker := BrokerFunc(func(req models.ApprovalRequest) {
		go gate.Resolve(req.ID, false)
	})
	gate = NewGate(GateConfig{ApprovalTTL: 5 * time.Second}, tieredRegistry(t), broker, nil, nil, discardLogger())

	d := gate.Authorize(context.Background(), "task1", models.ToolCall{ID: "c1", Name: "delete_file"})
	if d.Approved {
		t.Fatal("denied call came back approved")
	}
	if d.TimedOut {
		t.Error("user denial flagged as timeout")
	}
	if d.Reason != "denied by user" {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestAuthorizeTimesOutExactlyOnce(t *testing.T) {
	published := make(chan models.ApprovalRequest, 1)
	broker := BrokerFunc(func(req models.ApprovalRequest) {
		published <- req
	})
	gate := NewGate(GateConfig{ApprovalTTL: 40 * time.Millisecond}, tieredRegistry(t), broker, nil, nil, discardLogger())

	d := gate.Authorize(context.Background(), "task1", models.ToolCall{ID: "c1", Name: "delete_file"})
	if d.Approved {
		t.Fatal("timed-out call came back approved")
	}
	if !d.TimedOut {
		t.Error("timeout not flagged")
	}
	if !strings.Contains(d.Reason, "timed out") {
		t.Errorf("reason = %q", d.Reason)
	}

	// A late answer must be a no-op: the request already resolved.
	req := <-published
	if gate.Resolve(req.ID, true) {
		t.Error("late Resolve claimed to resolve an expired request")
	}
	if gate.Resolve(req.ID, true) {
		t.Error("duplicate Resolve claimed to resolve")
	}
}

func TestAuthorizeCancelledContext(t *testing.T) {
	published := make(chan models.ApprovalRequest, 1)
	broker := BrokerFunc(func(req models.ApprovalRequest) {
		published <- req
	})
	gate := NewGate(GateConfig{ApprovalTTL: 5 * time.Second}, tieredRegistry(t), broker, nil, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-published
		cancel()
	}()

	d := gate.Authorize(ctx, "task1", models.ToolCall{ID: "c1", Name: "delete_file"})
	if d.Approved {
		t.Fatal("cancelled wait came back approved")
	}
	if !strings.Contains(d.Reason, "cancelled") {
		t.Errorf("reason = %q", d.Reason)
	}
	if len(gate.Pending()) != 0 {
		t.Error("pending table not cleaned up after cancellation")
	}
}

func TestResolveUnknownRequest(t *testing.T) {
	gate := NewGate(GateConfig{}, tieredRegistry(t), nil, nil, nil, discardLogger())
	if gate.Resolve("nope", true) {
		t.Error("Resolve returned true for an unknown id")
	}
}

func TestPendingSnapshot(t *testing.T) {
	published := make(chan models.ApprovalRequest, 1)
	var gate *Gate
	broker := BrokerFunc(func(req models.ApprovalRequest) {
		published <- req
	})
	gate = NewGate(GateConfig{ApprovalTTL: 5 * time.Second}, tieredRegistry(t), broker, nil, nil, discardLogger())

	done := make(chan Decision, 1)
	go func() {
		done <- gate.Authorize(context.Background(), "task1", models.ToolCall{ID: "c1", Name: "delete_file"})
	}()

	req := <-published
	pending := gate.Pending()
	if len(pending) != 1 || pending[0].ID != req.ID {
		t.Fatalf("Pending() = %+v, want the published request", pending)
	}

	gate.Resolve(req.ID, true)
	d := <-done
	if !d.Approved {
		t.Errorf("decision = %+v, want approved", d)
	}
	if len(gate.Pending()) != 0 {
		t.Error("request still pending after resolution")
	}
}

func TestMatchesPattern(t *testing.T) {
	cases := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"*", "anything", true},
		{"", "anything", false},
		{"exact", "exact", true},
		{"exact", "exactly", false},
		{"pre*", "prefix", true},
		{"pre*", "nope", false},
		{"*fix", "prefix", true},
		{"*fix", "fixation", false},
		{"*mid*", "amidst", true},
		{"*mid*", "outer", false},
	}
	for _, tc := range cases {
		if got := matchesPattern(tc.pattern, tc.s); got != tc.want {
			t.Errorf("matchesPattern(%q, %q) = %v, want %v", tc.pattern, tc.s, got, tc.want)
		}
	}
}
