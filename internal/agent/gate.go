package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/steward/internal/audit"
	"github.com/haasonsaas/steward/internal/observability"
	"github.com/haasonsaas/steward/pkg/models"
)

// defaultApprovalTTL bounds how long a blocked call waits for a human. An
// unanswered request resolves to denied when it expires.
const defaultApprovalTTL = 5 * time.Minute

// EscalationRule raises the tier of matching calls. Rules can only escalate:
// a rule whose tier is at or below the call's current tier is ignored.
type EscalationRule struct {
	// ToolPattern matches the tool name. Supports exact match, "prefix*",
	// "*suffix", "*contains*", and "*".
	ToolPattern string `yaml:"tool"`

	// InputPattern, when set, must match at least one string value inside
	// the call input (nested values included). Same pattern syntax.
	InputPattern string `yaml:"input"`

	// Tier is the tier to escalate to.
	Tier models.PermissionTier `yaml:"tier"`

	// Reason is recorded in the audit trail when the rule fires.
	Reason string `yaml:"reason"`
}

// GateConfig controls permission gate behavior.
type GateConfig struct {
	// AutoApproveSensitive lets sensitive-tier calls through without a human.
	// Dangerous-tier calls always require approval.
	AutoApproveSensitive bool

	// ApprovalTTL is how long a pending request may wait before it is
	// denied. Zero picks the default.
	ApprovalTTL time.Duration

	// Escalations are evaluated against every call, in order.
	Escalations []EscalationRule
}

// Classification is the outcome of tier resolution for one call.
type Classification struct {
	Tier      models.PermissionTier
	Reason    string
	Escalated bool
}

// Decision is the outcome of authorization for one call.
type Decision struct {
	Approved bool

	// AutoApproved is true when no human was consulted (safe tier, or
	// sensitive tier under AutoApproveSensitive).
	AutoApproved bool

	Tier   models.PermissionTier
	Reason string

	// RequestID is set when the call went through the approval flow.
	RequestID string

	// TimedOut is true when denial came from TTL expiry rather than a
	// human decision.
	TimedOut bool
}

// Broker delivers approval requests to whoever can answer them. Publish must
// not block; answers come back through Gate.Resolve.
type Broker interface {
	Publish(req models.ApprovalRequest)
}

// BrokerFunc adapts a function to the Broker interface.
type BrokerFunc func(models.ApprovalRequest)

// Publish implements Broker.
func (f BrokerFunc) Publish(req models.ApprovalRequest) { f(req) }

// resolution is the single answer delivered to a waiting Authorize call.
type resolution struct {
	approved bool
	timedOut bool
}

type pendingApproval struct {
	req   models.ApprovalRequest
	ch    chan resolution
	timer *time.Timer
}

// Gate classifies tool calls into permission tiers and blocks the ones that
// need a human answer. Each pending request resolves exactly once: by
// Resolve, by TTL expiry, or by task cancellation, whichever lands first.
type Gate struct {
	cfg      GateConfig
	registry *Registry
	broker   Broker
	audit    *audit.Logger
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingApproval
}

// NewGate creates a permission gate. broker may be nil, in which case blocked
// calls can only resolve through Resolve or TTL expiry.
func NewGate(cfg GateConfig, registry *Registry, broker Broker, auditLog *audit.Logger, metrics *observability.Metrics, logger *slog.Logger) *Gate {
	if cfg.ApprovalTTL <= 0 {
		cfg.ApprovalTTL = defaultApprovalTTL
	}
	if auditLog == nil {
		auditLog = audit.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		cfg:      cfg,
		registry: registry,
		broker:   broker,
		audit:    auditLog,
		metrics:  metrics,
		logger:   logger.With("component", "gate"),
		pending:  make(map[string]*pendingApproval),
	}
}

// Classify resolves the tier for one call: the descriptor's base tier, then
// every matching escalation rule applied on top. Escalation never lowers a
// tier. Unregistered tools classify as safe; their dispatch fails immediately
// without running anything, so blocking them on approval would only stall
// the turn.
func (g *Gate) Classify(name string, input json.RawMessage) Classification {
	cls := Classification{Tier: models.TierSafe, Reason: "unregistered tool"}
	if desc, ok := g.registry.Lookup(name); ok {
		cls.Tier = desc.Tier
		cls.Reason = "base tier"
	}

	for _, rule := range g.cfg.Escalations {
		if !rule.Tier.Valid() || rule.Tier.Rank() <= cls.Tier.Rank() {
			continue
		}
		if !matchesPattern(rule.ToolPattern, name) {
			continue
		}
		if rule.InputPattern != "" && !inputMatches(rule.InputPattern, input) {
			continue
		}
		cls.Tier = rule.Tier
		cls.Escalated = true
		cls.Reason = rule.Reason
		if cls.Reason == "" {
			cls.Reason = fmt.Sprintf("escalated by rule %q", rule.ToolPattern)
		}
	}
	return cls
}

// Authorize resolves whether one call may execute. Safe calls pass
// immediately. Sensitive calls pass when auto-approval is on. Everything
// else publishes an approval request and blocks until a human answers, the
// TTL expires, or ctx is cancelled; the latter two deny.
func (g *Gate) Authorize(ctx context.Context, taskID string, call models.ToolCall) Decision {
	cls := g.Classify(call.Name, call.Input)
	g.audit.LogClassification(ctx, taskID, call, cls.Tier, cls.Reason, cls.Escalated)

	switch {
	case cls.Tier == models.TierSafe:
		return Decision{Approved: true, AutoApproved: true, Tier: cls.Tier, Reason: cls.Reason}
	case cls.Tier == models.TierSensitive && g.cfg.AutoApproveSensitive:
		g.metrics.RecordApproval(string(cls.Tier), "auto", 0)
		return Decision{Approved: true, AutoApproved: true, Tier: cls.Tier, Reason: cls.Reason}
	}

	now := time.Now().UTC()
	req := models.ApprovalRequest{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Call:      call,
		Tier:      cls.Tier,
		Reason:    cls.Reason,
		CreatedAt: now,
		ExpiresAt: now.Add(g.cfg.ApprovalTTL),
	}
	p := &pendingApproval{req: req, ch: make(chan resolution, 1)}

	// The timer is armed under the lock so a resolver that wins the entry
	// also sees the timer it must stop.
	g.mu.Lock()
	g.pending[req.ID] = p
	p.timer = time.AfterFunc(g.cfg.ApprovalTTL, func() {
		g.finish(req.ID, false, true)
	})
	g.mu.Unlock()

	g.audit.LogApprovalRequested(ctx, req)
	if g.broker != nil {
		g.broker.Publish(req)
	}
	g.logger.Info("approval requested",
		"task_id", taskID,
		"request_id", req.ID,
		"tool", call.Name,
		"tier", string(cls.Tier))

	select {
	case res := <-p.ch:
		wait := time.Since(now).Seconds()
		decision := Decision{
			Approved:  res.approved,
			Tier:      cls.Tier,
			Reason:    cls.Reason,
			RequestID: req.ID,
			TimedOut:  res.timedOut,
		}
		state := models.ApprovalApproved
		outcome := "approved"
		switch {
		case res.timedOut:
			state, outcome = models.ApprovalTimedOut, "timed_out"
			decision.Reason = "denied: approval request timed out"
		case !res.approved:
			state, outcome = models.ApprovalDenied, "denied"
			decision.Reason = "denied by user"
		}
		g.audit.LogApprovalResolved(ctx, taskID, req.ID, state)
		g.metrics.RecordApproval(string(cls.Tier), outcome, wait)
		if !res.approved {
			g.audit.LogDenied(ctx, taskID, call, cls.Tier, decision.Reason)
		}
		return decision

	case <-ctx.Done():
		g.finish(req.ID, false, false)
		g.audit.LogApprovalResolved(ctx, taskID, req.ID, models.ApprovalDenied)
		g.metrics.RecordApproval(string(cls.Tier), "cancelled", time.Since(now).Seconds())
		return Decision{
			Tier:      cls.Tier,
			Reason:    "denied: task cancelled while awaiting approval",
			RequestID: req.ID,
		}
	}
}

// Resolve answers a pending approval request. It reports false when the id
// is unknown or already resolved; late and duplicate answers are no-ops.
func (g *Gate) Resolve(requestID string, approved bool) bool {
	return g.finish(requestID, approved, false)
}

// Pending returns a snapshot of the outstanding approval requests.
func (g *Gate) Pending() []models.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.ApprovalRequest, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, p.req)
	}
	return out
}

// finish removes the pending entry and delivers the resolution. Removal
// happens under the lock before the send, so racing resolutions (human vs
// timer vs cancellation) collapse to exactly one delivery.
func (g *Gate) finish(requestID string, approved, timedOut bool) bool {
	g.mu.Lock()
	p, ok := g.pending[requestID]
	if ok {
		delete(g.pending, requestID)
	}
	g.mu.Unlock()
	if !ok {
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.ch <- resolution{approved: approved, timedOut: timedOut}
	return true
}

// inputMatches walks every string value in the input document, nested values
// included, and reports whether any matches the pattern.
func inputMatches(pattern string, input json.RawMessage) bool {
	if len(input) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return matchesPattern(pattern, string(input))
	}
	return valueMatches(pattern, v)
}

func valueMatches(pattern string, v any) bool {
	switch t := v.(type) {
	case string:
		return matchesPattern(pattern, t)
	case map[string]any:
		for _, child := range t {
			if valueMatches(pattern, child) {
				return true
			}
		}
	case []any:
		for _, child := range t {
			if valueMatches(pattern, child) {
				return true
			}
		}
	}
	return false
}

// matchesPattern supports exact match, "prefix*", "*suffix", "*contains*",
// and the bare "*" wildcard. An empty pattern matches nothing.
func matchesPattern(pattern, s string) bool {
	switch {
	case pattern == "*":
		return true
	case pattern == "":
		return false
	case len(pattern) > 2 && strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return strings.Contains(s, pattern[1:len(pattern)-1])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(s, pattern[:len(pattern)-1])
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(s, pattern[1:])
	default:
		return pattern == s
	}
}
