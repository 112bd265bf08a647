package models

import "time"

// PermissionTier classifies how much oversight a tool call needs.
type PermissionTier string

const (
	TierSafe      PermissionTier = "safe"
	TierSensitive PermissionTier = "sensitive"
	TierDangerous PermissionTier = "dangerous"
)

// Rank orders tiers for escalation comparisons. Higher is riskier.
func (t PermissionTier) Rank() int {
	switch t {
	case TierSafe:
		return 0
	case TierSensitive:
		return 1
	case TierDangerous:
		return 2
	}
	return 0
}

// Valid reports whether the tier is one of the three known values.
func (t PermissionTier) Valid() bool {
	return t == TierSafe || t == TierSensitive || t == TierDangerous
}

// ApprovalState is the lifecycle of an approval request. Each request
// resolves exactly one blocked tool call, exactly once.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalDenied   ApprovalState = "denied"
	ApprovalTimedOut ApprovalState = "timed_out"
)

// ApprovalRequest asks an external decider whether a blocked tool call may
// run. ExpiresAt is CreatedAt plus the gate's hard timeout; an unresolved
// request is denied when it passes.
type ApprovalRequest struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	Call      ToolCall       `json:"call"`
	Tier      PermissionTier `json:"tier"`
	Reason    string         `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}
