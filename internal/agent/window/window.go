// Package window bounds conversation growth under a token budget. Token
// cost is a character-count proxy (chars / 4), which is adequate because it
// only drives a truncation heuristic, never billing.
package window

import (
	"strings"

	"github.com/haasonsaas/steward/pkg/models"
)

const (
	// DefaultBudgetTokens is the conversation budget applied when the
	// caller passes none.
	DefaultBudgetTokens = 80000

	// DefaultKeepRecent is how many trailing messages are always retained,
	// roughly two full turns.
	DefaultKeepRecent = 4

	// DefaultMaxToolResultChars caps a single tool result's content as it
	// is folded into the conversation.
	DefaultMaxToolResultChars = 6000

	truncationMarker = "\n...[truncated]"
)

// Config tunes the window manager.
type Config struct {
	// KeepRecent is the number of trailing messages never removed.
	KeepRecent int

	// MaxToolResultChars caps each tool result at fold time.
	MaxToolResultChars int
}

// Report describes what Prepare did to a conversation.
type Report struct {
	// PairsRemoved counts assistant/tool_result units dropped.
	PairsRemoved int

	// ResultCapped is set when the most recent tool result content had to
	// be shortened because no removable pairs remained.
	ResultCapped bool

	// TokensBefore and TokensAfter are the estimates around truncation.
	TokensBefore int
	TokensAfter  int
}

// Manager prepares conversations for model calls. It is stateless and safe
// for concurrent use.
type Manager struct {
	keepRecent     int
	maxResultChars int
}

// New creates a Manager, applying defaults for unset fields.
func New(cfg Config) *Manager {
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = DefaultKeepRecent
	}
	if cfg.MaxToolResultChars <= 0 {
		cfg.MaxToolResultChars = DefaultMaxToolResultChars
	}
	return &Manager{
		keepRecent:     cfg.KeepRecent,
		maxResultChars: cfg.MaxToolResultChars,
	}
}

// EstimateTokens estimates the token cost of a conversation.
func EstimateTokens(msgs []models.Message) int {
	total := 0
	for i := range msgs {
		total += msgs[i].Chars()
	}
	return total / 4
}

// CapResult bounds one tool result's content at fold time and reports
// whether it was shortened.
func (m *Manager) CapResult(content string) (string, bool) {
	if len(content) <= m.maxResultChars {
		return content, false
	}
	return content[:m.maxResultChars] + truncationMarker, true
}

// Prepare returns a conversation that fits the token budget. The first user
// message and the most recent KeepRecent messages are always retained;
// interior assistant/tool_result pairs are removed as whole units, oldest
// first, so a tool_use is never split from its tool_result. If the budget
// is still exceeded with no removable pairs left, the most recent tool
// result content is capped rather than dropped. The input slice is not
// mutated.
func (m *Manager) Prepare(msgs []models.Message, budgetTokens int) ([]models.Message, Report) {
	if budgetTokens <= 0 {
		budgetTokens = DefaultBudgetTokens
	}

	report := Report{TokensBefore: EstimateTokens(msgs)}
	report.TokensAfter = report.TokensBefore
	if report.TokensBefore <= budgetTokens || len(msgs) == 0 {
		return msgs, report
	}

	kept := make([]models.Message, len(msgs))
	copy(kept, msgs)

	chars := report.TokensBefore * 4
	drop := make(map[int]bool)
	for _, unit := range removablePairs(kept, m.keepRecent) {
		if chars/4 <= budgetTokens {
			break
		}
		chars -= kept[unit[0]].Chars() + kept[unit[1]].Chars()
		drop[unit[0]], drop[unit[1]] = true, true
		report.PairsRemoved++
	}
	if len(drop) > 0 {
		filtered := make([]models.Message, 0, len(kept)-len(drop))
		for i := range kept {
			if !drop[i] {
				filtered = append(filtered, kept[i])
			}
		}
		kept = filtered
	}

	if chars/4 > budgetTokens {
		excess := chars - budgetTokens*4
		if capped, ok := capNewestResult(kept, excess); ok {
			chars -= capped
			report.ResultCapped = true
		}
	}

	report.TokensAfter = chars / 4
	return kept, report
}

// removablePairs finds assistant/tool_result units eligible for removal, in
// oldest-first order. A unit is an assistant message carrying tool calls
// plus the tool_result message answering it; both must sit after the first
// user message and before the protected tail.
func removablePairs(msgs []models.Message, keepRecent int) [][2]int {
	cutoff := len(msgs) - keepRecent
	if cutoff <= 0 {
		return nil
	}

	firstUser := -1
	for i := range msgs {
		if msgs[i].Role == models.RoleUser {
			firstUser = i
			break
		}
	}

	var units [][2]int
	for i := firstUser + 1; i+1 < cutoff; i++ {
		if msgs[i].Role == models.RoleAssistant && msgs[i].HasToolCalls() &&
			msgs[i+1].Role == models.RoleToolResult {
			units = append(units, [2]int{i, i + 1})
			i++
		}
	}
	return units
}

// capNewestResult shortens contents in the most recent tool_result message
// by up to excess chars, largest content first, and returns how many chars
// were removed.
func capNewestResult(msgs []models.Message, excess int) (int, bool) {
	idx := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleToolResult && len(msgs[i].ToolResults) > 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, false
	}

	msg := msgs[idx]
	results := make([]models.ToolResult, len(msg.ToolResults))
	copy(results, msg.ToolResults)

	removed := 0
	for removed < excess {
		largest := -1
		for i := range results {
			if largest < 0 || len(results[i].Content) > len(results[largest].Content) {
				largest = i
			}
		}
		if largest < 0 || len(results[largest].Content) == 0 {
			break
		}

		// Cutting a little extra pays for the marker the cap appends.
		content := results[largest].Content
		cut := min(excess-removed+len(truncationMarker), len(content))
		next := truncationMarker
		if cut < len(content) {
			next = strings.TrimSuffix(content[:len(content)-cut], truncationMarker) + truncationMarker
		}
		delta := len(content) - len(next)
		if delta <= 0 {
			break
		}
		results[largest].Content = next
		removed += delta
	}

	if removed == 0 {
		return 0, false
	}
	msg.ToolResults = results
	msgs[idx] = msg
	return removed, true
}
