// Package agent implements the task execution engine: a tool registry with
// schema validation, a permission gate with human approval, a concurrent
// tool executor, and the turn loop that drives a model through a task.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/steward/internal/agent/providers"
	"github.com/haasonsaas/steward/internal/agent/toolconv"
	"github.com/haasonsaas/steward/pkg/models"
)

const (
	// maxToolNameLength matches the strictest provider limit (Anthropic).
	maxToolNameLength = 128

	// maxToolInputBytes rejects runaway inputs before they reach validation.
	maxToolInputBytes = 1 << 20
)

// ToolOutcome is what a tool returns when it runs to completion.
type ToolOutcome struct {
	// Content is the output handed back to the model verbatim (subject to
	// the window manager's result cap).
	Content string
}

// ExecuteFunc runs a tool against validated, normalized input. The context
// carries the per-attempt timeout; implementations should honor it.
type ExecuteFunc func(ctx context.Context, input json.RawMessage) (*ToolOutcome, error)

// ToolDescriptor declares a tool: its wire identity, its input schema, the
// permission tier it starts at, and the function that does the work.
type ToolDescriptor struct {
	Name        string
	Description string

	// Schema is a JSON Schema (draft 2020-12) object describing Input.
	// Empty defaults to an unconstrained object.
	Schema json.RawMessage

	// Tier is the base permission tier. Empty defaults to safe; escalation
	// rules in the gate can only raise it.
	Tier models.PermissionTier

	Execute ExecuteFunc
}

// SchemaKind selects which shape of the registered schemas DefinitionsFor
// returns. Most providers take the canonical JSON Schema; Gemini needs
// nested object and array parameters flattened to JSON-encoded strings.
type SchemaKind string

const (
	SchemaCanonical SchemaKind = "canonical"
	SchemaFlattened SchemaKind = "flattened"
)

// KindForProvider maps a provider id to the schema kind its adapter expects.
func KindForProvider(id string) SchemaKind {
	if id == providers.IDGoogle {
		return SchemaFlattened
	}
	return SchemaCanonical
}

// registeredTool is a descriptor plus everything precomputed at Register
// time so Dispatch and DefinitionsFor stay allocation-light and
// deterministic.
type registeredTool struct {
	desc      ToolDescriptor
	compiled  *jsonschema.Schema
	propTypes map[string]string
	flat      json.RawMessage
}

// Registry holds the tool catalog. All methods are safe for concurrent use;
// descriptors are immutable after Register.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]*registeredTool
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger.With("component", "tools"),
		tools:  make(map[string]*registeredTool),
	}
}

// Register adds a tool. The schema is compiled once here; registration fails
// loudly on an invalid schema rather than deferring the surprise to dispatch.
func (r *Registry) Register(desc ToolDescriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if len(desc.Name) > maxToolNameLength {
		return fmt.Errorf("tool name %q exceeds %d characters", desc.Name, maxToolNameLength)
	}
	if !validToolName(desc.Name) {
		return fmt.Errorf("tool name %q may only contain letters, digits, underscore, and hyphen", desc.Name)
	}
	if desc.Execute == nil {
		return fmt.Errorf("tool %q has no execute function", desc.Name)
	}
	if desc.Tier == "" {
		desc.Tier = models.TierSafe
	}
	if !desc.Tier.Valid() {
		return fmt.Errorf("tool %q has unknown permission tier %q", desc.Name, desc.Tier)
	}
	if len(desc.Schema) == 0 {
		desc.Schema = json.RawMessage(`{"type":"object"}`)
	}

	compiled, err := jsonschema.CompileString(desc.Name+".json", string(desc.Schema))
	if err != nil {
		return fmt.Errorf("tool %q schema does not compile: %w", desc.Name, err)
	}
	propTypes, err := propertyTypes(desc.Schema)
	if err != nil {
		return fmt.Errorf("tool %q schema: %w", desc.Name, err)
	}
	flat, err := toolconv.FlattenSchema(desc.Schema)
	if err != nil {
		return fmt.Errorf("tool %q schema does not flatten: %w", desc.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[desc.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, desc.Name)
	}
	r.tools[desc.Name] = &registeredTool{
		desc:      desc,
		compiled:  compiled,
		propTypes: propTypes,
		flat:      flat,
	}
	r.logger.Debug("tool registered", "tool", desc.Name, "tier", string(desc.Tier))
	return nil
}

// Lookup returns the descriptor for name. The second result is false when
// no tool with that name is registered.
func (r *Registry) Lookup(name string) (ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return ToolDescriptor{}, false
	}
	return rt.desc, true
}

// Descriptors returns every registered descriptor sorted by name.
func (r *Registry) Descriptors() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(r.tools))
	for _, rt := range r.tools {
		out = append(out, rt.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefinitionsFor returns the tool definitions to advertise to a provider,
// sorted by name. The returned schemas are precomputed at Register time, so
// repeated calls yield byte-identical definitions and never touch the
// registered descriptors.
func (r *Registry) DefinitionsFor(kind SchemaKind) []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(r.tools))
	for _, rt := range r.tools {
		schema := rt.desc.Schema
		if kind == SchemaFlattened {
			schema = rt.flat
		}
		defs = append(defs, models.ToolDefinition{
			Name:        rt.desc.Name,
			Description: rt.desc.Description,
			Schema:      schema,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Dispatch runs one tool call through the full pipeline: lookup, input
// normalization, schema validation, then execution with panic recovery.
// Every failure mode comes back as an error wrapping one of the package
// sentinels; Dispatch never panics because of a misbehaving tool.
func (r *Registry) Dispatch(ctx context.Context, call models.ToolCall) (*ToolOutcome, error) {
	r.mu.RLock()
	rt, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, call.Name)
	}

	if len(call.Input) > maxToolInputBytes {
		return nil, fmt.Errorf("%w: input for %q is %d bytes (limit %d)",
			ErrToolInputInvalid, call.Name, len(call.Input), maxToolInputBytes)
	}
	input, err := normalizeInput(rt.propTypes, call.Input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolInputInvalid, err)
	}

	var doc any
	if err := json.Unmarshal(input, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolInputInvalid, err)
	}
	if err := rt.compiled.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolInputInvalid, err)
	}

	return r.execute(ctx, rt, input)
}

// execute invokes the tool function, converting panics into errors so a
// single bad tool cannot take down the whole task.
func (r *Registry) execute(ctx context.Context, rt *registeredTool, input json.RawMessage) (outcome *ToolOutcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked",
				"tool", rt.desc.Name,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()))
			outcome = nil
			err = fmt.Errorf("%w: %s: %v", ErrToolPanic, rt.desc.Name, rec)
		}
	}()

	out, execErr := rt.desc.Execute(ctx, input)
	if execErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrToolExecution, rt.desc.Name, execErr)
	}
	if out == nil {
		out = &ToolOutcome{}
	}
	return out, nil
}

func validToolName(name string) bool {
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}
