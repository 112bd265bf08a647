// Package toolconv converts canonical tool definitions into the shapes the
// provider SDKs expect, including the flattened form used by providers that
// cannot express nested parameter schemas.
package toolconv

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/steward/pkg/models"
)

// FlattenSchema rewrites a tool parameter schema so that every top-level
// object or array parameter becomes a string parameter whose description
// instructs the model to pass the value as pre-serialized JSON. The registry
// normalization pass reverses this before validation and dispatch, so a
// flattened call round-trips to the same structured input a provider with
// full schema support would send.
//
// Schemas with no nested parameters are returned unchanged.
func FlattenSchema(schema json.RawMessage) (json.RawMessage, error) {
	var root map[string]any
	if err := json.Unmarshal(schema, &root); err != nil {
		return nil, fmt.Errorf("flatten: invalid schema: %w", err)
	}

	props, ok := root["properties"].(map[string]any)
	if !ok {
		return schema, nil
	}

	changed := false
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		t, _ := prop["type"].(string)
		if t != "object" && t != "array" {
			continue
		}
		props[name] = map[string]any{
			"type":        "string",
			"description": flattenedDescription(prop, t),
		}
		changed = true
	}

	if !changed {
		return schema, nil
	}

	out, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("flatten: marshal schema: %w", err)
	}
	return out, nil
}

// FlattenDefinitions applies FlattenSchema to every definition. Definitions
// whose schemas need no rewriting are shared, not copied.
func FlattenDefinitions(defs []models.ToolDefinition) ([]models.ToolDefinition, error) {
	result := make([]models.ToolDefinition, len(defs))
	for i, def := range defs {
		flat, err := FlattenSchema(def.Schema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", def.Name, err)
		}
		result[i] = def
		result[i].Schema = flat
	}
	return result, nil
}

// flattenedDescription carries the original description plus the encoding
// instruction and the original subschema, so the model still knows the
// expected shape.
func flattenedDescription(prop map[string]any, typ string) string {
	var b strings.Builder
	if desc, _ := prop["description"].(string); desc != "" {
		b.WriteString(strings.TrimSpace(desc))
		b.WriteString(" ")
	}
	b.WriteString("Pass this ")
	b.WriteString(typ)
	b.WriteString(" as a JSON-encoded string.")
	if inner, err := json.Marshal(prop); err == nil {
		b.WriteString(" Value schema: ")
		b.Write(inner)
	}
	return b.String()
}
