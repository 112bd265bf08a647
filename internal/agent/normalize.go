package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NormalizeInput re-parses string parameter values into structured values
// wherever schema declares an object or array type. Providers whose schemas
// were flattened send those parameters as JSON-encoded strings; this single
// pass makes dispatch see the same input a provider with full nested-schema
// support would have sent. Inputs that need no rewriting pass through
// unchanged, so normalizing twice is a no-op.
func NormalizeInput(schema, input json.RawMessage) (json.RawMessage, error) {
	types, err := propertyTypes(schema)
	if err != nil {
		return nil, err
	}
	return normalizeInput(types, input)
}

// normalizeInput is the precomputed-types form used by the registry.
func normalizeInput(types map[string]string, input json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{}`), nil
	}
	// Non-object inputs pass through; schema validation judges them.
	if trimmed[0] != '{' {
		return input, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("input is not valid JSON: %w", err)
	}

	changed := false
	for name, declared := range types {
		if declared != "object" && declared != "array" {
			continue
		}
		raw, ok := obj[name]
		if !ok {
			continue
		}
		val := bytes.TrimSpace(raw)
		if len(val) == 0 || val[0] != '"' {
			continue
		}
		var encoded string
		if err := json.Unmarshal(val, &encoded); err != nil {
			continue
		}
		// Only replace when the string holds JSON of the declared kind.
		// Anything else stays as-is and fails validation with a clear
		// type mismatch instead of a parse error from here.
		if !parsesAs(encoded, declared) {
			continue
		}
		obj[name] = json.RawMessage(encoded)
		changed = true
	}

	if !changed {
		return input, nil
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("re-encode normalized input: %w", err)
	}
	return out, nil
}

// parsesAs reports whether s is valid JSON whose top-level kind matches the
// declared schema type.
func parsesAs(s, declared string) bool {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return false
	}
	switch declared {
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	}
	return false
}

// propertyTypes extracts the declared type of each top-level property from a
// JSON Schema object. Properties without a plain string type are omitted.
func propertyTypes(schema json.RawMessage) (map[string]string, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	var root map[string]any
	if err := json.Unmarshal(schema, &root); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	props, ok := root["properties"].(map[string]any)
	if !ok {
		return nil, nil
	}
	types := make(map[string]string, len(props))
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if t, ok := prop["type"].(string); ok {
			types[name] = t
		}
	}
	return types, nil
}
