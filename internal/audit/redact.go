package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// sensitiveKeyPatterns mark parameter names whose values must never appear
// in the audit trail. Matching is case-insensitive substring, so both
// "apiKey" and "github_api_key" are caught.
var sensitiveKeyPatterns = []string{
	"password",
	"apikey",
	"api_key",
	"token",
	"secret",
	"credential",
}

const redactedPlaceholder = "[redacted]"

// isSensitiveKey reports whether a parameter name matches a sensitive
// pattern.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, pat := range sensitiveKeyPatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

// Redact returns the JSON input with every value under a sensitive key
// replaced by a placeholder, recursively through nested objects and arrays.
// Input that does not parse as JSON is replaced wholesale by a content hash
// so nothing secret can leak through a malformed payload.
func Redact(input json.RawMessage) json.RawMessage {
	if len(input) == 0 {
		return input
	}
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return json.RawMessage(`"[unparseable sha256:` + hashString(string(input)) + `]"`)
	}
	out, err := json.Marshal(redactValue(v))
	if err != nil {
		return json.RawMessage(`"` + redactedPlaceholder + `"`)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			if isSensitiveKey(k) {
				val[k] = redactedPlaceholder
				continue
			}
			val[k] = redactValue(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = redactValue(inner)
		}
		return val
	default:
		return v
	}
}

// hashString returns the first 16 hex chars of the SHA-256 of s.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}
