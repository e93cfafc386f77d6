package observability

import (
	"encoding/json"
	"strings"
)

var sensitiveKeys = []string{
	"api_key", "apikey", "apiKey", "x-api-key", "authorization", "auth",
	"token", "access_token", "refresh_token", "password", "secret", "bearer",
}

// RedactJSON takes a JSON payload and redacts values held under keys that
// look sensitive, recursively. Inputs that don't parse as JSON are returned
// unmodified — callers in the hot path never fail a log line over this.
func RedactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	b, err := json.Marshal(redactValue(v))
	if err != nil {
		return raw
	}
	return b
}

// RedactString applies the same key-based redaction to a free-form string
// by treating it as a best-effort JSON object; non-JSON text is returned as
// a fixed-length prefix followed by an ellipsis, since prompt/response bodies
// must never be logged in full (see the logging rules in SPEC_FULL.md).
func RedactString(s string, maxPrefix int) string {
	if json.Valid([]byte(s)) {
		return string(RedactJSON(json.RawMessage(s)))
	}
	if maxPrefix <= 0 || len(s) <= maxPrefix {
		return s
	}
	return s[:maxPrefix] + "…"
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, vv := range val {
			if isSensitiveKey(k) {
				val[k] = "[REDACTED]"
			} else {
				val[k] = redactValue(vv)
			}
		}
		return val
	case []any:
		for i := range val {
			val[i] = redactValue(val[i])
		}
		return val
	default:
		return v
	}
}

func isSensitiveKey(k string) bool {
	low := strings.ToLower(k)
	for _, s := range sensitiveKeys {
		if low == s || strings.Contains(low, s) {
			return true
		}
	}
	return false
}
