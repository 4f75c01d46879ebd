// Package logutil keeps secrets and oversized values out of logs, console
// output and reports.
package logutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Ellipsis marks a value cut short by TruncateForLog.
const Ellipsis = "..."

// IsSensitiveLogField returns true when a key likely contains sensitive data.
func IsSensitiveLogField(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, "_", "")

	switch {
	case normalized == "authorization":
		return true
	case strings.Contains(normalized, "token"):
		return true
	case strings.Contains(normalized, "secret"):
		return true
	case strings.Contains(normalized, "password"):
		return true
	case strings.Contains(normalized, "apikeyvalue"), normalized == "apikey", normalized == "key":
		return true
	case strings.Contains(normalized, "cookie"):
		return true
	default:
		return false
	}
}

var credentialFields = map[string]bool{
	"authorization": true,
	"accesstoken":   true,
	"refreshtoken":  true,
	"idtoken":       true,
	"token":         true,
	"key":           true,
	"apikey":        true,
	"apikeyvalue":   true,
	"password":      true,
	"secret":        true,
	"clientsecret":  true,
	"cookie":        true,
	"setcookie":     true,
}

// IsCredentialField reports whether key names a credential itself. Unlike
// IsSensitiveLogField it matches whole names only, so descriptive keys such
// as token_format or token_type stay readable in reports.
func IsCredentialField(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, "_", "")
	return credentialFields[normalized]
}

// RedactHeaderValue redacts a header value when the key looks sensitive.
func RedactHeaderValue(key, value string) string {
	if IsSensitiveLogField(key) {
		return "[REDACTED]"
	}
	return value
}

// FormatHeadersForLog returns stable, redacted header text for logs.
func FormatHeadersForLog(headers http.Header) string {
	if len(headers) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		values := headers.Values(k)
		if len(values) == 0 {
			parts = append(parts, fmt.Sprintf("%s=<empty>", strings.ToLower(k)))
			continue
		}

		redacted := make([]string, len(values))
		for i, v := range values {
			redacted[i] = RedactHeaderValue(k, v)
		}
		parts = append(parts, fmt.Sprintf("%s=%q", strings.ToLower(k), strings.Join(redacted, ", ")))
	}
	return strings.Join(parts, "; ")
}

// RedactBodyForLog redacts sensitive fields from JSON payloads; non-JSON bodies are returned as-is.
func RedactBodyForLog(contentType string, body []byte) string {
	text := string(body)
	if !strings.Contains(strings.ToLower(contentType), "json") {
		return text
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return text
	}

	safeJSON, err := json.Marshal(RedactValue(payload))
	if err != nil {
		return text
	}
	return string(safeJSON)
}

// RedactValue walks decoded JSON and blanks every sensitive key in place.
func RedactValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		for k, child := range typed {
			if IsSensitiveLogField(k) {
				typed[k] = "[REDACTED]"
				continue
			}
			typed[k] = RedactValue(child)
		}
	case []any:
		for i, child := range typed {
			typed[i] = RedactValue(child)
		}
	}
	return v
}

// MaskSecret keeps a short prefix of a credential so operators can tell keys
// apart without the report leaking them.
func MaskSecret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "[REDACTED]"
	}
	return value[:6] + "…[REDACTED]"
}

// FormatBodyForLog truncates and redacts body text for safe logging.
func FormatBodyForLog(contentType string, body []byte, maxBytes int) string {
	if len(body) == 0 {
		return ""
	}
	truncated := false
	textBytes := body
	if maxBytes > 0 && len(textBytes) > maxBytes {
		textBytes = textBytes[:maxBytes]
		truncated = true
	}
	text := RedactBodyForLog(contentType, textBytes)
	if truncated {
		return text + Ellipsis
	}
	return text
}

// TruncateForLog returns a single-line preview of at most maxChars runes
// followed by Ellipsis when anything was cut.
func TruncateForLog(value string, maxChars int) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	normalized := strings.ReplaceAll(trimmed, "\n", "\\n")
	runes := []rune(normalized)
	if maxChars <= 0 || len(runes) <= maxChars {
		return normalized
	}
	return string(runes[:maxChars]) + Ellipsis
}
