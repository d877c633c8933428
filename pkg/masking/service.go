// Package masking redacts credentials and other sensitive values before they
// reach logs, the dashboard, or error messages.
package masking

import (
	"log/slog"
	"regexp"
	"strings"
)

// Replacement is substituted for every masked value.
const Replacement = "***"

// sensitiveKeys are matched case-insensitively as substrings of field names.
var sensitiveKeys = []string{
	"api_key", "apikey", "token", "secret", "password", "credential",
	"authorization", "client_id",
}

// CompiledPattern holds a pre-compiled regex with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns redact secret-shaped values wherever they appear in text.
var builtinPatterns = []struct {
	name, pattern, replacement string
}{
	{"private_key_block", `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`, Replacement},
	{"bearer_token", `(?i)bearer\s+[A-Za-z0-9._~+/=-]{8,}`, "Bearer " + Replacement},
	{"api_key_assignment", `(?i)(api[_-]?key|token|secret|password)(["']?\s*[:=]\s*["']?)[^\s"'&,;]{4,}`, "${1}${2}" + Replacement},
	{"google_api_key", `AIza[0-9A-Za-z_-]{35}`, Replacement},
	{"url_credentials", `(?i)(://)[^/\s:@]+:[^/\s:@]+@`, "${1}" + Replacement + "@"},
}

// Service applies masking. Created once at startup; thread-safe and
// stateless aside from compiled patterns.
type Service struct {
	patterns []*CompiledPattern
	extra    []string // additional literal secrets to redact (loaded credentials)
}

// NewService compiles the built-in patterns. Invalid patterns are logged and
// skipped rather than failing startup.
func NewService() *Service {
	s := &Service{}
	for _, p := range builtinPatterns {
		compiled, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("Failed to compile masking pattern, skipping",
				"pattern", p.name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:        p.name,
			Regex:       compiled,
			Replacement: p.replacement,
		})
	}
	return s
}

// AddSecret registers a known secret value so it is redacted verbatim
// wherever it appears. Short values are ignored to avoid mangling text.
func (s *Service) AddSecret(value string) {
	if len(value) >= 6 {
		s.extra = append(s.extra, value)
	}
}

// MaskText redacts secret-shaped substrings and registered secrets in text.
func (s *Service) MaskText(text string) string {
	for _, p := range s.patterns {
		text = p.Regex.ReplaceAllString(text, p.Replacement)
	}
	for _, secret := range s.extra {
		text = strings.ReplaceAll(text, secret, Replacement)
	}
	return text
}

// MaskError redacts an error message for surfacing to logs or the dashboard.
func (s *Service) MaskError(err error) string {
	if err == nil {
		return ""
	}
	return s.MaskText(err.Error())
}

// MaskFields redacts a key-value map: values under sensitive keys are
// replaced entirely, other values are pattern-masked.
func (s *Service) MaskFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if IsSensitiveKey(k) {
			out[k] = Replacement
			continue
		}
		out[k] = s.MaskText(v)
	}
	return out
}

// IsSensitiveKey reports whether a field name denotes a secret.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
