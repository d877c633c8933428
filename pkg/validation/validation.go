// Package validation guards every trust boundary: dashboard cells, command
// arguments, environment values, and external API responses. It provides
// typed safe coercers and rejects inputs carrying dangerous patterns.
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shortsforge/shortsforge/pkg/errkind"
)

// Dangerous input patterns, matched case-insensitively against any string
// crossing a trust boundary.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[^>]*>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)data:text/html`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile(`\x00`),
}

var traversalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.\./`),
	regexp.MustCompile(`\.\.\\`),
	regexp.MustCompile(`(?i)%2e%2e[/\\]`),
	regexp.MustCompile(`(?i)%252e`),
}

// MaxFieldLength bounds any single dashboard cell or config value.
const MaxFieldLength = 10000

// CheckText validates free text for length, control characters, and
// dangerous patterns. The name is used in error messages only.
func CheckText(name, value string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = MaxFieldLength
	}
	if len(value) > maxLen {
		return errkind.Newf(errkind.Validation, "%s exceeds %d bytes", name, maxLen)
	}
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return errkind.Newf(errkind.Validation, "%s contains control characters", name)
		}
	}
	for _, p := range dangerousPatterns {
		if p.MatchString(value) {
			return errkind.Newf(errkind.Validation, "%s contains a dangerous pattern", name)
		}
	}
	for _, p := range traversalPatterns {
		if p.MatchString(value) {
			return errkind.Newf(errkind.Validation, "%s contains a path traversal segment", name)
		}
	}
	return nil
}

// CheckIdentifier validates an item id or similar machine identifier:
// alphanumerics, dash, underscore, 1-64 chars.
var identifierRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func CheckIdentifier(name, value string) error {
	if !identifierRe.MatchString(value) {
		return errkind.Newf(errkind.Validation, "%s is not a valid identifier: %q", name, truncate(value, 40))
	}
	return nil
}

// SafeInt parses s as an integer clamped to [min, max]. Empty or malformed
// input yields def. Range violations are errors, not silent clamps.
func SafeInt(s string, min, max, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def, errkind.Newf(errkind.Validation, "not an integer: %q", truncate(s, 40))
	}
	if n < min || n > max {
		return def, errkind.Newf(errkind.Validation, "integer %d outside [%d, %d]", n, min, max)
	}
	return n, nil
}

// SafeFloat parses s as a float clamped to [min, max].
func SafeFloat(s string, min, max, def float64) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def, errkind.Newf(errkind.Validation, "not a number: %q", truncate(s, 40))
	}
	if f < min || f > max {
		return def, errkind.Newf(errkind.Validation, "number %g outside [%g, %g]", f, min, max)
	}
	return f, nil
}

// SafeBool parses common boolean spellings; empty input yields def.
func SafeBool(s string, def bool) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return def, errkind.Newf(errkind.Validation, "not a boolean: %q", truncate(s, 40))
	}
}

// SafeEnum returns s if it is one of allowed (case-sensitive), else def with
// an error.
func SafeEnum(s string, allowed []string, def string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return def, errkind.Newf(errkind.Validation, "%q is not one of %v", truncate(s, 40), allowed)
}

// SafePathUnder resolves p (absolute or relative to root) and verifies the
// result stays inside root after symlink evaluation. Returns the cleaned
// absolute path.
func SafePathUnder(root, p string) (string, error) {
	if err := CheckText("path", p, 4096); err != nil {
		return "", err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", errkind.Newf(errkind.Resource, "resolving root %q: %v", root, err)
	}
	candidate := p
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(absRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	// Resolve symlinks on the deepest existing ancestor so a link cannot
	// escape the root. The final component may not exist yet.
	resolved, err := resolveExisting(candidate)
	if err != nil {
		return "", errkind.Newf(errkind.Resource, "resolving %q: %v", candidate, err)
	}
	resolvedRoot, err := resolveExisting(absRoot)
	if err != nil {
		return "", errkind.Newf(errkind.Resource, "resolving root %q: %v", absRoot, err)
	}
	rel, err := filepath.Rel(resolvedRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errkind.Newf(errkind.Validation, "path escapes artifact root: %q", truncate(p, 80))
	}
	return candidate, nil
}

// resolveExisting walks up from path to the deepest existing ancestor,
// resolves symlinks there, and rejoins the non-existing suffix.
func resolveExisting(path string) (string, error) {
	suffix := ""
	cur := path
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("no existing ancestor for %q", path)
		}
		suffix = filepath.Join(filepath.Base(cur), suffix)
		cur = parent
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
