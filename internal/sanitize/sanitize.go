// Package sanitize implements the Sanitizer and Redactor (spec.md §4.F): two
// pure string→string functions applied at distinct boundaries. ANSI
// stripping is grounded verbatim on
// original_source/src/agent/sanitizer.py's Sanitizer.ANSI_ESCAPE regex; the
// redaction pass, adversarial-sentinel wrapping, and shell-substitution
// neutralization are written from spec.md §4.F's algorithm description.
package sanitize

import (
	"regexp"
	"strings"
)

// ansiEscape matches ANSI CSI/OSC escape sequences, mirroring the Python
// original's \x1B(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~]) pattern.
var ansiEscape = regexp.MustCompile("\x1b(?:[@-Z\\\\-_]|\\[[0-?]*[ -/]*[@-~])")

var adversarialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore previous instructions`),
	regexp.MustCompile(`(?i)system prompt override`),
	regexp.MustCompile(`(?i)you are now`),
	regexp.MustCompile(`(?i)disregard all rules`),
	regexp.MustCompile(`(?i)DAN mode`),
	regexp.MustCompile(`(?is)<script>.*?</script>`),
}

const adversarialMarker = "ADVERSARIAL_FILTERED: "

var shellSubstitution = regexp.MustCompile(`\$\(`)
var backtick = regexp.MustCompile("`")

// Sanitize is applied to every tool output before it becomes a Tool message
// (spec.md §4.F). It strips ANSI escapes, wraps adversarial sentinels, and
// neutralizes shell substitutions. It is idempotent: Sanitize(Sanitize(x)) ==
// Sanitize(x) (spec.md §8 property 6).
func Sanitize(text string) string {
	if text == "" {
		return ""
	}
	out := ansiEscape.ReplaceAllString(text, "")
	for _, pat := range adversarialPatterns {
		out = wrapAdversarial(out, pat)
	}
	out = shellSubstitution.ReplaceAllString(out, "$_(")
	out = backtick.ReplaceAllString(out, "'")
	return out
}

// wrapAdversarial wraps every match of pat in "[ADVERSARIAL_FILTERED: ...]",
// skipping matches that are already inside such a wrapper so a second pass
// over already-sanitized text is a no-op (Sanitize(Sanitize(x)) == Sanitize(x)).
func wrapAdversarial(text string, pat *regexp.Regexp) string {
	matches := pat.FindAllStringIndex(text, -1)
	if matches == nil {
		return text
	}
	var b strings.Builder
	last := 0
	prefix := "[" + adversarialMarker
	for _, m := range matches {
		start, end := m[0], m[1]
		b.WriteString(text[last:start])
		if start >= len(prefix) && text[start-len(prefix):start] == prefix {
			b.WriteString(text[start:end])
		} else {
			b.WriteString(prefix + text[start:end] + "]")
		}
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}

// redactionPatterns replace matches with [REDACTED], applied in order.
var redactionPatterns = []*regexp.Regexp{
	// Bearer tokens.
	regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-_.=]+`),
	// api_key / token / password style assignments (quoted or bare values).
	regexp.MustCompile(`(?i)\b(api[_-]?key|token|password|client_secret)\s*[:=]\s*["']?[^\s"'&]+["']?`),
	// PEM private key blocks.
	regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`),
	// Long base64-ish blobs (>=100 chars of base64 alphabet).
	regexp.MustCompile(`[A-Za-z0-9+/=]{100,}`),
}

// RedactText applies the ordered redaction sweep to a single string (spec.md
// §4.F "Redactor"). It is idempotent, like Sanitize.
func RedactText(text string) string {
	if text == "" {
		return ""
	}
	out := text
	for _, pat := range redactionPatterns {
		out = pat.ReplaceAllString(out, "[REDACTED]")
	}
	return out
}

// Redact applies RedactText recursively across strings, string slices, and
// string-keyed maps, matching spec.md §4.F's "Applied recursively across
// strings, lists, and string-keyed maps."
func Redact(v any) any {
	switch t := v.(type) {
	case string:
		return RedactText(t)
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = RedactText(s)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = Redact(s)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, s := range t {
			out[k] = RedactText(s)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = Redact(s)
		}
		return out
	default:
		return v
	}
}
