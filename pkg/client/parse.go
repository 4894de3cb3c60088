package client

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/menta2k/crop-surface/pkg/types"
)

var reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)

// ParseLabel parses a model reply into a label. Replies that are not JSON,
// or that cannot be parsed, yield a low-confidence fallback label instead
// of an error so one bad reply does not fail a batch.
func ParseLabel(raw string) *types.Label {
	raw = SanitizeModelJSON(raw)

	if !strings.HasPrefix(raw, "{") {
		return fallbackLabel("non-json", "Model returned non-JSON response")
	}

	var label types.Label
	if err := json.Unmarshal([]byte(raw), &label); err != nil {
		return fallbackLabel("parse-error", "Failed to parse model response")
	}
	return &label
}

func fallbackLabel(tag, description string) *types.Label {
	return &types.Label{
		Label:       "none",
		Confidence:  0,
		Description: description,
		Tags:        []string{tag, "fallback"},
	}
}

// SanitizeModelJSON removes code fences, comments and trailing commas from a
// model reply and keeps only the outermost object.
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// strip triple-backtick fences
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = stripComments(raw)
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// stripComments removes // and /* */ comments that sit outside JSON string
// literals.
func stripComments(raw string) string {
	var sb strings.Builder
	sb.Grow(len(raw))
	inString, escaped := false, false

	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			sb.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		if ch == '/' && i+1 < len(raw) {
			switch raw[i+1] {
			case '/':
				for i < len(raw) && raw[i] != '\n' {
					i++
				}
				if i < len(raw) {
					sb.WriteByte('\n')
				}
				continue
			case '*':
				end := strings.Index(raw[i+2:], "*/")
				if end < 0 {
					return sb.String()
				}
				i += 2 + end + 1
				continue
			}
		}
		if ch == '"' {
			inString = true
		}
		sb.WriteByte(ch)
	}
	return sb.String()
}
