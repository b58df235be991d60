package orchestrator

import (
	"regexp"
	"strings"

	"erpsync/internal/validation"
)

var placeholderPattern = regexp.MustCompile(`\$\{([^}]*)\}`)

// expandTemplate substitutes ${field} placeholders from the
// discrepancy's merged context: raw row data plus the key itself.
// Unresolved placeholders become empty strings, never errors; a bad
// field name in a rule title must not block task creation.
func expandTemplate(template string, d validation.Discrepancy) string {
	if template == "" || !strings.Contains(template, "${") {
		return template
	}

	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		field := strings.TrimSpace(match[2 : len(match)-1])
		switch field {
		case "key":
			return d.Key
		case "name":
			if d.Name != "" {
				return d.Name
			}
		case "details":
			return d.Details
		}
		if d.Data != nil {
			return d.Data[field]
		}
		return ""
	})
}
