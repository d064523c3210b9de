// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// DedupeAndTrim cleans a comma-split env list such as Kafka brokers: each
// element is trimmed, blanks and repeats are dropped, first-seen order kept.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}
