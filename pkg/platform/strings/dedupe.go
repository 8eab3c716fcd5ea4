// Package strings provides string manipulation utilities.
package strings

import "strings"

// DedupeAndTrim splits each value on commas, trims the parts and drops empty or
// repeated ones. Order is preserved and the result is never nil.
//
//	DedupeAndTrim([]string{" a:9092, b:9092", "a:9092", ""})
//	// []string{"a:9092", "b:9092"}
func DedupeAndTrim(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if _, ok := seen[trimmed]; !ok {
				seen[trimmed] = struct{}{}
				result = append(result, trimmed)
			}
		}
	}

	return result
}
