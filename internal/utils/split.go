package utils

import "strings"

// SplitList splits a delimiter-separated field into trimmed, non-empty
// tokens. Region lists in import manifests and operator input arrive as
// comma-separated strings ("US-CA, US-NV,US-OR").
func SplitList(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
