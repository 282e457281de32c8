package filtergraph

import "strings"

// ChainString renders a linear, unlabelled chain for -vf / -af.
func ChainString(filters ...Filter) string {
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = Node{Name: f.Name, Params: f.Params}.String()
	}
	return strings.Join(parts, ",")
}
