package topology

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Select expands service name patterns ("backend", "front*") into service
// names in stack order. No patterns selects every service. A pattern that
// matches nothing is an error so typos do not silently do nothing.
func Select(st *Stack, patterns []string) ([]string, error) {
	names := st.Names()
	if len(patterns) == 0 {
		return names, nil
	}

	picked := map[string]bool{}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: bad pattern %q", ErrInvalidConfig, p)
		}
		matched := false
		for _, n := range names {
			if ok, _ := doublestar.Match(p, n); ok {
				picked[n] = true
				matched = true
			}
		}
		if !matched {
			return nil, fmt.Errorf("%w: %q", ErrUnknownService, p)
		}
	}

	out := make([]string, 0, len(picked))
	for _, n := range names {
		if picked[n] {
			out = append(out, n)
		}
	}
	return out, nil
}
