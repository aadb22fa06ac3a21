package extract

import (
	"fmt"
	"strings"

	"github.com/woozymasta/pathrules"
)

// filter selects files by gitignore-style patterns on their archive key.
// A nil filter selects everything.
type filter struct {
	matcher *pathrules.Matcher
}

// newFilter compiles include and exclude patterns. With at least one
// include pattern, keys matching none of them are left out. Exclude
// patterns are applied after includes and win.
func newFilter(include, exclude []string) (*filter, error) {
	include, exclude = cleanPatterns(include), cleanPatterns(exclude)

	rules := make([]pathrules.Rule, 0, len(include)+len(exclude))
	for _, pattern := range include {
		rules = append(rules, pathrules.Rule{Action: pathrules.ActionInclude, Pattern: pattern})
	}
	for _, pattern := range exclude {
		rules = append(rules, pathrules.Rule{Action: pathrules.ActionExclude, Pattern: pattern})
	}

	if len(rules) == 0 {
		return nil, nil
	}

	defaultAction := pathrules.ActionInclude
	if len(include) > 0 {
		defaultAction = pathrules.ActionExclude
	}

	matcher, err := pathrules.NewMatcher(rules, pathrules.MatcherOptions{
		DefaultAction: defaultAction,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid filter patterns: %w", err)
	}

	return &filter{matcher: matcher}, nil
}

// cleanPatterns normalizes separators and drops blank patterns.
func cleanPatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(strings.ReplaceAll(pattern, `\`, "/"))
		if pattern != "" {
			out = append(out, pattern)
		}
	}
	return out
}

// Selected reports whether the file at key should be extracted.
func (f *filter) Selected(key string) bool {
	if f == nil {
		return true
	}
	return f.matcher.Included(key, false)
}
