// Package render substitutes {Name} placeholders in stored message templates.
package render

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z][A-Za-z0-9_]*)\}`)

// Values maps placeholder names to substitutions.
type Values map[string]string

// Placeholders lists the distinct placeholder names in text, sorted.
func Placeholders(text string) []string {
	seen := make(map[string]struct{})
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		seen[m[1]] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render fills every placeholder in text. A placeholder without a value fails
// with domain.ErrConfigMissing and nothing is substituted.
func Render(text string, values Values) (string, error) {
	return RenderEscaped(text, values, nil)
}

// RenderEscaped is Render with each value passed through escape first, e.g. url.QueryEscape.
func RenderEscaped(text string, values Values, escape func(string) string) (string, error) {
	var missing []string
	for _, name := range Placeholders(text) {
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: no value for placeholder(s) %s", domain.ErrConfigMissing, strings.Join(missing, ", "))
	}

	return placeholderPattern.ReplaceAllStringFunc(text, func(token string) string {
		value := values[token[1:len(token)-1]]
		if escape != nil {
			return escape(value)
		}
		return value
	}), nil
}
