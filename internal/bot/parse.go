package bot

import (
	"strings"
	"unicode"

	"bankrupt_bot/internal/model"
)

// ParseIdentifiers splits free text on whitespace, commas and semicolons.
func ParseIdentifiers(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';'
	})
}

// SplitValid separates well-formed identifiers from the rest, dropping
// repeats of the same valid identifier.
func SplitValid(tokens []string) (valid, invalid []string) {
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if !model.ValidIdentifier(t) {
			invalid = append(invalid, t)
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		valid = append(valid, t)
	}
	return valid, invalid
}

// parseCallback splits callback data such as "clear:42".
func parseCallback(data string) (action, arg string, ok bool) {
	action, arg, ok = strings.Cut(data, ":")
	return action, arg, ok && action != ""
}
