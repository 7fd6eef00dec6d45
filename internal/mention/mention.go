// Package mention suggests author names for an "@" token in a draft and
// splices the chosen completion back in as a styled span.
package mention

import (
	"regexp"
	"strings"
)

// MaxSuggestions caps the list shown under the editor.
const MaxSuggestions = 5

var markupPattern = regexp.MustCompile(`<[^>]*>`)

// Matcher filters a fixed set of known author names. It is pure and
// restartable: every call works from the current draft alone.
type Matcher struct {
	names []string
}

// NewMatcher keeps the names distinct, preserving encounter order.
func NewMatcher(names []string) *Matcher {
	seen := make(map[string]struct{}, len(names))
	distinct := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		distinct = append(distinct, name)
	}
	return &Matcher{names: distinct}
}

// Suggest matches the partial token after the draft's last "@",
// case-insensitive substring, capped at MaxSuggestions. A draft without "@"
// yields nothing.
func (m *Matcher) Suggest(draft string) []string {
	at := strings.LastIndex(draft, "@")
	if at < 0 {
		return nil
	}
	// The editor leaves markup fragments around the caret; match on the
	// bare text.
	partial := strings.ToLower(markupPattern.ReplaceAllString(draft[at+1:], ""))

	var suggestions []string
	for _, name := range m.names {
		if !strings.Contains(strings.ToLower(name), partial) {
			continue
		}
		suggestions = append(suggestions, name)
		if len(suggestions) == MaxSuggestions {
			break
		}
	}
	return suggestions
}

// Splice replaces the partial token being typed at the cursor with a styled
// mention span for the chosen name and returns the new draft.
func Splice(draft string, cursor int, name string) string {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(draft) {
		cursor = len(draft)
	}
	span := `<span class="mention" style="color: blue;">@` + name + `</span>`
	start := cursor
	if at := strings.LastIndex(draft[:cursor], "@"); at >= 0 {
		start = at
	}
	return draft[:start] + span + draft[cursor:]
}
