package workflow

import (
	"regexp"
	"strings"
)

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// Mentions returns the @name tokens of text that name an available table or
// the general tag, in order of first appearance and without duplicates. Table
// names are returned as listed in available.
func Mentions(text string, available []string) []string {
	byLower := make(map[string]string, len(available))
	for _, t := range available {
		byLower[strings.ToLower(t)] = t
	}

	var out []string
	seen := map[string]bool{}
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		key := strings.ToLower(m[1])
		name, ok := byLower[key]
		if key == GeneralTag {
			name, ok = GeneralTag, true
		}
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	return out
}

// stripGeneral removes the general tag from an utterance.
func stripGeneral(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "@"+GeneralTag, ""))
}

// escapeTableNames wraps bare occurrences of the table names in backticks so
// markdown renderers do not read underscores as emphasis.
func escapeTableNames(text string, tables []string) string {
	for _, name := range tables {
		if name == "" {
			continue
		}
		var b strings.Builder
		rest := text
		for {
			i := strings.Index(rest, name)
			if i < 0 {
				b.WriteString(rest)
				break
			}
			before := i > 0 && rest[i-1] == '`'
			after := i+len(name) < len(rest) && rest[i+len(name)] == '`'
			b.WriteString(rest[:i])
			if before || after {
				b.WriteString(name)
			} else {
				b.WriteString("`" + name + "`")
			}
			rest = rest[i+len(name):]
		}
		text = b.String()
	}
	return text
}
