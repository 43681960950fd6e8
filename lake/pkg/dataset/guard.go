package dataset

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNotSelect is returned when a statement sent to the read path is not a SELECT.
	ErrNotSelect = errors.New("only SELECT queries are allowed for security reasons")

	// ErrNotWrite is returned when a statement sent to the write path is not INSERT, UPDATE or DELETE.
	ErrNotWrite = errors.New("only INSERT, UPDATE, and DELETE queries are allowed")

	// ErrMultipleStatements is returned when a read payload holds more than one statement.
	ErrMultipleStatements = errors.New("only a single SELECT statement is allowed")

	// ErrForbidden is wrapped by every ForbiddenKeywordError.
	ErrForbidden = errors.New("forbidden keyword")
)

// ForbiddenKeywordError reports the first denylisted keyword found in a statement.
type ForbiddenKeywordError struct {
	Keyword string
}

func (e *ForbiddenKeywordError) Error() string {
	return fmt.Sprintf("query contains forbidden keyword: %s", e.Keyword)
}

func (e *ForbiddenKeywordError) Unwrap() error {
	return ErrForbidden
}

var (
	readDenylist  = []string{"DROP", "DELETE", "INSERT", "UPDATE", "ALTER", "CREATE", "TRUNCATE"}
	writeDenylist = []string{"DROP", "ALTER", "CREATE", "TRUNCATE"}
	writeVerbs    = []string{"INSERT", "UPDATE", "DELETE"}

	readKeywordRe  = keywordPattern(readDenylist)
	writeKeywordRe = keywordPattern(writeDenylist)

	stringLiteralRe = regexp.MustCompile(`'(?:[^']|'')*'`)
	identifierRe    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

func keywordPattern(words []string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(` + strings.Join(words, "|") + `)\b`)
}

// checkRead validates a statement for the read path.
func checkRead(query string) error {
	if !hasVerb(query, "SELECT") {
		return ErrNotSelect
	}
	if err := checkKeywords(readKeywordRe, query); err != nil {
		return err
	}
	if len(splitStatements(query)) > 1 {
		return ErrMultipleStatements
	}
	return nil
}

// checkWrite validates a (possibly multi-statement) payload for the write path and
// returns the individual statements to execute.
func checkWrite(query string) ([]string, error) {
	if err := checkKeywords(writeKeywordRe, query); err != nil {
		return nil, err
	}
	if !hasVerb(query, writeVerbs...) {
		return nil, ErrNotWrite
	}
	stmts := splitStatements(query)
	for _, stmt := range stmts {
		if !hasVerb(stmt, writeVerbs...) {
			return nil, ErrNotWrite
		}
	}
	return stmts, nil
}

func checkKeywords(re *regexp.Regexp, query string) error {
	// Literal contents never execute, so they are not scanned.
	masked := stringLiteralRe.ReplaceAllString(query, "''")
	if m := re.FindString(masked); m != "" {
		return &ForbiddenKeywordError{Keyword: strings.ToUpper(m)}
	}
	return nil
}

func hasVerb(query string, verbs ...string) bool {
	upper := strings.ToUpper(strings.TrimSpace(query))
	for _, verb := range verbs {
		if strings.HasPrefix(upper, verb) {
			return true
		}
	}
	return false
}

// splitStatements splits a payload on semicolons that are outside quotes.
func splitStatements(query string) []string {
	var (
		stmts []string
		b     strings.Builder
		quote rune
	)
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			stmts = append(stmts, s)
		}
		b.Reset()
	}
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ';':
			flush()
			continue
		}
		b.WriteRune(r)
	}
	flush()
	return stmts
}

func validIdentifier(name string) bool {
	return identifierRe.MatchString(name)
}
