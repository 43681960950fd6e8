// Package sqlextract pulls the single actionable SQL statement out of a model
// reply and classifies it by leading verb.
package sqlextract

import (
	"regexp"
	"strings"
)

var (
	taggedBlock   = regexp.MustCompile("(?is)```sql\\s*(.*?)\\s*```")
	selectBlock   = regexp.MustCompile("(?is)```\\s*(SELECT.*?)\\s*```")
	stepMarker    = regexp.MustCompile(`(?i)MULTI_STEP_QUERY:\s*Step\s*\d+\s*`)
	acceptedVerbs = regexp.MustCompile(`(?i)^\s*(SELECT|INSERT|UPDATE|DELETE|WITH|CREATE|DROP|ALTER)\s`)
)

// Extract returns the first SQL statement found in text. Only the first
// sql-tagged block is considered; when there is none, the first untagged
// block starting with SELECT is used.
func Extract(text string) (string, bool) {
	if m := taggedBlock.FindStringSubmatch(text); m != nil {
		sql := clean(m[1])
		// The verb check needs trailing whitespace, which the block trim removed.
		if sql != "" && acceptedVerbs.MatchString(sql+" ") {
			return sql, true
		}
	}
	if m := selectBlock.FindStringSubmatch(text); m != nil {
		if sql := clean(m[1]); sql != "" {
			return sql, true
		}
	}
	return "", false
}

func clean(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimSpace(stepMarker.ReplaceAllString(s, ""))
}

// Render wraps a statement in a sql fence. Extract(Render(s)) == s for any
// statement Extract accepts.
func Render(sql string) string {
	return "```sql\n" + sql + "\n```"
}

// Operation is the kind of data operation a statement performs.
type Operation string

const (
	OpRead   Operation = "READ"
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Kind is the execution path a statement takes.
type Kind string

const (
	KindRead  Kind = "READ"
	KindWrite Kind = "WRITE"
)

// Classify maps a statement's leading verb to its operation. Anything that is
// not INSERT, UPDATE or DELETE is treated as a read.
func Classify(sql string) Operation {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	switch {
	case strings.HasPrefix(upper, "INSERT"):
		return OpCreate
	case strings.HasPrefix(upper, "UPDATE"):
		return OpUpdate
	case strings.HasPrefix(upper, "DELETE"):
		return OpDelete
	default:
		return OpRead
	}
}

func (o Operation) Kind() Kind {
	if o.IsWrite() {
		return KindWrite
	}
	return KindRead
}

func (o Operation) IsWrite() bool {
	return o == OpCreate || o == OpUpdate || o == OpDelete
}

// PastTense is the verb used in result lines ("Successfully created ...").
func (o Operation) PastTense() string {
	switch o {
	case OpCreate:
		return "created"
	case OpUpdate:
		return "updated"
	case OpDelete:
		return "deleted"
	default:
		return "read"
	}
}
