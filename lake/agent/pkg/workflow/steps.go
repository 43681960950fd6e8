package workflow

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/askql/lake/agent/pkg/prompts"
	"github.com/malbeclabs/askql/lake/agent/pkg/runner"
	"github.com/malbeclabs/askql/lake/agent/pkg/sqlextract"
	"github.com/malbeclabs/askql/lake/pkg/dataset"
	"github.com/malbeclabs/askql/lake/pkg/sessions"
)

// step is one executed read statement of the current request.
type step struct {
	sql    string
	result *runner.QueryResult
	// reasoning is the model's explanation for taking this step. The first
	// step of a turn has none.
	reasoning string
}

func (s step) summary() sessions.StepSummary {
	return sessions.StepSummary{
		SQL:       s.sql,
		Operation: string(sqlextract.OpRead),
		Success:   s.result.Success,
		RowCount:  s.result.RowCount,
		Error:     s.result.Error,
	}
}

// Row limits and text lengths for results quoted back to the model. The
// newest result gets the most room; when a turn has run more than five
// statements, results outside the last five are cut further.
const (
	lastStepRows   = 20
	recentStepRows = 10
	olderStepRows  = 3
	recentTextLen  = 20
	olderTextLen   = 10
	recentWindow   = 5
)

// quoted returns the rows of step i of total as they are quoted in prompts.
func quoted(rows []dataset.Row, i, total int) []dataset.Row {
	recent := total <= recentWindow || i >= total-recentWindow
	limit, textLen := olderStepRows, olderTextLen
	switch {
	case i == total-1:
		limit = lastStepRows
	case recent:
		limit = recentStepRows
	}
	if recent {
		textLen = recentTextLen
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return prompts.Compact(rows, textLen)
}

type continueEntry struct {
	Query    string        `json:"query"`
	Success  bool          `json:"success"`
	RowCount int           `json:"row_count"`
	Error    string        `json:"error,omitempty"`
	Result   []dataset.Row `json:"result,omitempty"`
}

// continueResults renders the results list of the ask-mode completion
// decision prompt.
func continueResults(steps []step) string {
	out := make([]continueEntry, len(steps))
	for i, s := range steps {
		if !s.result.Success {
			msg := s.result.Error
			if msg == "" {
				msg = "Query returned no results"
			}
			out[i] = continueEntry{Query: s.sql, Error: msg}
			continue
		}
		out[i] = continueEntry{
			Query:    s.sql,
			Success:  true,
			RowCount: s.result.RowCount,
			Result:   quoted(s.result.Data, i, len(steps)),
		}
	}
	return prompts.JSON(out)
}

type conclusionEntry struct {
	Step     int           `json:"step"`
	Query    string        `json:"query"`
	RowCount int           `json:"row_count"`
	Data     []dataset.Row `json:"data"`
}

// conclusionPrompt picks the single or multi-step conclusion template.
func conclusionPrompt(single, multi, userQuery string, steps []step) string {
	if len(steps) == 1 {
		res := steps[0].result
		return prompts.Render(single, map[string]string{
			"ROW_COUNT": fmt.Sprint(res.RowCount),
			"RESULTS":   prompts.JSON(quoted(res.Data, 0, 1)),
		})
	}
	out := make([]conclusionEntry, len(steps))
	for i, s := range steps {
		out[i] = conclusionEntry{Step: i + 1, Query: s.sql, RowCount: s.result.RowCount, Data: quoted(s.result.Data, i, len(steps))}
	}
	return prompts.Render(multi, map[string]string{
		"QUESTION": userQuery,
		"RESULTS":  prompts.JSON(out),
	})
}

// transcript renders executed steps for the assistant message, separating
// steps with the model's reasoning for the next one.
func transcript(steps []step) string {
	var b strings.Builder
	for i, s := range steps {
		if i > 0 {
			b.WriteString(nextStep(s.reasoning, "Analyzing further..."))
		}
		b.WriteString(runner.RenderForStorage(s.sql, s.result))
	}
	return b.String()
}

func nextStep(reasoning, fallback string) string {
	r := cleanReasoning(reasoning)
	if r == "" {
		r = fallback
	}
	return "\n\n---\n\n💭 **Next Step:** " + r + "\n\n"
}
