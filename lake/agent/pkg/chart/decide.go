// Package chart decides whether a read result is worth visualizing and turns
// the decision into a chart configuration the UI renders.
package chart

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/malbeclabs/askql/lake/agent/pkg/llm"
	"github.com/malbeclabs/askql/lake/agent/pkg/prompts"
	"github.com/malbeclabs/askql/lake/pkg/dataset"
)

const (
	sampleRows    = 5
	sampleTextLen = 20
)

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

// Decision is the model's chart choice for a result.
type Decision struct {
	ShouldChart bool    `json:"should_chart"`
	ChartType   string  `json:"chart_type"`
	XAxis       string  `json:"x_axis"`
	YAxis       Columns `json:"y_axis"`
	Title       string  `json:"title"`
	XAxisLabel  string  `json:"x_axis_label,omitempty"`
	YAxisLabel  string  `json:"y_axis_label,omitempty"`
}

// Columns accepts either a single column name or a list.
type Columns []string

func (c *Columns) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*c = Columns{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*c = many
	return nil
}

type Config struct {
	Logger  *slog.Logger
	Prompts *prompts.Prompts
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Prompts == nil {
		return errors.New("prompts are required")
	}
	return nil
}

// Bridge asks the model for a chart decision.
type Bridge struct {
	log     *slog.Logger
	prompts *prompts.Prompts
}

func NewBridge(cfg Config) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Bridge{log: cfg.Logger, prompts: cfg.Prompts}, nil
}

// Decide returns a chart decision for res, or nil when no chart should be
// drawn. Provider failures and unparsable replies yield nil. The only error
// returned is the context's, so the caller can stop the turn.
func (b *Bridge) Decide(ctx context.Context, p llm.Provider, res *dataset.ReadResult, userQuery string) (*Decision, error) {
	if res == nil || res.RowCount == 0 || len(res.Rows) == 0 {
		return nil, nil
	}
	cols := DataColumns(res.Columns)

	if res.RowCount == 1 {
		return singleRow(cols, res.Rows[0]), nil
	}

	sample := res.Rows
	if len(sample) > sampleRows {
		sample = sample[:sampleRows]
	}
	sample = prompts.Compact(withoutIndex(sample), sampleTextLen)

	userContext := ""
	if userQuery != "" {
		userContext = "\n\nOriginal User Query: " + userQuery
	}
	prompt := prompts.Render(b.prompts.ChartDecide, map[string]string{
		"ROW_COUNT":  strconv.Itoa(res.RowCount),
		"COLUMNS":    strings.Join(cols, ", "),
		"SAMPLE":     prompts.JSON(sample),
		"USER_QUERY": userContext,
	})

	reply, err := p.Complete(ctx, &llm.Request{Prompt: b.prompts.Wrap(prompt)})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.log.Warn("chart: decision call failed", "error", err)
		return nil, nil
	}
	d, err := ParseDecision(reply)
	if err != nil {
		b.log.Debug("chart: unparsable decision", "error", err, "reply", reply)
		return nil, nil
	}
	if !d.ShouldChart {
		return nil, nil
	}
	return d, nil
}

// ParseDecision extracts the first JSON object from a model reply.
func ParseDecision(reply string) (*Decision, error) {
	raw := jsonObject.FindString(reply)
	if raw == "" {
		return nil, errors.New("no json object in reply")
	}
	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// singleRow charts a one-row result as a bar of every numeric column, labelled
// by the first column, without a provider call.
func singleRow(cols []string, row dataset.Row) *Decision {
	if len(cols) == 0 {
		return nil
	}
	x := cols[0]
	var ys []string
	for _, c := range cols {
		v, _ := row.Get(c)
		if isNumber(v) {
			ys = append(ys, c)
		}
	}
	if len(ys) == 0 {
		return nil
	}
	return &Decision{
		ShouldChart: true,
		ChartType:   "bar",
		XAxis:       x,
		YAxis:       ys,
		Title:       strings.Join(ys, ", ") + " by " + x,
	}
}

// DataColumns drops the row index column.
func DataColumns(cols []string) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if c != dataset.IndexColumn {
			out = append(out, c)
		}
	}
	return out
}

func withoutIndex(rows []dataset.Row) []dataset.Row {
	out := make([]dataset.Row, len(rows))
	for i, r := range rows {
		keys := DataColumns(r.Keys)
		vals := make([]any, len(keys))
		for j, k := range keys {
			vals[j] = r.Values[k]
		}
		out[i] = dataset.NewRow(keys, vals)
	}
	return out
}
