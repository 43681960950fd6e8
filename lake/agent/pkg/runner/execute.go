package runner

import (
	"context"
	"strings"

	"github.com/malbeclabs/askql/lake/agent/pkg/chart"
	"github.com/malbeclabs/askql/lake/agent/pkg/events"
	"github.com/malbeclabs/askql/lake/agent/pkg/llm"
	"github.com/malbeclabs/askql/lake/agent/pkg/sqlextract"
	"github.com/malbeclabs/askql/lake/pkg/dataset"
)

const (
	minChartRows = 2
	maxChartRows = 100
	minChartCols = 2
)

// Execute runs a read statement as one loop step: it emits the statement, its
// result and the chart decision, recording execution and chart history. An
// error means the turn must stop.
func (r *Runner) Execute(ctx context.Context, p llm.Provider, conversationID int64, sql, userQuery string, sink events.Sink) (*QueryResult, error) {
	if err := sink.Send(ctx, events.Event{Type: events.TypeSQLQuery, Content: sql}); err != nil {
		return nil, err
	}
	if err := sink.Send(ctx, events.Loading("AI is executing query...")); err != nil {
		return nil, err
	}

	res, err := r.Run(ctx, conversationID, sql, sqlextract.KindRead)
	if err != nil {
		return nil, err
	}
	if err := sink.Send(ctx, events.Event{Type: events.TypeSQLResult, Content: res}); err != nil {
		return nil, err
	}

	if !Chartable(res, userQuery) {
		return res, sendNoGraph(ctx, sink)
	}

	if err := sink.Send(ctx, events.Loading("AI is deciding whether to generate charts...")); err != nil {
		return nil, err
	}
	read := &dataset.ReadResult{Columns: res.Columns, Rows: res.Data, RowCount: res.RowCount}
	decision, err := r.cfg.Charts.Decide(ctx, p, read, userQuery)
	if err != nil {
		return nil, err
	}
	if decision == nil {
		return res, sendNoGraph(ctx, sink)
	}

	if err := sink.Send(ctx, events.Loading("AI is generating charts...")); err != nil {
		return nil, err
	}
	cfg := chart.Structure(res.Data, decision)
	if cfg == nil {
		return res, sendNoGraph(ctx, sink)
	}
	if err := r.cfg.Log.RecordChart(ctx, chart.ToRecord(conversationID, cfg)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.log.Warn("runner: failed to record chart", "conversation_id", conversationID, "error", err)
	}
	res.Chart = cfg

	graphType := decision.ChartType
	if graphType == "" {
		graphType = "bar"
	}
	for _, ev := range []events.Event{
		{Type: events.TypeGraphDecision, Content: events.GraphDecision{ShouldGenerateGraph: true, GraphType: graphType}},
		{Type: events.TypeChartConfig, Content: cfg},
		events.Loading("AI is analyzing results..."),
	} {
		if err := sink.Send(ctx, ev); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func sendNoGraph(ctx context.Context, sink events.Sink) error {
	return sink.Send(ctx, events.Event{Type: events.TypeGraphDecision, Content: events.GraphDecision{}})
}

// Chartable reports whether a result is worth asking the model about. The
// row index column does not count toward the column minimum.
func Chartable(res *QueryResult, userQuery string) bool {
	if res == nil || !res.Success || res.RowCount == 0 {
		return false
	}
	cols := len(chart.DataColumns(res.Columns))
	if cols < minChartCols {
		return false
	}
	if res.RowCount >= minChartRows && res.RowCount <= maxChartRows {
		return true
	}
	return wantsChart(userQuery)
}

func wantsChart(userQuery string) bool {
	q := strings.ToLower(userQuery)
	return strings.Contains(q, "chart") || strings.Contains(q, "graph") || strings.Contains(q, "visuali")
}
