package chart

import (
	"context"
	"errors"
	"testing"

	"github.com/malbeclabs/askql/lake/agent/pkg/llm"
	"github.com/malbeclabs/askql/lake/agent/pkg/llm/llmtest"
	"github.com/malbeclabs/askql/lake/agent/pkg/prompts"
	"github.com/malbeclabs/askql/lake/pkg/dataset"
	laketesting "github.com/malbeclabs/askql/lake/pkg/testing"
	"github.com/stretchr/testify/require"
)

func newBridge(t *testing.T) *Bridge {
	t.Helper()
	b, err := NewBridge(Config{Logger: laketesting.NewLogger(t), Prompts: prompts.MustLoad()})
	require.NoError(t, err)
	return b
}

func result(cols []string, rows ...[]any) *dataset.ReadResult {
	keys := append([]string{dataset.IndexColumn}, cols...)
	res := &dataset.ReadResult{Columns: keys}
	for i, r := range rows {
		res.Rows = append(res.Rows, dataset.NewRow(keys, append([]any{int64(i + 1)}, r...)))
	}
	res.RowCount = len(rows)
	return res
}

func TestLake_Agent_Chart_Decide_EmptyResultMakesNoCall(t *testing.T) {
	t.Parallel()

	mock := llmtest.New()
	d, err := newBridge(t).Decide(context.Background(), mock, &dataset.ReadResult{}, "chart it")
	require.NoError(t, err)
	require.Nil(t, d)
	require.Equal(t, 0, mock.CallCount())
}

func TestLake_Agent_Chart_Decide_SingleRowFastPath(t *testing.T) {
	t.Parallel()

	mock := llmtest.New()
	res := result([]string{"store", "total", "avg", "region"}, []any{"A", int64(10), 2.5, "west"})

	d, err := newBridge(t).Decide(context.Background(), mock, res, "")
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Equal(t, 0, mock.CallCount())
	require.Equal(t, "bar", d.ChartType)
	require.Equal(t, "store", d.XAxis)
	require.Equal(t, Columns{"total", "avg"}, d.YAxis)
	require.Equal(t, "total, avg by store", d.Title)
}

func TestLake_Agent_Chart_Decide_SingleRowNumericFirstColumn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cols []string
		row  []any
		x    string
		ys   Columns
	}{
		{
			name: "aggregates only",
			cols: []string{"total", "avg"},
			row:  []any{int64(1000), 250.0},
			x:    "total",
			ys:   Columns{"total", "avg"},
		},
		{
			name: "count before a label",
			cols: []string{"orders", "scope"},
			row:  []any{int64(42), "all"},
			x:    "orders",
			ys:   Columns{"orders"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock := llmtest.New()
			d, err := newBridge(t).Decide(context.Background(), mock, result(tt.cols, tt.row), "")
			require.NoError(t, err)
			require.NotNil(t, d)
			require.Equal(t, 0, mock.CallCount())
			require.Equal(t, "bar", d.ChartType)
			require.Equal(t, tt.x, d.XAxis)
			require.Equal(t, tt.ys, d.YAxis)

			cfg := Structure(withoutIndex(result(tt.cols, tt.row).Rows), d)
			require.NotNil(t, cfg)
		})
	}
}

func TestLake_Agent_Chart_Decide_SingleRowWithoutNumbers(t *testing.T) {
	t.Parallel()

	res := result([]string{"store", "region"}, []any{"A", "west"})
	d, err := newBridge(t).Decide(context.Background(), llmtest.New(), res, "")
	require.NoError(t, err)
	require.Nil(t, d)
}

func TestLake_Agent_Chart_Decide_ProviderReplies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply llmtest.Reply
		want  *Decision
	}{
		{
			name:  "decision embedded in prose",
			reply: llmtest.Reply{Text: "Sure!\n```json\n{\"should_chart\": true, \"chart_type\": \"line\", \"x_axis\": \"month\", \"y_axis\": [\"sales\"], \"title\": \"Sales\"}\n```"},
			want:  &Decision{ShouldChart: true, ChartType: "line", XAxis: "month", YAxis: Columns{"sales"}, Title: "Sales"},
		},
		{
			name:  "single y column as string",
			reply: llmtest.Reply{Text: `{"should_chart": true, "chart_type": "bar", "x_axis": "month", "y_axis": "sales"}`},
			want:  &Decision{ShouldChart: true, ChartType: "bar", XAxis: "month", YAxis: Columns{"sales"}},
		},
		{
			name:  "declined",
			reply: llmtest.Reply{Text: `{"should_chart": false}`},
		},
		{
			name:  "unparsable",
			reply: llmtest.Reply{Text: "I would not chart this."},
		},
		{
			name:  "provider error",
			reply: llmtest.Reply{Err: &llm.ProviderError{Kind: llm.KindGemini, Err: errors.New("quota")}},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock := llmtest.New().Push(tt.reply)
			res := result([]string{"month", "sales"}, []any{"2024-01", 10.0}, []any{"2024-02", 12.5})
			d, err := newBridge(t).Decide(context.Background(), mock, res, "show the trend")
			require.NoError(t, err)
			require.Equal(t, tt.want, d)
			require.Equal(t, 1, mock.CallCount())
		})
	}
}

func TestLake_Agent_Chart_Decide_PromptCarriesSampleAndQuery(t *testing.T) {
	t.Parallel()

	mock := llmtest.New(`{"should_chart": false}`)
	res := result([]string{"name", "value"},
		[]any{"a store with a very long name", 1.23456},
		[]any{"b", 2.0}, []any{"c", 3.0}, []any{"d", 4.0}, []any{"e", 5.0}, []any{"f", 6.0},
	)
	_, err := newBridge(t).Decide(context.Background(), mock, res, "plot values")
	require.NoError(t, err)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	p := calls[0].Prompt
	require.Contains(t, p, "Data: 6 rows, columns: name, value")
	require.Contains(t, p, `"a store with a ve..."`)
	require.Contains(t, p, `"value": 1.23`)
	require.NotContains(t, p, `"f"`)
	require.NotContains(t, p, `"#": `)
	require.Contains(t, p, "Original User Query: plot values")
	require.Contains(t, p, "You are a friendly and helpful chatbot.")
}

func TestLake_Agent_Chart_Decide_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock := llmtest.New().Push(llmtest.Reply{Err: context.Canceled})
	res := result([]string{"a", "b"}, []any{"x", 1}, []any{"y", 2})
	_, err := newBridge(t).Decide(ctx, mock, res, "")
	require.ErrorIs(t, err, context.Canceled)
}

func TestLake_Agent_Chart_Structure_BarDeduplicatesLabels(t *testing.T) {
	t.Parallel()

	res := result([]string{"store", "sales", "note"},
		[]any{"A", 10.0, "x"},
		[]any{"B", "20", "y"},
		[]any{"A", 99.0, "z"},
		[]any{"C", "n/a", "w"},
	)
	cfg := Structure(res.Rows, &Decision{ChartType: "grouped_bar", XAxis: "store", YAxis: Columns{"sales", "note"}, XAxisLabel: "store", YAxisLabel: "Sales"})
	require.NotNil(t, cfg)
	require.Equal(t, "bar", cfg.Type)
	require.Equal(t, "Data Visualization", cfg.Title)
	require.Empty(t, cfg.XAxisLabel)
	require.Equal(t, "Sales", cfg.YAxisLabel)
	require.Equal(t, []string{"A", "B", "C"}, cfg.Data.Labels)
	require.Len(t, cfg.Data.Datasets, 1)
	require.Equal(t, "sales", cfg.Data.Datasets[0].Label)
	require.Equal(t, []float64{10, 20, 0}, cfg.Data.Datasets[0].Data)
}

func TestLake_Agent_Chart_Structure_NoNumericColumns(t *testing.T) {
	t.Parallel()

	res := result([]string{"store", "note"}, []any{"A", "x"}, []any{"B", "y"})
	require.Nil(t, Structure(res.Rows, &Decision{XAxis: "store", YAxis: Columns{"note"}}))
	require.Nil(t, Structure(res.Rows, &Decision{XAxis: "missing", YAxis: Columns{"note"}}))
}

func TestLake_Agent_Chart_Structure_FiltersIncompatibleScales(t *testing.T) {
	t.Parallel()

	res := result([]string{"store", "revenue", "units", "stores", "returns"},
		[]any{"A", 1_000_000.0, 5.0, 3.0, 0.0},
		[]any{"B", 2_000_000.0, 7.0, 4.0, 2.0},
	)
	cfg := Structure(res.Rows, &Decision{ChartType: "bar", XAxis: "store", YAxis: Columns{"revenue", "units", "stores", "returns"}})
	require.NotNil(t, cfg)
	var labels []string
	for _, ds := range cfg.Data.Datasets {
		labels = append(labels, ds.Label)
	}
	require.Equal(t, []string{"units", "stores", "returns"}, labels)
}

func TestLake_Agent_Chart_Structure_Scatter(t *testing.T) {
	t.Parallel()

	res := result([]string{"price", "qty", "other", "third"},
		[]any{1.5, int64(3), int64(1), int64(2)},
		[]any{2.5, "bad", int64(1), int64(2)},
	)
	cfg := Structure(res.Rows, &Decision{ChartType: "scatter", XAxis: "price", YAxis: Columns{"qty"}, YAxisLabel: "Qty"})
	require.NotNil(t, cfg)
	require.Equal(t, "scatter", cfg.Type)
	require.Equal(t, "price", cfg.XAxisLabel)
	require.Empty(t, cfg.Data.Labels)
	require.Equal(t, []Point{{X: 1.5, Y: 3}, {X: 2.5, Y: 0}}, cfg.Data.Datasets[0].Data)

	res = result([]string{"name", "a", "b", "c"},
		[]any{"x", 1.0, 2.0, 3.0},
		[]any{"y", 1.0, 2.0, 3.0},
	)
	cfg = Structure(res.Rows, &Decision{ChartType: "scatter", XAxis: "name", YAxis: Columns{"a", "b", "c"}})
	require.NotNil(t, cfg)
	require.Equal(t, "bar", cfg.Type)
	require.Len(t, cfg.Data.Datasets, 2)
}

func TestLake_Agent_Chart_BlockAndRecord(t *testing.T) {
	t.Parallel()

	cfg := &ChartConfig{
		Type:  "pie",
		Title: "Share",
		Data: Data{
			Labels:   []string{"a", "b", "c", "d", "e", "f", "g"},
			Datasets: []Dataset{{Label: "share", Data: []float64{1, 2, 3, 4, 5, 6, 7}}},
		},
	}
	block := Block(cfg)
	require.Contains(t, block, "```chart\n{\n  \"type\": \"pie\",")
	require.Contains(t, block, "\n```")

	rec := ToRecord(7, cfg)
	require.Equal(t, int64(7), rec.ConversationID)
	require.Equal(t, "pie", rec.ChartType)
	require.Equal(t, []string{"share"}, rec.Columns)
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, rec.SampleCategories)
	require.Equal(t, 7, rec.TotalCategories)

	rec = ToRecord(7, &ChartConfig{})
	require.Equal(t, "unknown", rec.ChartType)
	require.Equal(t, "Untitled Chart", rec.Title)
}
