package chart

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/malbeclabs/askql/lake/agent/pkg/prompts"
	"github.com/malbeclabs/askql/lake/pkg/dataset"
	"github.com/malbeclabs/askql/lake/pkg/sessions"
)

// maxScaleRatio is how far apart two series' average magnitudes may be and
// still share an axis.
const maxScaleRatio = 100

// ChartConfig is the structured chart the UI renders.
type ChartConfig struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	XAxisLabel string `json:"x_axis_label,omitempty"`
	YAxisLabel string `json:"y_axis_label,omitempty"`
	Data       Data   `json:"data"`
}

type Data struct {
	Labels   []string  `json:"labels,omitempty"`
	Datasets []Dataset `json:"datasets"`
}

// Dataset is one series. Data is []float64, or []Point for scatter charts.
type Dataset struct {
	Label string `json:"label"`
	Data  any    `json:"data"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Structure builds the chart configuration for rows according to d. It
// returns nil when none of the requested y columns is numeric or the x
// column is missing.
func Structure(rows []dataset.Row, d *Decision) *ChartConfig {
	if d == nil || len(rows) == 0 {
		return nil
	}
	if _, ok := rows[0].Get(d.XAxis); !ok {
		return nil
	}

	var ys []string
	for _, y := range d.YAxis {
		v, _ := rows[0].Get(y)
		if _, ok := toNumber(v); ok {
			ys = append(ys, y)
		}
	}
	if len(ys) == 0 {
		return nil
	}
	if len(ys) > 1 {
		ys = compatibleScales(rows, ys)
	}

	chartType := d.ChartType
	if chartType == "" || chartType == "grouped_bar" {
		chartType = "bar"
	}
	if chartType == "scatter" {
		x, _ := rows[0].Get(d.XAxis)
		if !isNumber(x) {
			chartType = "bar"
			if len(ys) > 2 {
				ys = ys[:2]
			}
		}
	}

	title := d.Title
	if title == "" {
		title = "Data Visualization"
	}
	xLabel := d.XAxisLabel
	if xLabel == "" {
		xLabel = d.XAxis
	}

	cfg := &ChartConfig{Type: chartType, Title: title, YAxisLabel: d.YAxisLabel}

	if chartType == "scatter" {
		cfg.XAxisLabel = xLabel
		xs := make([]float64, len(rows))
		for i, r := range rows {
			v, _ := r.Get(d.XAxis)
			xs[i], _ = toNumber(v)
		}
		for _, y := range ys {
			points := make([]Point, len(rows))
			for i, r := range rows {
				v, _ := r.Get(y)
				n, _ := toNumber(v)
				points[i] = Point{X: xs[i], Y: n}
			}
			cfg.Data.Datasets = append(cfg.Data.Datasets, Dataset{Label: y, Data: points})
		}
		return cfg
	}

	if xLabel != d.XAxis {
		cfg.XAxisLabel = xLabel
	}

	// The first row for each distinct label wins.
	seen := map[string]bool{}
	var firsts []dataset.Row
	for _, r := range rows {
		v, _ := r.Get(d.XAxis)
		l := label(v)
		if seen[l] {
			continue
		}
		seen[l] = true
		cfg.Data.Labels = append(cfg.Data.Labels, l)
		firsts = append(firsts, r)
	}
	for _, y := range ys {
		values := make([]float64, len(firsts))
		for i, r := range firsts {
			v, _ := r.Get(y)
			values[i], _ = toNumber(v)
		}
		cfg.Data.Datasets = append(cfg.Data.Datasets, Dataset{Label: y, Data: values})
	}
	return cfg
}

// Block renders cfg as a chart fence for transcripts.
func Block(cfg *ChartConfig) string {
	return "```chart\n" + prompts.JSON(cfg) + "\n```"
}

// ToRecord summarizes cfg for the conversation's chart history.
func ToRecord(conversationID int64, cfg *ChartConfig) *sessions.ChartRecord {
	rec := &sessions.ChartRecord{
		ConversationID:   conversationID,
		ChartType:        cfg.Type,
		Title:            cfg.Title,
		XAxisLabel:       cfg.XAxisLabel,
		YAxisLabel:       cfg.YAxisLabel,
		Columns:          []string{},
		SampleCategories: []string{},
		TotalCategories:  len(cfg.Data.Labels),
	}
	if rec.ChartType == "" {
		rec.ChartType = "unknown"
	}
	if rec.Title == "" {
		rec.Title = "Untitled Chart"
	}
	for _, ds := range cfg.Data.Datasets {
		rec.Columns = append(rec.Columns, ds.Label)
	}
	samples := cfg.Data.Labels
	if len(samples) > 5 {
		samples = samples[:5]
	}
	rec.SampleCategories = append(rec.SampleCategories, samples...)
	return rec
}

// compatibleScales keeps the largest group of columns whose average absolute
// non-zero magnitudes are within maxScaleRatio of the group's average.
func compatibleScales(rows []dataset.Row, cols []string) []string {
	avgs := make(map[string]float64, len(cols))
	for _, c := range cols {
		var sum float64
		var n int
		for _, r := range rows {
			v, _ := r.Get(c)
			f, ok := toNumber(v)
			if !ok || f == 0 {
				continue
			}
			sum += math.Abs(f)
			n++
		}
		if n == 0 {
			avgs[c] = 1
			continue
		}
		avgs[c] = sum / float64(n)
	}

	var groups [][]string
	for _, c := range cols {
		placed := false
		for i, g := range groups {
			var total float64
			for _, m := range g {
				total += avgs[m]
			}
			groupAvg := total / float64(len(g))
			if math.Max(avgs[c], groupAvg)/math.Min(avgs[c], groupAvg) <= maxScaleRatio {
				groups[i] = append(g, c)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []string{c})
		}
	}

	best := groups[0]
	for _, g := range groups[1:] {
		if len(g) > len(best) {
			best = g
		}
	}
	return best
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func label(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format(time.DateTime)
	default:
		return fmt.Sprint(t)
	}
}
