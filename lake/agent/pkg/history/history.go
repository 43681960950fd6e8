// Package history renders a conversation's recent SQL executions and charts
// into prompt sections, so the model can refer back to earlier work.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/malbeclabs/askql/lake/pkg/sessions"
)

// Context holds the two rendered sections. Either is empty when there is no
// matching history.
type Context struct {
	SQL   string
	Chart string
}

// String joins both sections in the order they are appended to prompts.
func (c Context) String() string {
	return c.SQL + c.Chart
}

// Reader is the subset of the persistence log the builder needs.
type Reader interface {
	RecentExecutions(ctx context.Context, conversationID int64, limit int) ([]sessions.ExecutionRecord, error)
	RecentCharts(ctx context.Context, conversationID int64, limit int) ([]sessions.ChartRecord, error)
}

type Config struct {
	Store Reader
	Limit int
}

func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Limit <= 0 {
		c.Limit = sessions.HistoryLimit
	}
	return nil
}

type Builder struct {
	store Reader
	limit int
}

func NewBuilder(cfg Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{store: cfg.Store, limit: cfg.Limit}, nil
}

// Build renders the latest records of both rings in chronological order.
func (b *Builder) Build(ctx context.Context, conversationID int64) (Context, error) {
	execs, err := b.store.RecentExecutions(ctx, conversationID, b.limit)
	if err != nil {
		return Context{}, fmt.Errorf("failed to load execution history: %w", err)
	}
	charts, err := b.store.RecentCharts(ctx, conversationID, b.limit)
	if err != nil {
		return Context{}, fmt.Errorf("failed to load chart history: %w", err)
	}
	return Context{SQL: SQLSection(execs), Chart: ChartSection(charts)}, nil
}

// SQLSection renders execution records given newest first.
func SQLSection(recs []sessions.ExecutionRecord) string {
	if len(recs) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n\n**RECENT SQL EXECUTION HISTORY (last %d queries):**\n", len(recs))
	for i := range recs {
		r := recs[len(recs)-1-i]
		if r.Success {
			fmt.Fprintf(&b, "%d. ✅ `%s` → %d rows\n", i+1, r.SQL, r.RowCount)
			continue
		}
		msg := r.ErrorMessage
		if msg == "" {
			msg = "Unknown error"
		}
		fmt.Fprintf(&b, "%d. ❌ `%s` → Error: %s\n", i+1, r.SQL, msg)
	}
	return b.String()
}

// ChartSection renders chart records given newest first.
func ChartSection(recs []sessions.ChartRecord) string {
	if len(recs) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n\n**RECENT CHART GENERATION HISTORY (last %d charts):**\n", len(recs))
	for i := range recs {
		r := recs[len(recs)-1-i]
		fmt.Fprintf(&b, "%d. %s: %q", i+1, strings.ToUpper(r.ChartType), r.Title)
		if len(r.Columns) > 0 {
			fmt.Fprintf(&b, " (columns: %s)", strings.Join(r.Columns, ", "))
		}
		if len(r.SampleCategories) > 0 {
			cats := strings.Join(r.SampleCategories, ", ")
			if more := r.TotalCategories - len(r.SampleCategories); more > 0 {
				fmt.Fprintf(&b, " (categories: %s... +%d more)", cats, more)
			} else {
				fmt.Fprintf(&b, " (categories: %s)", cats)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
