// Package runner executes extracted SQL against the dataset store, records
// every attempt in the conversation's execution history and, for reads,
// drives the chart decision.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/askql/lake/agent/pkg/chart"
	"github.com/malbeclabs/askql/lake/agent/pkg/sqlextract"
	"github.com/malbeclabs/askql/lake/pkg/dataset"
	"github.com/malbeclabs/askql/lake/pkg/sessions"
)

// QueryResult is the outcome of one statement as shown to the user and the
// model. Statement failures are results with Success false, not errors.
type QueryResult struct {
	Success  bool          `json:"success"`
	Columns  []string      `json:"columns"`
	Data     []dataset.Row `json:"data"`
	RowCount int           `json:"row_count"`
	Error    string        `json:"error,omitempty"`

	// Chart is set when a visualization was produced for this result.
	Chart *chart.ChartConfig `json:"-"`
}

// Store is the dataset access the runner needs.
type Store interface {
	RunRead(ctx context.Context, query string) (*dataset.ReadResult, error)
	RunWrite(ctx context.Context, query string) (*dataset.WriteResult, error)
}

// Log is the history side of the persistence log.
type Log interface {
	RecordExecution(ctx context.Context, rec *sessions.ExecutionRecord) error
	RecordChart(ctx context.Context, rec *sessions.ChartRecord) error
}

// Observer is called once per executed statement.
type Observer func(kind sqlextract.Kind, success bool, elapsed time.Duration)

type Config struct {
	Logger   *slog.Logger
	Store    Store
	Log      Log
	Charts   *chart.Bridge
	Clock    clockwork.Clock
	Observer Observer
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Log == nil {
		return errors.New("log is required")
	}
	if c.Charts == nil {
		return errors.New("chart bridge is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Runner struct {
	log   *slog.Logger
	cfg   Config
	clock clockwork.Clock
}

func New(cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{log: cfg.Logger, cfg: cfg, clock: cfg.Clock}, nil
}

// Run executes sql on the path selected by kind and records the attempt. The
// returned error is reserved for infrastructure failures and cancellation.
func (r *Runner) Run(ctx context.Context, conversationID int64, sql string, kind sqlextract.Kind) (*QueryResult, error) {
	start := r.clock.Now()

	var res *QueryResult
	var err error
	if kind == sqlextract.KindWrite {
		res, err = r.write(ctx, sql)
	} else {
		res, err = r.read(ctx, sql)
	}
	elapsed := r.clock.Since(start)
	if err != nil {
		return nil, err
	}

	if r.cfg.Observer != nil {
		r.cfg.Observer(kind, res.Success, elapsed)
	}

	rec := &sessions.ExecutionRecord{
		ConversationID:  conversationID,
		SQL:             sql,
		Success:         res.Success,
		RowCount:        res.RowCount,
		ErrorMessage:    res.Error,
		ExecutionTimeMS: elapsed.Milliseconds(),
	}
	if err := r.cfg.Log.RecordExecution(ctx, rec); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.log.Warn("runner: failed to record execution", "conversation_id", conversationID, "error", err)
	}
	return res, nil
}

func (r *Runner) read(ctx context.Context, sql string) (*QueryResult, error) {
	out, err := r.cfg.Store.RunRead(ctx, sql)
	if err != nil {
		return failed(err)
	}
	return &QueryResult{Success: true, Columns: out.Columns, Data: out.Rows, RowCount: out.RowCount}, nil
}

func (r *Runner) write(ctx context.Context, sql string) (*QueryResult, error) {
	out, err := r.cfg.Store.RunWrite(ctx, sql)
	if err != nil {
		return failed(err)
	}
	return &QueryResult{Success: true, Columns: []string{}, Data: []dataset.Row{}, RowCount: int(out.RowsAffected)}, nil
}

func failed(err error) (*QueryResult, error) {
	var stmtErr *dataset.StatementError
	if !errors.As(err, &stmtErr) {
		return nil, fmt.Errorf("failed to execute statement: %w", err)
	}
	return &QueryResult{Success: false, Columns: []string{}, Data: []dataset.Row{}, Error: stmtErr.Error()}, nil
}
