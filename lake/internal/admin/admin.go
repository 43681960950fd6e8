// Package admin implements the operator commands of the admin CLI.
package admin

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/malbeclabs/askql/lake/pkg/dataset"
	"github.com/olekukonko/tablewriter"
)

// Datasets is the part of the dataset store the admin commands use.
type Datasets interface {
	ListTables(ctx context.Context) ([]string, error)
	Schema(ctx context.Context, table string) (*dataset.TableSchema, error)
	RunRead(ctx context.Context, query string) (*dataset.ReadResult, error)
}

// PrintTables writes one line per queryable table.
func PrintTables(ctx context.Context, w io.Writer, store Datasets) error {
	tables, err := store.ListTables(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	if len(tables) == 0 {
		_, err := fmt.Fprintln(w, "no tables")
		return err
	}
	for _, t := range tables {
		if _, err := fmt.Fprintln(w, t); err != nil {
			return err
		}
	}
	return nil
}

// PrintSchema renders a table's columns followed by its sample rows.
func PrintSchema(ctx context.Context, w io.Writer, store Datasets, table string) error {
	schema, err := store.Schema(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}

	fmt.Fprintf(w, "Table: %s\n", schema.TableName)
	cols := newTable(w, []string{"Column", "Type", "Nullable", "Primary Key"})
	for _, c := range schema.Columns {
		cols.Append([]string{c.Name, c.Type, yesNo(c.Nullable), yesNo(c.PrimaryKey)})
	}
	cols.Render()

	if len(schema.SampleRows) == 0 {
		return nil
	}
	fmt.Fprintln(w, "Sample rows:")
	header := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		header[i] = c.Name
	}
	renderRows(w, header, schema.SampleRows)
	return nil
}

// RunQuery executes a read-only statement and renders its rows.
func RunQuery(ctx context.Context, w io.Writer, store Datasets, query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query is required")
	}
	res, err := store.RunRead(ctx, query)
	if err != nil {
		return err
	}
	renderRows(w, res.Columns, res.Rows)
	_, err = fmt.Fprintf(w, "(%d row(s))\n", res.RowCount)
	return err
}

func renderRows(w io.Writer, header []string, rows []dataset.Row) {
	t := newTable(w, header)
	for _, row := range rows {
		cells := make([]string, len(header))
		for i, col := range header {
			v, ok := row.Get(col)
			if !ok || v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprint(v)
		}
		t.Append(cells)
	}
	t.Render()
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(false)
	t.SetBorder(true)
	t.SetHeader(header)
	return t
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
