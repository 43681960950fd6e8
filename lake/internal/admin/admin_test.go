package admin

import (
	"bytes"
	"context"
	"testing"

	"github.com/malbeclabs/askql/lake/pkg/dataset"
	laketesting "github.com/malbeclabs/askql/lake/pkg/testing"
	"github.com/stretchr/testify/require"
)

func TestLake_Admin_PrintTables(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, PrintTables(context.Background(), &buf, laketesting.NewDataset(t)))
	require.Equal(t, "no tables\n", buf.String())

	buf.Reset()
	require.NoError(t, PrintTables(context.Background(), &buf, laketesting.NewDataset(t, laketesting.SalesSeed...)))
	require.Equal(t, "sales\n", buf.String())
}

func TestLake_Admin_PrintSchema(t *testing.T) {
	t.Parallel()

	store := laketesting.NewDataset(t, laketesting.SalesSeed...)
	var buf bytes.Buffer
	require.NoError(t, PrintSchema(context.Background(), &buf, store, "sales"))

	out := buf.String()
	require.Contains(t, out, "Table: sales")
	require.Contains(t, out, "created_at")
	require.Contains(t, out, "Sample rows:")
	require.Contains(t, out, "west")

	err := PrintSchema(context.Background(), &buf, store, "missing")
	require.ErrorIs(t, err, dataset.ErrTableNotFound)
}

func TestLake_Admin_RunQuery(t *testing.T) {
	t.Parallel()

	store := laketesting.NewDataset(t, laketesting.SalesSeed...)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, RunQuery(ctx, &buf, store, "SELECT store, amount FROM sales WHERE region = 'west' ORDER BY id"))
	out := buf.String()
	require.Contains(t, out, "store")
	require.Contains(t, out, "100.5")
	require.Contains(t, out, "(2 row(s))")

	require.ErrorIs(t, RunQuery(ctx, &buf, store, "DELETE FROM sales"), dataset.ErrNotSelect)
	require.ErrorContains(t, RunQuery(ctx, &buf, store, "  "), "query is required")
}
