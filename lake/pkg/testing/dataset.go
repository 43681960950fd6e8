package laketesting

import (
	"context"
	"testing"

	"github.com/malbeclabs/askql/lake/pkg/dataset"
	"github.com/stretchr/testify/require"
)

// NewDataset opens an in-memory SQLite dataset store and runs the given
// statements against it.
func NewDataset(t testing.TB, seed ...string) *dataset.Store {
	t.Helper()
	ctx := context.Background()

	store, err := dataset.Open(ctx, dataset.Config{Logger: NewLogger(t), Driver: dataset.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for _, stmt := range seed {
		_, err := store.DB().ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	return store
}

// SalesSeed is a small table the agent packages share in tests.
var SalesSeed = []string{
	`CREATE TABLE sales (id INTEGER PRIMARY KEY, store TEXT NOT NULL, region TEXT, amount REAL, created_at TEXT)`,
	`INSERT INTO sales (id, store, region, amount, created_at) VALUES
		(1, 'A', 'west', 100.5, '2024-01-01'),
		(2, 'B', 'east', 250.0, '2024-01-02'),
		(3, 'C', 'west', 75.25, '2024-01-03'),
		(4, 'D', 'north', 310.0, '2024-01-04')`,
}
