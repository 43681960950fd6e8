package sqlextract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLake_Agent_SQLExtract_Extract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{
			name:   "tagged select",
			text:   "Here you go:\n```sql\nSELECT * FROM sales\n```",
			want:   "SELECT * FROM sales",
			wantOK: true,
		},
		{
			name:   "tag is case insensitive",
			text:   "```SQL\nselect 1 from t\n```",
			want:   "select 1 from t",
			wantOK: true,
		},
		{
			name:   "step marker is stripped",
			text:   "MULTI_STEP_QUERY: Step 2\n```sql\nMULTI_STEP_QUERY: Step 2\nSELECT region, SUM(amount) FROM sales GROUP BY region\n```",
			want:   "SELECT region, SUM(amount) FROM sales GROUP BY region",
			wantOK: true,
		},
		{
			name:   "multi line statement",
			text:   "```sql\nWITH x AS (SELECT 1)\nSELECT * FROM x\n```",
			want:   "WITH x AS (SELECT 1)\nSELECT * FROM x",
			wantOK: true,
		},
		{
			name:   "write verbs accepted",
			text:   "```sql\nINSERT INTO sales (id) VALUES (6)\n```",
			want:   "INSERT INTO sales (id) VALUES (6)",
			wantOK: true,
		},
		{
			name:   "only the first block is used",
			text:   "```sql\nSELECT 1 FROM a\n```\nand\n```sql\nSELECT 2 FROM b\n```",
			want:   "SELECT 1 FROM a",
			wantOK: true,
		},
		{
			name:   "untagged select fallback",
			text:   "```\nSELECT name FROM users\n```",
			want:   "SELECT name FROM users",
			wantOK: true,
		},
		{
			name: "pragma is not a statement",
			text: "```sql\nPRAGMA table_info(sales)\n```",
		},
		{
			name: "untagged non-select is ignored",
			text: "```\nUPDATE sales SET amount = 0\n```",
		},
		{
			name: "no fence",
			text: "SELECT * FROM sales",
		},
		{
			name: "empty",
			text: "",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Extract(tt.text)
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestLake_Agent_SQLExtract_RenderRoundTrip(t *testing.T) {
	t.Parallel()

	for _, sql := range []string{
		"SELECT * FROM sales",
		"DELETE FROM sales WHERE id = 3",
		"WITH t AS (SELECT 1 AS a)\nSELECT a FROM t",
	} {
		got, ok := Extract(Render(sql))
		require.True(t, ok, sql)
		require.Equal(t, sql, got)

		again, ok := Extract(Render(got))
		require.True(t, ok)
		require.Equal(t, got, again)
	}
}

func TestLake_Agent_SQLExtract_Classify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sql  string
		op   Operation
		kind Kind
	}{
		{"SELECT 1", OpRead, KindRead},
		{"  insert into t values (1)", OpCreate, KindWrite},
		{"UPDATE t SET a = 1", OpUpdate, KindWrite},
		{"delete from t", OpDelete, KindWrite},
		{"WITH x AS (SELECT 1) SELECT * FROM x", OpRead, KindRead},
		{"DROP TABLE t", OpRead, KindRead},
	}
	for _, tt := range tests {
		require.Equal(t, tt.op, Classify(tt.sql), tt.sql)
		require.Equal(t, tt.kind, Classify(tt.sql).Kind(), tt.sql)
	}
	require.Equal(t, "deleted", OpDelete.PastTense())
}
