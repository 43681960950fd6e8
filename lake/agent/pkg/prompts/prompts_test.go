package prompts

import (
	"strings"
	"testing"

	"github.com/malbeclabs/askql/lake/pkg/dataset"
	"github.com/stretchr/testify/require"
)

func TestLake_Agent_Prompts_LoadPrompts(t *testing.T) {
	t.Parallel()

	p, err := LoadPrompts()
	require.NoError(t, err)

	require.NotEmpty(t, p.AskSchema)
	require.NotEmpty(t, p.SchemaRules)
	require.NotEmpty(t, p.ChartDecide)
	require.Contains(t, p.AgentSchema, "ABSOLUTELY NO: ALTER")
	require.NotContains(t, p.AgentSchema, "{{RESTRICTIONS}}")
	require.NotContains(t, p.AgentContinue, "{{RESTRICTIONS}}")
	require.Contains(t, p.AskConcludeSingle, "<suggestions>")
	require.NotContains(t, p.AgentConcludeSingle, "<suggestions>")
	require.Contains(t, p.AskContinue, "{{QUESTION}}")
}

func TestLake_Agent_Prompts_Render(t *testing.T) {
	t.Parallel()

	out := Render("Q: {{QUESTION}} ({{COUNT}}) {{OTHER}}", map[string]string{
		"QUESTION": "top stores",
		"COUNT":    "2",
	})
	require.Equal(t, "Q: top stores (2) {{OTHER}}", out)
}

func TestLake_Agent_Prompts_Wrap(t *testing.T) {
	t.Parallel()

	p := MustLoad()
	out := p.Wrap("hello")
	require.True(t, strings.HasPrefix(out, "You are a friendly and helpful chatbot."))
	require.True(t, strings.HasSuffix(out, "\n\nUser Question: hello"))
}

func TestLake_Agent_Prompts_CompactValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		max  int
		want any
	}{
		{"short string", "abc", 20, "abc"},
		{"long string", "abcdefghijklmnopqrstuvwxyz", 10, "abcdefg..."},
		{"multibyte string", "ééééééééééééé", 5, "éé..."},
		{"whole float", 42.0, 20, int64(42)},
		{"rounded float", 3.14159, 20, 3.14},
		{"int untouched", int64(7), 20, int64(7)},
		{"bool untouched", true, 20, true},
		{"nil untouched", nil, 20, nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, CompactValue(tt.in, tt.max))
		})
	}
}

func TestLake_Agent_Prompts_CompactRowsAndJSON(t *testing.T) {
	t.Parallel()

	rows := []dataset.Row{dataset.NewRow([]string{"#", "name", "avg"}, []any{int64(1), "a very long store name", 12.3456})}
	out := Compact(rows, 10)
	require.Equal(t, "[\n  {\n    \"#\": 1,\n    \"name\": \"a very ...\",\n    \"avg\": 12.35\n  }\n]", JSON(out))

	orig, _ := rows[0].Get("name")
	require.Equal(t, "a very long store name", orig)
}
