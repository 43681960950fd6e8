//go:build evals

package evals_test

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/joho/godotenv"
	"github.com/malbeclabs/askql/lake/agent/pkg/chart"
	"github.com/malbeclabs/askql/lake/agent/pkg/events"
	"github.com/malbeclabs/askql/lake/agent/pkg/history"
	"github.com/malbeclabs/askql/lake/agent/pkg/llm"
	"github.com/malbeclabs/askql/lake/agent/pkg/prompts"
	"github.com/malbeclabs/askql/lake/agent/pkg/runner"
	"github.com/malbeclabs/askql/lake/agent/pkg/workflow"
	"github.com/malbeclabs/askql/lake/pkg/dataset"
	"github.com/malbeclabs/askql/lake/pkg/sessions"
	laketesting "github.com/malbeclabs/askql/lake/pkg/testing"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = godotenv.Load(".env")
}

// evalModel pairs a model with the environment variable holding its key.
type evalModel struct {
	name   string
	model  string
	envKey string
}

var evalModels = []evalModel{
	{name: "Gemini", model: "gemini-2.5-flash", envKey: "GOOGLE_API_KEY"},
	{name: "Anthropic", model: "claude-sonnet-4-5", envKey: "ANTHROPIC_API_KEY"},
	{name: "OpenAI", model: "gpt-4o-mini", envKey: "OPENAI_API_KEY"},
}

type harness struct {
	ask      *workflow.Ask
	agent    *workflow.Agent
	sessions *sessions.MemoryStore
	data     *dataset.Store
	provider llm.Provider
}

func testLogger(t *testing.T) *slog.Logger {
	if os.Getenv("DEBUG") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return laketesting.NewLogger(t)
}

// forEachModel runs fn once per model with a configured key.
func forEachModel(t *testing.T, fn func(t *testing.T, h *harness)) {
	for _, m := range evalModels {
		t.Run(m.name, func(t *testing.T) {
			t.Parallel()
			apiKey := os.Getenv(m.envKey)
			if apiKey == "" {
				t.Skipf("%s not set, skipping eval test", m.envKey)
			}
			fn(t, newHarness(t, m.model, apiKey))
		})
	}
}

func newHarness(t *testing.T, model, apiKey string) *harness {
	t.Helper()

	log := testLogger(t)
	p := prompts.MustLoad()
	store := sessions.NewMemoryStore(nil)
	data := laketesting.NewDataset(t, laketesting.SalesSeed...)

	registry, err := llm.NewRegistry(llm.RegistryConfig{Logger: log, Retries: 2})
	require.NoError(t, err)
	t.Cleanup(registry.Close)
	provider, err := registry.Provider(context.Background(), model, apiKey)
	require.NoError(t, err)

	bridge, err := chart.NewBridge(chart.Config{Logger: log, Prompts: p})
	require.NoError(t, err)
	run, err := runner.New(runner.Config{Logger: log, Store: data, Log: store, Charts: bridge})
	require.NoError(t, err)
	hist, err := history.NewBuilder(history.Config{Store: store})
	require.NoError(t, err)

	cfg := workflow.Config{Logger: log, Prompts: p, Datasets: data, Sessions: store, Runner: run, History: hist}
	ask, err := workflow.NewAsk(cfg)
	require.NoError(t, err)
	t.Cleanup(ask.Close)
	agent, err := workflow.NewAgent(cfg)
	require.NoError(t, err)
	t.Cleanup(agent.Close)

	return &harness{ask: ask, agent: agent, sessions: store, data: data, provider: provider}
}

func (h *harness) conversation(t *testing.T, mode sessions.Mode) int64 {
	t.Helper()
	c, err := h.sessions.CreateConversation(context.Background(), nil, mode, "eval")
	require.NoError(t, err)
	return c.ID
}

func (h *harness) say(t *testing.T, conv int64, query string) int64 {
	t.Helper()
	m, err := h.sessions.AppendMessage(context.Background(), &sessions.Message{ConversationID: conv, Role: sessions.RoleUser, Content: query})
	require.NoError(t, err)
	return m.ID
}

func (h *harness) askTurn(t *testing.T, conv int64, query string, tables ...string) *events.Recorder {
	t.Helper()
	sink := &events.Recorder{}
	err := h.ask.Run(context.Background(), workflow.AskRequest{
		ConversationID: conv,
		UserMessageID:  h.say(t, conv, query),
		Query:          query,
		Tables:         tables,
		Model:          h.provider.Model(),
		Provider:       h.provider,
	}, sink)
	require.NoError(t, err)
	logTurn(t, sink)
	return sink
}

func (h *harness) agentTurn(t *testing.T, conv int64, query string) *events.Recorder {
	t.Helper()
	sink := &events.Recorder{}
	err := h.agent.Run(context.Background(), workflow.AgentRequest{
		ConversationID: conv,
		UserMessageID:  h.say(t, conv, query),
		Query:          query,
		Model:          h.provider.Model(),
		Provider:       h.provider,
	}, sink)
	require.NoError(t, err)
	logTurn(t, sink)
	return sink
}

func (h *harness) count(t *testing.T, query string) int {
	t.Helper()
	var n int
	require.NoError(t, h.data.DB().QueryRowContext(context.Background(), query).Scan(&n))
	return n
}

func logTurn(t *testing.T, sink *events.Recorder) {
	t.Helper()
	for _, ev := range sink.Events() {
		t.Logf("%s: %v", ev.Type, ev.Content)
	}
}

// answer joins the final answer of a turn, streamed or not.
func answer(sink *events.Recorder) string {
	var b strings.Builder
	for _, ev := range sink.Of(events.TypeFinalAnswerChunk) {
		if s, ok := ev.Content.(string); ok {
			b.WriteString(s)
		}
	}
	for _, ev := range sink.Of(events.TypeFinalAnswer) {
		if s, ok := ev.Content.(string); ok {
			b.WriteString(s)
		}
	}
	return b.String()
}
