package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/askql/lake/agent/pkg/chart"
	"github.com/malbeclabs/askql/lake/agent/pkg/history"
	"github.com/malbeclabs/askql/lake/agent/pkg/llm"
	"github.com/malbeclabs/askql/lake/agent/pkg/llm/llmtest"
	"github.com/malbeclabs/askql/lake/agent/pkg/prompts"
	"github.com/malbeclabs/askql/lake/agent/pkg/runner"
	"github.com/malbeclabs/askql/lake/agent/pkg/workflow"
	"github.com/malbeclabs/askql/lake/pkg/dataset"
	"github.com/malbeclabs/askql/lake/pkg/sessions"
	laketesting "github.com/malbeclabs/askql/lake/pkg/testing"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const insertSQL = "INSERT INTO sales (id, store, region, amount, created_at) VALUES (5, 'E', 'south', 42.0, '2024-01-05')"

type providers struct {
	mock *llmtest.Mock
	err  error
}

func (p *providers) Provider(ctx context.Context, model, apiKey string) (llm.Provider, error) {
	if p.err != nil {
		return nil, p.err
	}
	if _, err := llm.KindForModel(model); err != nil {
		return nil, err
	}
	return p.mock, nil
}

type server struct {
	router   chi.Router
	sessions *sessions.MemoryStore
	data     *dataset.Store
	llm      *providers
}

func newServer(t *testing.T) *server {
	t.Helper()

	log := laketesting.NewLogger(t)
	p := prompts.MustLoad()
	clock := clockwork.NewFakeClock()
	store := sessions.NewMemoryStore(clock)
	data := laketesting.NewDataset(t, laketesting.SalesSeed...)

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

	prov := &providers{mock: llmtest.New()}
	h, err := New(Config{
		Logger:    log,
		Sessions:  store,
		Datasets:  data,
		Ask:       ask,
		Agent:     agent,
		Providers: prov,
		Clock:     clock,
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	h.Routes(r)
	return &server{router: r, sessions: store, data: data, llm: prov}
}

func (s *server) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(UserIDHeader, user)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *server) conversation(t *testing.T, user string, mode sessions.Mode) int64 {
	t.Helper()
	var owner *string
	if user != "" {
		owner = &user
	}
	c, err := s.sessions.CreateConversation(context.Background(), owner, mode, "test")
	require.NoError(t, err)
	return c.ID
}

type sseEvent struct {
	name string
	data map[string]any
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	for _, frame := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(frame, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev.data))
			}
		}
		require.NotEmpty(t, ev.name, "frame without event line: %q", frame)
		require.Equal(t, ev.name, ev.data["type"])
		out = append(out, ev)
	}
	return out
}

func names(evs []sseEvent) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.name
	}
	return out
}

func TestLake_API_Handlers_Health(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestLake_API_Handlers_Config_Validate(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.ErrorContains(t, err, "logger is required")
	_, err = New(Config{Logger: laketesting.NewLogger(t)})
	require.ErrorContains(t, err, "sessions store is required")
}

func TestLake_API_Handlers_AgentStream_NewConversation(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/api/agent", "alice", AgentRequest{Query: "delete everything"})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	evs := parseSSE(t, rec.Body.String())
	require.Equal(t, []string{"final_answer", "done"}, names(evs))
	require.Equal(t, prompts.MustLoad().AgentNoDataset, evs[0].data["content"])
	require.Zero(t, s.llm.mock.CallCount())

	alice := "alice"
	convs, err := s.sessions.ListConversations(context.Background(), &alice, 10, 0)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, sessions.ModeAgent, convs[0].Mode)
	require.Equal(t, sessions.Title("delete everything"), convs[0].Title)

	msgs, err := s.sessions.GetMessages(context.Background(), convs[0].ID)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	require.Equal(t, sessions.RoleUser, msgs[0].Role)
	require.Equal(t, "delete everything", msgs[0].Content)
}

func TestLake_API_Handlers_AskStream_BadRequests(t *testing.T) {
	t.Parallel()

	s := newServer(t)

	tests := []struct {
		name string
		body any
		code int
		msg  string
	}{
		{name: "invalid json", body: "{", code: http.StatusBadRequest, msg: "Invalid request body"},
		{name: "empty query", body: AskRequest{Query: "  "}, code: http.StatusBadRequest, msg: "Query is required"},
		{name: "unsupported model", body: AskRequest{Query: "hi", Model: "llama-3"}, code: http.StatusBadRequest, msg: "Unsupported model: llama-3"},
		{name: "missing conversation", body: AskRequest{Query: "hi", ConversationID: ptr(int64(999))}, code: http.StatusNotFound, msg: "Conversation not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/ask/stream", "", tt.body)
			require.Equal(t, tt.code, rec.Code)
			require.Contains(t, rec.Body.String(), tt.msg)
		})
	}

	convs, err := s.sessions.ListConversations(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	require.Empty(t, convs)
}

func TestLake_API_Handlers_AskStream_MissingAPIKey(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	s.llm.err = llm.ErrMissingAPIKey
	rec := s.do(t, http.MethodPost, "/api/ask/stream", "", AskRequest{Query: "hi"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "api key is required")
}

func TestLake_API_Handlers_AskStream_OtherUsersConversation(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	conv := s.conversation(t, "alice", sessions.ModeAsk)

	rec := s.do(t, http.MethodPost, "/api/ask/stream", "bob", AskRequest{Query: "hi", ConversationID: &conv})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/ask/stream", "", AskRequest{Query: "hi", ConversationID: &conv})
	require.Equal(t, http.StatusNotFound, rec.Code)

	msgs, err := s.sessions.GetMessages(context.Background(), conv)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestLake_API_Handlers_AskStream_Locked(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	ctx := context.Background()
	conv := s.conversation(t, "", sessions.ModeAsk)
	ok, err := s.sessions.AcquireTurnLock(ctx, conv, "other", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	rec := s.do(t, http.MethodPost, "/api/ask/stream", "", AskRequest{Query: "hi", ConversationID: &conv})
	require.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, s.sessions.ReleaseTurnLock(ctx, conv, "other"))
	s.llm.mock.Push(llmtest.Reply{Text: "Hello there."})
	rec = s.do(t, http.MethodPost, "/api/ask/stream", "", AskRequest{Query: "hi", ConversationID: &conv, SelectedTables: []string{"general"}})
	require.Equal(t, http.StatusOK, rec.Code)
	evs := parseSSE(t, rec.Body.String())
	require.Equal(t, "done", evs[len(evs)-1].name)

	// The lock is released once the turn ends.
	ok, err = s.sessions.AcquireTurnLock(ctx, conv, "next", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLake_API_Handlers_AgentConfirm(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	s.llm.mock.Push(llmtest.Reply{Text: "I'll add store E.\n```sql\n" + insertSQL + "\n```"})

	rec := s.do(t, http.MethodPost, "/api/agent", "", AgentRequest{Query: "@sales add store E in the south with 42"})
	require.Equal(t, http.StatusOK, rec.Code)
	evs := parseSSE(t, rec.Body.String())
	require.Equal(t, []string{"ai_response", "confirmation_required", "done"}, names(evs))
	confirm := evs[1].data["content"].(map[string]any)
	require.Equal(t, "CREATE", confirm["operation"])

	convs, err := s.sessions.ListConversations(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	conv := convs[0].ID

	rec = s.do(t, http.MethodPost, "/api/agent/confirm", "", ConfirmRequest{
		ConversationID: conv,
		Operation:      "CREATE",
		SQLQuery:       insertSQL,
		Confirmed:      false,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	evs = parseSSE(t, rec.Body.String())
	require.Equal(t, []string{"cancelled", "done"}, names(evs))

	st, err := s.sessions.LoadTurnState(context.Background(), conv)
	require.NoError(t, err)
	require.Nil(t, st)
}

func TestLake_API_Handlers_AgentConfirm_BadRequests(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/api/agent/confirm", "", ConfirmRequest{Confirmed: true})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/agent/confirm", "", ConfirmRequest{ConversationID: 42, Confirmed: true})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLake_API_Handlers_PromptHelpers(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	s.llm.mock.Push(
		llmtest.Reply{Text: "  Show the total sales amount per region.  "},
		llmtest.Reply{Text: "Show the total sales by region"},
	)

	rec := s.do(t, http.MethodPost, "/api/enhance-prompt", "", PromptRequest{Prompt: "sales per region"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"enhanced_prompt":"Show the total sales amount per region."}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/autocomplete-prompt", "", PromptRequest{Prompt: "Show the total"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"autocompleted_prompt":"Show the total sales by region"}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/enhance-prompt", "", PromptRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Prompt is required")

	rec = s.do(t, http.MethodPost, "/api/autocomplete-prompt", "", PromptRequest{Prompt: "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Provider failures surface as a gateway error.
	rec = s.do(t, http.MethodPost, "/api/enhance-prompt", "", PromptRequest{Prompt: "sales"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, 3, s.llm.mock.CallCount())
}

func TestLake_API_Handlers_Conversations(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	ctx := context.Background()
	a1 := s.conversation(t, "alice", sessions.ModeAsk)
	s.conversation(t, "alice", sessions.ModeAgent)
	b1 := s.conversation(t, "bob", sessions.ModeAsk)
	_, err := s.sessions.AppendMessage(ctx, &sessions.Message{ConversationID: a1, Role: sessions.RoleUser, Content: "hello"})
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/conversations", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var convs []sessions.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convs))
	require.Len(t, convs, 2)

	rec = s.do(t, http.MethodGet, "/api/conversations?limit=1", "alice", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convs))
	require.Len(t, convs, 1)

	rec = s.do(t, http.MethodGet, "/api/conversations?limit=abc", "alice", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/conversations", "carol", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/conversations/"+itoa(a1), "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail ConversationDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Equal(t, a1, detail.ID)
	require.Len(t, detail.Messages, 1)

	rec = s.do(t, http.MethodGet, "/api/conversations/"+itoa(a1)+"/messages", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []sessions.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", msgs[0].Content)

	rec = s.do(t, http.MethodGet, "/api/conversations/"+itoa(b1), "alice", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/conversations/nope", "alice", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/conversations/"+itoa(b1), "alice", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/conversations/"+itoa(b1), "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"message":"Conversation deleted successfully"}`, rec.Body.String())

	rec = s.do(t, http.MethodDelete, "/api/conversations", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"message":"Successfully deleted 2 conversation(s) and all associated messages"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/conversations/"+itoa(a1)+"/messages", "alice", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLake_API_Handlers_Datasets(t *testing.T) {
	t.Parallel()

	s := newServer(t)

	rec := s.do(t, http.MethodGet, "/api/datasets", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"tables":["sales"]}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/datasets/sales/schema", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var schema dataset.TableSchema
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schema))
	require.Equal(t, "sales", schema.TableName)
	require.Len(t, schema.Columns, 5)
	require.NotEmpty(t, schema.SampleRows)

	rec = s.do(t, http.MethodGet, "/api/datasets/missing/schema", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func ptr[T any](v T) *T { return &v }

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
