package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/malbeclabs/askql/lake/agent/pkg/events"
	"github.com/malbeclabs/askql/lake/agent/pkg/llm"
	"github.com/malbeclabs/askql/lake/agent/pkg/workflow"
	"github.com/malbeclabs/askql/lake/pkg/sessions"
)

// AskRequest is the body of POST /api/ask/stream.
type AskRequest struct {
	Query          string                `json:"query"`
	ConversationID *int64                `json:"conversation_id"`
	SelectedTables []string              `json:"selected_tables"`
	Model          string                `json:"model"`
	APIKey         string                `json:"api_key"`
	Attachments    []sessions.Attachment `json:"attachments"`
}

// AgentRequest is the body of POST /api/agent.
type AgentRequest struct {
	Query          string `json:"query"`
	ConversationID *int64 `json:"conversation_id"`
	Model          string `json:"model"`
	APIKey         string `json:"api_key"`
}

// ConfirmRequest is the body of POST /api/agent/confirm.
type ConfirmRequest struct {
	ConversationID int64  `json:"conversation_id"`
	Operation      string `json:"operation"`
	SQLQuery       string `json:"sql_query"`
	Confirmed      bool   `json:"confirmed"`
	Model          string `json:"model"`
	APIKey         string `json:"api_key"`
}

// AskStream runs one Ask turn and streams its events.
func (h *Handlers) AskStream(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "Query is required", http.StatusBadRequest)
		return
	}

	model, p, ok := h.provider(w, r, req.Model, req.APIKey)
	if !ok {
		return
	}
	conv, release, ok := h.begin(w, r, req.ConversationID, sessions.ModeAsk, req.Query)
	if !ok {
		return
	}
	defer release()

	userMsg, err := h.cfg.Sessions.AppendMessage(r.Context(), &sessions.Message{
		ConversationID: conv.ID,
		Role:           sessions.RoleUser,
		Content:        req.Query,
		Attachments:    req.Attachments,
	})
	if err != nil {
		http.Error(w, h.internalError("Failed to save message", err), http.StatusInternalServerError)
		return
	}

	h.serve(w, r, func(ctx context.Context, sink events.Sink) error {
		return h.cfg.Ask.Run(ctx, workflow.AskRequest{
			ConversationID: conv.ID,
			UserMessageID:  userMsg.ID,
			Query:          req.Query,
			Tables:         req.SelectedTables,
			Attachments:    req.Attachments,
			Model:          model,
			Provider:       p,
		}, sink)
	})
}

// AgentStream runs one Agent turn and streams its events. A bare "execute"
// or "cancel" query answers the conversation's pending write.
func (h *Handlers) AgentStream(w http.ResponseWriter, r *http.Request) {
	var req AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "Query is required", http.StatusBadRequest)
		return
	}

	model, p, ok := h.provider(w, r, req.Model, req.APIKey)
	if !ok {
		return
	}
	conv, release, ok := h.begin(w, r, req.ConversationID, sessions.ModeAgent, req.Query)
	if !ok {
		return
	}
	defer release()

	userMsg, err := h.cfg.Sessions.AppendMessage(r.Context(), &sessions.Message{
		ConversationID: conv.ID,
		Role:           sessions.RoleUser,
		Content:        req.Query,
	})
	if err != nil {
		http.Error(w, h.internalError("Failed to save message", err), http.StatusInternalServerError)
		return
	}

	h.serve(w, r, func(ctx context.Context, sink events.Sink) error {
		return h.cfg.Agent.Run(ctx, workflow.AgentRequest{
			ConversationID: conv.ID,
			UserMessageID:  userMsg.ID,
			Query:          req.Query,
			Model:          model,
			Provider:       p,
		}, sink)
	})
}

// AgentConfirm executes or cancels the pending write of a conversation and
// streams the rest of the turn.
func (h *Handlers) AgentConfirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ConversationID <= 0 {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return
	}

	model, p, ok := h.provider(w, r, req.Model, req.APIKey)
	if !ok {
		return
	}
	conv, release, ok := h.begin(w, r, &req.ConversationID, sessions.ModeAgent, "")
	if !ok {
		return
	}
	defer release()

	decision := workflow.DecisionCancel
	if req.Confirmed {
		decision = workflow.DecisionExecute
	}
	h.log.Info("agent confirmation received", "conversation_id", conv.ID, "operation", req.Operation, "decision", decision)

	h.serve(w, r, func(ctx context.Context, sink events.Sink) error {
		return h.cfg.Agent.Resume(ctx, workflow.ResumeRequest{
			ConversationID: conv.ID,
			Decision:       decision,
			SQL:            req.SQLQuery,
			Model:          model,
			Provider:       p,
		}, sink)
	})
}

// provider resolves the request's model, writing a 400 response when it
// cannot be served.
func (h *Handlers) provider(w http.ResponseWriter, r *http.Request, model, apiKey string) (string, llm.Provider, bool) {
	if model == "" {
		model = DefaultModel
	}
	p, err := h.cfg.Providers.Provider(r.Context(), model, apiKey)
	if err != nil {
		var unsupported *llm.UnsupportedModelError
		switch {
		case errors.As(err, &unsupported):
			http.Error(w, unsupported.Error(), http.StatusBadRequest)
		case errors.Is(err, llm.ErrMissingAPIKey):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, h.internalError("Failed to create model client", err), http.StatusBadGateway)
		}
		return "", nil, false
	}
	return model, p, true
}

// begin loads the caller's conversation, or creates one titled after query
// when id is nil, and takes its turn lock. On failure the response is
// already written.
func (h *Handlers) begin(w http.ResponseWriter, r *http.Request, id *int64, mode sessions.Mode, query string) (*sessions.Conversation, func(), bool) {
	ctx := r.Context()
	conv, err := h.conversation(ctx, id, mode, query)
	if errors.Is(err, sessions.ErrNotFound) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return nil, nil, false
	}
	if err != nil {
		http.Error(w, h.internalError("Failed to load conversation", err), http.StatusInternalServerError)
		return nil, nil, false
	}

	release, ok, err := h.lockTurn(ctx, conv.ID)
	if err != nil {
		http.Error(w, h.internalError("Failed to lock conversation", err), http.StatusInternalServerError)
		return nil, nil, false
	}
	if !ok {
		http.Error(w, "Another request is already running in this conversation", http.StatusConflict)
		return nil, nil, false
	}
	return conv, release, true
}

func (h *Handlers) conversation(ctx context.Context, id *int64, mode sessions.Mode, query string) (*sessions.Conversation, error) {
	user := UserFromContext(ctx)
	if id == nil {
		return h.cfg.Sessions.CreateConversation(ctx, user, mode, sessions.Title(query))
	}
	return h.owned(ctx, *id)
}

// owned returns the conversation when it belongs to the caller.
func (h *Handlers) owned(ctx context.Context, id int64) (*sessions.Conversation, error) {
	conv, err := h.cfg.Sessions.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sameUser(conv.UserID, UserFromContext(ctx)) {
		return nil, sessions.ErrNotFound
	}
	return conv, nil
}

func sameUser(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
