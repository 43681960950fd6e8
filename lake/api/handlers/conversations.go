package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/askql/lake/pkg/sessions"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// ConversationDetail is a conversation with its messages.
type ConversationDetail struct {
	sessions.Conversation
	Messages []sessions.Message `json:"messages"`
}

// ListConversations returns the caller's conversations, most recently
// updated first.
func (h *Handlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit <= 0 {
		http.Error(w, "Invalid limit", http.StatusBadRequest)
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		http.Error(w, "Invalid offset", http.StatusBadRequest)
		return
	}

	convs, err := h.cfg.Sessions.ListConversations(r.Context(), UserFromContext(r.Context()), limit, offset)
	if err != nil {
		http.Error(w, h.internalError("Failed to list conversations", err), http.StatusInternalServerError)
		return
	}
	if convs == nil {
		convs = []sessions.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

// DeleteConversations removes all of the caller's conversations.
func (h *Handlers) DeleteConversations(w http.ResponseWriter, r *http.Request) {
	n, err := h.cfg.Sessions.DeleteConversations(r.Context(), UserFromContext(r.Context()))
	if err != nil {
		http.Error(w, h.internalError("Failed to delete conversations", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Message: fmt.Sprintf("Successfully deleted %d conversation(s) and all associated messages", n),
	})
}

func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversationParam(w, r)
	if !ok {
		return
	}
	msgs, err := h.cfg.Sessions.GetMessages(r.Context(), conv.ID)
	if err != nil {
		http.Error(w, h.internalError("Failed to load messages", err), http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []sessions.Message{}
	}
	writeJSON(w, http.StatusOK, ConversationDetail{Conversation: *conv, Messages: msgs})
}

func (h *Handlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversationParam(w, r)
	if !ok {
		return
	}
	err := h.cfg.Sessions.DeleteConversation(r.Context(), conv.ID)
	if errors.Is(err, sessions.ErrNotFound) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, h.internalError("Failed to delete conversation", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Conversation deleted successfully"})
}

func (h *Handlers) GetMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversationParam(w, r)
	if !ok {
		return
	}
	msgs, err := h.cfg.Sessions.GetMessages(r.Context(), conv.ID)
	if err != nil {
		http.Error(w, h.internalError("Failed to load messages", err), http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []sessions.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// conversationParam loads the caller's conversation named by the {id} path
// parameter. On failure the response is already written.
func (h *Handlers) conversationParam(w http.ResponseWriter, r *http.Request) (*sessions.Conversation, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid conversation id", http.StatusBadRequest)
		return nil, false
	}
	conv, err := h.owned(r.Context(), id)
	if errors.Is(err, sessions.ErrNotFound) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, h.internalError("Failed to load conversation", err), http.StatusInternalServerError)
		return nil, false
	}
	return conv, true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
