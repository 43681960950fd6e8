package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/malbeclabs/askql/lake/agent/pkg/llm"
	"github.com/malbeclabs/askql/lake/agent/pkg/workflow"
)

// PromptRequest is the body of the prompt helper endpoints.
type PromptRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	APIKey string `json:"api_key"`
}

// EnhancePrompt rewrites a draft utterance into clearer language.
func (h *Handlers) EnhancePrompt(w http.ResponseWriter, r *http.Request) {
	h.assist(w, r, "enhanced_prompt", h.cfg.Ask.Enhance)
}

// AutocompletePrompt completes a partial utterance.
func (h *Handlers) AutocompletePrompt(w http.ResponseWriter, r *http.Request) {
	h.assist(w, r, "autocompleted_prompt", h.cfg.Ask.Autocomplete)
}

func (h *Handlers) assist(w http.ResponseWriter, r *http.Request, field string, fn func(context.Context, llm.Provider, string) (string, error)) {
	var req PromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, "Prompt is required", http.StatusBadRequest)
		return
	}

	_, p, ok := h.provider(w, r, req.Model, req.APIKey)
	if !ok {
		return
	}

	out, err := fn(r.Context(), p, req.Prompt)
	if errors.Is(err, workflow.ErrEmptyPrompt) {
		http.Error(w, "Prompt is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, h.internalError("Failed to process prompt", err), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{field: out})
}
