// Package handlers serves the AskQL HTTP API: the Ask and Agent event
// streams, the prompt helpers, conversation history and the dataset catalog.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/askql/lake/agent/pkg/llm"
	"github.com/malbeclabs/askql/lake/agent/pkg/workflow"
	"github.com/malbeclabs/askql/lake/pkg/dataset"
	"github.com/malbeclabs/askql/lake/pkg/sessions"
)

const (
	// DefaultModel is used when a request names no model.
	DefaultModel = "gemini-2.5-flash"

	defaultLockTTL   = 10 * time.Minute
	defaultHeartbeat = 15 * time.Second
)

// Providers resolves a model name and an optional caller credential to a
// provider.
type Providers interface {
	Provider(ctx context.Context, model, apiKey string) (llm.Provider, error)
}

// Datasets is the catalog side of the dataset store.
type Datasets interface {
	ListTables(ctx context.Context) ([]string, error)
	Schema(ctx context.Context, table string) (*dataset.TableSchema, error)
}

type Config struct {
	Logger    *slog.Logger
	Sessions  sessions.Store
	Datasets  Datasets
	Ask       *workflow.Ask
	Agent     *workflow.Agent
	Providers Providers
	Clock     clockwork.Clock

	// LockTTL bounds how long a crashed turn can keep its conversation locked.
	LockTTL time.Duration

	// Heartbeat is the interval of keep-alive events on open streams.
	Heartbeat time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Sessions == nil {
		return errors.New("sessions store is required")
	}
	if c.Datasets == nil {
		return errors.New("datasets are required")
	}
	if c.Ask == nil {
		return errors.New("ask workflow is required")
	}
	if c.Agent == nil {
		return errors.New("agent workflow is required")
	}
	if c.Providers == nil {
		return errors.New("providers are required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaultLockTTL
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = defaultHeartbeat
	}
	return nil
}

type Handlers struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Handlers, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Handlers{log: cfg.Logger, cfg: cfg}, nil
}

// Routes mounts the API on r.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(Identity)

		r.Post("/ask/stream", h.AskStream)
		r.Post("/agent", h.AgentStream)
		r.Post("/agent/confirm", h.AgentConfirm)

		r.Post("/enhance-prompt", h.EnhancePrompt)
		r.Post("/autocomplete-prompt", h.AutocompletePrompt)

		r.Get("/conversations", h.ListConversations)
		r.Delete("/conversations", h.DeleteConversations)
		r.Get("/conversations/{id}", h.GetConversation)
		r.Delete("/conversations/{id}", h.DeleteConversation)
		r.Get("/conversations/{id}/messages", h.GetMessages)

		r.Get("/datasets", h.ListDatasets)
		r.Get("/datasets/{table}/schema", h.GetSchema)
	})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// internalError logs the cause and returns the message shown to the client.
func (h *Handlers) internalError(msg string, err error) string {
	h.log.Error(msg, "error", err)
	return msg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type messageResponse struct {
	Message string `json:"message"`
}
