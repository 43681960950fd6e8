// Package workflow runs conversational turns in Ask and Agent mode.
//
// A turn translates an utterance into SQL through the language model, runs the
// statement, optionally charts the result and iterates in a bounded loop driven
// by the model's textual directives. Progress is pushed to an events.Sink as it
// is produced; the assistant message is persisted once the turn completes or,
// in Agent mode, when it suspends on a write that needs confirmation.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alitto/pond/v2"
	"github.com/malbeclabs/askql/lake/agent/pkg/events"
	"github.com/malbeclabs/askql/lake/agent/pkg/history"
	"github.com/malbeclabs/askql/lake/agent/pkg/llm"
	"github.com/malbeclabs/askql/lake/agent/pkg/prompts"
	"github.com/malbeclabs/askql/lake/agent/pkg/runner"
	"github.com/malbeclabs/askql/lake/pkg/dataset"
	"github.com/malbeclabs/askql/lake/pkg/sessions"
)

const (
	// DefaultMaxIterations is the maximum number of statements executed in one turn.
	DefaultMaxIterations = 10

	defaultSchemaWorkers = 4

	// GeneralTag selects free conversation instead of a dataset.
	GeneralTag = "general"
)

// Turn outcomes reported to the Observer.
const (
	OutcomeCompleted    = "completed"
	OutcomeSuspended    = "suspended"
	OutcomeCancelled    = "cancelled"
	OutcomeFailed       = "failed"
	OutcomeDisconnected = "disconnected"
)

// Datasets is the catalog side of the dataset store.
type Datasets interface {
	Schema(ctx context.Context, table string) (*dataset.TableSchema, error)
	ListTables(ctx context.Context) ([]string, error)
}

// Observer is called once per finished turn.
type Observer func(mode sessions.Mode, outcome string)

type Config struct {
	Logger   *slog.Logger
	Prompts  *prompts.Prompts
	Datasets Datasets
	Sessions sessions.Store
	Runner   *runner.Runner
	History  *history.Builder

	MaxIterations int
	SchemaWorkers int

	// UploadDir is the directory attachment URLs are resolved against.
	UploadDir string

	Observer Observer
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Prompts == nil {
		return errors.New("prompts are required")
	}
	if c.Datasets == nil {
		return errors.New("datasets are required")
	}
	if c.Sessions == nil {
		return errors.New("sessions store is required")
	}
	if c.Runner == nil {
		return errors.New("runner is required")
	}
	if c.History == nil {
		return errors.New("history builder is required")
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.SchemaWorkers <= 0 {
		c.SchemaWorkers = defaultSchemaWorkers
	}
	if c.UploadDir == "" {
		c.UploadDir = "."
	}
	return nil
}

// engine holds what both orchestrators share.
type engine struct {
	log     *slog.Logger
	cfg     Config
	prompts *prompts.Prompts
	schemas pond.ResultPool[*dataset.TableSchema]
}

func newEngine(cfg Config) (*engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &engine{
		log:     cfg.Logger,
		cfg:     cfg,
		prompts: cfg.Prompts,
		schemas: pond.NewResultPool[*dataset.TableSchema](cfg.SchemaWorkers),
	}, nil
}

// Close stops the schema worker pool.
func (e *engine) Close() {
	e.schemas.StopAndWait()
}

// turn carries the per-request values every step needs.
type turn struct {
	conversationID int64
	userMessageID  int64
	query          string
	provider       llm.Provider
	sink           events.Sink
	history        []llm.Message
}

func (t *turn) emit(ctx context.Context, evs ...events.Event) error {
	for _, ev := range evs {
		if err := t.sink.Send(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// loadHistory returns the conversation's messages as provider history,
// leaving out the given message ids.
func (e *engine) loadHistory(ctx context.Context, conversationID int64, exclude ...int64) ([]llm.Message, error) {
	msgs, err := e.cfg.Sessions.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}
	out := make([]llm.Message, 0, len(msgs))
next:
	for _, m := range msgs {
		for _, id := range exclude {
			if m.ID == id {
				continue next
			}
		}
		role := llm.RoleUser
		if m.Role == sessions.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out, nil
}

// complete runs a non-streaming call with the turn's history.
func (t *turn) complete(ctx context.Context, prompt string, images []llm.Image) (string, error) {
	return t.provider.Complete(ctx, &llm.Request{Prompt: prompt, History: t.history, Images: images})
}

// stream runs a streaming call, forwarding each chunk as final_answer_chunk
// and finishing with final_answer_complete.
func (t *turn) stream(ctx context.Context, prompt string) (string, error) {
	req := &llm.Request{Prompt: prompt, History: t.history}
	final, err := t.provider.Stream(ctx, req, func(chunk string) error {
		return t.sink.Send(ctx, events.Event{Type: events.TypeFinalAnswerChunk, Content: chunk})
	})
	if err != nil {
		return "", err
	}
	if err := t.emit(ctx, events.Event{Type: events.TypeFinalAnswerComplete, Content: final}); err != nil {
		return "", err
	}
	return final, nil
}

// appendAssistant persists the assistant message for a finished turn.
func (e *engine) appendAssistant(ctx context.Context, conversationID int64, content, model string) (*sessions.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, err := e.cfg.Sessions.AppendMessage(ctx, &sessions.Message{
		ConversationID: conversationID,
		Role:           sessions.RoleAssistant,
		Content:        content,
		Model:          model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save assistant message: %w", err)
	}
	return msg, nil
}

func (e *engine) touch(ctx context.Context, conversationID int64) error {
	if err := e.cfg.Sessions.TouchConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	return nil
}

// finish reports the outcome of a turn. Failures other than a disconnect are
// sent to the client as a terminal error event.
func (e *engine) finish(ctx context.Context, mode sessions.Mode, t *turn, outcome string, err error) error {
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, events.ErrDisconnected) {
			outcome = OutcomeDisconnected
			e.log.Info("workflow: client disconnected", "mode", mode, "conversation_id", t.conversationID, "error", err)
		} else {
			outcome = OutcomeFailed
			e.log.Error("workflow: turn failed", "mode", mode, "conversation_id", t.conversationID, "error", err)
			if sendErr := t.sink.Send(ctx, events.Failure(publicError(err))); sendErr != nil {
				e.log.Debug("workflow: failed to send error event", "error", sendErr)
			}
		}
	}
	if e.cfg.Observer != nil {
		e.cfg.Observer(mode, outcome)
	}
	return err
}

// publicError is the message shown to the user for a failed turn.
func publicError(err error) string {
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return pe.Error()
	}
	var ue *llm.UnsupportedModelError
	if errors.As(err, &ue) {
		return ue.Error()
	}
	return "An error occurred while processing your request: " + err.Error()
}

// cleanReasoning trims the trailing bold marker models sometimes leave after
// the reasoning sentence.
func cleanReasoning(s string) string {
	s = strings.TrimRight(s, " \t\r\n")
	if strings.HasSuffix(s, "**") {
		s = strings.TrimRight(s[:len(s)-2], " \t\r\n")
	}
	return s
}

// reasoningOf returns the text of a continuation reply before its step marker
// or stop marker.
func reasoningOf(reply string, stopMarkers ...string) string {
	r, _, _ := strings.Cut(reply, "MULTI_STEP_QUERY")
	for _, m := range stopMarkers {
		r, _, _ = strings.Cut(r, m)
	}
	return strings.TrimSpace(r)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
