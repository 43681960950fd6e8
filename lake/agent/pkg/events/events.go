// Package events defines the ordered progress log a turn pushes to its caller.
package events

import (
	"context"
	"errors"
	"sync"
)

type Type string

const (
	TypeAIResponse          Type = "ai_response"
	TypeSQLQuery            Type = "sql_query"
	TypeSQLResult           Type = "sql_result"
	TypeGraphDecision       Type = "graph_decision"
	TypeChartConfig         Type = "chart_config"
	TypeBriefReasoning      Type = "brief_reasoning"
	TypeLoading             Type = "loading"
	TypeConfirmation        Type = "confirmation_required"
	TypeCancelled           Type = "cancelled"
	TypeFinalAnswer         Type = "final_answer"
	TypeFinalAnswerChunk    Type = "final_answer_chunk"
	TypeFinalAnswerComplete Type = "final_answer_complete"
	TypeDone                Type = "done"
	TypeError               Type = "error"
	TypeHeartbeat           Type = "heartbeat"
)

// Event is one entry of a turn's event log. Content carries the payload for
// most types; done, cancelled and error use the dedicated fields.
type Event struct {
	Type               Type   `json:"type"`
	Content            any    `json:"content,omitempty"`
	Message            string `json:"message,omitempty"`
	Error              string `json:"error,omitempty"`
	ConversationID     int64  `json:"conversation_id,omitempty"`
	UserMessageID      int64  `json:"user_message_id,omitempty"`
	AssistantMessageID int64  `json:"assistant_message_id,omitempty"`
}

// GraphDecision is the graph_decision payload.
type GraphDecision struct {
	ShouldGenerateGraph bool   `json:"should_generate_graph"`
	GraphType           string `json:"graph_type,omitempty"`
}

// Confirmation is the confirmation_required payload.
type Confirmation struct {
	Operation string `json:"operation"`
	SQL       string `json:"sql"`
	Message   string `json:"message"`
}

// Sink receives events in order. A non-nil error means the consumer is gone
// and the turn must stop without further side effects.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Send(ctx context.Context, ev Event) error { return f(ctx, ev) }

func Loading(msg string) Event { return Event{Type: TypeLoading, Content: msg} }

func FinalAnswer(content string) Event { return Event{Type: TypeFinalAnswer, Content: content} }

func Done(conversationID, userMessageID, assistantMessageID int64) Event {
	return Event{
		Type:               TypeDone,
		ConversationID:     conversationID,
		UserMessageID:      userMessageID,
		AssistantMessageID: assistantMessageID,
	}
}

func Failure(msg string) Event { return Event{Type: TypeError, Error: msg} }

// Recorder is an in-memory Sink. FailAfter, when positive, makes every send
// after that many successful ones fail, which simulates a client disconnect.
type Recorder struct {
	FailAfter int

	mu     sync.Mutex
	events []Event
}

// ErrDisconnected is returned by a Recorder past its FailAfter limit.
var ErrDisconnected = errors.New("client disconnected")

func (r *Recorder) Send(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailAfter > 0 && len(r.events) >= r.FailAfter {
		return ErrDisconnected
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// Of returns the recorded events of one type.
func (r *Recorder) Of(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Last returns the most recent event, or the zero Event when none was sent.
func (r *Recorder) Last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}
	}
	return r.events[len(r.events)-1]
}
