package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/malbeclabs/askql/lake/agent/pkg/events"
	"github.com/malbeclabs/askql/lake/agent/pkg/llm"
	"github.com/malbeclabs/askql/lake/agent/pkg/runner"
	"github.com/malbeclabs/askql/lake/agent/pkg/sqlextract"
	"github.com/malbeclabs/askql/lake/pkg/sessions"
)

// ResumeRequest answers the pending write of a suspended conversation.
type ResumeRequest struct {
	ConversationID int64
	// DirectiveMessageID is the persisted execute/cancel user message, deleted
	// once handled. Zero for structured confirmations.
	DirectiveMessageID int64
	Decision           Decision
	// SQL, when set, must match the pending statement.
	SQL      string
	Model    string
	Provider llm.Provider
}

// Resume executes or cancels the pending write and, after an execute,
// continues the turn from the persisted iteration count. Without a pending
// write it only emits done.
func (g *Agent) Resume(ctx context.Context, req ResumeRequest, sink events.Sink) error {
	t := &turn{
		conversationID: req.ConversationID,
		query:          string(req.Decision),
		provider:       req.Provider,
		sink:           sink,
	}
	outcome, err := g.resume(ctx, req, t)
	return g.finish(ctx, sessions.ModeAgent, t, outcome, err)
}

func (g *Agent) resume(ctx context.Context, req ResumeRequest, t *turn) (string, error) {
	state, err := g.cfg.Sessions.LoadTurnState(ctx, req.ConversationID)
	if err != nil {
		return "", fmt.Errorf("failed to load turn state: %w", err)
	}
	if state == nil || state.Pending == nil {
		g.log.Info("agent: no pending operation to resume", "conversation_id", req.ConversationID, "decision", req.Decision)
		if err := g.deleteDirective(ctx, req.DirectiveMessageID); err != nil {
			return "", err
		}
		return OutcomeCompleted, t.emit(ctx, events.Done(req.ConversationID, 0, 0))
	}
	if req.SQL != "" && strings.TrimSpace(req.SQL) != strings.TrimSpace(state.Pending.SQL) {
		g.log.Warn("agent: confirmed statement does not match the pending one", "conversation_id", req.ConversationID)
		return OutcomeCompleted, t.emit(ctx, events.Done(req.ConversationID, 0, 0))
	}

	if req.Decision == DecisionCancel {
		return OutcomeCancelled, g.cancel(ctx, t, state, req.DirectiveMessageID)
	}

	hist, err := g.loadHistory(ctx, req.ConversationID, req.DirectiveMessageID)
	if err != nil {
		g.log.Warn("agent: continuing without conversation history", "error", err)
	}
	t.history = hist

	model := req.Model
	if model == "" {
		model = state.Model
	}
	at := &agentTurn{turn: t, model: model, state: state, resumed: true}
	if err := g.execute(ctx, at, req.DirectiveMessageID); err != nil {
		return "", err
	}

	schemas, err := g.fetchSchemas(ctx, state.Tables)
	if err != nil {
		return "", err
	}
	at.preamble = g.schemaContext(ctx, req.ConversationID, schemas, true)

	suspended, err := g.operate(ctx, at)
	if err != nil || suspended {
		return OutcomeSuspended, err
	}
	return OutcomeCompleted, g.conclude(ctx, at)
}

// execute runs the pending write. The pending operation is cleared and saved
// before the statement runs, so a replayed execute finds nothing to do.
func (g *Agent) execute(ctx context.Context, at *agentTurn, directiveID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pending := *at.state.Pending
	at.state.Pending = nil
	if err := g.cfg.Sessions.SaveTurnState(ctx, at.state); err != nil {
		return fmt.Errorf("failed to save turn state: %w", err)
	}

	op := sqlextract.Operation(pending.Operation)
	g.log.Info("agent: executing confirmed operation", "conversation_id", at.conversationID, "operation", op)
	res, err := g.cfg.Runner.Run(ctx, at.conversationID, pending.SQL, sqlextract.KindWrite)
	if err != nil {
		return err
	}

	content, err := g.rewriteMessage(ctx, at.conversationID, at.state.AssistantMessageID, func(content string) string {
		return stripConfirmation(content) + "\n\n" + runner.RenderWriteResult(op, res)
	})
	if err != nil {
		return err
	}
	at.content = content
	if err := g.deleteDirective(ctx, directiveID); err != nil {
		return err
	}

	at.state.Iteration++
	at.state.Steps = append(at.state.Steps, sessions.StepSummary{
		SQL:       pending.SQL,
		Operation: pending.Operation,
		Success:   res.Success,
		RowCount:  res.RowCount,
		Error:     res.Error,
	})
	if err := g.cfg.Sessions.SaveTurnState(ctx, at.state); err != nil {
		return fmt.Errorf("failed to save turn state: %w", err)
	}
	return at.emit(ctx, events.Event{Type: events.TypeSQLResult, Content: res})
}

func (g *Agent) cancel(ctx context.Context, t *turn, state *sessions.TurnState, directiveID int64) error {
	g.log.Info("agent: operation cancelled", "conversation_id", state.ConversationID, "operation", state.Pending.Operation)
	if err := g.stripMessage(ctx, state.ConversationID, state.AssistantMessageID); err != nil {
		return err
	}
	if err := g.deleteDirective(ctx, directiveID); err != nil {
		return err
	}
	if err := g.cfg.Sessions.ClearTurnState(ctx, state.ConversationID); err != nil {
		return fmt.Errorf("failed to clear turn state: %w", err)
	}
	return t.emit(ctx,
		events.Event{Type: events.TypeCancelled, Message: "Operation cancelled by user"},
		events.Done(state.ConversationID, 0, 0),
	)
}
