package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/malbeclabs/askql/lake/agent/pkg/events"
	"github.com/malbeclabs/askql/lake/agent/pkg/llm"
	"github.com/malbeclabs/askql/lake/agent/pkg/prompts"
	"github.com/malbeclabs/askql/lake/agent/pkg/runner"
	"github.com/malbeclabs/askql/lake/agent/pkg/sqlextract"
	"github.com/malbeclabs/askql/lake/pkg/sessions"
)

const markerOperationComplete = "OPERATION_COMPLETE"

// Decision is the user's answer to a pending write.
type Decision string

const (
	DecisionExecute Decision = "execute"
	DecisionCancel  Decision = "cancel"
)

// ParseDecision recognizes a bare execute or cancel directive.
func ParseDecision(query string) (Decision, bool) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(query))); d {
	case DecisionExecute, DecisionCancel:
		return d, true
	default:
		return "", false
	}
}

// AgentRequest is one Agent turn. The conversation and the user message must
// already be persisted.
type AgentRequest struct {
	ConversationID int64
	UserMessageID  int64
	Query          string
	Model          string
	Provider       llm.Provider
}

// Agent runs read/write turns with a confirmation gate before every write.
type Agent struct {
	*engine
}

func NewAgent(cfg Config) (*Agent, error) {
	e, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	return &Agent{engine: e}, nil
}

// agentTurn is the state of the operate loop within one request.
type agentTurn struct {
	*turn
	model    string
	state    *sessions.TurnState
	preamble string
	// content is the assistant message built so far.
	content string
	// steps are the reads executed during this request.
	steps []step
	// resumed selects the post-confirmation stop marker and summary.
	resumed bool
}

func (at *agentTurn) stopMarker() string {
	if at.resumed {
		return markerOperationComplete
	}
	return markerQueryComplete
}

// Run executes one Agent turn. A bare execute or cancel utterance resumes the
// conversation's pending write instead.
func (g *Agent) Run(ctx context.Context, req AgentRequest, sink events.Sink) error {
	if d, ok := ParseDecision(req.Query); ok {
		return g.Resume(ctx, ResumeRequest{
			ConversationID:     req.ConversationID,
			DirectiveMessageID: req.UserMessageID,
			Decision:           d,
			Model:              req.Model,
			Provider:           req.Provider,
		}, sink)
	}

	t := &turn{
		conversationID: req.ConversationID,
		userMessageID:  req.UserMessageID,
		query:          req.Query,
		provider:       req.Provider,
		sink:           sink,
	}
	outcome, err := g.run(ctx, req, t)
	return g.finish(ctx, sessions.ModeAgent, t, outcome, err)
}

func (g *Agent) run(ctx context.Context, req AgentRequest, t *turn) (string, error) {
	g.log.Info("agent: starting turn", "conversation_id", req.ConversationID)

	hist, err := g.loadHistory(ctx, req.ConversationID, req.UserMessageID)
	if err != nil {
		g.log.Warn("agent: continuing without conversation history", "error", err)
	}
	t.history = hist

	available, err := g.cfg.Datasets.ListTables(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list tables: %w", err)
	}
	mentioned := Mentions(req.Query, available)

	if err := g.abandonPending(ctx, req.ConversationID); err != nil {
		return "", err
	}

	if hasGeneral(mentioned) {
		return OutcomeCompleted, g.general(ctx, t, req.Model)
	}
	tables := dataTables(mentioned)
	if len(tables) == 0 {
		if err := t.emit(ctx, events.FinalAnswer(g.prompts.AgentNoDataset)); err != nil {
			return "", err
		}
		return OutcomeCompleted, g.save(ctx, t, req.Model, g.prompts.AgentNoDataset)
	}

	schemas, err := g.fetchSchemas(ctx, tables)
	if err != nil {
		return "", err
	}
	at := &agentTurn{
		turn:     t,
		model:    req.Model,
		preamble: g.schemaContext(ctx, req.ConversationID, schemas, true),
		state: &sessions.TurnState{
			ConversationID:  req.ConversationID,
			OriginalRequest: req.Query,
			Tables:          tables,
			Model:           req.Model,
		},
	}

	reply, err := t.complete(ctx, question(at.preamble, "", req.Query), nil)
	if err != nil {
		return "", err
	}
	if err := t.emit(ctx, events.Event{Type: events.TypeAIResponse, Content: reply}); err != nil {
		return "", err
	}

	sql, ok := sqlextract.Extract(reply)
	if !ok {
		if err := t.emit(ctx, events.FinalAnswer(reply)); err != nil {
			return "", err
		}
		return OutcomeCompleted, g.save(ctx, t, req.Model, reply)
	}

	op := sqlextract.Classify(sql)
	if op.IsWrite() {
		content := reply + "\n\n"
		message := fmt.Sprintf("%s operation", op)
		content += confirmationBlock(op, sql, message, req.Model, !hasSQLBlock(reply))
		at.content = content
		return OutcomeSuspended, g.suspend(ctx, at, op, sql, message)
	}

	if err := g.read(ctx, at, sql, ""); err != nil {
		return "", err
	}
	suspended, err := g.operate(ctx, at)
	if err != nil || suspended {
		return OutcomeSuspended, err
	}
	return OutcomeCompleted, g.conclude(ctx, at)
}

// general answers an @general utterance without touching any dataset.
func (g *Agent) general(ctx context.Context, t *turn, model string) error {
	q := stripGeneral(t.query)
	lower := strings.ToLower(q)

	var answer string
	if strings.Contains(lower, "what did i ask") || strings.Contains(lower, "what was my question") {
		answer = "I don't see any previous questions in our conversation history."
		for i := len(t.history) - 1; i >= 0; i-- {
			if t.history[i].Role == llm.RoleUser {
				answer = fmt.Sprintf("Your last question was: **\"%s\"**", t.history[i].Content)
				break
			}
		}
	} else {
		reply, err := t.complete(ctx, question(g.prompts.General, "", q), nil)
		switch {
		case err == nil:
			answer = reply
		case ctx.Err() != nil:
			return err
		default:
			g.log.Warn("agent: general conversation failed", "conversation_id", t.conversationID, "error", err)
			answer = fmt.Sprintf("I can help with general questions, but encountered an error: %s. Please try again or switch to Ask Mode for general conversations.", err)
		}
	}

	if err := t.emit(ctx, events.FinalAnswer(answer)); err != nil {
		return err
	}
	return g.save(ctx, t, model, answer)
}

// read executes one read statement as a step of the turn.
func (g *Agent) read(ctx context.Context, at *agentTurn, sql, reasoning string) error {
	res, err := g.cfg.Runner.Execute(ctx, at.provider, at.conversationID, sql, at.state.OriginalRequest, at.sink)
	if err != nil {
		return err
	}
	s := step{sql: sql, result: res, reasoning: reasoning}
	if at.content != "" {
		at.content += nextStep(reasoning, "Analyzing further...")
	}
	at.content += runner.RenderForStorage(s.sql, s.result)
	at.steps = append(at.steps, s)
	at.state.Iteration++
	at.state.Steps = append(at.state.Steps, s.summary())
	return nil
}

// operate asks the model for the next statement until it signals completion,
// proposes a write, stops proposing SQL, or the iteration bound is reached.
// It reports whether the turn suspended on a write.
func (g *Agent) operate(ctx context.Context, at *agentTurn) (bool, error) {
	for at.state.Iteration < g.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := at.emit(ctx, events.Loading("AI is analyzing data...")); err != nil {
			return false, err
		}

		stop := at.stopMarker()
		prompt := prompts.Render(g.prompts.AgentContinue, map[string]string{
			"QUESTION":    at.state.OriginalRequest,
			"COUNT":       fmt.Sprint(at.state.Iteration),
			"RESULTS":     prompts.JSON(at.state.Steps),
			"STOP_MARKER": stop,
			"NEXT_STEP":   fmt.Sprint(at.state.Iteration + 1),
		})
		reply, err := at.complete(ctx, question(at.preamble, "", prompt), nil)
		if err != nil {
			return false, err
		}
		if containsAny(reply, markerQueryComplete, markerOperationComplete) {
			g.log.Debug("agent: model signalled completion", "conversation_id", at.conversationID, "iteration", at.state.Iteration)
			return false, nil
		}
		sql, ok := sqlextract.Extract(reply)
		if !ok {
			return false, nil
		}

		reasoning := reasoningOf(reply, markerQueryComplete, markerOperationComplete)
		if r := cleanReasoning(reasoning); r != "" {
			if err := at.emit(ctx,
				events.Event{Type: events.TypeBriefReasoning, Content: r},
				events.Loading("AI is planning..."),
			); err != nil {
				return false, err
			}
		}
		if err := at.emit(ctx, events.Loading("AI is writing SQL commands...")); err != nil {
			return false, err
		}

		op := sqlextract.Classify(sql)
		if op.IsWrite() {
			message := fmt.Sprintf("Step %d: %s operation", at.state.Iteration+1, op)
			at.content += nextStep(reasoning, fmt.Sprintf("Based on the analysis, I need to execute a %s operation.", op))
			at.content += confirmationBlock(op, sql, message, at.model, true)
			return true, g.suspend(ctx, at, op, sql, message)
		}
		if err := g.read(ctx, at, sql, reasoning); err != nil {
			return false, err
		}
	}
	g.log.Info("agent: iteration bound reached", "conversation_id", at.conversationID, "iteration", at.state.Iteration)
	return false, nil
}

// suspend persists the assistant message with its confirmation markup and the
// pending operation, then asks the client to confirm.
func (g *Agent) suspend(ctx context.Context, at *agentTurn, op sqlextract.Operation, sql, message string) error {
	if err := g.persistContent(ctx, at); err != nil {
		return err
	}
	at.state.Pending = &sessions.PendingOperation{Operation: string(op), SQL: sql, Description: message}
	if err := g.cfg.Sessions.SaveTurnState(ctx, at.state); err != nil {
		return fmt.Errorf("failed to save turn state: %w", err)
	}
	g.log.Info("agent: awaiting confirmation", "conversation_id", at.conversationID, "operation", op, "iteration", at.state.Iteration)

	return at.emit(ctx,
		events.Event{Type: events.TypeConfirmation, Content: events.Confirmation{Operation: string(op), SQL: sql, Message: message}},
		events.Done(at.conversationID, at.userMessageID, at.state.AssistantMessageID),
	)
}

// conclude streams the closing text, persists the transcript and ends the
// turn. A resumed turn gets a summary of its operations; a fresh one gets a
// conclusion over its read results.
func (g *Agent) conclude(ctx context.Context, at *agentTurn) error {
	if err := at.emit(ctx, events.Loading("AI is generating conclusion...")); err != nil {
		return err
	}

	var prompt, heading string
	switch {
	case at.resumed:
		prompt = prompts.Render(g.prompts.AgentSummary, map[string]string{"RESULTS": prompts.JSON(at.state.Steps)})
		heading = "\n\n**💡 Summary:**\n"
	case len(at.steps) > 0:
		prompt = conclusionPrompt(g.prompts.AgentConcludeSingle, g.prompts.AgentConcludeMulti, at.state.OriginalRequest, at.steps)
		heading = "\n\n---\n\n**💡 Conclusion:**\n"
	}

	if prompt != "" {
		final, err := at.stream(ctx, g.prompts.Wrap(prompt))
		if err != nil {
			return err
		}
		if final != "" {
			if at.content == "" {
				heading = ""
			}
			at.content += heading + final
		}
	}

	if err := g.persistContent(ctx, at); err != nil {
		return err
	}
	if err := g.cfg.Sessions.ClearTurnState(ctx, at.conversationID); err != nil {
		return fmt.Errorf("failed to clear turn state: %w", err)
	}
	if err := g.touch(ctx, at.conversationID); err != nil {
		return err
	}
	return at.emit(ctx, events.Done(at.conversationID, at.userMessageID, at.state.AssistantMessageID))
}

// persistContent creates the turn's assistant message or updates it in place.
func (g *Agent) persistContent(ctx context.Context, at *agentTurn) error {
	if at.state.AssistantMessageID == 0 {
		msg, err := g.appendAssistant(ctx, at.conversationID, at.content, at.model)
		if err != nil {
			return err
		}
		at.state.AssistantMessageID = msg.ID
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.cfg.Sessions.UpdateMessageContent(ctx, at.state.AssistantMessageID, at.content); err != nil {
		return fmt.Errorf("failed to update assistant message: %w", err)
	}
	return nil
}

// abandonPending drops a confirmation the user never answered before starting
// a new turn, so only the latest assistant message can carry one.
func (g *Agent) abandonPending(ctx context.Context, conversationID int64) error {
	state, err := g.cfg.Sessions.LoadTurnState(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load turn state: %w", err)
	}
	if state == nil {
		return nil
	}
	if state.Pending != nil {
		g.log.Info("agent: dropping unanswered confirmation", "conversation_id", conversationID, "operation", state.Pending.Operation)
		err := g.stripMessage(ctx, conversationID, state.AssistantMessageID)
		if err != nil && !errors.Is(err, sessions.ErrNotFound) {
			return err
		}
	}
	if err := g.cfg.Sessions.ClearTurnState(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to clear turn state: %w", err)
	}
	return nil
}

// stripMessage removes the confirmation markup from an assistant message.
func (g *Agent) stripMessage(ctx context.Context, conversationID, messageID int64) error {
	_, err := g.rewriteMessage(ctx, conversationID, messageID, stripConfirmation)
	return err
}

func (g *Agent) rewriteMessage(ctx context.Context, conversationID, messageID int64, fn func(string) string) (string, error) {
	msgs, err := g.cfg.Sessions.GetMessages(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("failed to load messages: %w", err)
	}
	for _, m := range msgs {
		if m.ID != messageID {
			continue
		}
		content := fn(m.Content)
		if err := g.cfg.Sessions.UpdateMessageContent(ctx, messageID, content); err != nil {
			return "", fmt.Errorf("failed to update assistant message: %w", err)
		}
		return content, nil
	}
	return "", fmt.Errorf("assistant message %d: %w", messageID, sessions.ErrNotFound)
}

// deleteDirective removes the execute/cancel user message once handled.
func (g *Agent) deleteDirective(ctx context.Context, messageID int64) error {
	if messageID == 0 {
		return nil
	}
	if err := g.cfg.Sessions.DeleteMessage(ctx, messageID); err != nil && !errors.Is(err, sessions.ErrNotFound) {
		return fmt.Errorf("failed to delete directive message: %w", err)
	}
	return nil
}
