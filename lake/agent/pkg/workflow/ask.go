package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/malbeclabs/askql/lake/agent/pkg/events"
	"github.com/malbeclabs/askql/lake/agent/pkg/llm"
	"github.com/malbeclabs/askql/lake/agent/pkg/prompts"
	"github.com/malbeclabs/askql/lake/agent/pkg/sqlextract"
	"github.com/malbeclabs/askql/lake/pkg/sessions"
)

const (
	markerQueryComplete  = "QUERY_COMPLETE"
	markerUnrelated      = "UNRELATED_QUERY"
	markerMissingDataset = "MISSING_DATASET"

	// minProseAnswer is the length above which a reply without SQL is shown
	// as an answer rather than replaced by the not-a-data-question message.
	minProseAnswer = 50
)

// AskRequest is one read-only turn. The conversation and the user message
// must already be persisted.
type AskRequest struct {
	ConversationID int64
	UserMessageID  int64
	Query          string
	// Tables are the selected dataset tables; "general" selects free
	// conversation.
	Tables      []string
	Attachments []sessions.Attachment
	Model       string
	Provider    llm.Provider
}

// Ask runs read-only turns.
type Ask struct {
	*engine
}

func NewAsk(cfg Config) (*Ask, error) {
	e, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	return &Ask{engine: e}, nil
}

// Run executes one Ask turn, pushing progress to sink. The turn ends with a
// done event, or with an error event when it fails. Nothing is persisted
// when the client goes away before the turn completes.
func (a *Ask) Run(ctx context.Context, req AskRequest, sink events.Sink) error {
	t := &turn{
		conversationID: req.ConversationID,
		userMessageID:  req.UserMessageID,
		query:          req.Query,
		provider:       req.Provider,
		sink:           sink,
	}
	err := a.run(ctx, req, t)
	return a.finish(ctx, sessions.ModeAsk, t, OutcomeCompleted, err)
}

func (a *Ask) run(ctx context.Context, req AskRequest, t *turn) error {
	a.log.Info("ask: starting turn", "conversation_id", req.ConversationID, "tables", req.Tables)

	hist, err := a.loadHistory(ctx, req.ConversationID, req.UserMessageID)
	if err != nil {
		a.log.Warn("ask: continuing without conversation history", "error", err)
	}
	t.history = hist

	general := hasGeneral(req.Tables)
	tables := dataTables(req.Tables)
	if !general && len(tables) == 0 {
		if err := t.emit(ctx, events.FinalAnswer(a.prompts.NoDataset)); err != nil {
			return err
		}
		return a.save(ctx, t, req.Model, a.prompts.NoDataset)
	}

	preamble := a.prompts.General
	if !general {
		schemas, err := a.fetchSchemas(ctx, tables)
		if err != nil {
			return err
		}
		preamble = a.schemaContext(ctx, req.ConversationID, schemas, false)
	}

	images := a.loadImages(req.Attachments)
	reply, err := t.complete(ctx, question(preamble, attachmentNote(images), req.Query), images)
	if err != nil {
		return err
	}

	var answer string
	switch {
	case general:
		answer = reply
	case strings.Contains(reply, markerMissingDataset):
		answer = strings.TrimSpace(strings.ReplaceAll(reply, markerMissingDataset, ""))
	case strings.Contains(reply, markerUnrelated):
		answer = strings.TrimSpace(strings.ReplaceAll(reply, markerUnrelated, ""))
	default:
		sql, ok := sqlextract.Extract(reply)
		if !ok {
			answer = a.prompts.NotADataQuestion
			if len(strings.TrimSpace(reply)) > minProseAnswer {
				answer = escapeTableNames(reply, tables)
			}
			if err := t.emit(ctx, events.FinalAnswer(answer)); err != nil {
				return err
			}
			return a.save(ctx, t, req.Model, answer)
		}
		if err := t.emit(ctx, events.Event{Type: events.TypeAIResponse, Content: reply}); err != nil {
			return err
		}
		content, err := a.analyze(ctx, t, preamble, sql)
		if err != nil {
			return err
		}
		return a.save(ctx, t, req.Model, content)
	}

	if err := t.emit(ctx,
		events.Event{Type: events.TypeAIResponse, Content: reply},
		events.FinalAnswer(answer),
	); err != nil {
		return err
	}
	return a.save(ctx, t, req.Model, answer)
}

// analyze runs the SQL loop starting with sql and streams the conclusion. It
// returns the assistant message content.
func (a *Ask) analyze(ctx context.Context, t *turn, preamble, sql string) (string, error) {
	steps, err := a.loop(ctx, t, preamble, sql)
	if err != nil {
		return "", err
	}

	var final string
	if last := steps[len(steps)-1].result; last.Success && last.RowCount > 0 {
		if err := t.emit(ctx, events.Loading("AI is generating conclusion...")); err != nil {
			return "", err
		}
		prompt := conclusionPrompt(a.prompts.AskConcludeSingle, a.prompts.AskConcludeMulti, t.query, steps)
		if final, err = t.stream(ctx, a.prompts.Wrap(prompt)); err != nil {
			return "", err
		}
	}

	content := transcript(steps)
	if final != "" {
		content += "\n\n---\n\n**Answer:**\n" + final
	}
	return content, nil
}

// loop executes statements until the model signals completion, stops
// proposing SQL, or the iteration bound is reached.
func (a *Ask) loop(ctx context.Context, t *turn, preamble, sql string) ([]step, error) {
	var steps []step
	var reasoning string
	for sql != "" && len(steps) < a.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a.log.Debug("ask: executing step", "conversation_id", t.conversationID, "step", len(steps)+1)

		res, err := a.cfg.Runner.Execute(ctx, t.provider, t.conversationID, sql, t.query, t.sink)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step{sql: sql, result: res, reasoning: reasoning})
		if len(steps) >= a.cfg.MaxIterations {
			a.log.Info("ask: iteration bound reached", "conversation_id", t.conversationID, "steps", len(steps))
			break
		}

		prompt := prompts.Render(a.prompts.AskContinue, map[string]string{
			"QUESTION":  t.query,
			"COUNT":     fmt.Sprint(len(steps)),
			"RESULTS":   continueResults(steps),
			"NEXT_STEP": fmt.Sprint(len(steps) + 1),
		})
		reply, err := t.complete(ctx, question(preamble, "", prompt), nil)
		if err != nil {
			return nil, err
		}
		if strings.Contains(reply, markerQueryComplete) {
			break
		}
		next, ok := sqlextract.Extract(reply)
		if !ok {
			break
		}

		reasoning = reasoningOf(reply, markerQueryComplete)
		if r := cleanReasoning(reasoning); r != "" {
			if err := t.emit(ctx, events.Event{Type: events.TypeBriefReasoning, Content: r}); err != nil {
				return nil, err
			}
		}
		sql = next
	}
	return steps, nil
}

// save persists the assistant message, touches the conversation and emits
// the terminal done event.
func (e *engine) save(ctx context.Context, t *turn, model, content string) error {
	msg, err := e.appendAssistant(ctx, t.conversationID, content, model)
	if err != nil {
		return err
	}
	if err := e.touch(ctx, t.conversationID); err != nil {
		return err
	}
	return t.emit(ctx, events.Done(t.conversationID, t.userMessageID, msg.ID))
}
