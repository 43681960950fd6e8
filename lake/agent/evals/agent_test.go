//go:build evals

package evals_test

import (
	"context"
	"testing"

	"github.com/malbeclabs/askql/lake/agent/pkg/events"
	"github.com/malbeclabs/askql/lake/agent/pkg/workflow"
	"github.com/malbeclabs/askql/lake/pkg/sessions"
	"github.com/stretchr/testify/require"
)

func TestLake_Agent_Evals_Agent_InsertNeedsConfirmation(t *testing.T) {
	t.Parallel()

	forEachModel(t, func(t *testing.T, h *harness) {
		conv := h.conversation(t, sessions.ModeAgent)
		sink := h.agentTurn(t, conv, "@sales add a new sale with id 5 for store E in the south region, amount 42, created 2024-01-05")

		confirms := sink.Of(events.TypeConfirmation)
		require.Len(t, confirms, 1)
		require.Equal(t, "CREATE", confirms[0].Content.(events.Confirmation).Operation)
		require.Equal(t, 4, h.count(t, "SELECT COUNT(*) FROM sales"), "nothing may be written before confirmation")

		resume := &events.Recorder{}
		err := h.agent.Resume(context.Background(), workflow.ResumeRequest{
			ConversationID: conv,
			Decision:       workflow.DecisionExecute,
			Model:          h.provider.Model(),
			Provider:       h.provider,
		}, resume)
		require.NoError(t, err)
		logTurn(t, resume)

		require.Equal(t, events.TypeDone, resume.Last().Type)
		require.Equal(t, 1, h.count(t, "SELECT COUNT(*) FROM sales WHERE store = 'E'"))
	})
}

func TestLake_Agent_Evals_Agent_ReadOnlyQuestion(t *testing.T) {
	t.Parallel()

	forEachModel(t, func(t *testing.T, h *harness) {
		conv := h.conversation(t, sessions.ModeAgent)
		sink := h.agentTurn(t, conv, "@sales how many sales are in the west region?")

		require.Empty(t, sink.Of(events.TypeConfirmation))
		require.Equal(t, events.TypeDone, sink.Last().Type)
		require.Contains(t, answer(sink), "2")
	})
}
