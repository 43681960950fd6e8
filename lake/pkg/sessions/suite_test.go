package sessions_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/malbeclabs/askql/lake/pkg/sessions"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) (store sessions.Store, tick func())

func runStoreSuite(t *testing.T, newStore storeFactory) {
	t.Run("conversation lifecycle", func(t *testing.T) {
		store, tick := newStore(t)
		ctx := context.Background()
		user := "user-1"

		a, err := store.CreateConversation(ctx, &user, sessions.ModeAsk, "first")
		require.NoError(t, err)
		tick()
		b, err := store.CreateConversation(ctx, &user, sessions.ModeAgent, "second")
		require.NoError(t, err)
		_, err = store.CreateConversation(ctx, nil, sessions.ModeAsk, "anonymous")
		require.NoError(t, err)

		list, err := store.ListConversations(ctx, &user, 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, b.ID, list[0].ID)

		tick()
		require.NoError(t, store.TouchConversation(ctx, a.ID))
		list, err = store.ListConversations(ctx, &user, 10, 0)
		require.NoError(t, err)
		require.Equal(t, a.ID, list[0].ID)

		anon, err := store.ListConversations(ctx, nil, 10, 0)
		require.NoError(t, err)
		require.Len(t, anon, 1)
		require.Equal(t, "anonymous", anon[0].Title)

		got, err := store.GetConversation(ctx, b.ID)
		require.NoError(t, err)
		require.Equal(t, sessions.ModeAgent, got.Mode)

		require.NoError(t, store.DeleteConversation(ctx, b.ID))
		_, err = store.GetConversation(ctx, b.ID)
		require.ErrorIs(t, err, sessions.ErrNotFound)
		require.ErrorIs(t, store.DeleteConversation(ctx, b.ID), sessions.ErrNotFound)

		n, err := store.DeleteConversations(ctx, &user)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})

	t.Run("messages are chronological", func(t *testing.T) {
		store, _ := newStore(t)
		ctx := context.Background()
		conv, err := store.CreateConversation(ctx, nil, sessions.ModeAsk, "t")
		require.NoError(t, err)

		user, err := store.AppendMessage(ctx, &sessions.Message{
			ConversationID: conv.ID,
			Role:           sessions.RoleUser,
			Content:        "how many rows?",
			Attachments:    []sessions.Attachment{{URL: "https://x/a.png", Filename: "a.png", FileType: "image/png"}},
		})
		require.NoError(t, err)
		assistant, err := store.AppendMessage(ctx, &sessions.Message{
			ConversationID: conv.ID,
			Role:           sessions.RoleAssistant,
			Content:        "5",
			Model:          "gemini-2.5-flash",
		})
		require.NoError(t, err)
		require.Greater(t, assistant.ID, user.ID)

		require.NoError(t, store.UpdateMessageContent(ctx, assistant.ID, "five"))

		msgs, err := store.GetMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		require.Equal(t, sessions.RoleUser, msgs[0].Role)
		require.Equal(t, "a.png", msgs[0].Attachments[0].Filename)
		require.Equal(t, "five", msgs[1].Content)
		require.Equal(t, "gemini-2.5-flash", msgs[1].Model)

		require.NoError(t, store.DeleteMessage(ctx, user.ID))
		require.ErrorIs(t, store.DeleteMessage(ctx, user.ID), sessions.ErrNotFound)
		require.ErrorIs(t, store.UpdateMessageContent(ctx, user.ID, "x"), sessions.ErrNotFound)
	})

	t.Run("history rings keep the most recent entries", func(t *testing.T) {
		store, _ := newStore(t)
		ctx := context.Background()
		conv, err := store.CreateConversation(ctx, nil, sessions.ModeAsk, "t")
		require.NoError(t, err)

		for i := 0; i < 25; i++ {
			require.NoError(t, store.RecordExecution(ctx, &sessions.ExecutionRecord{
				ConversationID: conv.ID,
				SQL:            fmt.Sprintf("SELECT %d", i),
				Success:        i%2 == 0,
				RowCount:       i,
			}))
			require.NoError(t, store.RecordChart(ctx, &sessions.ChartRecord{
				ConversationID:   conv.ID,
				ChartType:        "bar",
				Title:            fmt.Sprintf("chart %d", i),
				Columns:          []string{"a", "b"},
				SampleCategories: []string{"x"},
				TotalCategories:  1,
			}))
		}

		execs, err := store.RecentExecutions(ctx, conv.ID, sessions.HistoryLimit)
		require.NoError(t, err)
		require.Len(t, execs, sessions.HistoryLimit)
		require.Equal(t, "SELECT 24", execs[0].SQL)
		require.Equal(t, "SELECT 5", execs[len(execs)-1].SQL)

		all, err := store.RecentExecutions(ctx, conv.ID, 100)
		require.NoError(t, err)
		require.Len(t, all, sessions.HistoryLimit)

		charts, err := store.RecentCharts(ctx, conv.ID, 3)
		require.NoError(t, err)
		require.Len(t, charts, 3)
		require.Equal(t, "chart 24", charts[0].Title)
		require.Equal(t, []string{"a", "b"}, charts[0].Columns)
	})

	t.Run("turn state round trip", func(t *testing.T) {
		store, _ := newStore(t)
		ctx := context.Background()
		conv, err := store.CreateConversation(ctx, nil, sessions.ModeAgent, "t")
		require.NoError(t, err)

		st, err := store.LoadTurnState(ctx, conv.ID)
		require.NoError(t, err)
		require.Nil(t, st)

		want := &sessions.TurnState{
			ConversationID:     conv.ID,
			AssistantMessageID: 7,
			OriginalRequest:    "add a row",
			Tables:             []string{"sales"},
			Model:              "gpt-4o",
			Iteration:          2,
			Steps:              []sessions.StepSummary{{SQL: "SELECT 1", Operation: "SELECT", Success: true, RowCount: 1}},
			Pending:            &sessions.PendingOperation{Operation: "INSERT", SQL: "INSERT INTO sales VALUES (1)", Description: "insert"},
		}
		require.NoError(t, store.SaveTurnState(ctx, want))

		got, err := store.LoadTurnState(ctx, conv.ID)
		require.NoError(t, err)
		require.Equal(t, want.Steps, got.Steps)
		require.Equal(t, want.Pending, got.Pending)
		require.Equal(t, 2, got.Iteration)
		require.False(t, got.UpdatedAt.IsZero())

		got.Pending = nil
		require.NoError(t, store.SaveTurnState(ctx, got))
		got, err = store.LoadTurnState(ctx, conv.ID)
		require.NoError(t, err)
		require.Nil(t, got.Pending)

		require.NoError(t, store.ClearTurnState(ctx, conv.ID))
		got, err = store.LoadTurnState(ctx, conv.ID)
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("turn lock excludes other holders", func(t *testing.T) {
		store, _ := newStore(t)
		ctx := context.Background()
		conv, err := store.CreateConversation(ctx, nil, sessions.ModeAgent, "t")
		require.NoError(t, err)

		ok, err := store.AcquireTurnLock(ctx, conv.ID, "a", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = store.AcquireTurnLock(ctx, conv.ID, "b", time.Minute)
		require.NoError(t, err)
		require.False(t, ok)

		ok, err = store.AcquireTurnLock(ctx, conv.ID, "a", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, store.ReleaseTurnLock(ctx, conv.ID, "b"))
		ok, err = store.AcquireTurnLock(ctx, conv.ID, "b", time.Minute)
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, store.ReleaseTurnLock(ctx, conv.ID, "a"))
		ok, err = store.AcquireTurnLock(ctx, conv.ID, "b", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("deleting a conversation cascades", func(t *testing.T) {
		store, _ := newStore(t)
		ctx := context.Background()
		conv, err := store.CreateConversation(ctx, nil, sessions.ModeAgent, "t")
		require.NoError(t, err)
		_, err = store.AppendMessage(ctx, &sessions.Message{ConversationID: conv.ID, Role: sessions.RoleUser, Content: "hi"})
		require.NoError(t, err)
		require.NoError(t, store.RecordExecution(ctx, &sessions.ExecutionRecord{ConversationID: conv.ID, SQL: "SELECT 1", Success: true}))
		require.NoError(t, store.SaveTurnState(ctx, &sessions.TurnState{ConversationID: conv.ID}))

		require.NoError(t, store.DeleteConversation(ctx, conv.ID))

		msgs, err := store.GetMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Empty(t, msgs)
		execs, err := store.RecentExecutions(ctx, conv.ID, 20)
		require.NoError(t, err)
		require.Empty(t, execs)
		st, err := store.LoadTurnState(ctx, conv.ID)
		require.NoError(t, err)
		require.Nil(t, st)
	})
}
