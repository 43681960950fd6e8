package sessions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrations = []struct {
	name string
	sql  string
}{
	{"create conversations table", `
		CREATE TABLE IF NOT EXISTS conversations (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT,
			title TEXT NOT NULL DEFAULT '',
			mode VARCHAR(10) NOT NULL CHECK (mode IN ('ask', 'agent')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{"create conversations index", `
		CREATE INDEX IF NOT EXISTS idx_conversations_user_updated
		ON conversations (user_id, updated_at DESC)`},
	{"add turn lock columns", `
		ALTER TABLE conversations
		ADD COLUMN IF NOT EXISTS lock_id VARCHAR(36),
		ADD COLUMN IF NOT EXISTS lock_until TIMESTAMPTZ`},
	{"create messages table", `
		CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role VARCHAR(20) NOT NULL CHECK (role IN ('user', 'assistant')),
			content TEXT NOT NULL,
			model TEXT,
			attachments JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{"create messages index", `
		CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages (conversation_id, id)`},
	{"create sql execution history table", `
		CREATE TABLE IF NOT EXISTS sql_execution_history (
			id BIGSERIAL PRIMARY KEY,
			conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sql_query TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			row_count INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			execution_time_ms BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{"create sql execution history index", `
		CREATE INDEX IF NOT EXISTS idx_sql_history_conversation
		ON sql_execution_history (conversation_id, id DESC)`},
	{"create chart generation history table", `
		CREATE TABLE IF NOT EXISTS chart_generation_history (
			id BIGSERIAL PRIMARY KEY,
			conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			chart_type TEXT NOT NULL,
			title TEXT NOT NULL,
			columns JSONB,
			x_axis_label TEXT,
			y_axis_label TEXT,
			sample_categories JSONB,
			total_categories INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{"create chart generation history index", `
		CREATE INDEX IF NOT EXISTS idx_chart_history_conversation
		ON chart_generation_history (conversation_id, id DESC)`},
	{"create turn states table", `
		CREATE TABLE IF NOT EXISTS turn_states (
			conversation_id BIGINT PRIMARY KEY REFERENCES conversations(id) ON DELETE CASCADE,
			state JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
}

// Migrate creates the tables the Postgres store needs. It is idempotent.
func Migrate(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool) error {
	log.Info("sessions: running postgres migrations", "count", len(migrations))
	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("failed to %s: %w", m.name, err)
		}
	}
	log.Info("sessions: postgres migrations completed")
	return nil
}
