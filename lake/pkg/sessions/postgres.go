package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(log *slog.Logger, pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{log: log, pool: pool}
}

const conversationColumns = `id, user_id, title, mode, created_at, updated_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Mode, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, userID *string, mode Mode, title string) (*Conversation, error) {
	c, err := scanConversation(s.pool.QueryRow(ctx, `
		INSERT INTO conversations (user_id, mode, title)
		VALUES ($1, $2, $3)
		RETURNING `+conversationColumns,
		userID, mode, title))
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	c, err := scanConversation(s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID *string, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user_id IS NOT DISTINCT FROM $1
		ORDER BY updated_at DESC, id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	out := []Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteConversations(ctx context.Context, userID *string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE user_id IS NOT DISTINCT FROM $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete conversations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) TouchConversation(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *Message) (*Message, error) {
	var attachments []byte
	if len(msg.Attachments) > 0 {
		var err error
		if attachments, err = json.Marshal(msg.Attachments); err != nil {
			return nil, fmt.Errorf("failed to encode attachments: %w", err)
		}
	}
	var model *string
	if msg.Model != "" {
		model = &msg.Model
	}

	out := *msg
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, role, content, model, attachments)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		msg.ConversationID, msg.Role, msg.Content, model, attachments,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return &out, nil
}

func (s *PostgresStore) GetMessages(ctx context.Context, conversationID int64) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, model, attachments, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var (
			m           Message
			model       *string
			attachments []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &model, &attachments, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if model != nil {
			m.Model = *model
		}
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
				s.log.Warn("sessions: dropping malformed attachments", "message_id", m.ID, "error", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateMessageContent(ctx context.Context, messageID int64, content string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE messages SET content = $2 WHERE id = $1`, messageID, content)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %d: %w", messageID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %d: %w", messageID, ErrNotFound)
	}
	return nil
}

// insertAndTrim inserts a history row and evicts everything beyond the ring size
// in the same transaction.
func (s *PostgresStore) insertAndTrim(ctx context.Context, table string, conversationID int64, insert string, args ...any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, insert, args...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM `+table+`
		WHERE conversation_id = $1 AND id NOT IN (
			SELECT id FROM `+table+` WHERE conversation_id = $1 ORDER BY id DESC LIMIT $2
		)`, conversationID, HistoryLimit); err != nil {
		return fmt.Errorf("failed to trim %s: %w", table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit %s: %w", table, err)
	}
	return nil
}

func (s *PostgresStore) RecordExecution(ctx context.Context, rec *ExecutionRecord) error {
	var errMsg *string
	if rec.ErrorMessage != "" {
		errMsg = &rec.ErrorMessage
	}
	return s.insertAndTrim(ctx, "sql_execution_history", rec.ConversationID, `
		INSERT INTO sql_execution_history (conversation_id, sql_query, success, row_count, error_message, execution_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ConversationID, rec.SQL, rec.Success, rec.RowCount, errMsg, rec.ExecutionTimeMS)
}

func (s *PostgresStore) RecentExecutions(ctx context.Context, conversationID int64, limit int) ([]ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, sql_query, success, row_count, error_message, execution_time_ms, created_at
		FROM sql_execution_history
		WHERE conversation_id = $1
		ORDER BY id DESC
		LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sql history: %w", err)
	}
	defer rows.Close()

	out := []ExecutionRecord{}
	for rows.Next() {
		var (
			r      ExecutionRecord
			errMsg *string
			ms     *int64
		)
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.SQL, &r.Success, &r.RowCount, &errMsg, &ms, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sql history: %w", err)
		}
		if errMsg != nil {
			r.ErrorMessage = *errMsg
		}
		if ms != nil {
			r.ExecutionTimeMS = *ms
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordChart(ctx context.Context, rec *ChartRecord) error {
	columns, err := json.Marshal(rec.Columns)
	if err != nil {
		return fmt.Errorf("failed to encode chart columns: %w", err)
	}
	categories, err := json.Marshal(rec.SampleCategories)
	if err != nil {
		return fmt.Errorf("failed to encode chart categories: %w", err)
	}
	return s.insertAndTrim(ctx, "chart_generation_history", rec.ConversationID, `
		INSERT INTO chart_generation_history
			(conversation_id, chart_type, title, columns, x_axis_label, y_axis_label, sample_categories, total_categories)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ConversationID, rec.ChartType, rec.Title, columns, rec.XAxisLabel, rec.YAxisLabel, categories, rec.TotalCategories)
}

func (s *PostgresStore) RecentCharts(ctx context.Context, conversationID int64, limit int) ([]ChartRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, chart_type, title, columns, x_axis_label, y_axis_label,
			sample_categories, total_categories, created_at
		FROM chart_generation_history
		WHERE conversation_id = $1
		ORDER BY id DESC
		LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chart history: %w", err)
	}
	defer rows.Close()

	out := []ChartRecord{}
	for rows.Next() {
		var (
			r                ChartRecord
			columns, samples []byte
			xLabel, yLabel   *string
			totalCategories  *int
		)
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.ChartType, &r.Title, &columns, &xLabel, &yLabel,
			&samples, &totalCategories, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chart history: %w", err)
		}
		if len(columns) > 0 {
			_ = json.Unmarshal(columns, &r.Columns)
		}
		if len(samples) > 0 {
			_ = json.Unmarshal(samples, &r.SampleCategories)
		}
		if xLabel != nil {
			r.XAxisLabel = *xLabel
		}
		if yLabel != nil {
			r.YAxisLabel = *yLabel
		}
		if totalCategories != nil {
			r.TotalCategories = *totalCategories
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LoadTurnState(ctx context.Context, conversationID int64) (*TurnState, error) {
	var (
		raw       []byte
		updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT state, updated_at FROM turn_states WHERE conversation_id = $1`, conversationID,
	).Scan(&raw, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load turn state: %w", err)
	}
	var st TurnState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to decode turn state: %w", err)
	}
	st.UpdatedAt = updatedAt
	return &st, nil
}

func (s *PostgresStore) SaveTurnState(ctx context.Context, state *TurnState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode turn state: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO turn_states (conversation_id, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (conversation_id) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()`,
		state.ConversationID, raw)
	if err != nil {
		return fmt.Errorf("failed to save turn state: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearTurnState(ctx context.Context, conversationID int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM turn_states WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to clear turn state: %w", err)
	}
	return nil
}

func (s *PostgresStore) AcquireTurnLock(ctx context.Context, conversationID int64, lockID string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET lock_id = $2, lock_until = NOW() + make_interval(secs => $3)
		WHERE id = $1 AND (lock_id IS NULL OR lock_until < NOW() OR lock_id = $2)`,
		conversationID, lockID, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to acquire turn lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseTurnLock(ctx context.Context, conversationID int64, lockID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations SET lock_id = NULL, lock_until = NULL
		WHERE id = $1 AND lock_id = $2`, conversationID, lockID)
	if err != nil {
		return fmt.Errorf("failed to release turn lock: %w", err)
	}
	return nil
}
