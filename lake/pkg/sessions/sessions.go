// Package sessions persists conversations, their messages, the per-conversation
// SQL and chart history rings, and the explicit turn state used to suspend and
// resume agent turns.
package sessions

import (
	"context"
	"errors"
	"time"
)

// HistoryLimit is the ring-buffer size for execution and chart history.
const HistoryLimit = 20

// ErrNotFound is returned when a conversation or message does not exist.
var ErrNotFound = errors.New("not found")

type Mode string

const (
	ModeAsk   Mode = "ask"
	ModeAgent Mode = "agent"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Conversation struct {
	ID        int64     `json:"id"`
	UserID    *string   `json:"user_id"`
	Title     string    `json:"title"`
	Mode      Mode      `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	FileType string `json:"file_type"`
}

type Message struct {
	ID             int64        `json:"id"`
	ConversationID int64        `json:"conversation_id"`
	Role           Role         `json:"role"`
	Content        string       `json:"content"`
	Model          string       `json:"model,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ExecutionRecord is one SQL statement attempt.
type ExecutionRecord struct {
	ID              int64     `json:"id"`
	ConversationID  int64     `json:"conversation_id"`
	SQL             string    `json:"sql_query"`
	Success         bool      `json:"success"`
	RowCount        int       `json:"row_count"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// ChartRecord summarizes a generated chart without its data.
type ChartRecord struct {
	ID               int64     `json:"id"`
	ConversationID   int64     `json:"conversation_id"`
	ChartType        string    `json:"chart_type"`
	Title            string    `json:"title"`
	Columns          []string  `json:"columns"`
	XAxisLabel       string    `json:"x_axis_label,omitempty"`
	YAxisLabel       string    `json:"y_axis_label,omitempty"`
	SampleCategories []string  `json:"sample_categories"`
	TotalCategories  int       `json:"total_categories"`
	CreatedAt        time.Time `json:"created_at"`
}

// StepSummary is what later prompts need to know about an executed statement.
type StepSummary struct {
	SQL       string `json:"sql"`
	Operation string `json:"operation"`
	Success   bool   `json:"success"`
	RowCount  int    `json:"row_count"`
	Error     string `json:"error,omitempty"`
}

// PendingOperation is a write waiting for an explicit execute or cancel.
type PendingOperation struct {
	Operation   string `json:"operation"`
	SQL         string `json:"sql"`
	Description string `json:"description"`
}

// TurnState is the control state of an agent turn that survives between
// requests. A non-nil Pending means the conversation is suspended.
type TurnState struct {
	ConversationID     int64             `json:"conversation_id"`
	AssistantMessageID int64             `json:"assistant_message_id"`
	OriginalRequest    string            `json:"original_request"`
	Tables             []string          `json:"tables"`
	Model              string            `json:"model"`
	Iteration          int               `json:"iteration"`
	Steps              []StepSummary     `json:"steps"`
	Pending            *PendingOperation `json:"pending,omitempty"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Store is the persistence log the orchestrators and handlers work against.
type Store interface {
	CreateConversation(ctx context.Context, userID *string, mode Mode, title string) (*Conversation, error)
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	ListConversations(ctx context.Context, userID *string, limit, offset int) ([]Conversation, error)
	DeleteConversation(ctx context.Context, id int64) error
	DeleteConversations(ctx context.Context, userID *string) (int, error)
	TouchConversation(ctx context.Context, id int64) error

	AppendMessage(ctx context.Context, msg *Message) (*Message, error)
	GetMessages(ctx context.Context, conversationID int64) ([]Message, error)
	UpdateMessageContent(ctx context.Context, messageID int64, content string) error
	DeleteMessage(ctx context.Context, messageID int64) error

	RecordExecution(ctx context.Context, rec *ExecutionRecord) error
	RecentExecutions(ctx context.Context, conversationID int64, limit int) ([]ExecutionRecord, error)
	RecordChart(ctx context.Context, rec *ChartRecord) error
	RecentCharts(ctx context.Context, conversationID int64, limit int) ([]ChartRecord, error)

	LoadTurnState(ctx context.Context, conversationID int64) (*TurnState, error)
	SaveTurnState(ctx context.Context, state *TurnState) error
	ClearTurnState(ctx context.Context, conversationID int64) error

	AcquireTurnLock(ctx context.Context, conversationID int64, lockID string, ttl time.Duration) (bool, error)
	ReleaseTurnLock(ctx context.Context, conversationID int64, lockID string) error
}

// Title derives a conversation title from the first utterance.
func Title(query string) string {
	r := []rune(query)
	if len(r) > 50 {
		return string(r[:50]) + "..."
	}
	return query
}
