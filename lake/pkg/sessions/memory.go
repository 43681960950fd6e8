package sessions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	clock clockwork.Clock

	mu            sync.Mutex
	nextID        int64
	conversations map[int64]*Conversation
	messages      map[int64]*Message
	executions    map[int64][]ExecutionRecord
	charts        map[int64][]ChartRecord
	states        map[int64]*TurnState
	locks         map[int64]turnLock
}

type turnLock struct {
	id    string
	until time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock:         clock,
		conversations: map[int64]*Conversation{},
		messages:      map[int64]*Message{},
		executions:    map[int64][]ExecutionRecord{},
		charts:        map[int64][]ChartRecord{},
		states:        map[int64]*TurnState{},
		locks:         map[int64]turnLock{},
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) CreateConversation(ctx context.Context, userID *string, mode Mode, title string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now().UTC()
	c := &Conversation{ID: s.id(), UserID: userID, Title: title, Mode: mode, CreatedAt: now, UpdatedAt: now}
	s.conversations[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, userID *string, limit, offset int) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Conversation
	for _, c := range s.conversations {
		if sameUser(c.UserID, userID) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if offset >= len(out) {
		return []Conversation{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	s.deleteLocked(id)
	return nil
}

func (s *MemoryStore) DeleteConversations(ctx context.Context, userID *string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.conversations {
		if sameUser(c.UserID, userID) {
			s.deleteLocked(id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) deleteLocked(id int64) {
	delete(s.conversations, id)
	delete(s.executions, id)
	delete(s.charts, id)
	delete(s.states, id)
	delete(s.locks, id)
	for mid, m := range s.messages {
		if m.ConversationID == id {
			delete(s.messages, mid)
		}
	}
}

func (s *MemoryStore) TouchConversation(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	c.UpdatedAt = s.clock.Now().UTC()
	return nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg *Message) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return nil, fmt.Errorf("conversation %d: %w", msg.ConversationID, ErrNotFound)
	}
	m := *msg
	m.ID = s.id()
	m.CreatedAt = s.clock.Now().UTC()
	s.messages[m.ID] = &m
	cp := m
	return &cp, nil
}

func (s *MemoryStore) GetMessages(ctx context.Context, conversationID int64) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Message{}
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateMessageContent(ctx context.Context, messageID int64, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("message %d: %w", messageID, ErrNotFound)
	}
	m.Content = content
	return nil
}

func (s *MemoryStore) DeleteMessage(ctx context.Context, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return fmt.Errorf("message %d: %w", messageID, ErrNotFound)
	}
	delete(s.messages, messageID)
	return nil
}

func (s *MemoryStore) RecordExecution(ctx context.Context, rec *ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *rec
	r.ID = s.id()
	r.CreatedAt = s.clock.Now().UTC()
	ring := append(s.executions[r.ConversationID], r)
	if len(ring) > HistoryLimit {
		ring = append([]ExecutionRecord(nil), ring[len(ring)-HistoryLimit:]...)
	}
	s.executions[r.ConversationID] = ring
	return nil
}

func (s *MemoryStore) RecentExecutions(ctx context.Context, conversationID int64, limit int) ([]ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.executions[conversationID], limit), nil
}

func (s *MemoryStore) RecordChart(ctx context.Context, rec *ChartRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *rec
	r.ID = s.id()
	r.CreatedAt = s.clock.Now().UTC()
	ring := append(s.charts[r.ConversationID], r)
	if len(ring) > HistoryLimit {
		ring = append([]ChartRecord(nil), ring[len(ring)-HistoryLimit:]...)
	}
	s.charts[r.ConversationID] = ring
	return nil
}

func (s *MemoryStore) RecentCharts(ctx context.Context, conversationID int64, limit int) ([]ChartRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.charts[conversationID], limit), nil
}

func (s *MemoryStore) LoadTurnState(ctx context.Context, conversationID int64) (*TurnState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[conversationID]
	if !ok {
		return nil, nil
	}
	return cloneState(st), nil
}

func (s *MemoryStore) SaveTurnState(ctx context.Context, state *TurnState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := cloneState(state)
	st.UpdatedAt = s.clock.Now().UTC()
	s.states[state.ConversationID] = st
	return nil
}

func (s *MemoryStore) ClearTurnState(ctx context.Context, conversationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, conversationID)
	return nil
}

func (s *MemoryStore) AcquireTurnLock(ctx context.Context, conversationID int64, lockID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if l, ok := s.locks[conversationID]; ok && l.id != lockID && now.Before(l.until) {
		return false, nil
	}
	s.locks[conversationID] = turnLock{id: lockID, until: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) ReleaseTurnLock(ctx context.Context, conversationID int64, lockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[conversationID]; ok && l.id == lockID {
		delete(s.locks, conversationID)
	}
	return nil
}

func sameUser(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func newestFirst[T any](ring []T, limit int) []T {
	if limit <= 0 || limit > len(ring) {
		limit = len(ring)
	}
	out := make([]T, 0, limit)
	for i := len(ring) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, ring[i])
	}
	return out
}

func cloneState(st *TurnState) *TurnState {
	cp := *st
	cp.Tables = append([]string(nil), st.Tables...)
	cp.Steps = append([]StepSummary(nil), st.Steps...)
	if st.Pending != nil {
		p := *st.Pending
		cp.Pending = &p
	}
	return &cp
}
