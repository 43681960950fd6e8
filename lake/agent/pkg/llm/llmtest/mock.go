// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/malbeclabs/askql/lake/agent/pkg/llm"
)

// Reply is one scripted response. A non-nil Err is returned instead of Text.
type Reply struct {
	Text string
	Err  error
}

// Mock answers calls from a queue of replies, in order, and records every
// request it receives. Running out of replies is an error.
type Mock struct {
	ModelName string

	mu      sync.Mutex
	replies []Reply
	calls   []llm.Request
}

var _ llm.Provider = (*Mock)(nil)

func New(replies ...string) *Mock {
	m := &Mock{ModelName: "gemini-2.5-flash"}
	for _, r := range replies {
		m.replies = append(m.replies, Reply{Text: r})
	}
	return m
}

// Push appends replies to the queue.
func (m *Mock) Push(replies ...Reply) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, replies...)
	return m
}

func (m *Mock) Kind() llm.Kind {
	kind, err := llm.KindForModel(m.ModelName)
	if err != nil {
		return llm.KindGemini
	}
	return kind
}

func (m *Mock) Model() string { return m.ModelName }

func (m *Mock) next(req *llm.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, *req)
	if len(m.replies) == 0 {
		return "", &llm.ProviderError{Kind: m.Kind(), Err: fmt.Errorf("no scripted reply for call %d", len(m.calls))}
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	if r.Err != nil {
		return "", r.Err
	}
	return r.Text, nil
}

func (m *Mock) Complete(ctx context.Context, req *llm.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.next(req)
}

// Stream delivers the scripted reply word by word.
func (m *Mock) Stream(ctx context.Context, req *llm.Request, onChunk func(string) error) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := m.next(req)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, chunk := range strings.SplitAfter(text, " ") {
		if chunk == "" {
			continue
		}
		b.WriteString(chunk)
		if err := onChunk(chunk); err != nil {
			return b.String(), err
		}
	}
	return text, nil
}

// Calls returns the requests received so far.
func (m *Mock) Calls() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.calls...)
}

// CallCount returns the number of calls received so far.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Remaining returns the number of unused replies.
func (m *Mock) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.replies)
}
