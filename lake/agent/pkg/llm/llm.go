// Package llm wraps the text-completion providers behind a single interface.
//
// A provider is resolved once per request from the model name. Every provider
// failure surfaces as a *ProviderError naming the provider, so callers can end
// a turn with one error event regardless of which SDK failed.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MaxHistory is the number of trailing conversation messages sent with a call.
const MaxHistory = 10

var (
	ErrUnsupportedModel = errors.New("unsupported model")
	ErrMissingAPIKey    = errors.New("api key is required")
)

type Kind string

const (
	KindGemini    Kind = "gemini"
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
	KindDeepSeek  Kind = "deepseek"
)

// Name is the provider's display name used in error messages.
func (k Kind) Name() string {
	switch k {
	case KindGemini:
		return "Gemini"
	case KindOpenAI:
		return "OpenAI"
	case KindAnthropic:
		return "Anthropic"
	case KindDeepSeek:
		return "DeepSeek"
	default:
		return string(k)
	}
}

// KindForModel resolves the provider from a model name prefix.
func KindForModel(model string) (Kind, error) {
	switch {
	case strings.HasPrefix(model, "gemini"):
		return KindGemini, nil
	case strings.HasPrefix(model, "gpt"):
		return KindOpenAI, nil
	case strings.HasPrefix(model, "claude"):
		return KindAnthropic, nil
	case strings.HasPrefix(model, "deepseek"):
		return KindDeepSeek, nil
	default:
		return "", &UnsupportedModelError{Model: model}
	}
}

type UnsupportedModelError struct {
	Model string
}

func (e *UnsupportedModelError) Error() string { return "Unsupported model: " + e.Model }

func (e *UnsupportedModelError) Unwrap() error { return ErrUnsupportedModel }

// ProviderError is the single error shape for a failed provider call.
type ProviderError struct {
	Kind Kind
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error: %v", e.Kind.Name(), e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Image is an attachment passed to vision-capable providers.
type Image struct {
	Filename string
	MimeType string
	Data     []byte
}

// Request is one completion call. Prompt is sent as the final user message
// after the trailing MaxHistory entries of History.
type Request struct {
	Prompt  string
	History []Message
	Images  []Image
}

// Provider is a text-completion backend bound to one model and credential.
type Provider interface {
	Kind() Kind
	Model() string
	Complete(ctx context.Context, req *Request) (string, error)
	// Stream calls onChunk for each text fragment in order and returns the
	// concatenated text. An error from onChunk aborts the stream.
	Stream(ctx context.Context, req *Request, onChunk func(string) error) (string, error)
}

func recentHistory(history []Message) []Message {
	if len(history) > MaxHistory {
		return history[len(history)-MaxHistory:]
	}
	return history
}

// chunkError marks an error returned by the caller's onChunk callback, so it
// is passed through instead of being attributed to the provider.
type chunkError struct{ err error }

func (e *chunkError) Error() string { return e.err.Error() }

func (e *chunkError) Unwrap() error { return e.err }

func emit(onChunk func(string) error, b *strings.Builder, text string) error {
	if text == "" {
		return nil
	}
	b.WriteString(text)
	if err := onChunk(text); err != nil {
		return &chunkError{err: err}
	}
	return nil
}

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var ce *chunkError
	if errors.As(err, &ce) {
		return ce.err
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Kind: kind, Err: err}
}
