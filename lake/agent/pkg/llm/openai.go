package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const deepSeekBaseURL = "https://api.deepseek.com"

// openAIProvider serves both OpenAI and DeepSeek, which speaks the same API.
type openAIProvider struct {
	kind   Kind
	client *openai.Client
	model  string
}

func newOpenAIProvider(kind Kind, apiKey, model string) *openAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if kind == KindDeepSeek {
		cfg.BaseURL = deepSeekBaseURL
	}
	return &openAIProvider{
		kind:   kind,
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (p *openAIProvider) Kind() Kind    { return p.kind }
func (p *openAIProvider) Model() string { return p.model }

func (p *openAIProvider) messages(req *Request) []openai.ChatCompletionMessage {
	history := recentHistory(req.History)
	out := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	for _, m := range history {
		out = append(out, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	if len(req.Images) == 0 {
		return append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})
	}

	// DeepSeek has no vision support; tell the model instead of dropping the images silently.
	if p.kind == KindDeepSeek {
		notice := fmt.Sprintf("\n\n[Note: %d image(s) were attached, but DeepSeek models don't support image analysis. "+
			"Please use a vision-capable model like GPT-4o, Gemini, or Claude for image analysis.]", len(req.Images))
		return append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt + notice})
	}

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: req.Prompt}}
	for _, img := range req.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    fmt.Sprintf("data:%s;base64,%s", img.MimeType, base64.StdEncoding.EncodeToString(img.Data)),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	return append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts})
}

func (p *openAIProvider) Complete(ctx context.Context, req *Request) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: p.messages(req),
	})
	if err != nil {
		return "", wrap(p.kind, err)
	}
	if len(resp.Choices) == 0 {
		return "", wrap(p.kind, errors.New("no choices in response"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *openAIProvider) Stream(ctx context.Context, req *Request, onChunk func(string) error) (string, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: p.messages(req),
		Stream:   true,
	})
	if err != nil {
		return "", wrap(p.kind, err)
	}
	defer stream.Close()

	var b strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), wrap(p.kind, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if err := emit(onChunk, &b, resp.Choices[0].Delta.Content); err != nil {
			return b.String(), wrap(p.kind, err)
		}
	}
}
