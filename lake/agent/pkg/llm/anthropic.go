package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 4096

type anthropicProvider struct {
	client anthropic.Client
	model  string
}

func newAnthropicProvider(apiKey, model string) *anthropicProvider {
	return &anthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (p *anthropicProvider) Kind() Kind    { return KindAnthropic }
func (p *anthropicProvider) Model() string { return p.model }

func (p *anthropicProvider) params(req *Request) anthropic.MessageNewParams {
	var messages []anthropic.MessageParam
	for _, m := range recentHistory(req.History) {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	var blocks []anthropic.ContentBlockParamUnion
	for _, img := range req.Images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(img.MimeType, base64.StdEncoding.EncodeToString(img.Data)))
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.Prompt))
	messages = append(messages, anthropic.NewUserMessage(blocks...))

	return anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: anthropicMaxTokens,
		Messages:  messages,
	}
}

func (p *anthropicProvider) Complete(ctx context.Context, req *Request) (string, error) {
	msg, err := p.client.Messages.New(ctx, p.params(req))
	if err != nil {
		return "", wrap(KindAnthropic, err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", wrap(KindAnthropic, errors.New("no text content in response"))
}

func (p *anthropicProvider) Stream(ctx context.Context, req *Request, onChunk func(string) error) (string, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.params(req))
	defer stream.Close()

	var b strings.Builder
	for stream.Next() {
		event := stream.Current()
		if event.Type != "content_block_delta" {
			continue
		}
		delta := event.AsContentBlockDelta()
		if delta.Delta.Type == "text_delta" {
			if err := emit(onChunk, &b, delta.Delta.Text); err != nil {
				return b.String(), wrap(KindAnthropic, err)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return b.String(), wrap(KindAnthropic, err)
	}
	return b.String(), nil
}
