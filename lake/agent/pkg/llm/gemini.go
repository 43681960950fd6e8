package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type geminiProvider struct {
	client *genai.Client
	model  string
}

func newGeminiProvider(ctx context.Context, apiKey, model string) (*geminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &geminiProvider{client: client, model: model}, nil
}

func (p *geminiProvider) Kind() Kind    { return KindGemini }
func (p *geminiProvider) Model() string { return p.model }

func (p *geminiProvider) contents(req *Request) []*genai.Content {
	history := recentHistory(req.History)
	out := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}

	var parts []*genai.Part
	for _, img := range req.Images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MimeType))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))
	return append(out, genai.NewContentFromParts(parts, genai.RoleUser))
}

func (p *geminiProvider) Complete(ctx context.Context, req *Request) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, p.contents(req), nil)
	if err != nil {
		return "", wrap(KindGemini, err)
	}
	return resp.Text(), nil
}

func (p *geminiProvider) Stream(ctx context.Context, req *Request, onChunk func(string) error) (string, error) {
	var b strings.Builder
	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, p.contents(req), nil) {
		if err != nil {
			return b.String(), wrap(KindGemini, err)
		}
		if err := emit(onChunk, &b, resp.Text()); err != nil {
			return b.String(), wrap(KindGemini, err)
		}
	}
	return b.String(), nil
}
