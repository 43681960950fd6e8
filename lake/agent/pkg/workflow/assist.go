package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/malbeclabs/askql/lake/agent/pkg/llm"
	"github.com/malbeclabs/askql/lake/agent/pkg/prompts"
)

// ErrEmptyPrompt is returned by the prompt helpers for blank input.
var ErrEmptyPrompt = errors.New("prompt is required")

// Enhance rewrites a draft utterance into clear, formal language, keeping
// its @ mentions. Mentioned tables contribute their column listing.
func (e *engine) Enhance(ctx context.Context, p llm.Provider, prompt string) (string, error) {
	return e.assist(ctx, p, e.prompts.Enhance, prompt)
}

// Autocomplete completes a partial utterance in natural language.
func (e *engine) Autocomplete(ctx context.Context, p llm.Provider, prompt string) (string, error) {
	return e.assist(ctx, p, e.prompts.Autocomplete, prompt)
}

func (e *engine) assist(ctx context.Context, p llm.Provider, tmpl, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	var catalog string
	if strings.Contains(prompt, "@") {
		available, err := e.cfg.Datasets.ListTables(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list tables: %w", err)
		}
		schemas, err := e.fetchSchemas(ctx, dataTables(Mentions(prompt, available)))
		if err != nil {
			return "", err
		}
		catalog = catalogContext(schemas)
	}

	out, err := p.Complete(ctx, &llm.Request{
		Prompt: prompts.Render(tmpl, map[string]string{"PROMPT": prompt, "CONTEXT": catalog}),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
