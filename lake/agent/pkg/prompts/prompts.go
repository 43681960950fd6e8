// Package prompts holds the prompt templates sent to the language model.
// Templates use {{NAME}} placeholders filled by Render.
package prompts

import (
	"fmt"
	"strings"
)

// Prompts contains every template loaded from the embedded files.
type Prompts struct {
	AskSchema           string // Ask mode header for the schema context
	AgentSchema         string // Agent mode header for the schema context
	SchemaRules         string // Rules appended after the table listing
	Fallback            string // Wrapper used when no tables are in scope
	General             string // @general conversation
	AskContinue         string // Ask loop completion decision
	AskConcludeSingle   string
	AskConcludeMulti    string
	AgentContinue       string // Agent loop completion decision
	AgentConcludeSingle string
	AgentConcludeMulti  string
	AgentSummary        string // Summary after a resumed turn completes
	ChartDecide         string
	Enhance             string
	Autocomplete        string
	NoDataset           string
	AgentNoDataset      string
	NotADataQuestion    string
}

// LoadPrompts loads all prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	restrictions, err := loadPrompt("AGENT_RESTRICTIONS.md")
	if err != nil {
		return nil, fmt.Errorf("failed to load AGENT_RESTRICTIONS: %w", err)
	}
	suggestions, err := loadPrompt("SUGGESTIONS.md")
	if err != nil {
		return nil, fmt.Errorf("failed to load SUGGESTIONS: %w", err)
	}

	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"ASK_SCHEMA", &p.AskSchema},
		{"AGENT_SCHEMA", &p.AgentSchema},
		{"SCHEMA_RULES", &p.SchemaRules},
		{"FALLBACK", &p.Fallback},
		{"GENERAL", &p.General},
		{"ASK_CONTINUE", &p.AskContinue},
		{"ASK_CONCLUDE_SINGLE", &p.AskConcludeSingle},
		{"ASK_CONCLUDE_MULTI", &p.AskConcludeMulti},
		{"AGENT_CONTINUE", &p.AgentContinue},
		{"AGENT_CONCLUDE_SINGLE", &p.AgentConcludeSingle},
		{"AGENT_CONCLUDE_MULTI", &p.AgentConcludeMulti},
		{"AGENT_SUMMARY", &p.AgentSummary},
		{"CHART_DECIDE", &p.ChartDecide},
		{"ENHANCE", &p.Enhance},
		{"AUTOCOMPLETE", &p.Autocomplete},
		{"NO_DATASET", &p.NoDataset},
		{"AGENT_NO_DATASET", &p.AgentNoDataset},
		{"NOT_A_DATA_QUESTION", &p.NotADataQuestion},
	} {
		if *f.dst, err = loadPrompt(f.name + ".md"); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f.name, err)
		}
	}

	// Shared blocks are composed in once so callers only fill per-call values.
	shared := map[string]string{"RESTRICTIONS": restrictions, "SUGGESTIONS": suggestions}
	p.AgentSchema = Render(p.AgentSchema, shared)
	p.AgentContinue = Render(p.AgentContinue, shared)
	p.AskConcludeSingle = Render(p.AskConcludeSingle, shared)
	p.AskConcludeMulti = Render(p.AskConcludeMulti, shared)

	return p, nil
}

// MustLoad is LoadPrompts for package-level initialization and tests.
func MustLoad() *Prompts {
	p, err := LoadPrompts()
	if err != nil {
		panic(err)
	}
	return p
}

// Render replaces each {{KEY}} in tmpl with vars[KEY]. Unknown placeholders
// are left as they are.
func Render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Wrap prefixes a request with the fallback assistant persona. Calls that
// carry no table context go through it.
func (p *Prompts) Wrap(query string) string {
	return p.Fallback + "\n\nUser Question: " + query
}

func loadPrompt(path string) (string, error) {
	data, err := FS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
