package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/malbeclabs/askql/lake/agent/pkg/llm"
	"github.com/malbeclabs/askql/lake/agent/pkg/prompts"
	"github.com/malbeclabs/askql/lake/pkg/dataset"
	"github.com/malbeclabs/askql/lake/pkg/sessions"
)

const (
	sampleRows   = 2
	sampleMaxLen = 20
)

// schemaContext renders the data-analysis preamble: the mode header, one
// block per table, the rules and the conversation's SQL and chart history.
// Without schemas it falls back to the plain assistant persona.
func (e *engine) schemaContext(ctx context.Context, conversationID int64, schemas []*dataset.TableSchema, agent bool) string {
	if len(schemas) == 0 {
		return e.prompts.Fallback
	}

	var b strings.Builder
	if agent {
		b.WriteString(e.prompts.AgentSchema)
	} else {
		b.WriteString(e.prompts.AskSchema)
	}
	b.WriteString("\n\n")
	for _, s := range schemas {
		b.WriteString(tableBlock(s))
		b.WriteString("\n")
	}
	b.WriteString(e.prompts.SchemaRules)
	b.WriteString("\n")

	hist, err := e.cfg.History.Build(ctx, conversationID)
	if err != nil {
		e.log.Warn("workflow: failed to build history context", "conversation_id", conversationID, "error", err)
	}
	b.WriteString(hist.String())
	return b.String()
}

func tableBlock(s *dataset.TableSchema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s\nColumns:\n", s.TableName)
	for _, c := range s.Columns {
		fmt.Fprintf(&b, "  - %s (%s)", c.Name, c.Type)
		if c.PrimaryKey {
			b.WriteString(" [PRIMARY KEY]")
		}
		b.WriteString("\n")
	}
	if len(s.SampleRows) > 0 {
		rows := s.SampleRows
		if len(rows) > sampleRows {
			rows = rows[:sampleRows]
		}
		b.WriteString("\nSample Data (check date/number formats):\n")
		b.WriteString(prompts.JSON(prompts.Compact(rows, sampleMaxLen)))
		b.WriteString("\n")
	}
	return b.String()
}

// question appends the user's question to a preamble.
func question(preamble, attachmentNote, query string) string {
	return preamble + attachmentNote + "\n\nUser Question: " + query
}

// catalogContext is the short schema listing used by prompt enhancement and
// autocomplete.
func catalogContext(schemas []*dataset.TableSchema) string {
	if len(schemas) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nAvailable dataset schemas:\n")
	for _, s := range schemas {
		cols := make([]string, len(s.Columns))
		for i, c := range s.Columns {
			cols[i] = fmt.Sprintf("%s (%s)", c.Name, c.Type)
		}
		fmt.Fprintf(&b, "\nTable: %s\nColumns: %s\n", s.TableName, strings.Join(cols, ", "))
	}
	return b.String()
}

// loadImages reads image attachments from the upload directory. Unreadable
// files are skipped.
func (e *engine) loadImages(attachments []sessions.Attachment) []llm.Image {
	var out []llm.Image
	for _, a := range attachments {
		if !strings.HasPrefix(a.FileType, "image/") {
			continue
		}
		rel := filepath.Clean("/" + strings.TrimPrefix(a.URL, "/"))
		data, err := os.ReadFile(filepath.Join(e.cfg.UploadDir, rel))
		if err != nil {
			e.log.Warn("workflow: failed to load image attachment", "filename", a.Filename, "error", err)
			continue
		}
		out = append(out, llm.Image{Filename: a.Filename, MimeType: a.FileType, Data: data})
	}
	return out
}

func attachmentNote(images []llm.Image) string {
	if len(images) == 0 {
		return ""
	}
	return fmt.Sprintf("\n\nThe user has attached %d image(s). Please analyze them and answer the user's question.", len(images))
}
