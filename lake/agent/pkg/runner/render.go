package runner

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/askql/lake/agent/pkg/chart"
	"github.com/malbeclabs/askql/lake/agent/pkg/prompts"
	"github.com/malbeclabs/askql/lake/agent/pkg/sqlextract"
)

// RenderForStorage renders a read step for the assistant message transcript.
func RenderForStorage(sql string, res *QueryResult) string {
	var b strings.Builder
	b.WriteString("**Executed SQL Query:**\n")
	b.WriteString(sqlextract.Render(sql))

	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "Unknown error"
		}
		fmt.Fprintf(&b, "\n\n**❌ Error:** %s", msg)
		return b.String()
	}

	plural := "s"
	if res.RowCount == 1 {
		plural = ""
	}
	fmt.Fprintf(&b, "\n\n**📋 Query Result:** (%d row%s returned)\n\n", res.RowCount, plural)
	if res.RowCount > 0 && len(res.Data) > 0 {
		b.WriteString("```table\n" + prompts.JSON(res.Data) + "\n```")
	} else {
		b.WriteString("*No rows returned.*")
	}
	if res.Chart != nil {
		b.WriteString("\n\n**📊 Visualization:**\n")
		b.WriteString(chart.Block(res.Chart))
	}
	return b.String()
}

// RenderWriteResult renders the outcome line appended after a confirmed write.
func RenderWriteResult(op sqlextract.Operation, res *QueryResult) string {
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return "**❌ Error:** Operation failed: " + msg
	}
	return fmt.Sprintf("**✅ Result:** Successfully %s %d record(s).", op.PastTense(), res.RowCount)
}
