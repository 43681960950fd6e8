package workflow

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/malbeclabs/askql/lake/agent/pkg/sqlextract"
)

const confirmWarning = "**⚠️ This operation will modify your data. Please confirm:**"

var (
	confirmTag  = regexp.MustCompile(`\n\n<confirmation[^>]+/>`)
	warningLine = regexp.MustCompile(`\*\*⚠️ This operation will modify your data\. Please confirm:\*\*\n*`)
)

// confirmationBlock renders the display markup for a pending write. The tag
// is presentation only; the pending operation itself lives in the turn state.
func confirmationBlock(op sqlextract.Operation, sql, message, model string, withSQL bool) string {
	var b strings.Builder
	if withSQL {
		b.WriteString("**SQL to Execute:**\n")
		b.WriteString(sqlextract.Render(sql))
		b.WriteString("\n\n")
	}
	b.WriteString(confirmWarning)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, `<confirmation operation="%s" sql="%s" message="%s" model="%s" />`,
		op, encode(sql), encode(message), strings.ReplaceAll(model, `"`, ""))
	return b.String()
}

// stripConfirmation removes the confirmation tag and warning line from an
// assistant message.
func stripConfirmation(content string) string {
	content = confirmTag.ReplaceAllString(content, "")
	content = warningLine.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// hasSQLBlock reports whether a model reply already shows its statement.
func hasSQLBlock(reply string) bool {
	return containsAny(reply, "**SQL to Execute:**", "```sql")
}
