package assembly

import (
	"fmt"
	"html"
	"strings"

	"github.com/vellum-cms/vellum/internal/errors"
	"github.com/vellum-cms/vellum/internal/types"
)

// renderProblemTable builds the HTML error report substituted for an
// item's body when non-fatal problems were recorded during a
// non-preview assembly.
func renderProblemTable(item *types.AssemblyItem, problems []errors.Problem) []byte {
	var b strings.Builder
	b.WriteString("<html><head><title>Assembly problems</title></head><body>")
	fmt.Fprintf(&b, "<h1>Assembly of item %s reported %d problem(s)</h1>",
		html.EscapeString(item.ID), len(problems))

	b.WriteString("<table border=\"1\"><tr><th>#</th><th>Problem</th><th>Cause</th><th>Recorded</th></tr>")
	for i, p := range problems {
		cause := ""
		if p.Cause != nil {
			cause = p.Cause.Error()
		}
		fmt.Fprintf(&b, "<tr><td>%d</td><td>%s</td><td>%s</td><td>%s</td></tr>",
			i+1,
			html.EscapeString(p.Description),
			html.EscapeString(cause),
			p.Timestamp.Format("2006-01-02 15:04:05"))
	}
	b.WriteString("</table></body></html>")
	return []byte(b.String())
}
