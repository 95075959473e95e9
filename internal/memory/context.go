package memory

import (
	"fmt"
	"strings"
)

// FormatContext renders hits as a markdown block for the system prompt.
// No hits renders nothing.
func FormatContext(hits []Result) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("### Related Memory\n\n")
	for _, h := range hits {
		content := strings.Join(strings.Fields(h.Content), " ")
		if h.Date != "" {
			fmt.Fprintf(&b, "- (%s, score %.2f) %s\n", h.Date, h.Score, content)
		} else {
			fmt.Fprintf(&b, "- (score %.2f) %s\n", h.Score, content)
		}
	}
	return b.String()
}
