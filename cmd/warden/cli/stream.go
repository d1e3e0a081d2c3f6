package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/wardenhq/warden/internal/agent"
)

var (
	toolStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// streamPrinter renders StreamUpdates to a terminal as they arrive.
// Assistant text streams raw; tool calls get a styled prefix line so
// they stand apart from the agent's output.
type streamPrinter struct {
	out     io.Writer
	plain   bool
	inText  bool
	sawText bool
}

func newStreamPrinter(out io.Writer, plain bool) *streamPrinter {
	return &streamPrinter{out: out, plain: plain}
}

func (p *streamPrinter) update(u agent.StreamUpdate) {
	if u.Content != "" {
		fmt.Fprint(p.out, u.Content)
		p.inText = true
		p.sawText = true
	}
	for _, tc := range u.ToolCalls {
		p.breakText()
		line := fmt.Sprintf("[tool] %s%s", tc.Name, toolArgHint(tc))
		if p.plain {
			fmt.Fprintln(p.out, line)
		} else {
			fmt.Fprintln(p.out, toolStyle.Render(line))
		}
	}
}

// breakText closes an in-progress text run so styled lines start on
// their own line.
func (p *streamPrinter) breakText() {
	if p.inText {
		fmt.Fprintln(p.out)
		p.inText = false
	}
}

func (p *streamPrinter) done() {
	p.breakText()
}

func (p *streamPrinter) errorf(format string, args ...any) {
	p.breakText()
	msg := fmt.Sprintf(format, args...)
	if p.plain {
		fmt.Fprintln(p.out, msg)
	} else {
		fmt.Fprintln(p.out, errorStyle.Render(msg))
	}
}

// toolArgHint compacts the most telling input field into a short suffix.
func toolArgHint(tc agent.ToolCall) string {
	for _, key := range []string{"command", "file_path", "path", "pattern"} {
		if v, ok := tc.Input[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				if len(s) > 80 {
					s = s[:77] + "..."
				}
				return ": " + strings.ReplaceAll(s, "\n", " ")
			}
		}
	}
	return ""
}
