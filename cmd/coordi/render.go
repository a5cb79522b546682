package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/ashureev/coordi/internal/domain"
	"github.com/ashureev/coordi/internal/view"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true)
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Italic(true)
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	boxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#7C3AED")).Padding(0, 1)
)

// renderer prints a view incrementally: turns already on screen are not
// repeated.
type renderer struct {
	out     io.Writer
	printed int
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

func (r *renderer) render(v view.View) {
	for _, t := range v.Turns[min(r.printed, len(v.Turns)):] {
		r.turn(t)
	}
	r.printed = len(v.Turns)

	if v.Thinking != "" {
		fmt.Fprintln(r.out, dimStyle.Render(v.Thinking))
	}
	if v.Suggestion != nil {
		fmt.Fprintln(r.out, boxStyle.Render(titleStyle.Render(v.Suggestion.Title)+"\n"+lines(v.Suggestion.Lines)))
	}
	if v.Result != nil {
		r.result(v.Result)
	}
	if v.Banner != "" {
		fmt.Fprintln(r.out, noticeStyle.Render(v.Banner))
	}
}

func (r *renderer) turn(t view.Turn) {
	style := assistantStyle
	if t.Role == domain.RoleUser {
		style = userStyle
	}
	fmt.Fprintf(r.out, "%s %s\n", style.Render(t.Speaker+":"), t.Content)
}

func (r *renderer) result(res *view.Result) {
	var b strings.Builder
	b.WriteString(titleStyle.Render(res.Title))
	b.WriteString("\n")
	b.WriteString(lines(res.Lines))
	if res.Searching != "" {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(res.Searching))
	}
	for _, img := range res.Images {
		fmt.Fprintf(&b, "\n%s %s", dimStyle.Render(img.Alt+":"), img.URL)
	}
	fmt.Fprintln(r.out, boxStyle.Render(b.String()))
}

func lines(ls []view.Line) string {
	rows := make([]string, 0, len(ls))
	for _, l := range ls {
		rows = append(rows, fmt.Sprintf("%s: %s", l.Label, l.Item))
	}
	return strings.Join(rows, "\n")
}

// controlsHint lists what the user may type next.
func controlsHint(c view.Controls) string {
	var hints []string
	if c.CanConfirm {
		hints = append(hints, "/confirm "+c.ConfirmLabel)
	}
	if c.CanAnother {
		hints = append(hints, "/another "+c.AnotherLabel)
	}
	hints = append(hints, "/quit")
	return dimStyle.Render(strings.Join(hints, "  "))
}
