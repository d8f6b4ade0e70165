package dashboard

import (
	"fmt"
	"io"
	"strings"

	"github.com/kalambet/appraise/internal/projector"
)

// Paint decorates text with a named color ("blue", "orange", ..., "bold").
type Paint func(color, text string) string

// Plain is a Paint that leaves text unchanged.
func Plain(_, text string) string { return text }

var statusIcons = map[projector.Status]string{
	projector.StatusPending:  "○",
	projector.StatusRunning:  "◐",
	projector.StatusComplete: "●",
	projector.StatusError:    "✗",
}

// Render writes v as a text dashboard.
func Render(w io.Writer, v View, paint Paint) {
	if paint == nil {
		paint = Plain
	}

	fmt.Fprintln(w, paint("bold", "Reports"))
	if len(v.Reports) == 0 {
		fmt.Fprintln(w, "  (no reports yet)")
	}
	for i, r := range v.Reports {
		mark := " "
		if r.ID == v.Selected {
			mark = "*"
		}
		fmt.Fprintf(w, " %s[%d] %-32s %s\n", mark, i+1, r.Name, r.Status)
	}
	if v.FeedErr != nil {
		fmt.Fprintln(w, paint("red", "  live updates failed: "+v.FeedErr.Error()))
	}
	fmt.Fprintln(w)

	if v.Selected == "" {
		fmt.Fprintln(w, "Upload an appraisal to start an analysis.")
		return
	}

	name := v.Selected
	if r, ok := v.SelectedReport(); ok {
		name = r.Name
	}
	p := v.Stages.Projection
	fmt.Fprintf(w, "%s  %s\n", paint("bold", name), paint("bold", fmt.Sprintf("%d%%", p.Percent())))
	fmt.Fprintf(w, "  %s\n", progressBar(p.Progress, 28))
	if v.Stages.Err != nil {
		fmt.Fprintln(w, paint("red", "  live updates failed: "+v.Stages.Err.Error()))
	}

	for _, s := range p.Stages {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s %s  [%s]\n", paint(s.Color, statusIcons[s.Status]), paint("bold", s.Title), s.Status)
		fmt.Fprintf(w, "    %s\n", s.Persona)
		for _, line := range s.Output {
			fmt.Fprintf(w, "      %s\n", line)
		}
	}
}

func progressBar(progress float64, width int) string {
	filled := int(progress / 100 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
