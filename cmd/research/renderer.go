package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"deepresearch/internal/events"
)

var (
	cyan   = color.New(color.FgCyan)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	bold   = color.New(color.Bold)
	dim    = color.New(color.Faint)
)

// renderer prints a human-readable rendering of the engine's event stream.
type renderer struct {
	w io.Writer
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w}
}

func (r *renderer) render(e events.EventRecord) {
	switch e.Type {
	case events.TypeStart:
		fmt.Fprintln(r.w)
		cyan.Fprintf(r.w, "researching: %s\n", e.Query)
		if e.Options != nil && e.Options.IsDeep {
			dim.Fprintf(r.w, "  deep, depth=%d breadth=%d\n", e.Options.Depth, e.Options.Breadth)
		}

	case events.TypeProgress:
		if e.Details != nil && e.Details.Queries.CurrentQuery != "" {
			yellow.Fprintf(r.w, "  -> %s\n", e.Details.Queries.CurrentQuery)
		} else {
			dim.Fprintf(r.w, "  [%s] %.0f%%\n", e.Status, e.Progress)
		}

	case events.TypeSearchResults:
		dim.Fprintln(r.w, indent(e.Content))

	case events.TypeSources:
		dim.Fprintf(r.w, "  + %d source(s)\n", len(e.Sources))

	case events.TypeLearning:
		green.Fprintf(r.w, "  * %s\n", e.Content)

	case events.TypeError:
		red.Fprintf(r.w, "  ! %s: %s\n", e.Kind, e.Content)

	case events.TypeContent:
		fmt.Fprintln(r.w)
		bold.Fprintln(r.w, "report:")
		fmt.Fprintln(r.w, "----------------------------------------------------------------")
		fmt.Fprintln(r.w, e.Content)

	case events.TypeComplete:
		fmt.Fprintln(r.w)
		green.Fprintln(r.w, "----------------------------------------------------------------")
		if e.Metrics != nil {
			dim.Fprintf(r.w, "done in %.1fs\n", e.Metrics.TotalTimeSeconds)
		} else {
			green.Fprintln(r.w, "done")
		}
	}
}

func indent(s string) string {
	return "  " + s
}
