// Package projector turns a report's incrementally populated result fields
// into the seven-stage progress view.
package projector

import (
	"math"
	"strconv"

	"github.com/kalambet/appraise/internal/report"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Pipeline progress marker values found in the "stages" map.
const (
	markerRunning = "running"
	markerFailed  = "failed"
)

// StageView is the render-ready state of one stage.
type StageView struct {
	ID      int      `json:"id"`
	Persona string   `json:"persona"`
	Title   string   `json:"title"`
	Status  Status   `json:"status"`
	Output  []string `json:"output"`
	Color   string   `json:"color"`
}

// Projection is the full stage view of one report snapshot.
type Projection struct {
	Stages [StageCount]StageView `json:"stages"`
	// Progress is 100 * completed / StageCount, not rounded.
	Progress float64 `json:"progress"`
}

// Completed returns the number of stages in StatusComplete.
func (p Projection) Completed() int {
	n := 0
	for _, s := range p.Stages {
		if s.Status == StatusComplete {
			n++
		}
	}
	return n
}

// Percent returns Progress rounded to the nearest whole percent.
func (p Projection) Percent() int {
	return int(math.Round(p.Progress))
}

type Options struct {
	// StageMarkers reads the pipeline's explicit "stages" progress map:
	// a "running" marker shows an otherwise pending stage as running and a
	// "failed" marker shows the stage as error.
	StageMarkers bool
}

// Project computes the stage view for fields. It is pure: the same fields
// always yield the same projection.
func Project(fields report.Fields, opts Options) Projection {
	var markers map[string]any
	if opts.StageMarkers {
		markers, _ = fields["stages"].(map[string]any)
	}

	var p Projection
	for i, def := range stages {
		view := StageView{
			ID:      def.ID,
			Persona: def.Persona,
			Title:   def.Title,
			Color:   def.Color,
			Output:  []string{},
		}
		view.Status = stageStatus(def, fields, markers)
		if view.Status == StatusComplete {
			if lines := def.lines(fields); lines != nil {
				view.Output = lines
			}
		}
		p.Stages[i] = view
	}
	p.Progress = 100 * float64(p.Completed()) / StageCount
	return p
}

func stageStatus(def Stage, fields report.Fields, markers map[string]any) Status {
	primary, present := fields[def.Field]
	if m, ok := primary.(map[string]any); ok && truthy(m["error"]) {
		return StatusError
	}
	if markerSet(def, markers, markerFailed) {
		return StatusError
	}
	if present && primary != nil {
		return StatusComplete
	}
	if markerSet(def, markers, markerRunning) {
		return StatusRunning
	}
	return StatusPending
}

func markerSet(def Stage, markers map[string]any, value string) bool {
	for _, key := range def.Markers {
		if markers[key] == value {
			return true
		}
	}
	return false
}

// truthy follows document semantics: null, false, zero and the empty string
// are false, everything else is true.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0 && !math.IsNaN(x)
	case int:
		return x != 0
	case int64:
		return x != 0
	}
	return true
}

// text renders a scalar field value for display. Missing values render as
// "unknown".
func text(v any) string {
	switch x := v.(type) {
	case nil:
		return "unknown"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	}
	return "unknown"
}

// textList renders each scalar element of a list; other shapes yield nothing.
func textList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		switch item.(type) {
		case map[string]any, []any, nil:
			continue
		}
		out = append(out, text(item))
	}
	return out
}
