package projector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/appraise/internal/report"
)

// StageCount is the number of pipeline stages shown for every report.
const StageCount = 7

// Stage is the fixed definition of one pipeline stage.
type Stage struct {
	ID      int    `json:"id"`
	Persona string `json:"persona"`
	Title   string `json:"title"`
	Color   string `json:"color"`
	// Field is the result field whose presence marks the stage complete.
	Field string `json:"field"`
	// Markers are the keys of the pipeline's "stages" progress map that
	// belong to this stage.
	Markers []string `json:"markers"`

	lines func(fields report.Fields) []string
}

var stages = [StageCount]Stage{
	{
		ID:      1,
		Persona: "Data Specialist",
		Title:   "1. Document Processing & Data Extraction",
		Color:   "blue",
		Field:   "property_info",
		Markers: []string{"parsing", "property_info"},
		lines:   propertyInfoLines,
	},
	{
		ID:      2,
		Persona: "Rules Engine",
		Title:   "2. Identifying Red Flags",
		Color:   "orange",
		Field:   "red_flags",
		Markers: []string{"red_flags"},
		lines:   redFlagLines,
	},
	{
		ID:      3,
		Persona: "Senior Appraisal Reviewer",
		Title:   "3. Qualitative Narrative Analysis",
		Color:   "purple",
		Field:   "qualitative_analysis_findings",
		Markers: []string{"qualitative_analysis", "qualitative_analysis_findings"},
		lines:   qualitativeLines,
	},
	{
		ID:      4,
		Persona: "Forensic Accountant",
		Title:   "4. Estimating Financial Impact",
		Color:   "green",
		Field:   "dollar_impact_summary",
		Markers: []string{"dollar_impact"},
		lines:   dollarImpactLines,
	},
	{
		ID:      5,
		Persona: "Real Estate Paralegal",
		Title:   "5. Citing Rules & Regulations",
		Color:   "red",
		Field:   "cited_red_flags",
		Markers: []string{"citations"},
		lines:   citationLines,
	},
	{
		ID:      6,
		Persona: "Lead Analyst",
		Title:   "6. Synthesizing Final Report",
		Color:   "indigo",
		Field:   "executive_summary",
		Markers: []string{"compilation"},
		lines:   summaryLines,
	},
	{
		ID:      7,
		Persona: "Dispute Drafter & Compliance Officer",
		Title:   "7. Generating Your Dispute Letter",
		Color:   "pink",
		Field:   "dispute_letter",
		Markers: []string{"dispute_letter", "compliance"},
		lines:   disputeLines,
	},
}

// Stages returns the fixed stage table in display order.
func Stages() [StageCount]Stage {
	return stages
}

func propertyInfoLines(f report.Fields) []string {
	info, ok := f["property_info"].(map[string]any)
	if !ok {
		return nil
	}
	comparables := 0
	if sd, ok := f["structured_data"].(map[string]any); ok {
		if list, ok := sd["comparables"].([]any); ok {
			comparables = len(list)
		}
	}
	return []string{
		"✅ PDF parsed successfully.",
		"✅ Extracted property info: " + text(info["PropertyAddress"]),
		fmt.Sprintf("✅ Extracted %d comparables.", comparables),
	}
}

func redFlagLines(f report.Fields) []string {
	var flags []any
	switch v := f["red_flags"].(type) {
	case []any:
		flags = v
	case map[string]any:
		// Rule map keyed by rule name.
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flags = append(flags, v[k])
		}
	}

	var out []string
	for _, item := range flags {
		flag, ok := item.(map[string]any)
		if !ok {
			continue
		}
		mark := "[✓]"
		if flag["status"] == "Flagged" {
			mark = "[!]"
		}
		out = append(out, mark+" "+text(flag["details"]))
	}
	return out
}

func qualitativeLines(f report.Fields) []string {
	return textList(f["qualitative_analysis_findings"])
}

func dollarImpactLines(f report.Fields) []string {
	m, ok := f["dollar_impact_summary"].(map[string]any)
	if !ok {
		return nil
	}
	var out []string
	if rng, ok := m["estimated_impact_range"].([]any); ok {
		parts := make([]string, 0, len(rng))
		for _, v := range rng {
			parts = append(parts, text(v))
		}
		out = append(out, "Estimated Impact Range: "+strings.Join(parts, " - "))
	}
	if _, ok := m["summary_of_impact"]; ok {
		out = append(out, "Summary: "+text(m["summary_of_impact"]))
	}
	return append(out, textList(m["key_contributing_factors"])...)
}

func citationLines(f report.Fields) []string {
	list, ok := f["cited_red_flags"].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var details string
		if flag, ok := entry["flag"].(map[string]any); ok {
			details = text(flag["details"])
		}
		out = append(out, details+" - "+citation(entry["citation"]))
	}
	return out
}

// citation renders a citation that is either plain text or an object
// {"citation", "explanation"}; objects carrying an error render as unavailable.
func citation(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case map[string]any:
		if truthy(c["error"]) {
			return "citation unavailable"
		}
		if s, ok := c["citation"].(string); ok {
			return s
		}
	}
	return "citation unavailable"
}

func summaryLines(f report.Fields) []string {
	var out []string
	if s, ok := f["executive_summary"].(string); ok {
		out = append(out, s)
	}
	return append(out, textList(f["strategic_recommendations"])...)
}

func disputeLines(f report.Fields) []string {
	review, ok := f["compliance_review"].(map[string]any)
	if !ok {
		return nil
	}
	out := []string{"Dispute Strength Score: " + text(review["dispute_strength_score"]) + "/10"}
	out = append(out, textList(review["strengths"])...)
	return append(out, textList(review["weaknesses"])...)
}
