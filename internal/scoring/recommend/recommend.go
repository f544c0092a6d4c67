package recommend

import (
	"strings"

	"resume-check/internal/scoring"
)

const (
	lowCoverageThreshold = 50.0
	maxSuggestedKeywords = 3
)

// Build derives an ordered list of improvement suggestions from a report.
// Order: missing sections, low-coverage keyword categories, then missing
// contact fields. A report with nothing to improve yields an empty list.
func Build(report scoring.Report) []string {
	out := make([]string, 0, 8)
	mappers := []func(scoring.Report) []string{
		fromMissingSections,
		fromLowCoverage,
		fromMissingContact,
	}
	for _, mapper := range mappers {
		out = append(out, mapper(report)...)
	}
	return out
}

func fromMissingSections(report scoring.Report) []string {
	lines := make([]string, 0, len(report.MissingSections))
	for _, tag := range report.MissingSections {
		lines = append(lines, "Add '"+titleize(tag)+"' section")
	}
	return lines
}

func fromLowCoverage(report scoring.Report) []string {
	var lines []string
	for _, cat := range report.Keywords {
		if cat.CoveragePct >= lowCoverageThreshold {
			continue
		}
		suggestions := cat.Missing
		if len(suggestions) > maxSuggestedKeywords {
			suggestions = suggestions[:maxSuggestedKeywords]
		}
		name := strings.ReplaceAll(cat.Name, "_", " ")
		lines = append(lines, "Add more "+name+" like: "+strings.Join(suggestions, ", "))
	}
	return lines
}

func fromMissingContact(report scoring.Report) []string {
	var lines []string
	if report.Contact.Email == "" {
		lines = append(lines, "Add professional email address")
	}
	if report.Contact.Phone == "" {
		lines = append(lines, "Add phone number")
	}
	return lines
}

// titleize turns a section tag into a display title: underscores become
// spaces, each word capitalized.
func titleize(tag string) string {
	words := strings.Split(strings.ReplaceAll(tag, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
