package scoring

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

const (
	sectionWeight = 30.0
	keywordWeight = 0.4
	contactBonus  = 10.0
)

type compiledSection struct {
	tag string
	re  *regexp.Regexp
}

// Analyzer scores document text against a fixed ruleset. It is safe for
// concurrent use; Analyze never mutates analyzer state.
type Analyzer struct {
	rules    Ruleset
	sections []compiledSection
	email    *regexp.Regexp
	phone    *regexp.Regexp
}

// NewAnalyzer compiles the ruleset's patterns. An invalid pattern is a
// construction error, not an analysis error.
func NewAnalyzer(rules Ruleset) (*Analyzer, error) {
	a := &Analyzer{rules: rules, sections: make([]compiledSection, 0, len(rules.Sections))}
	for _, rule := range rules.Sections {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile section pattern %q: %w", rule.Tag, err)
		}
		a.sections = append(a.sections, compiledSection{tag: rule.Tag, re: re})
	}
	if rules.EmailPattern != "" {
		re, err := regexp.Compile(rules.EmailPattern)
		if err != nil {
			return nil, fmt.Errorf("compile email pattern: %w", err)
		}
		a.email = re
	}
	if rules.PhonePattern != "" {
		re, err := regexp.Compile(rules.PhonePattern)
		if err != nil {
			return nil, fmt.Errorf("compile phone pattern: %w", err)
		}
		a.phone = re
	}
	return a, nil
}

// Analyze derives a Report from the text. Pure: no I/O, no state.
func (a *Analyzer) Analyze(text string) Report {
	textLower := strings.ToLower(text)

	report := Report{
		WordCount:     len(strings.Fields(text)),
		SectionsFound: a.detectSections(textLower),
	}
	report.MissingSections = a.missingSections(report.SectionsFound)
	report.Keywords = a.scoreKeywords(textLower)
	report.Contact = a.extractContact(text)
	report.OverallScore = a.overallScore(report)
	return report
}

// detectSections returns tags whose pattern matches, in table order.
func (a *Analyzer) detectSections(textLower string) []string {
	found := make([]string, 0, len(a.sections))
	for _, s := range a.sections {
		if s.re.MatchString(textLower) {
			found = append(found, s.tag)
		}
	}
	return found
}

func (a *Analyzer) missingSections(found []string) []string {
	missing := make([]string, 0, len(a.rules.ImportantSections))
	for _, tag := range a.rules.ImportantSections {
		if !contains(found, tag) {
			missing = append(missing, tag)
		}
	}
	return missing
}

func (a *Analyzer) scoreKeywords(textLower string) []CategoryScore {
	scores := make([]CategoryScore, 0, len(a.rules.Categories))
	for _, cat := range a.rules.Categories {
		found := make([]string, 0, len(cat.Keywords))
		missing := make([]string, 0, len(cat.Keywords))
		for _, kw := range cat.Keywords {
			if strings.Contains(textLower, strings.ToLower(kw)) {
				found = append(found, kw)
			} else {
				missing = append(missing, kw)
			}
		}
		coverage := 0.0
		if len(cat.Keywords) > 0 {
			coverage = float64(len(found)) / float64(len(cat.Keywords)) * 100
		}
		scores = append(scores, CategoryScore{
			Name:        cat.Name,
			CoveragePct: round2(coverage),
			Found:       found,
			Missing:     missing,
		})
	}
	return scores
}

// extractContact keeps only the first match of each pattern; matching runs
// on the original text so addresses keep their casing.
func (a *Analyzer) extractContact(text string) Contact {
	var contact Contact
	if a.email != nil {
		contact.Email = a.email.FindString(text)
	}
	if a.phone != nil {
		contact.Phone = a.phone.FindString(text)
	}
	return contact
}

// overallScore combines section presence, average keyword coverage, and a
// contact bonus. The section denominator is the full section table, not
// the important subset.
func (a *Analyzer) overallScore(report Report) float64 {
	score := 0.0
	if n := len(a.sections); n > 0 {
		score += float64(len(report.SectionsFound)) / float64(n) * sectionWeight
	}
	if n := len(report.Keywords); n > 0 {
		sum := 0.0
		for _, cat := range report.Keywords {
			sum += cat.CoveragePct
		}
		score += sum / float64(n) * keywordWeight
	}
	if report.Contact.Email != "" || report.Contact.Phone != "" {
		score += contactBonus
	}
	return round2(clamp(score, 0, 100))
}

func contains(items []string, val string) bool {
	for _, item := range items {
		if item == val {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
