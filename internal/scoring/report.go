package scoring

// CategoryScore reports keyword coverage for one category. Found and
// Missing partition the category vocabulary in table order.
type CategoryScore struct {
	Name        string   `json:"name"`
	CoveragePct float64  `json:"coveragePct"`
	Found       []string `json:"found"`
	Missing     []string `json:"missing"`
}

// Contact holds the first email and phone match found in the text.
// Empty means no match.
type Contact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Report is the full analysis of one document text. Every field derives
// deterministically from the input; analyzing the same text twice yields
// an identical report.
type Report struct {
	WordCount       int             `json:"wordCount"`
	SectionsFound   []string        `json:"sectionsFound"`
	MissingSections []string        `json:"missingSections"`
	Keywords        []CategoryScore `json:"keywords"`
	Contact         Contact         `json:"contact"`
	OverallScore    float64         `json:"overallScore"`
}

// Category returns the score for a named category and whether it exists.
func (r Report) Category(name string) (CategoryScore, bool) {
	for _, c := range r.Keywords {
		if c.Name == name {
			return c, true
		}
	}
	return CategoryScore{}, false
}

// HasSection reports whether the given tag was detected.
func (r Report) HasSection(tag string) bool {
	for _, s := range r.SectionsFound {
		if s == tag {
			return true
		}
	}
	return false
}
