package scoring

// SectionRule pairs a section tag with the pattern that detects it. The
// pattern is matched case-insensitively against the whole text; it is a
// presence test, not a count.
type SectionRule struct {
	Tag     string
	Pattern string
}

// KeywordCategory is a named list of literal keywords. Keywords are
// matched as substrings of the lowercased text.
type KeywordCategory struct {
	Name     string
	Keywords []string
}

// Ruleset holds the tables the analyzer scores against. Order matters:
// sections, important sections, categories, and keywords are reported in
// table order.
type Ruleset struct {
	Sections          []SectionRule
	ImportantSections []string
	Categories        []KeywordCategory
	EmailPattern      string
	PhonePattern      string
}

// DefaultRuleset returns the production rule tables. The section scoring
// denominator is the full section table (5 tags), while missing-section
// reporting covers only the important four; "projects" contributes to the
// score but is never reported missing.
func DefaultRuleset() Ruleset {
	return Ruleset{
		Sections: []SectionRule{
			{Tag: "contact_info", Pattern: `(contact|phone|email|address)`},
			{Tag: "experience", Pattern: `(experience|work history|employment)`},
			{Tag: "education", Pattern: `(education|academic)`},
			{Tag: "skills", Pattern: `(skills|technical skills)`},
			{Tag: "projects", Pattern: `(projects|portfolio)`},
		},
		ImportantSections: []string{"contact_info", "experience", "education", "skills"},
		Categories: []KeywordCategory{
			{Name: "technical_skills", Keywords: []string{
				"python", "java", "javascript", "sql", "html", "css", "react", "git", "aws",
			}},
			{Name: "soft_skills", Keywords: []string{
				"communication", "leadership", "teamwork", "problem solving", "time management",
			}},
			{Name: "action_verbs", Keywords: []string{
				"developed", "managed", "implemented", "created", "led", "analyzed",
			}},
		},
		EmailPattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`,
		PhonePattern: `(\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`,
	}
}
