// Command analyze scores a resume file locally, without the server or any
// backing services.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"resume-check/internal/extract"
	"resume-check/internal/scoring"
	"resume-check/internal/scoring/recommend"
)

const (
	exitExtractionFailed = 1
	exitEmptyContent     = 2
)

func main() {
	var (
		filePath string
		mimeType string
		asJSON   bool
	)
	pflag.StringVarP(&filePath, "file", "f", "", "Path to the resume file (required)")
	pflag.StringVarP(&mimeType, "mime", "m", "", "MIME type; sniffed from extension and content when empty")
	pflag.BoolVar(&asJSON, "json", false, "Emit the report and recommendations as JSON")
	pflag.Parse()

	if strings.TrimSpace(filePath) == "" {
		fmt.Fprintln(os.Stderr, "analyze: --file is required")
		pflag.Usage()
		os.Exit(exitExtractionFailed)
	}

	if err := run(filePath, mimeType, asJSON); err != nil {
		fmt.Fprintf(os.Stderr, "analyze: %v\n", err)
		if errors.Is(err, extract.ErrEmptyContent) {
			os.Exit(exitEmptyContent)
		}
		os.Exit(exitExtractionFailed)
	}
}

func run(filePath, mimeType string, asJSON bool) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	analyzer, err := scoring.NewAnalyzer(scoring.DefaultRuleset())
	if err != nil {
		return fmt.Errorf("build analyzer: %w", err)
	}

	fileName := filepath.Base(filePath)
	text, err := extract.ExtractTextFromBytes(context.Background(), data, resolveMime(mimeType, fileName, data), fileName)
	if err != nil {
		return err
	}

	report := analyzer.Analyze(text)
	recommendations := recommend.Build(report)

	if asJSON {
		return writeJSON(report, recommendations)
	}
	writeSummary(report, recommendations)
	return nil
}

// resolveMime prefers the explicit flag, then the file extension, then
// content sniffing. Sniffing reports DOCX as application/zip, which the
// extractor resolves by inspecting the container.
func resolveMime(explicit, fileName string, data []byte) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return extract.MimePDF
	case ".docx":
		return extract.MimeDOCX
	case ".txt":
		return extract.MimeText
	}
	return http.DetectContentType(data)
}

func writeJSON(report scoring.Report, recommendations []string) error {
	out := struct {
		Report          scoring.Report `json:"report"`
		Recommendations []string       `json:"recommendations"`
	}{Report: report, Recommendations: recommendations}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeSummary(report scoring.Report, recommendations []string) {
	fmt.Printf("Overall score: %.1f / 100\n", report.OverallScore)
	fmt.Printf("Word count:    %d\n", report.WordCount)
	fmt.Println()

	fmt.Printf("Sections found:   %s\n", joinOrDash(report.SectionsFound))
	fmt.Printf("Sections missing: %s\n", joinOrDash(report.MissingSections))
	fmt.Println()

	if len(report.Keywords) > 0 {
		fmt.Println("Keyword coverage:")
		for _, cat := range report.Keywords {
			fmt.Printf("  %-12s %5.1f%%", cat.Name, cat.CoveragePct)
			if len(cat.Found) > 0 {
				fmt.Printf("  found: %s", strings.Join(cat.Found, ", "))
			}
			if len(cat.Missing) > 0 {
				fmt.Printf("  missing: %s", strings.Join(cat.Missing, ", "))
			}
			fmt.Println()
		}
		fmt.Println()
	}

	contact := []string{}
	if report.Contact.Email != "" {
		contact = append(contact, "email "+report.Contact.Email)
	}
	if report.Contact.Phone != "" {
		contact = append(contact, "phone "+report.Contact.Phone)
	}
	fmt.Printf("Contact: %s\n", joinOrDash(contact))

	if len(recommendations) > 0 {
		fmt.Println()
		fmt.Println("Recommendations:")
		for i, rec := range recommendations {
			fmt.Printf("  %d. %s\n", i+1, rec)
		}
	}
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
