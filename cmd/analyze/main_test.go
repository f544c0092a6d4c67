package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"resume-check/internal/extract"
)

func TestResolveMime(t *testing.T) {
	cases := []struct {
		name     string
		explicit string
		fileName string
		data     []byte
		want     string
	}{
		{name: "explicit wins", explicit: "application/pdf", fileName: "resume.txt", want: "application/pdf"},
		{name: "pdf extension", fileName: "resume.pdf", want: extract.MimePDF},
		{name: "docx extension", fileName: "resume.docx", want: extract.MimeDOCX},
		{name: "txt extension", fileName: "resume.txt", want: extract.MimeText},
		{name: "sniffs pdf magic", fileName: "resume", data: []byte("%PDF-1.4 content"), want: "application/pdf"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolveMime(tc.explicit, tc.fileName, tc.data); got != tc.want {
				t.Fatalf("resolveMime = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRunScoresTextFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.txt")
	content := "Jane Doe\njane@example.com\n\nExperience\nBuilt services in Go and Python.\n\nEducation\nBS Computer Science.\n\nSkills\nSQL, teamwork."
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if err := run(path, "", false); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := run(path, "", true); err != nil {
		t.Fatalf("run with json output: %v", err)
	}
}

func TestRunEmptyContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.txt")
	if err := os.WriteFile(path, []byte("   \n\t  "), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	err := run(path, "", false)
	if !errors.Is(err, extract.ErrEmptyContent) {
		t.Fatalf("expected empty content error, got %v", err)
	}
}

func TestRunMissingFile(t *testing.T) {
	if err := run(filepath.Join(t.TempDir(), "absent.txt"), "", false); err == nil {
		t.Fatal("expected error for missing file")
	}
}
