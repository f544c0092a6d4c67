package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"resume-check/internal/shared/storage/object/local"
)

const (
	fixtureContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="xml" ContentType="application/xml"/><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`
	fixtureRels         = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`
)

// buildDocx assembles a minimal OOXML container with one run per paragraph.
// The markup is kept on a single line so no stray whitespace leaks into the
// flattened text.
func buildDocx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()

	var body strings.Builder
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>`)
		body.WriteString(p)
		body.WriteString(`</w:t></w:r></w:p>`)
	}
	documentXML := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body.String() + `</w:body></w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entries := []struct {
		name    string
		content string
	}{
		{"[Content_Types].xml", fixtureContentTypes},
		{"word/document.xml", documentXML},
		{"word/_rels/document.xml.rels", fixtureRels},
	}
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("create zip entry %s: %v", e.name, err)
		}
		if _, err := w.Write([]byte(e.content)); err != nil {
			t.Fatalf("write zip entry %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestExtractTextFromBytes_PlainTextTrimmed(t *testing.T) {
	data := []byte("  \n  Experienced engineer.\nSkills: Go.\n\n")

	text, err := ExtractTextFromBytes(context.Background(), data, "text/plain; charset=utf-8", "resume.txt")
	if err != nil {
		t.Fatalf("extract plain text: %v", err)
	}
	want := "Experienced engineer.\nSkills: Go."
	if text != want {
		t.Fatalf("text = %q, want %q", text, want)
	}
}

func TestExtractTextFromBytes_WhitespaceOnlyIsEmptyContent(t *testing.T) {
	_, err := ExtractTextFromBytes(context.Background(), []byte("  \t\n  "), "text/plain", "blank.txt")
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("err = %v, want ErrEmptyContent", err)
	}
}

func TestExtractTextFromBytes_InvalidUTF8Fails(t *testing.T) {
	_, err := ExtractTextFromBytes(context.Background(), []byte{0xff, 0xfe, 0x00}, "text/plain", "resume.txt")
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("err = %v, want ErrExtractionFailed", err)
	}
}

func TestExtractTextFromBytes_UnknownMimeFallsBackToText(t *testing.T) {
	text, err := ExtractTextFromBytes(context.Background(), []byte("plain resume body"), "application/octet-stream", "resume.bin")
	if err != nil {
		t.Fatalf("extract fallback text: %v", err)
	}
	if text != "plain resume body" {
		t.Fatalf("text = %q", text)
	}
}

func TestExtractTextFromBytes_DocxParagraphs(t *testing.T) {
	data := buildDocx(t, "Jane Doe", "Experience with Python and SQL.")

	text, err := ExtractTextFromBytes(context.Background(), data, MimeDOCX, "resume.docx")
	if err != nil {
		t.Fatalf("extract docx: %v", err)
	}
	want := "Jane Doe\nExperience with Python and SQL."
	if text != want {
		t.Fatalf("text = %q, want %q", text, want)
	}
}

func TestExtractTextFromBytes_DocxWithoutTextIsEmptyContent(t *testing.T) {
	data := buildDocx(t)

	_, err := ExtractTextFromBytes(context.Background(), data, MimeDOCX, "resume.docx")
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("err = %v, want ErrEmptyContent", err)
	}
}

func TestExtractTextFromBytes_ZipDocxNormalizes(t *testing.T) {
	data := buildDocx(t, "Education section")

	text, err := ExtractTextFromBytes(context.Background(), data, "application/zip", "resume.docx")
	if err != nil {
		t.Fatalf("expected docx to extract from zip mime, got error: %v", err)
	}
	if text != "Education section" {
		t.Fatalf("text = %q", text)
	}
}

func TestExtractTextFromBytes_CorruptDocxFails(t *testing.T) {
	_, err := ExtractTextFromBytes(context.Background(), []byte("PK\x03\x04 definitely not a docx"), MimeDOCX, "resume.docx")
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("err = %v, want ErrExtractionFailed", err)
	}
}

func TestExtractTextFromBytes_CorruptPDFFails(t *testing.T) {
	_, err := ExtractTextFromBytes(context.Background(), []byte("%PDF-1.4 truncated"), MimePDF, "resume.pdf")
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("err = %v, want ErrExtractionFailed", err)
	}
}

func TestExtractTextFromBytes_BinaryZipFallsThroughToText(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "data.bin", Method: zip.Store})
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte{0xff, 0x00, 0x10}); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	_, err = ExtractTextFromBytes(context.Background(), buf.Bytes(), "application/zip", "notes.zip")
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("err = %v, want ErrExtractionFailed", err)
	}
}

func TestExtractText_PersistsExtractedCopy(t *testing.T) {
	store := local.New(t.TempDir())
	ctx := context.Background()

	key, _, _, err := store.Save(ctx, "user-1", "resume.txt", strings.NewReader("Skills: python, sql"))
	if err != nil {
		t.Fatalf("save source object: %v", err)
	}

	text, extractedKey, err := ExtractText(ctx, store, key, "text/plain", "resume.txt")
	if err != nil {
		t.Fatalf("extract text: %v", err)
	}
	if text != "Skills: python, sql" {
		t.Fatalf("text = %q", text)
	}
	if extractedKey != key+".extracted.txt" {
		t.Fatalf("extractedKey = %q, want %q", extractedKey, key+".extracted.txt")
	}

	rc, err := store.Open(ctx, extractedKey)
	if err != nil {
		t.Fatalf("open extracted copy: %v", err)
	}
	defer rc.Close()
	persisted, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read extracted copy: %v", err)
	}
	if string(persisted) != text {
		t.Fatalf("persisted = %q, want %q", string(persisted), text)
	}
}

func TestExtractText_MissingObject(t *testing.T) {
	store := local.New(t.TempDir())

	_, _, err := ExtractText(context.Background(), store, "nope/missing.txt", "text/plain", "missing.txt")
	if err == nil {
		t.Fatal("expected error for missing object")
	}
	if errors.Is(err, ErrExtractionFailed) || errors.Is(err, ErrEmptyContent) {
		t.Fatalf("storage error must not map to an extraction sentinel, got %v", err)
	}
}
