package documents

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extensions the ingestion pipeline can extract text from. Pre-flight
// filter only; the server is the final authority.
var allowedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".txt":  true,
	".html": true,
}

var ErrUnsupportedFile = errors.New("unsupported file")

// Preflight rejects files the server would fail to ingest: unknown
// extensions, unreadable paths, and HTML with no extractable text.
func Preflight(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !allowedExtensions[ext] {
		return fmt.Errorf("%w: %q (accepted: pdf, docx, txt, html)", ErrUnsupportedFile, ext)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrUnsupportedFile, path)
	}

	if ext == ".html" {
		return checkHTML(path)
	}
	return nil
}

// checkHTML parses the document and verifies it contains visible text.
// The server indexes extracted text; an empty extraction ends in a
// failed document.
func checkHTML(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnsupportedFile, path, err)
	}
	doc.Find("script, style").Remove()
	if strings.TrimSpace(doc.Text()) == "" {
		return fmt.Errorf("%w: %s has no extractable text", ErrUnsupportedFile, path)
	}
	return nil
}
