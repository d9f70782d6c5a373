// Package markdown renders analyzed documents for export.
package markdown

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/mx-space/chaptr/internal/models"
	"gopkg.in/yaml.v3"
)

// Format is an export target.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatZip      Format = "zip"
)

// ParseFormat accepts the short names and common aliases.
func ParseFormat(raw string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "md", "markdown":
		return FormatMarkdown, true
	case "html", "htm":
		return FormatHTML, true
	case "zip":
		return FormatZip, true
	}
	return "", false
}

// ContentType is the response media type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatZip:
		return "application/zip"
	}
	return "text/markdown; charset=utf-8"
}

// Export renders doc in format f and returns the body with a download filename.
func Export(doc *models.Document, f Format) ([]byte, string, error) {
	base := safeFilename(doc.Title)
	switch f {
	case FormatMarkdown:
		return []byte(Document(doc, true)), base + ".md", nil
	case FormatHTML:
		html, err := HTML(doc)
		return []byte(html), base + ".html", err
	case FormatZip:
		data, err := Bundle(doc)
		return data, base + ".zip", err
	}
	return nil, "", fmt.Errorf("unsupported export format %q", f)
}

type frontMatter struct {
	Title        string    `yaml:"title"`
	Date         time.Time `yaml:"date,omitempty"`
	Updated      time.Time `yaml:"updated,omitempty"`
	Chapters     int       `yaml:"chapters"`
	KeepOriginal bool      `yaml:"keep_original"`
}

// Document renders every segment as a second-level section. The summary is a
// blockquote and the original content, when kept, follows it.
func Document(doc *models.Document, includeYAMLHeader bool) string {
	var sb strings.Builder
	if includeYAMLHeader {
		header, _ := yaml.Marshal(frontMatter{
			Title:        doc.Title,
			Date:         doc.CreatedAt,
			Updated:      doc.UpdatedAt,
			Chapters:     len(doc.Segments),
			KeepOriginal: doc.KeepOriginal,
		})
		sb.WriteString("---\n")
		sb.WriteString(strings.TrimSpace(string(header)))
		sb.WriteString("\n---\n\n")
	}
	sb.WriteString("# ")
	sb.WriteString(oneLine(doc.Title))
	sb.WriteString("\n")
	for _, seg := range doc.Segments {
		sb.WriteString("\n")
		writeSegment(&sb, seg, "##")
	}
	return sb.String()
}

func writeSegment(sb *strings.Builder, seg models.Segment, heading string) {
	sb.WriteString(heading)
	sb.WriteString(" ")
	sb.WriteString(oneLine(seg.Title))
	sb.WriteString("\n")
	if summary := strings.TrimSpace(seg.Summary); summary != "" {
		sb.WriteString("\n")
		for _, line := range strings.Split(summary, "\n") {
			sb.WriteString("> ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	if content := strings.TrimSpace(seg.Content); content != "" {
		sb.WriteString("\n")
		sb.WriteString(content)
		sb.WriteString("\n")
	}
}

// Bundle writes one markdown file per segment plus an index into a zip archive.
func Bundle(doc *models.Document) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	index, err := zw.Create("index.md")
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	sb.WriteString("# " + oneLine(doc.Title) + "\n\n")
	names := make([]string, len(doc.Segments))
	width := len(fmt.Sprint(len(doc.Segments)))
	if width < 2 {
		width = 2
	}
	for i, seg := range doc.Segments {
		names[i] = fmt.Sprintf("%0*d-%s.md", width, i+1, safeFilename(seg.Title))
		fmt.Fprintf(&sb, "%d. [%s](%s)\n", i+1, oneLine(seg.Title), names[i])
	}
	if _, err := index.Write([]byte(sb.String())); err != nil {
		return nil, err
	}

	for i, seg := range doc.Segments {
		w, err := zw.Create(names[i])
		if err != nil {
			return nil, err
		}
		var part strings.Builder
		writeSegment(&part, seg, "#")
		if _, err := w.Write([]byte(part.String())); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "Untitled"
	}
	return s
}

// safeFilename keeps titles usable as archive and download names.
func safeFilename(title string) string {
	name := strings.TrimSpace(title)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, name)
	if runes := []rune(name); len(runes) > 80 {
		name = string(runes[:80])
	}
	if name == "" {
		return "untitled"
	}
	return name
}
