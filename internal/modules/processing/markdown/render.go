package markdown

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/mx-space/chaptr/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
)

var markdownEngine = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Typographer,
	),
	goldmark.WithRendererOptions(
		htmlrenderer.WithHardWraps(),
		htmlrenderer.WithXHTML(),
	),
)

const pageStyle = `body{max-width:46rem;margin:2rem auto;padding:0 1rem;font:16px/1.7 -apple-system,"Segoe UI",sans-serif;color:#222}
blockquote{margin:1rem 0;padding:.25rem 1rem;border-left:4px solid #d0d7de;color:#57606a}
h2{margin-top:2.5rem;border-bottom:1px solid #eaecef}`

// RenderContent converts markdown to an HTML fragment. Source that goldmark
// rejects is returned escaped.
func RenderContent(markdownText string) string {
	text := strings.TrimSpace(markdownText)
	if text == "" {
		return ""
	}
	var out bytes.Buffer
	if err := markdownEngine.Convert([]byte(text), &out); err != nil {
		return template.HTMLEscapeString(text)
	}
	return out.String()
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <title>{{.Title}}</title>
    <style>{{.Style}}</style>
  </head>
  <body>
    <article>{{.Body}}</article>
  </body>
</html>
`))

// HTML renders a standalone page for doc.
func HTML(doc *models.Document) (string, error) {
	var out bytes.Buffer
	err := pageTemplate.Execute(&out, struct {
		Title string
		Style template.CSS
		Body  template.HTML
	}{
		Title: oneLine(doc.Title),
		Style: template.CSS(pageStyle),
		Body:  template.HTML(RenderContent(Document(doc, false))),
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}
