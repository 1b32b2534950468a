package report

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"time"

	termmd "github.com/MichaelMure/go-term-markdown"
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"agentdash/config"
)

var mdLinkRegex = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\)]+)\)`)

// Terminal renders Markdown for a terminal of the given width. Links are
// flattened to bare URLs and autolinking is off so the terminal emulator
// handles them.
func Terminal(md string, width int) string {
	start := time.Now()
	if width < 20 {
		width = 20
	}

	src := mdLinkRegex.ReplaceAllString(md, "$1 ($2)")

	p := parser.NewWithExtensions(termmd.Extensions() &^ parser.Autolink)
	doc := p.Parse([]byte(src))
	out := markdown.Render(doc, termmd.NewRenderer(width, 0))

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Report] terminal render of %d bytes in %v", len(md), time.Since(start))
	}
	return string(out)
}

var htmlPage = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; max-width: 60rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
code, pre { background: #f4f4f4; border-radius: 3px; }
pre { padding: .75rem; overflow-x: auto; }
blockquote { border-left: 4px solid #e0a800; margin: 0; padding-left: 1rem; color: #555; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// HTML converts a Markdown report into a standalone page. Raw HTML in the
// source is dropped, since findings carry text from scanned repositories.
func HTML(md, title string) ([]byte, error) {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	r := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.SkipHTML | html.HrefTargetBlank,
	})
	body := markdown.ToHTML([]byte(md), p, r)

	var buf bytes.Buffer
	err := htmlPage.Execute(&buf, struct {
		Title string
		Body  template.HTML
	}{
		Title: title,
		Body:  template.HTML(body),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render HTML report: %w", err)
	}
	return buf.Bytes(), nil
}
