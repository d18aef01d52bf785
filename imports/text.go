package imports

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"plastron.evalgo.org/binaries"
	"plastron.evalgo.org/spreadsheet"
)

// extractText returns the text content of a file whose MIME type is in the
// job's extract-text list, or "" for files outside the list. HTML markup is
// stripped; script and style content is discarded.
func (e *Engine) extractText(spec spreadsheet.FileSpec) (string, error) {
	types := e.cfg.ExtractTextTypesList()
	if len(types) == 0 {
		return "", nil
	}

	src, err := binaries.NewSource(e.cfg.BinariesLocation, spec.Name)
	if err != nil {
		return "", err
	}
	defer src.Close()

	mimeType, err := src.MimeType()
	if err != nil {
		return "", fmt.Errorf("failed to determine MIME type of %s: %w", spec.Name, err)
	}
	if !mimeTypeListed(mimeType, types) {
		return "", nil
	}

	r, err := src.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", spec.Name, err)
	}
	defer r.Close()

	// Honor the document's declared encoding before tokenizing.
	decoded, err := charset.NewReader(r, mimeType)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", spec.Name, err)
	}

	doc, err := html.Parse(decoded)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", spec.Name, err)
	}
	var b strings.Builder
	collectText(doc, &b)
	return strings.TrimSpace(b.String()), nil
}

func mimeTypeListed(mimeType string, types []string) bool {
	mt := mimeType
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = mt[:i]
	}
	mt = strings.TrimSpace(strings.ToLower(mt))
	for _, t := range types {
		if strings.ToLower(t) == mt {
			return true
		}
	}
	return false
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	if n.Type == html.TextNode {
		text := strings.TrimSpace(n.Data)
		if text != "" {
			if b.Len() > 0 {
				b.WriteString(" ")
			}
			b.WriteString(text)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}
