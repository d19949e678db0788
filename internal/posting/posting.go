// Package posting cleans pasted job postings before analysis.
package posting

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	htmlTagRe     = regexp.MustCompile(`(?i)<(html|body|div|p|br|li|ul|ol|span|h[1-6]|section|article|table)\b[^>]*>`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	inlineSpaceRe = regexp.MustCompile(`[ \t\f\v]+`)
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
	blockTagRe    = regexp.MustCompile(`(?i)</?(p|li|br|div|h[1-6]|td|tr|ul|ol|section|article)\b`)
)

// LooksLikeHTML reports whether the text carries recognisable markup.
func LooksLikeHTML(text string) bool {
	return htmlTagRe.MatchString(text)
}

// Normalize strips HTML when present and tidies whitespace. Plain text keeps
// its paragraph breaks.
func Normalize(text string) string {
	if LooksLikeHTML(text) {
		if cleaned, ok := StripHTML(text); ok {
			return cleaned
		}
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(inlineSpaceRe.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// StripHTML extracts readable text, dropping scripts and page chrome.
func StripHTML(html string) (string, bool) {
	// Block boundaries become word breaks.
	html = blockTagRe.ReplaceAllString(html, " $0")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	doc.Find("script, style, nav, footer, header, aside, noscript").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text), true
}

// Title returns the document title or first heading, "" when absent.
func Title(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	return title
}

// QueryText prepares text for use as an embedding query.
func QueryText(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "'", ""))
}
