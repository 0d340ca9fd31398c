package langdetect

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

// VisibleText returns the human-readable text of an HTML document with
// scripts and styles removed and whitespace collapsed.
func VisibleText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()
	sel := doc.Find("body")
	if sel.Length() == 0 {
		sel = doc.Selection
	}
	return strings.Join(strings.Fields(sel.Text()), " "), nil
}

// IsHTML reports whether a content type denotes an HTML document.
func IsHTML(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/html")
}

// ContentText returns the text of a recorded page, stripping markup from
// HTML documents and passing other bodies through.
func ContentText(content crawler.Content) string {
	if !IsHTML(content.ContentType) {
		return string(content.Body)
	}
	text, err := VisibleText(content.Body)
	if err != nil {
		return string(content.Body)
	}
	return text
}

// Adapter detects the language of pages replayed from a ContentSource.
type Adapter struct {
	Source   crawler.ContentSource
	Detector crawler.LanguageDetector
}

// DetectURI replays uri and runs detection on its text. A page that cannot
// be replayed is treated as empty text, which yields no languages.
func (a Adapter) DetectURI(ctx context.Context, uri string) (crawler.Content, crawler.Detection, error) {
	content, err := a.Source.Content(ctx, uri)
	if err != nil {
		return crawler.Content{}, crawler.Detection{}, fmt.Errorf("replay %s: %w", uri, err)
	}
	return content, a.Detector.Detect(ContentText(content)), nil
}
