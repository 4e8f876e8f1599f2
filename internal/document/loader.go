package document

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// strippedTags are removed before content extraction. Navigation chrome and
// executable content carry no admissions information and pollute embeddings.
var strippedTags = []string{"header", "footer", "nav", "script", "style", "noscript", "iframe"}

// Loader normalizes raw fetched pages into plain-text Documents.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Normalize converts a raw HTML page into a Document.
// Returns ErrInvalidDocument when no text survives normalization.
func (l *Loader) Normalize(raw Raw) (Document, error) {
	if len(bytes.TrimSpace(raw.HTML)) == 0 {
		return Document{}, fmt.Errorf("%w: %s", ErrInvalidDocument, raw.SourceID)
	}

	stripped, err := stripChrome(raw.HTML)
	if err != nil {
		// Unparseable HTML: fall back to the raw bytes, the extractors
		// below may still find text.
		l.logger.Warn("failed to strip page chrome", "source", raw.SourceID, "error", err)
		stripped = raw.HTML
	}

	title, text := l.extract(raw.SourceID, stripped)
	text = collapseWhitespace(text)
	if text == "" {
		return Document{}, fmt.Errorf("%w: %s", ErrInvalidDocument, raw.SourceID)
	}

	return Document{
		SourceID:  raw.SourceID,
		Title:     title,
		Text:      text,
		FetchedAt: raw.FetchedAt,
	}, nil
}

// extract pulls the main content using readability, falling back to a plain
// text walk of the HTML tree when readability finds nothing.
func (l *Loader) extract(sourceID string, htmlBytes []byte) (title, text string) {
	pageURL, err := url.Parse(sourceID)
	if err != nil {
		pageURL = &url.URL{}
	}

	article, err := readability.FromReader(bytes.NewReader(htmlBytes), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return article.Title, article.TextContent
	}
	if err != nil {
		l.logger.Debug("readability extraction failed, using text fallback",
			"source", sourceID, "error", err)
	}

	return extractPlainText(htmlBytes)
}

// stripChrome removes navigation, script and style subtrees.
func stripChrome(htmlBytes []byte) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	for _, tag := range strippedTags {
		doc.Find(tag).Remove()
	}

	out, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize HTML: %w", err)
	}
	return []byte(out), nil
}

// extractPlainText walks the HTML tree collecting text nodes. Last-resort
// extraction for pages readability cannot handle.
func extractPlainText(htmlBytes []byte) (title, text string) {
	root, err := html.Parse(bytes.NewReader(htmlBytes))
	if err != nil {
		return "", ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && title == "" {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return title, sb.String()
}

// collapseWhitespace normalizes runs of whitespace to single spaces while
// keeping paragraph breaks (blank lines) intact.
func collapseWhitespace(s string) string {
	paragraphs := strings.Split(s, "\n\n")
	out := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		p = strings.Join(strings.Fields(p), " ")
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
