package scraper

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/markusmobius/go-trafilatura"
	"golang.org/x/net/html"
)

// Extracted is the raw output of one extraction strategy before
// normalization
type Extracted struct {
	Title  string
	Text   string
	Byline string
}

// Strategy is one pluggable way of pulling article text out of a fetched
// document. Strategies are tried in priority order, first success wins.
type Strategy interface {
	Name() string
	Extract(pageURL *url.URL, doc string) (*Extracted, error)
}

// defaultStrategies returns the ordered fallback chain
func defaultStrategies() []Strategy {
	return []Strategy{
		trafilaturaStrategy{},
		readabilityStrategy{},
		goqueryStrategy{},
		htmlFallbackStrategy{},
	}
}

// trafilaturaStrategy extracts with go-trafilatura, trying the standard
// options first and a favor-recall pass when the standard one comes up short
type trafilaturaStrategy struct{}

func (trafilaturaStrategy) Name() string { return "trafilatura" }

func (trafilaturaStrategy) Extract(pageURL *url.URL, doc string) (*Extracted, error) {
	variants := []trafilatura.Options{
		{
			ExcludeComments: true,
			ExcludeTables:   true,
			Deduplicate:     true,
			OriginalURL:     pageURL,
		},
		{
			EnableFallback:  true,
			ExcludeComments: true,
			IncludeLinks:    true,
			Focus:           trafilatura.FavorRecall,
			OriginalURL:     pageURL,
		},
	}

	var lastErr error
	var best *Extracted
	for _, opts := range variants {
		result, err := trafilatura.Extract(strings.NewReader(doc), opts)
		if err != nil {
			lastErr = err
			continue
		}
		if result == nil || result.ContentText == "" {
			lastErr = fmt.Errorf("no content extracted")
			continue
		}
		candidate := &Extracted{
			Title:  result.Metadata.Title,
			Text:   result.ContentText,
			Byline: result.Metadata.Author,
		}
		if best == nil || len(candidate.Text) > len(best.Text) {
			best = candidate
		}
	}

	if best == nil {
		return nil, fmt.Errorf("trafilatura: %w", lastErr)
	}
	return best, nil
}

// readabilityStrategy extracts with the readability port
type readabilityStrategy struct{}

func (readabilityStrategy) Name() string { return "readability" }

func (readabilityStrategy) Extract(pageURL *url.URL, doc string) (*Extracted, error) {
	article, err := readability.FromReader(strings.NewReader(doc), pageURL)
	if err != nil {
		return nil, fmt.Errorf("readability: %w", err)
	}
	if article.TextContent == "" {
		return nil, fmt.Errorf("readability: no text content")
	}
	return &Extracted{
		Title:  article.Title,
		Text:   article.TextContent,
		Byline: article.Byline,
	}, nil
}

// contentSelectors are common article containers, tried most-specific first
var contentSelectors = []string{
	"article",
	"[role=main]",
	".article-content",
	".article-body",
	".post-content",
	".entry-content",
	".content",
	"#content",
	".main-content",
}

// goqueryStrategy uses selector heuristics against common article markup,
// joining paragraph text as a last internal resort
type goqueryStrategy struct{}

func (goqueryStrategy) Name() string { return "goquery" }

func (goqueryStrategy) Extract(_ *url.URL, doc string) (*Extracted, error) {
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("goquery parse: %w", err)
	}

	parsed.Find("script, style, nav, header, footer, aside").Remove()

	title := strings.TrimSpace(parsed.Find("title").First().Text())

	// selector matches need more text than the paragraph fallback because
	// containers often hold navigation leftovers
	var text string
	for _, selector := range contentSelectors {
		candidate := strings.TrimSpace(parsed.Find(selector).First().Text())
		if len(candidate) > 700 {
			text = candidate
			break
		}
	}

	if text == "" {
		var parts []string
		parsed.Find("p").Each(func(_ int, sel *goquery.Selection) {
			if p := strings.TrimSpace(sel.Text()); p != "" {
				parts = append(parts, p)
			}
		})
		text = strings.Join(parts, " ")
	}

	if text == "" {
		return nil, fmt.Errorf("goquery: no content found")
	}
	return &Extracted{Title: title, Text: text}, nil
}

// htmlFallbackStrategy strips all markup from the document, capped to keep
// navigation noise bounded. Last resort before declaring failure.
type htmlFallbackStrategy struct{}

func (htmlFallbackStrategy) Name() string { return "htmlfallback" }

func (htmlFallbackStrategy) Extract(_ *url.URL, doc string) (*Extracted, error) {
	node, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("html parse: %w", err)
	}

	var title string
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if n.FirstChild != nil && title == "" {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)

	text := strings.Join(parts, " ")
	if len(text) < 200 {
		return nil, fmt.Errorf("htmlfallback: only %d characters of text", len(text))
	}
	if len(text) > 10000 {
		text = text[:10000]
	}
	return &Extracted{Title: title, Text: text}, nil
}
