package scraper

import (
	"arxiv-notifier/pkg/watcher"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	listingDateRegex = regexp.MustCompile(`Showing new listings for (.+)`)
	arxivIDRegex     = regexp.MustCompile(`^\d{4}\.\d{4,5}(v\d+)?$`)
)

const absPrefix = "/abs/"

// Strategy derives a version from a parsed page. ok is false when the
// strategy finds nothing; that is not an error.
type Strategy interface {
	Name() string
	Version(doc *goquery.Document) (version string, ok bool)
}

// ListingDateStrategy matches the "Showing new listings for ..." heading.
type ListingDateStrategy struct{}

// Name implements Strategy.
func (ListingDateStrategy) Name() string { return "listing_date" }

// Version implements Strategy.
func (ListingDateStrategy) Version(doc *goquery.Document) (string, bool) {
	m := listingDateRegex.FindStringSubmatch(flattenText(doc))
	if m == nil {
		return "", false
	}
	return watcher.DatePrefix + strings.TrimSpace(m[1]), true
}

// FirstIDStrategy uses the first /abs/<id> link in document order.
type FirstIDStrategy struct{}

// Name implements Strategy.
func (FirstIDStrategy) Name() string { return "first_id" }

// Version implements Strategy.
func (FirstIDStrategy) Version(doc *goquery.Document) (string, bool) {
	var id string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if !strings.HasPrefix(href, absPrefix) {
			return true
		}
		candidate := strings.TrimPrefix(href, absPrefix)
		candidate, _, _ = strings.Cut(candidate, "?")
		candidate, _, _ = strings.Cut(candidate, "#")
		candidate = strings.TrimSpace(candidate)
		if arxivIDRegex.MatchString(candidate) {
			id = candidate
			return false
		}
		return true
	})
	if id == "" {
		return "", false
	}
	return watcher.FirstIDPrefix + id, true
}

// DefaultStrategies is the extraction order used by the watcher.
func DefaultStrategies() []Strategy {
	return []Strategy{ListingDateStrategy{}, FirstIDStrategy{}}
}

// Extractor applies strategies in order; the first match wins.
type Extractor struct {
	strategies []Strategy
}

// NewExtractor creates an extractor. With no strategies it uses DefaultStrategies.
func NewExtractor(strategies ...Strategy) *Extractor {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Extractor{strategies: strategies}
}

// Extract parses body and returns the first version any strategy finds.
func (e *Extractor) Extract(body []byte) (string, bool, error) {
	doc, err := parseDocument(bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	for _, s := range e.strategies {
		if v, ok := s.Version(doc); ok {
			return v, true, nil
		}
	}
	return "", false, nil
}

func parseDocument(r io.Reader) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// flattenText joins every visible text node, trimmed, one per line.
// Script, style and template contents are not page text.
func flattenText(doc *goquery.Document) string {
	var lines []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				lines = append(lines, t)
			}
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "template":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return strings.Join(lines, "\n")
}
