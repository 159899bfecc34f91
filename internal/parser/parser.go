package parser

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrMalformedPrice = errors.New("malformed price")
	ErrMissingField   = errors.New("missing required field")
)

// Parse turns raw markup into a queryable document.
func Parse(markup string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// Rule extracts one value from an item node.
type Rule interface {
	TryExtract(item *goquery.Selection) (string, bool)
}

// TextRule yields the trimmed text of the first node matching Selector. An
// empty Selector reads the item node itself.
type TextRule struct {
	Selector string
}

func Text(selector string) TextRule {
	return TextRule{Selector: selector}
}

func (r TextRule) TryExtract(item *goquery.Selection) (string, bool) {
	node := find(item, r.Selector)
	if node.Length() == 0 {
		return "", false
	}
	text := collapseSpace(node.Text())
	return text, text != ""
}

// AttrRule yields an attribute of the first node matching Selector. Inline
// data: URIs are ignored so lazy-loading placeholders fall through.
type AttrRule struct {
	Selector string
	Name     string
}

func Attr(selector, name string) AttrRule {
	return AttrRule{Selector: selector, Name: name}
}

func (r AttrRule) TryExtract(item *goquery.Selection) (string, bool) {
	node := find(item, r.Selector)
	if node.Length() == 0 {
		return "", false
	}
	value, ok := node.Attr(r.Name)
	value = strings.TrimSpace(value)
	if !ok || value == "" || strings.HasPrefix(value, "data:") {
		return "", false
	}
	return value, true
}

// Cascade is an ordered list of rules; the first non-empty value wins.
type Cascade []Rule

func (c Cascade) Extract(item *goquery.Selection) (string, bool) {
	for _, rule := range c {
		if value, ok := rule.TryExtract(item); ok {
			return value, true
		}
	}
	return "", false
}

func find(item *goquery.Selection, selector string) *goquery.Selection {
	if selector == "" {
		return item.First()
	}
	return item.Find(selector).First()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ResolveURL makes ref absolute against base. Values that cannot be parsed
// are returned unchanged.
func ResolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if refURL.IsAbs() {
		return refURL.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
