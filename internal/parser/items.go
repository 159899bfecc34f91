package parser

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// Selectors describes how listing items are located and read on a page.
// Containers are tried in order; the first selector matching anything
// defines the item set.
type Selectors struct {
	Containers    []string
	Title         Cascade
	Price         Cascade
	OriginalPrice Cascade
	Discount      Cascade
	Link          Cascade
	Image         Cascade
	Availability  Cascade
}

// Item is one listing read off a page before it is mapped to a domain type.
type Item struct {
	Title         string
	RawPrice      string
	Price         float64
	OriginalPrice float64
	Discount      string
	Link          string
	Image         string
	Availability  string
}

// Containers returns the item nodes of the first container selector that
// matches. A page without any match yields an empty selection.
func Containers(doc *goquery.Document, selectors []string) *goquery.Selection {
	for _, selector := range selectors {
		if found := doc.Find(selector); found.Length() > 0 {
			return found
		}
	}
	return doc.Selection.Slice(0, 0)
}

// ExtractItems reads every container on the page. Items missing a title,
// price or link, or carrying an unparseable price, are skipped and reported
// in the returned error slice; they never abort the page.
func ExtractItems(doc *goquery.Document, sel Selectors, baseURL string) ([]Item, []error) {
	var (
		items []Item
		errs  []error
	)

	Containers(doc, sel.Containers).Each(func(i int, s *goquery.Selection) {
		item, err := extractItem(s, sel, baseURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i, err))
			return
		}
		items = append(items, item)
	})

	return items, errs
}

func extractItem(s *goquery.Selection, sel Selectors, baseURL string) (Item, error) {
	var item Item

	title, ok := sel.Title.Extract(s)
	if !ok {
		return item, fmt.Errorf("%w: title", ErrMissingField)
	}

	rawPrice, ok := sel.Price.Extract(s)
	if !ok {
		return item, fmt.Errorf("%w: price", ErrMissingField)
	}
	price, err := ParsePrice(rawPrice)
	if err != nil {
		return item, err
	}

	link, _ := sel.Link.Extract(s)
	link = ResolveURL(baseURL, link)
	if link == "" {
		return item, fmt.Errorf("%w: link", ErrMissingField)
	}

	item.Title = title
	item.RawPrice = rawPrice
	item.Price = price
	item.Link = link

	if raw, ok := sel.OriginalPrice.Extract(s); ok {
		if original, err := ParsePrice(raw); err == nil && original > price {
			item.OriginalPrice = original
		}
	}
	item.Discount, _ = sel.Discount.Extract(s)
	if image, ok := sel.Image.Extract(s); ok {
		item.Image = ResolveURL(baseURL, image)
	}
	item.Availability, _ = sel.Availability.Extract(s)

	return item, nil
}
