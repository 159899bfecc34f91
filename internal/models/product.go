package models

import (
	"fmt"
	"strings"
	"time"
)

// Product is one scraped occurrence of an item at one store. Listings are
// identified by (Link, Store).
type Product struct {
	Title         string    `json:"title"`
	Price         float64   `json:"price"`
	RawPrice      string    `json:"raw_price,omitempty"`
	OriginalPrice float64   `json:"original_price,omitempty"`
	Discount      string    `json:"discount,omitempty"`
	Link          string    `json:"link"`
	Image         string    `json:"image,omitempty"`
	Availability  string    `json:"availability,omitempty"`
	Store         string    `json:"store"`
	Category      string    `json:"category,omitempty"`
	SearchQuery   string    `json:"search_query,omitempty"`
	ScrapedAt     time.Time `json:"scraped_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Key returns the identity used by the persistence layer.
func (p *Product) Key() string {
	return p.Link + "|" + p.Store
}

func (p *Product) Validate() []string {
	var errors []string

	if strings.TrimSpace(p.Title) == "" {
		errors = append(errors, "Title is required")
	}

	if p.Price <= 0 {
		errors = append(errors, "Price must be positive")
	}

	if strings.TrimSpace(p.Link) == "" {
		errors = append(errors, "Link is required")
	}

	if p.Store == "" {
		errors = append(errors, "Store is required")
	}

	return errors
}

type ScrapingResult struct {
	Products   []Product `json:"products"`
	TotalFound int       `json:"totalFound"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

// NewFailedResult builds the envelope returned when a scrape could not complete.
func NewFailedResult(err error) *ScrapingResult {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &ScrapingResult{
		Products: []Product{},
		Success:  false,
		Error:    msg,
	}
}

// DedupeByKey keeps the first occurrence of every (link, store) pair.
func DedupeByKey(products []Product) []Product {
	seen := make(map[string]struct{}, len(products))
	out := make([]Product, 0, len(products))
	for _, p := range products {
		k := p.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}

func (r *ScrapingResult) String() string {
	if !r.Success {
		return fmt.Sprintf("scrape failed: %s", r.Error)
	}
	return fmt.Sprintf("scrape ok: %d products", r.TotalFound)
}
