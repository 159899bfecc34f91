package models

import (
	"fmt"
	"strings"
	"time"
)

type Category string

const (
	CategoryCPU         Category = "cpu"
	CategoryGPU         Category = "gpu"
	CategoryMotherboard Category = "motherboard"
	CategoryRAM         Category = "ram"
	CategoryStorage     Category = "storage"
	CategoryPSU         Category = "psu"
	CategoryCase        Category = "case"
	CategoryCooler      Category = "cooler"
	CategoryMonitor     Category = "monitor"
	CategoryKeyboard    Category = "keyboard"
	CategoryMouse       Category = "mouse"
)

func AllCategories() []Category {
	return []Category{
		CategoryCPU, CategoryGPU, CategoryMotherboard, CategoryRAM, CategoryStorage,
		CategoryPSU, CategoryCase, CategoryCooler, CategoryMonitor, CategoryKeyboard,
		CategoryMouse,
	}
}

func (c Category) Valid() bool {
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("invalid category: %q", s)
	}
	return c, nil
}

type Availability string

const (
	InStock    Availability = "in_stock"
	OutOfStock Availability = "out_of_stock"
	Limited    Availability = "limited"
	PreOrder   Availability = "pre_order"
)

type Price struct {
	Value        float64      `json:"value"`
	Currency     string       `json:"currency"`
	Retailer     string       `json:"retailer"`
	URL          string       `json:"url"`
	Availability Availability `json:"availability"`
	LastUpdated  time.Time    `json:"lastUpdated"`
}

// PCComponent is the canonical hardware entity built from one or more listings.
type PCComponent struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Brand          string            `json:"brand"`
	Model          string            `json:"model"`
	Category       Category          `json:"category"`
	ImageURL       string            `json:"imageUrl,omitempty"`
	Specifications map[string]string `json:"specifications"`
	Prices         []Price           `json:"prices"`
}

func (c *PCComponent) IsValid() bool {
	if c.Name == "" || c.Brand == "" || len(c.Prices) == 0 {
		return false
	}
	for _, p := range c.Prices {
		if p.Value > 0 {
			return true
		}
	}
	return false
}

type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type AggregatedPrice struct {
	Component          PCComponent `json:"component"`
	LowestPrice        Price       `json:"lowestPrice"`
	AveragePrice       float64     `json:"averagePrice"`
	PriceRange         PriceRange  `json:"priceRange"`
	AvailableRetailers []string    `json:"availableRetailers"`
	LastUpdated        time.Time   `json:"lastUpdated"`
}

type PriceComparisonResult struct {
	Query      string            `json:"query"`
	Category   Category          `json:"category"`
	Results    []AggregatedPrice `json:"results"`
	TotalFound int               `json:"totalFound"`
	Timestamp  time.Time         `json:"timestamp"`
	Sources    []string          `json:"sources"`
}

// ComponentScrapeResult is what a retailer scraper returns for one category.
type ComponentScrapeResult struct {
	Components []PCComponent `json:"components"`
	Timestamp  time.Time     `json:"timestamp"`
	Source     string        `json:"source"`
	Errors     []string      `json:"errors,omitempty"`
}
