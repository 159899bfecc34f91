package retailer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/maltedev/hardware-price-scraper/internal/parser"
	"github.com/maltedev/hardware-price-scraper/internal/scraper"
)

const (
	DNSShopID  = "dns"
	CitilinkID = "citilink"
)

func DNSShop() scraper.StoreConfig {
	return scraper.StoreConfig{
		Name:      "DNS Shop",
		BaseURL:   "https://www.dns-shop.ru",
		SearchURL: "https://www.dns-shop.ru/search/?q={query}",
		Selectors: parser.Selectors{
			Containers: []string{".catalog-product", ".products-row .product-card", ".product-card", "[data-id*=\"product\"]", ".product-item"},
			Title: parser.Cascade{
				parser.Text(".catalog-product__name a"),
				parser.Text(".catalog-product__name"),
				parser.Text(".product-card__name a"),
				parser.Text(".product-card__name"),
				parser.Text("a[data-role=\"product-name\"]"),
				parser.Text(".product-card-top__title a"),
				parser.Text("h3"),
				parser.Text("h4"),
				parser.Text("[data-meta-name=\"Snippet__title\"]"),
			},
			Price: parser.Cascade{
				parser.Text(".catalog-product__price .product-buy__price"),
				parser.Text(".product-buy__price"),
				parser.Text(".product-card__price-current"),
				parser.Text(".price-current"),
				parser.Text("[data-role=\"price\"]"),
				parser.Text(".price"),
				parser.Attr("[data-meta-price]", "data-meta-price"),
			},
			OriginalPrice: parser.Cascade{
				parser.Text(".product-buy__prev"),
				parser.Text(".price-old"),
				parser.Text("[class*=\"old-price\"]"),
			},
			Discount: parser.Cascade{
				parser.Text(".product-buy__sale"),
				parser.Text("[class*=\"discount\"]"),
			},
			Link: parser.Cascade{
				parser.Attr(".catalog-product__name a", "href"),
				parser.Attr("a.catalog-product__name", "href"),
				parser.Attr(".product-card__name a", "href"),
				parser.Attr("a[data-role=\"product-name\"]", "href"),
				parser.Attr("a[href*=\"/product/\"]", "href"),
				parser.Attr("a", "href"),
			},
			Image: parser.Cascade{
				parser.Attr(".catalog-product__image img", "src"),
				parser.Attr(".catalog-product__image img", "data-src"),
				parser.Attr(".product-card__image img", "src"),
				parser.Attr(".product-card__image img", "data-src"),
				parser.Attr(".product-image img", "src"),
				parser.Attr(".product-image img", "data-src"),
			},
			Availability: parser.Cascade{
				parser.Text(".product-buy__availability"),
				parser.Text(".catalog-product__availability"),
				parser.Text(".product-card__availability"),
				parser.Text("[class*=\"available\"]"),
			},
		},
		Headers: map[string]string{
			"Referer": "https://www.dns-shop.ru/",
		},
		RateLimit: 20,
	}
}

// Citilink sits behind an anti-bot gateway, so it is always rendered in the
// browser.
func Citilink() scraper.StoreConfig {
	return scraper.StoreConfig{
		Name:      "Citilink",
		BaseURL:   "https://www.citilink.ru",
		SearchURL: "https://www.citilink.ru/search/?text={query}",
		Selectors: parser.Selectors{
			Containers: []string{"[data-meta-product-id]", ".ProductCardHorizontal", "[data-testid=\"product-card\"]", ".product-card", ".catalog-item"},
			Title: parser.Cascade{
				parser.Attr("", "data-meta-product-name"),
				parser.Text("[data-meta-name=\"Snippet__title\"]"),
				parser.Text(".ProductCardHorizontal__name"),
				parser.Text("[data-testid=\"product-title\"]"),
				parser.Text(".product-title"),
				parser.Text("h3"),
				parser.Text("h4"),
			},
			Price: parser.Cascade{
				parser.Attr("", "data-meta-product-price"),
				parser.Attr("[data-meta-price]", "data-meta-price"),
				parser.Text(".ProductCardHorizontal__price"),
				parser.Text("[data-testid=\"product-price\"]"),
				parser.Text(".product-price"),
				parser.Text(".price"),
			},
			OriginalPrice: parser.Cascade{
				parser.Text(".ProductCardHorizontal__old-price"),
				parser.Text(".old-price"),
				parser.Text("[class*=\"old-price\"]"),
			},
			Discount: parser.Cascade{
				parser.Text(".ProductCardHorizontal__discount"),
				parser.Text(".discount"),
				parser.Text("[class*=\"discount\"]"),
			},
			Link: parser.Cascade{
				parser.Attr("[data-meta-name=\"Snippet__title\"]", "href"),
				parser.Attr(".ProductCardHorizontal__name a", "href"),
				parser.Attr("[data-testid=\"product-link\"]", "href"),
				parser.Attr("a[href*=\"/product/\"]", "href"),
				parser.Attr("a", "href"),
			},
			Image: parser.Cascade{
				parser.Attr(".ProductCardHorizontal__image img", "src"),
				parser.Attr("[data-testid=\"product-image\"] img", "src"),
				parser.Attr(".product-image img", "src"),
				parser.Attr("img", "src"),
				parser.Attr("img", "data-src"),
			},
			Availability: parser.Cascade{
				parser.Text(".ProductCardHorizontal__availability"),
				parser.Text(".availability"),
				parser.Text("[class*=\"available\"]"),
			},
		},
		Headers: map[string]string{
			"Referer":        "https://www.citilink.ru/",
			"Sec-Fetch-Dest": "document",
			"Sec-Fetch-Mode": "navigate",
			"Sec-Fetch-Site": "none",
		},
		RateLimit:       20,
		RequiresBrowser: true,
	}
}

var stores = map[string]func() scraper.StoreConfig{
	DNSShopID:  DNSShop,
	CitilinkID: Citilink,
}

// Lookup returns the store config registered under id.
func Lookup(id string) (scraper.StoreConfig, error) {
	build, ok := stores[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return scraper.StoreConfig{}, fmt.Errorf("%w: %q", scraper.ErrUnknownStore, id)
	}
	return build(), nil
}

// StoreIDs lists the registered store ids, sorted.
func StoreIDs() []string {
	ids := make([]string, 0, len(stores))
	for id := range stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CategoryStore points cfg at a category listing page. The base URL is kept
// for session bootstrap and link resolution.
func CategoryStore(cfg scraper.StoreConfig, categoryURL string) scraper.StoreConfig {
	cfg.SearchURL = parser.ResolveURL(cfg.BaseURL, categoryURL)
	return cfg
}

// Resolve builds the config for a one-off scrape: the store registered under
// id, optionally pointed at a category page and forced through the browser.
func Resolve(id, categoryURL string, forceBrowser bool) (scraper.StoreConfig, error) {
	cfg, err := Lookup(id)
	if err != nil {
		return cfg, err
	}
	if strings.TrimSpace(categoryURL) != "" {
		cfg = CategoryStore(cfg, strings.TrimSpace(categoryURL))
	}
	if forceBrowser {
		cfg.RequiresBrowser = true
	}
	return cfg, nil
}
