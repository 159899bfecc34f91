package aggregation

import (
	"math"
	"strings"

	"github.com/maltedev/hardware-price-scraper/internal/models"
)

// DefaultSimilarityThreshold is the score a name must exceed to join a group.
const DefaultSimilarityThreshold = 0.8

// GroupSimilarComponents clusters near-duplicates greedily: the first
// unassigned component anchors a group and every later unassigned component
// with the same brand and a similar enough name joins it. The result depends
// on input order.
func GroupSimilarComponents(components []models.PCComponent, threshold float64) [][]models.PCComponent {
	assigned := make([]bool, len(components))
	var groups [][]models.PCComponent

	for i := range components {
		if assigned[i] {
			continue
		}
		anchor := components[i]
		assigned[i] = true
		group := []models.PCComponent{anchor}

		for j := i + 1; j < len(components); j++ {
			if assigned[j] {
				continue
			}
			candidate := components[j]
			if !strings.EqualFold(anchor.Brand, candidate.Brand) {
				continue
			}
			if Similarity(anchor.Name, candidate.Name) > threshold {
				group = append(group, candidate)
				assigned[j] = true
			}
		}

		groups = append(groups, group)
	}

	return groups
}

// AggregateComponentPrices turns each group into price statistics. Only
// positive prices count, and only in-stock ones unless includeOutOfStock is
// set; groups left without a price are dropped.
func AggregateComponentPrices(groups [][]models.PCComponent, includeOutOfStock bool) []models.AggregatedPrice {
	results := make([]models.AggregatedPrice, 0, len(groups))

	for _, group := range groups {
		var valid []models.Price
		for _, c := range group {
			for _, p := range c.Prices {
				if p.Value <= 0 {
					continue
				}
				if !includeOutOfStock && p.Availability != models.InStock {
					continue
				}
				valid = append(valid, p)
			}
		}
		if len(valid) == 0 {
			continue
		}

		lowest := valid[0]
		highest := valid[0].Value
		sum := 0.0
		lastUpdated := valid[0].LastUpdated
		retailers := make([]string, 0, len(valid))
		seen := make(map[string]struct{}, len(valid))

		for _, p := range valid {
			if p.Value < lowest.Value {
				lowest = p
			}
			if p.Value > highest {
				highest = p.Value
			}
			sum += p.Value
			if p.LastUpdated.After(lastUpdated) {
				lastUpdated = p.LastUpdated
			}
			if _, ok := seen[p.Retailer]; !ok {
				seen[p.Retailer] = struct{}{}
				retailers = append(retailers, p.Retailer)
			}
		}

		component := representative(group)
		component.Prices = valid

		results = append(results, models.AggregatedPrice{
			Component:          component,
			LowestPrice:        lowest,
			AveragePrice:       math.Round(sum / float64(len(valid))),
			PriceRange:         models.PriceRange{Min: lowest.Value, Max: highest},
			AvailableRetailers: retailers,
			LastUpdated:        lastUpdated,
		})
	}

	return results
}

// representative is the member with the richest specification map.
func representative(group []models.PCComponent) models.PCComponent {
	best := group[0]
	for _, c := range group[1:] {
		if len(c.Specifications) > len(best.Specifications) {
			best = c
		}
	}
	return best
}
