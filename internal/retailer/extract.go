package retailer

import (
	"strings"

	"github.com/maltedev/hardware-price-scraper/internal/models"
)

var knownBrands = []string{
	"Intel", "AMD", "NVIDIA", "ASUS", "MSI", "Gigabyte", "ASRock",
	"Corsair", "Kingston", "Samsung", "Western Digital", "Seagate",
	"Cooler Master", "NZXT", "Thermaltake", "be quiet!", "Noctua",
	"Fractal Design", "Lian Li", "Antec", "Seasonic", "EVGA",
}

// ExtractBrand returns the first known brand mentioned in name, or the first
// word of name.
func ExtractBrand(name string) string {
	lower := strings.ToLower(name)
	for _, brand := range knownBrands {
		if strings.Contains(lower, strings.ToLower(brand)) {
			return brand
		}
	}
	if fields := strings.Fields(name); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// ExtractModel is name without its brand.
func ExtractModel(name, brand string) string {
	if brand == "" {
		return strings.TrimSpace(name)
	}
	lower := strings.ToLower(name)
	if i := strings.Index(lower, strings.ToLower(brand)); i >= 0 && len(lower) == len(name) {
		name = name[:i] + name[i+len(brand):]
	}
	return strings.Join(strings.Fields(name), " ")
}

// ParseAvailability maps a store's stock label. Unknown or empty labels
// count as in stock.
func ParseAvailability(text string) models.Availability {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "нет в наличии"), strings.Contains(lower, "закончился"):
		return models.OutOfStock
	case strings.Contains(lower, "ограничен"), strings.Contains(lower, "мало"):
		return models.Limited
	case strings.Contains(lower, "предзаказ"):
		return models.PreOrder
	default:
		return models.InStock
	}
}

// SplitSpecifications separates the bracketed spec list some stores append
// to titles: "Процессор AMD Ryzen 5 7600 OEM [AM5, 6 x 3.8 ГГц, L3 - 32 МБ]".
// "key - value" entries become map entries; the full list is kept under
// "summary".
func SplitSpecifications(title string) (string, map[string]string) {
	specs := map[string]string{}

	open := strings.Index(title, "[")
	closing := strings.LastIndex(title, "]")
	if open < 0 || closing < open {
		return strings.TrimSpace(title), specs
	}

	name := strings.TrimSpace(title[:open])
	list := strings.TrimSpace(title[open+1 : closing])
	if name == "" {
		return strings.TrimSpace(title), specs
	}
	if list == "" {
		return name, specs
	}

	specs["summary"] = list
	for _, entry := range strings.Split(list, ",") {
		key, value, ok := strings.Cut(entry, " - ")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key != "" && value != "" {
			specs[key] = value
		}
	}
	return name, specs
}
