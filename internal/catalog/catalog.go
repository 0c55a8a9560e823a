// Package catalog holds the fixed set of content items a subscriber can add.
package catalog

import (
	"strconv"
	"strings"

	"github.com/aicollections/billingbot/internal/config"
)

// Item is one addable content.
type Item struct {
	Kind         string
	Name         string
	MonthlyPrice int64
}

type Catalog struct {
	items []Item
}

// Default mirrors the three launch contents.
func Default() Catalog {
	return Catalog{items: []Item{
		{Kind: "ai_schedule", Name: "AI Schedule Assistant", MonthlyPrice: 1500},
		{Kind: "ai_accounting", Name: "AI Accounting Assistant", MonthlyPrice: 1500},
		{Kind: "ai_task", Name: "AI Task Concierge", MonthlyPrice: 1500},
	}}
}

// FromConfig returns the configured catalog: CATALOG_ITEMS as a
// comma-separated list of kind:name:price entries, or the default set when
// unset or malformed.
func FromConfig(cfg config.Config) Catalog {
	if cfg.CatalogItems != "" {
		if parsed, ok := parse(cfg.CatalogItems); ok {
			return Catalog{items: parsed}
		}
	}
	return Default()
}

func parse(raw string) ([]Item, bool) {
	var items []Item
	for _, part := range strings.Split(raw, ",") {
		fields := strings.SplitN(strings.TrimSpace(part), ":", 3)
		if len(fields) < 2 || fields[0] == "" || fields[1] == "" {
			return nil, false
		}
		item := Item{Kind: fields[0], Name: fields[1]}
		if len(fields) == 3 {
			price, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil || price < 0 {
				return nil, false
			}
			item.MonthlyPrice = price
		}
		items = append(items, item)
	}
	return items, len(items) > 0
}

func (c Catalog) Items() []Item {
	return c.items
}

func (c Catalog) Len() int {
	return len(c.items)
}

// ByIndex returns the 1-based item, matching the numbered selection menu.
func (c Catalog) ByIndex(i int) (Item, bool) {
	if i < 1 || i > len(c.items) {
		return Item{}, false
	}
	return c.items[i-1], true
}

func (c Catalog) ByKind(kind string) (Item, bool) {
	for _, item := range c.items {
		if item.Kind == kind {
			return item, true
		}
	}
	return Item{}, false
}
