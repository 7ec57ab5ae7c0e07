package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mapping holds the per kind reconciliation settings shared by the Lambda and local runs.
type Mapping struct {
	// ChunkSize is the number of values sent per target call. Zero uses the default.
	ChunkSize int `yaml:"chunk_size"`

	// Orders controls the order synchronization.
	Orders OrderMapping `yaml:"orders"`

	// Prices controls the price synchronization.
	Prices PriceMapping `yaml:"prices"`

	// Stocks controls the stock synchronization.
	Stocks StockMapping `yaml:"stocks"`
}

// OrderMapping controls how Ozon postings become MoySklad customer orders.
type OrderMapping struct {
	// Additional is the MoySklad custom field holding the posting number.
	Additional string `yaml:"additional"`

	// Create enables creating customer orders.
	Create bool `yaml:"create"`

	// Statuses maps Ozon posting statuses onto MoySklad state ids.
	Statuses map[string]string `yaml:"statuses"`

	// Update enables updating matched customer orders.
	Update bool `yaml:"update"`
}

// PriceMapping controls how MoySklad sale prices become Ozon prices.
type PriceMapping struct {
	// Types maps MoySklad price type ids onto Ozon price ids.
	Types map[string]string `yaml:"types"`

	// Update enables writing prices.
	Update bool `yaml:"update"`
}

// StockMapping controls how MoySklad store stock becomes Ozon warehouse stock.
type StockMapping struct {
	// DefaultWarehouse receives the stock of unmapped stores. Empty drops it.
	DefaultWarehouse string `yaml:"default_warehouse"`

	// Update enables writing stock.
	Update bool `yaml:"update"`

	// Warehouses maps Ozon warehouse ids onto the MoySklad store ids folded into them.
	Warehouses map[string][]string `yaml:"warehouses"`
}

// defaultMapping returns a mapping with every write enabled and nothing mapped.
func defaultMapping() Mapping {
	return Mapping{
		Orders: OrderMapping{Create: true, Update: true},
		Prices: PriceMapping{Update: true},
		Stocks: StockMapping{Update: true},
	}
}

// ParseMapping decodes a YAML (or JSON) mapping on top of the defaults.
func ParseMapping(data string) (Mapping, error) {
	m := defaultMapping()
	if strings.TrimSpace(data) == "" {
		return m, nil
	}
	if err := yaml.Unmarshal([]byte(data), &m); err != nil {
		return Mapping{}, fmt.Errorf("parsing mapping: %w", err)
	}
	if err := m.validate(); err != nil {
		return Mapping{}, err
	}
	return m, nil
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (m *Mapping) validate() error {
	var errs []error

	if m.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("chunk_size must not be negative, got %d", m.ChunkSize))
	}

	seen := make(map[string]string)
	for _, target := range SortedKeys(m.Stocks.Warehouses) {
		for _, source := range m.Stocks.Warehouses[target] {
			if prev, ok := seen[source]; ok {
				errs = append(errs, fmt.Errorf("store %s is mapped to warehouses %s and %s", source, prev, target))
				continue
			}
			seen[source] = target
		}
	}

	for _, source := range SortedKeys(m.Prices.Types) {
		if m.Prices.Types[source] == "" {
			errs = append(errs, fmt.Errorf("price type %s has no target", source))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid mapping: %w", errors.Join(errs...))
	}
	return nil
}
