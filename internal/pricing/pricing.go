// Package pricing holds the latest-price-per-asset table. The price runner
// is the only writer; trade/close processing and the HTTP read surface read
// point-in-time copies.
package pricing

import (
	"sync"

	"github.com/voltex/trade-engine/internal/model"
)

// Table caches the most recent PriceSample per asset. Applying a sample
// unconditionally overwrites the previous one; no history is kept.
type Table struct {
	mu      sync.RWMutex
	samples map[string]model.PriceSample
}

// NewTable creates an empty price table.
func NewTable() *Table {
	return &Table{samples: make(map[string]model.PriceSample)}
}

// Apply overwrites the asset's latest sample.
func (t *Table) Apply(sample model.PriceSample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples[sample.Asset] = sample
}

// Get returns the latest sample for an asset. The second return value is
// false when no sample has ever been applied for the asset.
func (t *Table) Get(asset string) (model.PriceSample, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.samples[asset]
	return s, ok
}

// Assets returns the symbols currently present in the table.
func (t *Table) Assets() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	assets := make([]string, 0, len(t.samples))
	for a := range t.samples {
		assets = append(assets, a)
	}
	return assets
}
