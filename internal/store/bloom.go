package store

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// idBloom wraps a bloom.BloomFilter sized for <=1% false positives at the
// cardinality it was built for, per spec.md §4.2's getIdBloomSummary
// contract. Rebuilt wholesale on open, extended incrementally on put.
type idBloom struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	n      uint64
}

func newIDBloom(expectedItems uint) *idBloom {
	return &idBloom{filter: bloom.NewWithEstimates(uint(expectedItems), 0.01)}
}

func (b *idBloom) add(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter.AddString(id)
	b.n++
}

func (b *idBloom) mightContain(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter.TestString(id)
}

func (b *idBloom) summary() BloomSummary {
	b.mu.RLock()
	defer b.mu.RUnlock()
	raw, err := b.filter.MarshalJSON()
	if err != nil {
		raw = nil
	}
	return BloomSummary{
		K:           b.filter.K(),
		Bits:        raw,
		M:           b.filter.Cap(),
		Cardinality: b.n,
	}
}
