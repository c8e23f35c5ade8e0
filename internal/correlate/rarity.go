package correlate

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultRarityCacheSize = 8192
	defaultRarityThreshold = 3
)

// RarityTracker counts attribute value occurrences across the event stream
// so cross-entity bridging only triggers on values that are genuinely
// uncommon. Shared infrastructure values (a corporate NAT IP, a standard
// build host) accumulate high counts and stop bridging.
type RarityTracker struct {
	mu        sync.Mutex
	counts    *lru.Cache[string, int]
	threshold int
}

// NewRarityTracker creates a bounded tracker. The cache evicts the least
// recently seen values, which biases retained counts toward active values.
func NewRarityTracker(cacheSize, threshold int) (*RarityTracker, error) {
	if cacheSize <= 0 {
		cacheSize = defaultRarityCacheSize
	}
	if threshold <= 0 {
		threshold = defaultRarityThreshold
	}
	counts, err := lru.New[string, int](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create rarity cache: %w", err)
	}
	return &RarityTracker{counts: counts, threshold: threshold}, nil
}

// Observe records one occurrence of an attribute value.
func (t *RarityTracker) Observe(attribute, value string) {
	if value == "" {
		return
	}
	key := attribute + "=" + value

	t.mu.Lock()
	defer t.mu.Unlock()
	n, _ := t.counts.Get(key)
	t.counts.Add(key, n+1)
}

// IsRare reports whether the value's observed count is at or below the
// rarity threshold. Unseen values are rare.
func (t *RarityTracker) IsRare(attribute, value string) bool {
	if value == "" {
		return false
	}
	key := attribute + "=" + value

	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.counts.Get(key)
	if !ok {
		return true
	}
	return n <= t.threshold
}
