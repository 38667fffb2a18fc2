package outbreak

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"outbreakcast/ml"
)

// DefaultCacheSize sits well above the number of countries, so in practice
// nothing is ever evicted.
const DefaultCacheSize = 1024

// ModelCache holds loaded classifiers keyed by ModelKey. It is safe for
// concurrent use.
type ModelCache struct {
	entries *lru.Cache[string, ml.Classifier]
}

func NewModelCache(size int) (*ModelCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, ml.Classifier](size)
	if err != nil {
		return nil, fmt.Errorf("create model cache: %w", err)
	}
	return &ModelCache{entries: entries}, nil
}

func (c *ModelCache) Get(key string) (ml.Classifier, bool) {
	return c.entries.Get(key)
}

func (c *ModelCache) Add(key string, model ml.Classifier) {
	c.entries.Add(key, model)
}

func (c *ModelCache) Remove(key string) bool {
	return c.entries.Remove(key)
}

func (c *ModelCache) Purge() {
	c.entries.Purge()
}

func (c *ModelCache) Len() int {
	return c.entries.Len()
}

func (c *ModelCache) Keys() []string {
	return c.entries.Keys()
}
