package memory

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/basegraph-labs/orchestrator/internal/domain"
)

// recordCache is a read-through, write-invalidated cache of memory records
// keyed by recordId. It exists purely to cut repeated SELECTs for hot
// records; correctness never depends on it — every path that mutates a
// record invalidates it here before returning, and a cache miss always
// falls back to the store.
type recordCache struct {
	cache *lru.LRU[string, domain.MemoryRecord]
}

func newRecordCache(size int, ttl time.Duration) *recordCache {
	return &recordCache{cache: lru.NewLRU[string, domain.MemoryRecord](size, nil, ttl)}
}

func (c *recordCache) get(recordID string) (domain.MemoryRecord, bool) {
	rec, ok := c.cache.Get(recordID)
	if !ok {
		return domain.MemoryRecord{}, false
	}
	return rec.Clone(), true
}

func (c *recordCache) put(record domain.MemoryRecord) {
	c.cache.Add(record.RecordID, record.Clone())
}

func (c *recordCache) invalidate(recordID string) {
	c.cache.Remove(recordID)
}
