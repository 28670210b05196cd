package pushclient

import lru "github.com/hashicorp/golang-lru/v2"

const DefaultDedupSize = 100

// dedup remembers recent message ids. Entries are only ever added, never
// promoted, so eviction is oldest-first.
type dedup struct {
	seen *lru.Cache[string, struct{}]
}

func newDedup(size int) *dedup {
	if size <= 0 {
		size = DefaultDedupSize
	}
	cache, _ := lru.New[string, struct{}](size)
	return &dedup{seen: cache}
}

// observe records id and reports whether it was new. Frames without an id
// cannot be deduplicated and always pass.
func (d *dedup) observe(id string) bool {
	if id == "" {
		return true
	}
	if d.seen.Contains(id) {
		return false
	}
	d.seen.Add(id, struct{}{})
	return true
}
