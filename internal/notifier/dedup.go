package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"agendawatch/internal/storage"
)

const dedupLookupTimeout = 25 * time.Millisecond

// dedupKey identifies a notification for suppression. An explicit Key wins;
// otherwise priority and text are hashed. Empty notifications never dedup.
func dedupKey(n Notification) string {
	h := fnv.New64a()
	switch {
	case strings.TrimSpace(n.Key) != "":
		fmt.Fprintf(h, "key|%s", strings.TrimSpace(n.Key))
	case strings.TrimSpace(n.Text) != "":
		fmt.Fprintf(h, "text|%d|%s", n.Priority, n.Text)
	default:
		return ""
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// suppressor remembers, per key, until when repeats are swallowed. The
// store, when set, carries those deadlines across restarts.
type suppressor struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func newSuppressor() *suppressor {
	return &suppressor{until: make(map[string]time.Time)}
}

// admit reports whether key may go out now and, if so, suppresses it until
// now+window. Capacity is kept by evicting the soonest-expiring keys.
func (d *suppressor) admit(ctx context.Context, key string, window time.Duration, capacity int, st storage.Store) bool {
	now := time.Now()

	d.mu.Lock()
	if now.Before(d.until[key]) {
		d.mu.Unlock()
		return false
	}
	d.mu.Unlock()

	if st != nil {
		lctx, cancel := context.WithTimeout(ctx, dedupLookupTimeout)
		until, ok, err := st.GetDedup(lctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			d.mu.Lock()
			d.until[key] = until
			d.mu.Unlock()
			return false
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.until[key] = now.Add(window)
	d.trimLocked(now, capacity)
	return true
}

func (d *suppressor) deadline(key string) time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.until[key]
}

func (d *suppressor) trimLocked(now time.Time, capacity int) {
	for k, t := range d.until {
		if !now.Before(t) {
			delete(d.until, k)
		}
	}
	for capacity > 0 && len(d.until) > capacity {
		var oldest string
		var at time.Time
		for k, t := range d.until {
			if oldest == "" || t.Before(at) {
				oldest, at = k, t
			}
		}
		delete(d.until, oldest)
	}
}
