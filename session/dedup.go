package session

import (
	"fmt"
	"time"

	"github.com/user/auralink/wire"
)

const (
	// dedupHistorySize bounds the recent-history set; oldest entries are
	// evicted once the set exceeds it.
	dedupHistorySize = 512

	// dedupTimeBucket is the coarse time bucket in the dedup key. Retries of
	// the same message land in the same bucket; a genuine repeat minutes
	// later is a new event.
	dedupTimeBucket = time.Minute
)

// recentHistory absorbs the transport's at-least-once delivery and the
// caller-level retry policy of sending unmatch/block several times. Keys are
// (peer identity hash, content fingerprint, coarse time bucket).
type recentHistory struct {
	limit  int
	bucket time.Duration
	order  []string
	seen   map[string]struct{}
}

func newRecentHistory(limit int, bucket time.Duration) *recentHistory {
	return &recentHistory{
		limit:  limit,
		bucket: bucket,
		seen:   make(map[string]struct{}),
	}
}

// Observe records the event and reports whether it was already seen.
// Not safe for concurrent use; the engine serializes access.
func (h *recentHistory) Observe(peer wire.IdentityHash, fingerprint string, at time.Time) bool {
	key := fmt.Sprintf("%s|%s|%d", peer, fingerprint, at.UnixNano()/int64(h.bucket))

	if _, dup := h.seen[key]; dup {
		return true
	}

	h.seen[key] = struct{}{}
	h.order = append(h.order, key)
	if len(h.order) > h.limit {
		oldest := h.order[0]
		h.order = h.order[1:]
		delete(h.seen, oldest)
	}
	return false
}
