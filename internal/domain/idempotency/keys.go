// Package idempotency tracks operation keys that have already produced an
// effect, so retried client calls do not repeat it.
//
// Two layers exist. The key lists embedded on an aggregate (HasProcessed,
// RecordProcessed, Prune) are bounded and TTL-pruned. The Redis Store
// reserves a key before any side effect runs, which closes the window
// between checking a list and appending to it.
package idempotency

import (
	"sort"
	"time"
)

const (
	// MaxEntries bounds each key list.
	MaxEntries = 50
	// TTL is how long a key keeps deduplicating.
	TTL = 90 * 24 * time.Hour
)

// Class separates key spaces on the same aggregate.
type Class string

const (
	ClassImport        Class = "import"
	ClassCreditRequest Class = "credit_request"
)

// Entry is one recorded key.
type Entry struct {
	Key     string    `bson:"key" json:"key"`
	AddedAt time.Time `bson:"added_at" json:"added_at"`
}

// HasProcessed reports whether key is in list. An empty key never matches.
func HasProcessed(list []Entry, key string) bool {
	if key == "" {
		return false
	}
	for _, e := range list {
		if e.Key == key {
			return true
		}
	}
	return false
}

// RecordProcessed returns a new list with key appended and pruned.
func RecordProcessed(list []Entry, key string, now time.Time) []Entry {
	next := make([]Entry, 0, len(list)+1)
	next = append(next, list...)
	if key != "" {
		next = append(next, Entry{Key: key, AddedAt: now})
	}
	return Prune(next, now)
}

// Prune drops entries older than TTL and keeps the newest MaxEntries.
// The result is ordered oldest first.
func Prune(list []Entry, now time.Time) []Entry {
	cutoff := now.Add(-TTL)

	kept := make([]Entry, 0, len(list))
	for _, e := range list {
		if !e.AddedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].AddedAt.Before(kept[j].AddedAt)
	})

	if len(kept) > MaxEntries {
		kept = kept[len(kept)-MaxEntries:]
	}
	return kept
}
