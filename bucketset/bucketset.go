// Package bucketset maintains the index of observed buckets and the row
// keys seen in each. Refresh iterates buckets in ascending order and
// windowed sums slice trailing ranges, so the bucket list stays sorted.
package bucketset

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Set is the bucket→keys index for one table. It is process-local state,
// persisted as a JSON snapshot in backend metadata and reloaded on open.
// Single-owner, unsynchronized.
type Set struct {
	buckets []int // ascending
	keys    map[int]map[string]struct{}
}

// New returns an empty index.
func New() *Set {
	return &Set{keys: make(map[int]map[string]struct{})}
}

// Push records key under bucket. It reports whether the (bucket, key) pair
// was previously unseen.
func (s *Set) Push(bucket int, key string) bool {
	ks, seen := s.keys[bucket]
	if !seen {
		ks = make(map[string]struct{})
		s.keys[bucket] = ks
		i := sort.SearchInts(s.buckets, bucket)
		s.buckets = append(s.buckets, 0)
		copy(s.buckets[i+1:], s.buckets[i:])
		s.buckets[i] = bucket
	}
	if _, ok := ks[key]; ok {
		return false
	}
	ks[key] = struct{}{}
	return true
}

// Buckets returns all observed buckets in ascending order.
func (s *Set) Buckets() []int {
	out := make([]int, len(s.buckets))
	copy(out, s.buckets)
	return out
}

// Range returns the observed buckets in the half-open interval [from, to),
// ascending.
func (s *Set) Range(from, to int) []int {
	lo := sort.SearchInts(s.buckets, from)
	hi := sort.SearchInts(s.buckets, to)
	out := make([]int, hi-lo)
	copy(out, s.buckets[lo:hi])
	return out
}

// From returns the observed buckets >= from, ascending.
func (s *Set) From(from int) []int {
	lo := sort.SearchInts(s.buckets, from)
	out := make([]int, len(s.buckets)-lo)
	copy(out, s.buckets[lo:])
	return out
}

// Keys returns the row keys observed in bucket, sorted for deterministic
// iteration. Unknown buckets yield an empty slice.
func (s *Set) Keys(bucket int) []string {
	ks := s.keys[bucket]
	out := make([]string, 0, len(ks))
	for k := range ks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of observed buckets.
func (s *Set) Len() int { return len(s.buckets) }

type snapshot struct {
	Keys map[int][]string `json:"keys"`
}

// MarshalJSON encodes the index for metadata persistence.
func (s *Set) MarshalJSON() ([]byte, error) {
	snap := snapshot{Keys: make(map[int][]string, len(s.keys))}
	for b := range s.keys {
		snap.Keys[b] = s.Keys(b)
	}
	return json.Marshal(snap)
}

// UnmarshalJSON restores an index persisted by MarshalJSON.
func (s *Set) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode bucket index: %w", err)
	}
	*s = *New()
	for b, ks := range snap.Keys {
		for _, k := range ks {
			s.Push(b, k)
		}
	}
	return nil
}
