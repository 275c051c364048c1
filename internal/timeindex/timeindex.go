// Package timeindex matches per-channel imaging time series against
// reference timestamps.
//
// Each channel's frames form a sorted Index; Match picks, for every required
// channel, the frame nearest to a reference time and rejects the whole frame
// when any channel misses the tolerance. Matching is a pure function of the
// index contents, so frames can be processed on any number of workers with
// identical results.
package timeindex

import (
	"sort"
	"time"
)

// Entry is one time-stamped item of a channel series. Handle is opaque to
// this package (the pipeline stores file paths in it).
type Entry struct {
	Time   time.Time
	Handle string
}

// Index is an immutable, time-ordered sequence of entries for one channel.
type Index struct {
	entries []Entry
}

// Build sorts entries ascending by timestamp. The sort is stable, so items
// with equal timestamps keep their encounter order. Empty input yields an
// empty index.
func Build(entries []Entry) *Index {
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})
	return &Index{entries: sorted}
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int { return len(ix.entries) }

// Entries returns the ordered entries. Callers must not modify the slice.
func (ix *Index) Entries() []Entry { return ix.entries }

// At returns the i-th entry in time order.
func (ix *Index) At(i int) Entry { return ix.entries[i] }

// Nearest returns the entry closest in time to ref. When two entries are
// equally close, the one at or after ref wins: the insertion-point candidate
// is evaluated first and later candidates must be strictly closer to replace
// it. The second return is false for an empty index.
func (ix *Index) Nearest(ref time.Time) (Entry, bool) {
	if len(ix.entries) == 0 {
		return Entry{}, false
	}
	idx := sort.Search(len(ix.entries), func(i int) bool {
		return !ix.entries[i].Time.Before(ref)
	})

	var best Entry
	bestDelta := time.Duration(-1)
	for _, i := range []int{idx, idx - 1} {
		if i < 0 || i >= len(ix.entries) {
			continue
		}
		d := absDelta(ix.entries[i].Time, ref)
		if bestDelta < 0 || d < bestDelta {
			best = ix.entries[i]
			bestDelta = d
		}
	}
	return best, true
}

func absDelta(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}

// Set holds one Index per channel.
type Set map[int]*Index

// Match resolves every channel in channels against ref. The result is
// all-or-nothing: a channel with no index, an empty index, or a nearest
// entry farther than tol from ref discards the whole match. A tolerance
// of zero (or less) only admits exact timestamp matches.
func (s Set) Match(ref time.Time, tol time.Duration, channels []int) map[int]Entry {
	matched := make(map[int]Entry, len(channels))
	for _, ch := range channels {
		ix, ok := s[ch]
		if !ok {
			return nil
		}
		e, ok := ix.Nearest(ref)
		if !ok {
			return nil
		}
		if absDelta(e.Time, ref) > tol {
			return nil
		}
		matched[ch] = e
	}
	return matched
}
