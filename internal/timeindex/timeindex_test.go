package timeindex

import (
	"testing"
	"time"
)

func at(h, m, s int) time.Time {
	return time.Date(2017, 9, 6, h, m, s, 0, time.UTC)
}

func TestNearest(t *testing.T) {
	ix := Build([]Entry{
		{Time: at(12, 0, 12), Handle: "b"},
		{Time: at(12, 0, 0), Handle: "a"},
	})

	tests := []struct {
		name string
		ref  time.Time
		want string
	}{
		{"before all", at(11, 59, 0), "a"},
		{"after all", at(12, 1, 0), "b"},
		{"closer to first", at(12, 0, 3), "a"},
		{"closer to second", at(12, 0, 9), "b"},
		{"exact hit", at(12, 0, 12), "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := ix.Nearest(tt.ref)
			if !ok {
				t.Fatal("no candidate returned")
			}
			if e.Handle != tt.want {
				t.Errorf("Nearest(%v) = %s, want %s", tt.ref, e.Handle, tt.want)
			}
		})
	}
}

func TestNearestTiePrefersLater(t *testing.T) {
	ix := Build([]Entry{
		{Time: at(12, 0, 0), Handle: "early"},
		{Time: at(12, 0, 12), Handle: "late"},
	})
	// 12:00:06 is equidistant; the entry at or after the reference wins.
	e, ok := ix.Nearest(at(12, 0, 6))
	if !ok || e.Handle != "late" {
		t.Errorf("tie broke to %q, want late", e.Handle)
	}
}

func TestNearestEmpty(t *testing.T) {
	ix := Build(nil)
	if _, ok := ix.Nearest(at(12, 0, 0)); ok {
		t.Error("empty index returned a candidate")
	}
}

func TestMatchAllOrNothing(t *testing.T) {
	set := Set{
		94: Build([]Entry{
			{Time: at(12, 0, 0), Handle: "94a"},
			{Time: at(12, 0, 12), Handle: "94b"},
		}),
		131: Build([]Entry{
			{Time: at(12, 0, 2), Handle: "131a"},
		}),
	}

	m := set.Match(at(12, 0, 0), 5*time.Second, []int{94, 131})
	if m == nil {
		t.Fatal("expected a full match")
	}
	if m[94].Handle != "94a" || m[131].Handle != "131a" {
		t.Errorf("match = %v", m)
	}

	// Channel outside tolerance fails the whole match.
	if m := set.Match(at(12, 0, 12), 5*time.Second, []int{94, 131}); m != nil {
		t.Errorf("expected nil match, got %v", m)
	}

	// Channel with no index at all fails the whole match.
	if m := set.Match(at(12, 0, 0), 5*time.Second, []int{94, 131, 171}); m != nil {
		t.Errorf("expected nil match for missing channel, got %v", m)
	}
}

func TestMatchToleranceBoundary(t *testing.T) {
	set := Set{
		94: Build([]Entry{
			{Time: at(12, 0, 0), Handle: "a"},
			{Time: at(12, 0, 12), Handle: "b"},
		}),
	}
	// Nearest delta from 12:00:06 is 6s, above a 5s tolerance.
	if m := set.Match(at(12, 0, 6), 5*time.Second, []int{94}); m != nil {
		t.Errorf("expected nil match, got %v", m)
	}
	// A delta exactly at tolerance passes.
	if m := set.Match(at(12, 0, 5), 5*time.Second, []int{94}); m == nil {
		t.Error("expected match at tolerance boundary")
	}
	// 12:00:03 matches the earlier entry at delta 3s.
	m := set.Match(at(12, 0, 3), 5*time.Second, []int{94})
	if m == nil || m[94].Handle != "a" {
		t.Errorf("match = %v, want entry a", m)
	}
}

func TestParseStamp(t *testing.T) {
	name := "aia.lev1.094A.2017-09-06T120004Z.image_lev1.npy"
	got, ok := ParseStamp(name)
	if !ok {
		t.Fatal("stamp not found")
	}
	want := time.Date(2017, 9, 6, 12, 0, 4, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ParseStamp = %v, want %v", got, want)
	}
	if Stamp(got) != "2017-09-06T120004" {
		t.Errorf("Stamp = %q", Stamp(got))
	}
	if _, ok := ParseStamp("plain_name.npy"); ok {
		t.Error("matched a name without a stamp")
	}
}

func TestBuildSortsEntries(t *testing.T) {
	ix := Build([]Entry{
		{Time: at(13, 0, 0), Handle: "c"},
		{Time: at(11, 0, 0), Handle: "a"},
		{Time: at(12, 0, 0), Handle: "b"},
	})
	if ix.Len() != 3 {
		t.Fatalf("Len = %d", ix.Len())
	}
	for i, want := range []string{"a", "b", "c"} {
		if ix.At(i).Handle != want {
			t.Errorf("At(%d) = %q, want %q", i, ix.At(i).Handle, want)
		}
	}
}
