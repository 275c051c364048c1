// Package catalog inventories the frame archive: per-file records for
// database and Parquet export, cross-event overlap reports, and the flare
// event cache.
package catalog

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pocky-solar/dem-pipeline/internal/fitsio"
	"github.com/pocky-solar/dem-pipeline/internal/timeindex"
)

// stampRe matches a bare observation stamp anywhere in a file name. Unlike
// the frame matcher it does not require the surrounding dots, so it also
// catches derived products.
var stampRe = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}T\d{6})`)

// Frame is one archive file record.
type Frame struct {
	Event    string
	Channel  int
	Time     time.Time
	Path     string
	Exposure float64 // 0 when no header was readable
	Kind     string  // fits, npy or npy.gz
}

// ExtractStamp pulls the observation stamp text out of a file name.
func ExtractStamp(name string) (string, bool) {
	m := stampRe.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func fileKind(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".fits"):
		return "fits"
	case strings.HasSuffix(lower, ".npy.gz"):
		return "npy.gz"
	case strings.HasSuffix(lower, ".npy"):
		return "npy"
	}
	return ""
}

// ScanOptions controls archive scanning.
type ScanOptions struct {
	// ReadExposure opens FITS headers to record EXPTIME. Array files
	// always report exposure 0.
	ReadExposure bool
}

// Scan walks the event tree under root and returns one record per frame
// file. Events follow the same skip rules as the map builder: all-digit
// directory names and events without channel subdirectories are ignored.
func Scan(root string, opts ScanOptions) ([]Frame, error) {
	events, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var frames []Frame
	for _, ev := range events {
		if !ev.IsDir() || isAllDigits(ev.Name()) {
			continue
		}
		eventDir := filepath.Join(root, ev.Name())
		channels, err := os.ReadDir(eventDir)
		if err != nil {
			continue
		}
		for _, chDir := range channels {
			if !chDir.IsDir() {
				continue
			}
			ch, err := strconv.Atoi(chDir.Name())
			if err != nil {
				continue
			}
			files, err := os.ReadDir(filepath.Join(eventDir, chDir.Name()))
			if err != nil {
				continue
			}
			for _, f := range files {
				if f.IsDir() {
					continue
				}
				kind := fileKind(f.Name())
				if kind == "" {
					continue
				}
				t, ok := timeindex.ParseStamp(f.Name())
				if !ok {
					continue
				}
				path := filepath.Join(eventDir, chDir.Name(), f.Name())
				frame := Frame{
					Event:   ev.Name(),
					Channel: ch,
					Time:    t,
					Path:    path,
					Kind:    kind,
				}
				if opts.ReadExposure && kind == "fits" {
					if hdr, err := fitsio.ReadHeader(path); err == nil {
						if exp, ok := hdr.Exposure(); ok {
							frame.Exposure = exp
						}
					}
				}
				frames = append(frames, frame)
			}
		}
	}
	sort.Slice(frames, func(i, j int) bool {
		if frames[i].Event != frames[j].Event {
			return frames[i].Event < frames[j].Event
		}
		if frames[i].Channel != frames[j].Channel {
			return frames[i].Channel < frames[j].Channel
		}
		return frames[i].Time.Before(frames[j].Time)
	})
	return frames, nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Overlap is one timestamp shared by several events.
type Overlap struct {
	Stamp  string
	Events []string // sorted
}

// Overlaps reports stamps that appear in at least minCount events, ordered
// by descending event count and then by stamp.
func Overlaps(frames []Frame, minCount int) []Overlap {
	seen := make(map[string]map[string]bool)
	for _, f := range frames {
		stamp := timeindex.Stamp(f.Time)
		if seen[stamp] == nil {
			seen[stamp] = make(map[string]bool)
		}
		seen[stamp][f.Event] = true
	}
	var out []Overlap
	for stamp, events := range seen {
		if len(events) < minCount {
			continue
		}
		names := make([]string, 0, len(events))
		for ev := range events {
			names = append(names, ev)
		}
		sort.Strings(names)
		out = append(out, Overlap{Stamp: stamp, Events: names})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Events) != len(out[j].Events) {
			return len(out[i].Events) > len(out[j].Events)
		}
		return out[i].Stamp < out[j].Stamp
	})
	return out
}

// Format renders one overlap line, capping the event list at maxEvents.
func (o Overlap) Format(maxEvents int) string {
	shown := o.Events
	suffix := ""
	if maxEvents > 0 && len(shown) > maxEvents {
		suffix = " (+" + strconv.Itoa(len(shown)-maxEvents) + " more)"
		shown = shown[:maxEvents]
	}
	return o.Stamp + "  count=" + strconv.Itoa(len(o.Events)) + "  " +
		strings.Join(shown, ", ") + suffix
}
