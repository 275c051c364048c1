// Package demmap combines aligned multi-channel frames into scalar proxy
// maps and drives the per-event processing loop.
package demmap

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pocky-solar/dem-pipeline/internal/fitsio"
	"github.com/pocky-solar/dem-pipeline/internal/npy"
	"github.com/pocky-solar/dem-pipeline/internal/timeindex"
)

// frameExts are the channel file kinds the scanner accepts.
var frameExts = []string{".fits", ".npy", ".npy.gz"}

func hasFrameExt(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range frameExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// frameStem strips the frame extension for header lookups.
func frameStem(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range frameExts {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

// ReadFrame loads one channel frame as float64 pixels. FITS inputs also
// return their header; array inputs return a nil header.
func ReadFrame(path string) (*npy.Array, *fitsio.Header, error) {
	if strings.HasSuffix(strings.ToLower(path), ".fits") {
		img, err := fitsio.Read(path)
		if err != nil {
			return nil, nil, err
		}
		return img.Data, img.Header, nil
	}
	arr, err := npy.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return arr, nil, nil
}

// FindHeaderPath resolves the FITS file carrying instrument metadata for a
// data frame. FITS inputs are their own header source. Array inputs look for
// a same-stem FITS under the primary header root, then a stem-prefixed
// sibling, then repeat under the fallback root.
func FindHeaderPath(dataPath, fitsRoot, fallbackRoot, event string, channel int) string {
	if strings.HasSuffix(strings.ToLower(dataPath), ".fits") {
		return dataPath
	}
	stem := frameStem(filepath.Base(dataPath))
	for _, root := range []string{fitsRoot, fallbackRoot} {
		if root == "" {
			continue
		}
		dir := filepath.Join(root, event, strconv.Itoa(channel))
		exact := filepath.Join(dir, stem+".fits")
		if _, err := os.Stat(exact); err == nil {
			return exact
		}
		matches, _ := filepath.Glob(filepath.Join(dir, stem+"*.fits"))
		if len(matches) > 0 {
			sort.Strings(matches)
			return matches[0]
		}
	}
	return ""
}

// ScanChannel builds the time index for one event channel directory.
// Files without a parsable stamp are ignored.
func ScanChannel(dir string) (*timeindex.Index, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var idx []timeindex.Entry
	for _, e := range entries {
		if e.IsDir() || !hasFrameExt(e.Name()) {
			continue
		}
		t, ok := timeindex.ParseStamp(e.Name())
		if !ok {
			continue
		}
		idx = append(idx, timeindex.Entry{Time: t, Handle: filepath.Join(dir, e.Name())})
	}
	return timeindex.Build(idx), nil
}

// ScanEvent builds indexes for every requested channel that has a
// subdirectory under eventDir. Channels without one are simply absent from
// the returned set.
func ScanEvent(eventDir string, channels []int) (timeindex.Set, error) {
	set := make(timeindex.Set)
	for _, ch := range channels {
		dir := filepath.Join(eventDir, strconv.Itoa(ch))
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		ix, err := ScanChannel(dir)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", dir, err)
		}
		if ix.Len() > 0 {
			set[ch] = ix
		}
	}
	return set, nil
}

// ListEvents returns the event directory names under root in sorted order.
// All-digit names are channel directories that leaked up a level; names
// without any subdirectory hold no channel data. Both are skipped.
func ListEvents(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var events []string
	for _, e := range entries {
		if !e.IsDir() || isAllDigits(e.Name()) {
			continue
		}
		children, err := os.ReadDir(filepath.Join(root, e.Name()))
		if err != nil {
			continue
		}
		hasSub := false
		for _, c := range children {
			if c.IsDir() {
				hasSub = true
				break
			}
		}
		if hasSub {
			events = append(events, e.Name())
		}
	}
	sort.Strings(events)
	return events, nil
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
