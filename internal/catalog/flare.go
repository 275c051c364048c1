package catalog

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// goesOrder ranks the GOES class letters.
var goesOrder = map[byte]int{'A': 0, 'B': 1, 'C': 2, 'M': 3, 'X': 4}

// FlareClass is a GOES classification such as X2.2.
type FlareClass struct {
	Letter    byte
	Magnitude float64
}

// ParseFlareClass decodes a GOES class string. The magnitude defaults to 1.0
// when the string carries only the letter.
func ParseFlareClass(s string) (FlareClass, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return FlareClass{}, fmt.Errorf("empty flare class")
	}
	letter := s[0]
	if _, ok := goesOrder[letter]; !ok {
		return FlareClass{}, fmt.Errorf("unknown GOES class letter %q", string(letter))
	}
	mag := 1.0
	if len(s) > 1 {
		v, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return FlareClass{}, fmt.Errorf("bad flare magnitude in %q", s)
		}
		mag = v
	}
	return FlareClass{Letter: letter, Magnitude: mag}, nil
}

func (c FlareClass) String() string {
	return fmt.Sprintf("%c%.1f", c.Letter, c.Magnitude)
}

// AtLeast reports whether c is as strong as min under GOES ordering
// (A < B < C < M < X, magnitude within a letter).
func (c FlareClass) AtLeast(min FlareClass) bool {
	if goesOrder[c.Letter] != goesOrder[min.Letter] {
		return goesOrder[c.Letter] > goesOrder[min.Letter]
	}
	return c.Magnitude >= min.Magnitude
}

// Flare is one cached flare event.
type Flare struct {
	Class FlareClass
	Start time.Time
}

// EventKey is the event directory name derived from a flare.
func (f Flare) EventKey() string {
	return fmt.Sprintf("%s_%s", f.Class, f.Start.Format("20060102_150405"))
}

var flareTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// LoadFlareCache reads the flare cache TSV. The first line is a header; the
// TSV has grown columns over time, so flare_class and start positions are
// resolved from it. Rows with unparsable values are skipped.
func LoadFlareCache(path string) ([]Flare, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return nil, fmt.Errorf("flare cache %s is empty", path)
	}
	header := strings.Split(sc.Text(), "\t")
	classCol, startCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "flare_class", "class":
			classCol = i
		case "start", "start_time", "event_starttime":
			startCol = i
		}
	}
	if classCol < 0 || startCol < 0 {
		return nil, fmt.Errorf("flare cache %s is missing flare_class/start columns", path)
	}

	var flares []Flare
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) <= classCol || len(fields) <= startCol {
			continue
		}
		class, err := ParseFlareClass(fields[classCol])
		if err != nil {
			continue
		}
		start, ok := parseFlareTime(fields[startCol])
		if !ok {
			continue
		}
		flares = append(flares, Flare{Class: class, Start: start})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return flares, nil
}

func parseFlareTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range flareTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FilterByClass keeps flares at least as strong as min.
func FilterByClass(flares []Flare, min FlareClass) []Flare {
	var out []Flare
	for _, f := range flares {
		if f.Class.AtLeast(min) {
			out = append(out, f)
		}
	}
	return out
}
