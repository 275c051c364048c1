package timeindex

import (
	"regexp"
	"time"
)

// Observation files embed a UTC stamp like ".2017-09-06T120004Z." in their
// names.
var stampRe = regexp.MustCompile(`\.(\d{4}-\d{2}-\d{2}T\d{6})Z\.`)

const stampLayout = "2006-01-02T150405"

// ParseStamp extracts the embedded observation time from a file name.
func ParseStamp(name string) (time.Time, bool) {
	m := stampRe.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(stampLayout, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Stamp formats t the way output map names expect it.
func Stamp(t time.Time) string {
	return t.Format(stampLayout)
}
