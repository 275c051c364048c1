package solver

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Ratio file lines come in two shapes. The inline form carries the channel
// and a "ratio = x" assignment anywhere on the line; the pair form is just
// channel and value separated by comma, space or tab.
var (
	ratioInlineRe = regexp.MustCompile(`(?i)(\d+).*?ratio\s*=\s*([-+0-9.eE]+)`)
	ratioPairRe   = regexp.MustCompile(`^\s*(\d+)\s*[, \t]\s*([-+0-9.eE]+)`)
)

// LoadRatioFile parses per-channel correction ratios. Blank lines and lines
// starting with # are skipped; the inline form wins when both shapes match.
func LoadRatioFile(path string) (map[int]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ratios := make(map[int]float64)
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := ratioInlineRe.FindStringSubmatch(line)
		if m == nil {
			m = ratioPairRe.FindStringSubmatch(line)
		}
		if m == nil {
			continue
		}
		ch, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad ratio value %q", path, lineNo, m[2])
		}
		ratios[ch] = v
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(ratios) == 0 {
		return nil, fmt.Errorf("no channel ratios found in %s", path)
	}
	return ratios, nil
}

// ResolveRatios pulls the ratio for each listed channel, failing on any
// channel the map does not cover or any non-positive value.
func ResolveRatios(ratios map[int]float64, channels []int) ([]float64, error) {
	out := make([]float64, len(channels))
	for i, ch := range channels {
		v, ok := ratios[ch]
		if !ok {
			return nil, fmt.Errorf("channel %d: %w", ch, ErrMissingRatio)
		}
		if v <= 0 {
			return nil, fmt.Errorf("channel %d has ratio %g: %w", ch, v, ErrInvalidRatio)
		}
		out[i] = v
	}
	return out, nil
}

// ApplyRatios divides each weight by its channel's correction ratio and
// returns the corrected solution. sol is unchanged.
func ApplyRatios(sol *Solution, ratios map[int]float64) (*Solution, error) {
	r, err := ResolveRatios(ratios, sol.Channels)
	if err != nil {
		return nil, err
	}
	w := make([]float64, len(sol.Weights))
	for i, v := range sol.Weights {
		w[i] = v / r[i]
	}
	out := *sol
	out.Weights = w
	return &out, nil
}

// ApplyRatiosMulti applies the same per-channel correction to every bin row.
// ms is unchanged.
func ApplyRatiosMulti(ms *MultiSolution, ratios map[int]float64) (*MultiSolution, error) {
	r, err := ResolveRatios(ratios, ms.Channels)
	if err != nil {
		return nil, err
	}
	weights := make([][]float64, len(ms.Weights))
	for b, row := range ms.Weights {
		w := make([]float64, len(row))
		for i, v := range row {
			w[i] = v / r[i]
		}
		weights[b] = w
	}
	return &MultiSolution{
		Bins:     append([]float64(nil), ms.Bins...),
		Channels: append([]int(nil), ms.Channels...),
		Weights:  weights,
	}, nil
}
