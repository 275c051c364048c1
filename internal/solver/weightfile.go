package solver

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// SingleWeights is the decoded single-bin weight file.
type SingleWeights struct {
	LogT      float64
	DeltaLogT float64 // 0 means auto
	PerLogT   bool
	Ridge     float64
	NonNeg    bool
	Scale     float64
	Channels  []int
	Weights   []float64
}

// MultiWeights is the decoded multi-bin weight file, one weight row per bin.
type MultiWeights struct {
	Bins      []float64
	Channels  []int
	DeltaLogT float64 // 0 means auto
	PerLogT   bool
	Ridge     float64
	NonNeg    bool
	Gaussian  bool
	Normalize string
	Sigmas    []float64
	GaussMin  float64 // 0 means auto
	GaussMax  float64
	GaussStep float64
	Ratios    map[int]float64 // nil when no correction was applied
	Weights   [][]float64     // [bin][channel]
}

// WeightFile is the decoded form of a weight text file. Exactly one of
// Single and Multi is set; the variant is decided by the metadata lines and,
// failing that, by the shape of the data rows.
type WeightFile struct {
	Single *SingleWeights
	Multi  *MultiWeights
}

func parseBoolLax(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func parseFloatList(s string) []float64 {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if v, err := strconv.ParseFloat(part, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func parseIntList(s string) []int {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if v, err := strconv.Atoi(part); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// LoadWeightFile reads either weight file shape. Metadata keys classify the
// variant up front (mode=, logt_list=); otherwise 3-column rows force the
// multi shape. Channel and bin sets are inferred from the data rows when the
// metadata omits them.
func LoadWeightFile(path string) (*WeightFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	single := &SingleWeights{}
	multi := &MultiWeights{}
	isMulti := false
	type multiRow struct {
		logT   float64
		ch     int
		weight float64
	}
	var multiRows []multiRow

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "channels,weights" || line == "logt,channel,weight" {
			continue
		}
		if key, val, ok := strings.Cut(line, "="); ok && !strings.Contains(key, ",") {
			val = strings.TrimSpace(val)
			switch strings.TrimSpace(key) {
			case "logt":
				single.LogT, _ = strconv.ParseFloat(val, 64)
			case "logt_list":
				multi.Bins = parseFloatList(val)
				isMulti = true
			case "channels":
				multi.Channels = parseIntList(val)
			case "delta_logt":
				if val != "auto" {
					d, _ := strconv.ParseFloat(val, 64)
					single.DeltaLogT, multi.DeltaLogT = d, d
				}
			case "dem_per_logt":
				b := parseBoolLax(val)
				single.PerLogT, multi.PerLogT = b, b
			case "ridge":
				r, _ := strconv.ParseFloat(val, 64)
				single.Ridge, multi.Ridge = r, r
			case "nonneg":
				b := parseBoolLax(val)
				single.NonNeg, multi.NonNeg = b, b
			case "scale":
				single.Scale, _ = strconv.ParseFloat(val, 64)
			case "mode":
				if val == "gaussian" {
					multi.Gaussian = true
					isMulti = true
				}
			case "normalize":
				multi.Normalize = val
			case "sigmas":
				multi.Sigmas = parseFloatList(val)
			case "gauss_min":
				multi.GaussMin, _ = strconv.ParseFloat(val, 64)
			case "gauss_max":
				multi.GaussMax, _ = strconv.ParseFloat(val, 64)
			case "gauss_step":
				multi.GaussStep, _ = strconv.ParseFloat(val, 64)
			case "ratio_mode":
				// informational; the ratios= line carries the values
			case "ratios":
				multi.Ratios = make(map[int]float64)
				for _, pair := range strings.Split(val, ",") {
					chStr, vStr, ok := strings.Cut(pair, ":")
					if !ok {
						continue
					}
					ch, err1 := strconv.Atoi(strings.TrimSpace(chStr))
					v, err2 := strconv.ParseFloat(strings.TrimSpace(vStr), 64)
					if err1 == nil && err2 == nil {
						multi.Ratios[ch] = v
					}
				}
			}
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		switch len(parts) {
		case 2:
			ch, err1 := strconv.Atoi(parts[0])
			w, err2 := strconv.ParseFloat(parts[1], 64)
			if err1 == nil && err2 == nil {
				single.Channels = append(single.Channels, ch)
				single.Weights = append(single.Weights, w)
			}
		case 3:
			lt, err1 := strconv.ParseFloat(parts[0], 64)
			ch, err2 := strconv.Atoi(parts[1])
			w, err3 := strconv.ParseFloat(parts[2], 64)
			if err1 == nil && err2 == nil && err3 == nil {
				multiRows = append(multiRows, multiRow{lt, ch, w})
				isMulti = true
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if isMulti {
		if len(multiRows) == 0 {
			return nil, fmt.Errorf("no weight rows in %s", path)
		}
		if len(multi.Channels) == 0 {
			seen := make(map[int]bool)
			for _, r := range multiRows {
				if !seen[r.ch] {
					seen[r.ch] = true
					multi.Channels = append(multi.Channels, r.ch)
				}
			}
			sort.Ints(multi.Channels)
		}
		if len(multi.Bins) == 0 {
			seen := make(map[float64]bool)
			for _, r := range multiRows {
				if !seen[r.logT] {
					seen[r.logT] = true
					multi.Bins = append(multi.Bins, r.logT)
				}
			}
			sortFloats(multi.Bins)
		}
		binIdx := make(map[float64]int, len(multi.Bins))
		for i, b := range multi.Bins {
			binIdx[b] = i
		}
		chIdx := make(map[int]int, len(multi.Channels))
		for i, ch := range multi.Channels {
			chIdx[ch] = i
		}
		multi.Weights = make([][]float64, len(multi.Bins))
		for i := range multi.Weights {
			multi.Weights[i] = make([]float64, len(multi.Channels))
		}
		for _, r := range multiRows {
			b, okB := binIdx[r.logT]
			c, okC := chIdx[r.ch]
			if okB && okC {
				multi.Weights[b][c] = r.weight
			}
		}
		return &WeightFile{Multi: multi}, nil
	}

	if len(single.Channels) == 0 {
		return nil, fmt.Errorf("no weights found in %s", path)
	}
	return &WeightFile{Single: single}, nil
}

func formatDelta(delta float64) string {
	if delta <= 0 {
		return "auto"
	}
	return strconv.FormatFloat(delta, 'g', -1, 64)
}

// SaveSingle writes the single-bin shape.
func SaveSingle(path string, sw *SingleWeights) error {
	var b strings.Builder
	fmt.Fprintf(&b, "logt=%g\n", sw.LogT)
	fmt.Fprintf(&b, "delta_logt=%s\n", formatDelta(sw.DeltaLogT))
	fmt.Fprintf(&b, "dem_per_logt=%t\n", sw.PerLogT)
	fmt.Fprintf(&b, "ridge=%g\n", sw.Ridge)
	fmt.Fprintf(&b, "nonneg=%t\n", sw.NonNeg)
	fmt.Fprintf(&b, "scale=%.8e\n", sw.Scale)
	b.WriteString("channels,weights\n")
	for i, ch := range sw.Channels {
		fmt.Fprintf(&b, "%d,%.8e\n", ch, sw.Weights[i])
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// SaveMulti writes the multi-bin shape, with Gaussian-basis metadata and
// applied ratios when present.
func SaveMulti(path string, mw *MultiWeights) error {
	var b strings.Builder
	parts := make([]string, len(mw.Bins))
	for i, v := range mw.Bins {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	fmt.Fprintf(&b, "logt_list=%s\n", strings.Join(parts, ","))
	fmt.Fprintf(&b, "delta_logt=%s\n", formatDelta(mw.DeltaLogT))
	fmt.Fprintf(&b, "dem_per_logt=%t\n", mw.PerLogT)
	fmt.Fprintf(&b, "ridge=%g\n", mw.Ridge)
	fmt.Fprintf(&b, "nonneg=%t\n", mw.NonNeg)
	chParts := make([]string, len(mw.Channels))
	for i, ch := range mw.Channels {
		chParts[i] = strconv.Itoa(ch)
	}
	fmt.Fprintf(&b, "channels=%s\n", strings.Join(chParts, ","))
	if mw.Gaussian {
		b.WriteString("mode=gaussian\n")
		fmt.Fprintf(&b, "normalize=%s\n", mw.Normalize)
		sp := make([]string, len(mw.Sigmas))
		for i, s := range mw.Sigmas {
			sp[i] = strconv.FormatFloat(s, 'g', -1, 64)
		}
		fmt.Fprintf(&b, "sigmas=%s\n", strings.Join(sp, ","))
		fmt.Fprintf(&b, "gauss_min=%s\n", formatAuto(mw.GaussMin))
		fmt.Fprintf(&b, "gauss_max=%s\n", formatAuto(mw.GaussMax))
		fmt.Fprintf(&b, "gauss_step=%s\n", formatAuto(mw.GaussStep))
	}
	if mw.Ratios != nil {
		b.WriteString("ratio_mode=per-channel\n")
		rp := make([]string, 0, len(mw.Channels))
		for _, ch := range mw.Channels {
			if v, ok := mw.Ratios[ch]; ok {
				rp = append(rp, fmt.Sprintf("%d:%.8e", ch, v))
			}
		}
		fmt.Fprintf(&b, "ratios=%s\n", strings.Join(rp, ","))
	}
	b.WriteString("logt,channel,weight\n")
	for bi, bin := range mw.Bins {
		for ci, ch := range mw.Channels {
			fmt.Fprintf(&b, "%g,%d,%.8e\n", bin, ch, mw.Weights[bi][ci])
		}
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func formatAuto(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
