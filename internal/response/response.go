// Package response holds the instrument temperature-response table shared by
// the weight solver and the map builders.
//
// The table maps (log-temperature sample, channel) to a response value. It is
// built once per run and read-only afterwards, so it can be shared freely
// across workers.
package response

import (
	"fmt"
	"math"
	"sort"

	"github.com/pocky-solar/dem-pipeline/internal/npy"
)

// Table is an immutable response lookup grid.
type Table struct {
	LogT     []float64 // ascending unless the source archive was unsorted
	Channels []int
	// Response[i][j] is the response of Channels[j] at LogT[i].
	Response *npy.Array
}

// New validates the grid shape and channel uniqueness.
func New(logT []float64, channels []int, resp *npy.Array) (*Table, error) {
	if len(resp.Shape) != 2 || resp.Shape[0] != len(logT) {
		return nil, fmt.Errorf("response table has unexpected shape %v for %d logT samples",
			resp.Shape, len(logT))
	}
	if resp.Shape[1] != len(channels) {
		return nil, fmt.Errorf("response table has %d columns for %d channels",
			resp.Shape[1], len(channels))
	}
	seen := make(map[int]bool, len(channels))
	for _, ch := range channels {
		if seen[ch] {
			return nil, fmt.Errorf("duplicate channel %d in response table", ch)
		}
		seen[ch] = true
	}
	return &Table{LogT: logT, Channels: channels, Response: resp}, nil
}

// LoadNpz reads a saved response archive (logt, channels, response entries;
// a temperature entry may be present and is ignored).
func LoadNpz(path string) (*Table, error) {
	arrays, err := npy.ReadNpz(path)
	if err != nil {
		return nil, err
	}
	logT, ok := arrays["logt"]
	if !ok {
		return nil, fmt.Errorf("response archive %s is missing logt", path)
	}
	channels, ok := arrays["channels"]
	if !ok {
		return nil, fmt.Errorf("response archive %s is missing channels", path)
	}
	resp, ok := arrays["response"]
	if !ok {
		return nil, fmt.Errorf("response archive %s is missing response", path)
	}
	return New(logT.Data, channels.Ints(), resp)
}

// SaveNpz writes the archive form, including the derived linear temperature
// axis for compatibility with older consumers.
func (t *Table) SaveNpz(path string) error {
	temp := npy.NewArray(len(t.LogT))
	for i, lt := range t.LogT {
		temp.Data[i] = math.Pow(10, lt)
	}
	chArr := npy.NewArray(len(t.Channels))
	for i, ch := range t.Channels {
		chArr.Data[i] = float64(ch)
	}
	logArr := &npy.Array{Shape: []int{len(t.LogT)}, Data: t.LogT}
	return npy.WriteNpz(path, []npy.NpzEntry{
		{Name: "logt", Array: logArr},
		{Name: "temperature", Array: temp},
		{Name: "channels", Array: chArr, Int: true},
		{Name: "response", Array: t.Response},
	})
}

// ChannelIndex returns the column of ch, or an error when the table does not
// carry it. A missing channel is a configuration error: callers fail before
// any frame processing starts.
func (t *Table) ChannelIndex(ch int) (int, error) {
	for j, c := range t.Channels {
		if c == ch {
			return j, nil
		}
	}
	return 0, fmt.Errorf("channel %d not in response table", ch)
}

// Column returns a copy of the response samples for column j.
func (t *Table) Column(j int) []float64 {
	out := make([]float64, len(t.LogT))
	for i := range out {
		out[i] = t.Response.At(i, j)
	}
	return out
}

// At interpolates the response of ch at logT0.
func (t *Table) At(logT0 float64, ch int) (float64, error) {
	j, err := t.ChannelIndex(ch)
	if err != nil {
		return 0, err
	}
	return Interp(logT0, t.LogT, t.Column(j)), nil
}

// Sample interpolates the response of every listed channel at logT0.
func (t *Table) Sample(logT0 float64, channels []int) ([]float64, error) {
	out := make([]float64, len(channels))
	for i, ch := range channels {
		v, err := t.At(logT0, ch)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// MedianSpacing returns the median step of the logT grid. At least two
// samples are required.
func (t *Table) MedianSpacing() (float64, error) {
	if len(t.LogT) < 2 {
		return 0, fmt.Errorf("need at least 2 logT points to infer delta_logt")
	}
	diffs := make([]float64, len(t.LogT)-1)
	for i := range diffs {
		diffs[i] = t.LogT[i+1] - t.LogT[i]
	}
	sort.Float64s(diffs)
	n := len(diffs)
	if n%2 == 1 {
		return diffs[n/2], nil
	}
	return 0.5 * (diffs[n/2-1] + diffs[n/2]), nil
}

// SortByLogT returns a table with the temperature axis ascending, reordering
// response rows to match. The receiver is unchanged.
func (t *Table) SortByLogT() *Table {
	ascending := true
	for i := 1; i < len(t.LogT); i++ {
		if t.LogT[i] <= t.LogT[i-1] {
			ascending = false
			break
		}
	}
	if ascending {
		return t
	}
	order := make([]int, len(t.LogT))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return t.LogT[order[a]] < t.LogT[order[b]]
	})
	logT := make([]float64, len(t.LogT))
	resp := npy.NewArray(t.Response.Shape[0], t.Response.Shape[1])
	for i, src := range order {
		logT[i] = t.LogT[src]
		for j := 0; j < t.Response.Shape[1]; j++ {
			resp.Set(i, j, t.Response.At(src, j))
		}
	}
	return &Table{LogT: logT, Channels: t.Channels, Response: resp}
}

// Interp is piecewise-linear interpolation over an ascending grid, clamping
// to the edge values outside it.
func Interp(x float64, xs, ys []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	if x <= xs[0] {
		return ys[0]
	}
	if x >= xs[len(xs)-1] {
		return ys[len(ys)-1]
	}
	i := sort.SearchFloat64s(xs, x)
	if xs[i] == x {
		return ys[i]
	}
	x0, x1 := xs[i-1], xs[i]
	y0, y1 := ys[i-1], ys[i]
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

// Trapezoid integrates y over x with the trapezoidal rule.
func Trapezoid(y, x []float64) float64 {
	sum := 0.0
	for i := 1; i < len(x); i++ {
		sum += 0.5 * (y[i] + y[i-1]) * (x[i] - x[i-1])
	}
	return sum
}
