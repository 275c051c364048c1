package demmap

import (
	"fmt"
	"math"
	"strings"

	"github.com/pocky-solar/dem-pipeline/internal/fitsio"
	"github.com/pocky-solar/dem-pipeline/internal/npy"
)

// ExposureError marks a frame whose exposure metadata is missing or
// unusable. Exposure problems invalidate the physical units of every map in
// the run, so the orchestrator aborts on the first one.
type ExposureError struct {
	Event   string
	Channel int
	Reason  string
}

func (e *ExposureError) Error() string {
	return fmt.Sprintf("event %s channel %d: %s", e.Event, e.Channel, e.Reason)
}

// Combiner folds one frame per channel into a single weighted map. It is
// immutable after construction and safe to share across workers.
type Combiner struct {
	Channels []int
	Weights  []float64

	// UseExposure divides each frame by its EXPTIME before weighting.
	UseExposure bool
	// UseFITSInput reads pixels from the resolved header FITS instead of
	// the matched array file.
	UseFITSInput bool
	// ClipInput zeroes non-finite and non-positive input pixels.
	ClipInput bool
	// ResponseDiv holds per-channel response values to divide by. Values
	// that are not > 0 leave the frame untouched. Nil disables the step.
	ResponseDiv map[int]float64
	// Scale multiplies the combined map; 1 is a no-op.
	Scale float64

	FITSRoot     string
	FallbackRoot string
}

// Result is one combined map plus the header it inherits provenance from.
type Result struct {
	Data   *npy.Array
	Header *fitsio.Header
}

// Combine loads and folds the matched frame paths, ordered as c.Channels.
// The returned header is the first channel's, when any frame had one.
func (c *Combiner) Combine(event string, paths []string) (*Result, error) {
	if len(paths) != len(c.Channels) {
		return nil, fmt.Errorf("event %s: %d paths for %d channels", event, len(paths), len(c.Channels))
	}

	var out *npy.Array
	var keep *fitsio.Header
	for i, ch := range c.Channels {
		data, hdr, err := ReadFrame(paths[i])
		if err != nil {
			return nil, fmt.Errorf("event %s channel %d: %w", event, ch, err)
		}
		headerPath := FindHeaderPath(paths[i], c.FITSRoot, c.FallbackRoot, event, ch)
		if headerPath != "" {
			if c.UseFITSInput {
				data, hdr, err = ReadFrame(headerPath)
				if err != nil {
					return nil, fmt.Errorf("event %s channel %d: %w", event, ch, err)
				}
			} else if hdr == nil {
				hdr, _ = fitsio.ReadHeader(headerPath)
			}
		}

		if c.UseExposure {
			if hdr == nil {
				return nil, &ExposureError{Event: event, Channel: ch,
					Reason: "no FITS header available for exposure"}
			}
			exp, ok := hdr.Exposure()
			if !ok {
				return nil, &ExposureError{Event: event, Channel: ch,
					Reason: "header has no EXPTIME or EXPOSURE"}
			}
			if exp <= 0 {
				return nil, &ExposureError{Event: event, Channel: ch,
					Reason: fmt.Sprintf("invalid exposure %g", exp)}
			}
			for j := range data.Data {
				data.Data[j] /= exp
			}
		}
		if c.ResponseDiv != nil {
			if rv, ok := c.ResponseDiv[ch]; ok && rv > 0 {
				for j := range data.Data {
					data.Data[j] /= rv
				}
			}
		}
		if c.ClipInput {
			for j, v := range data.Data {
				if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
					data.Data[j] = 0
				}
			}
		}

		if out == nil {
			out = npy.NewArray(data.Shape...)
		} else if data.Len() != out.Len() {
			return nil, fmt.Errorf("event %s channel %d: frame shape %v does not match %v",
				event, ch, data.Shape, out.Shape)
		}
		w := c.Weights[i]
		for j, v := range data.Data {
			out.Data[j] += w * v
		}
		if keep == nil {
			keep = hdr
		}
	}

	if c.Scale != 0 && c.Scale != 1 {
		for j := range out.Data {
			out.Data[j] *= c.Scale
		}
	}
	return &Result{Data: out, Header: keep}, nil
}

// History returns the provenance lines recorded in FITS outputs.
func (c *Combiner) History() []string {
	chs := make([]string, len(c.Channels))
	for i, ch := range c.Channels {
		chs[i] = fmt.Sprintf("%d", ch)
	}
	ws := make([]string, len(c.Weights))
	for i, w := range c.Weights {
		ws[i] = fmt.Sprintf("%.8e", w)
	}
	lines := []string{
		"DEM proxy (fixed weights)",
		"WAVELENGTHS=" + strings.Join(chs, ","),
		"WEIGHTS=" + strings.Join(ws, ","),
	}
	if c.UseExposure {
		lines = append(lines, "Normalized by EXPTIME")
	}
	if c.ResponseDiv != nil {
		lines = append(lines, "Normalized by instrument response")
	}
	return lines
}
