package demmap

import (
	"fmt"
	"math"
	"strings"

	"github.com/pocky-solar/dem-pipeline/internal/fitsio"
	"github.com/pocky-solar/dem-pipeline/internal/npy"
)

// Flare-bin approximation constants for EM conversion. The maps were built
// for the logT 6.6 to 7.2 band with a representative temperature of 1e7 K.
const (
	EMLogTMin    = 6.6
	EMLogTMax    = 7.2
	EMDeltaLogT  = 0.1
	EMTRepKelvin = 1.0e7
)

const (
	arcsecToRad = math.Pi / 180.0 / 3600.0
	auCM        = 1.495978707e13
)

// EMDeltaT is the linear temperature width of the flare bin in Kelvin.
var EMDeltaT = math.Ln10 * EMTRepKelvin * EMDeltaLogT

// EMOptions controls the DEM to EM conversion.
type EMOptions struct {
	// Volume converts column EM (cm^-5) to per-pixel volume EM (cm^-3)
	// using the pixel footprint at 1 AU.
	Volume bool
	// UseHeaderScale reads CDELT1/CDELT2 from the header for the pixel
	// scale; PixelArcsec is the fallback.
	UseHeaderScale bool
	PixelArcsec    float64
}

// PixelAreaArcsec resolves the pixel area in arcsec². Header CDELT values in
// degrees (or suspiciously small, under 0.05) are converted to arcsec.
func PixelAreaArcsec(hdr *fitsio.Header, opts EMOptions) float64 {
	if opts.UseHeaderScale && hdr != nil {
		cdelt1, ok1 := hdr.Float("CDELT1")
		cdelt2, ok2 := hdr.Float("CDELT2")
		if ok1 && ok2 && cdelt1 != 0 && cdelt2 != 0 {
			cunit1, _ := hdr.Get("CUNIT1")
			cunit2, _ := hdr.Get("CUNIT2")
			if containsDeg(cunit1) || containsDeg(cunit2) {
				cdelt1 *= 3600
				cdelt2 *= 3600
			} else if math.Abs(cdelt1) < 0.05 && math.Abs(cdelt2) < 0.05 {
				cdelt1 *= 3600
				cdelt2 *= 3600
			}
			return math.Abs(cdelt1 * cdelt2)
		}
	}
	return opts.PixelArcsec * opts.PixelArcsec
}

func containsDeg(unit string) bool {
	return strings.Contains(strings.ToLower(unit), "deg")
}

// EMFromDEM converts a DEM map to an EM map, returning the map and its
// units tag.
func EMFromDEM(dem *npy.Array, hdr *fitsio.Header, opts EMOptions) (*npy.Array, string) {
	out := npy.NewArray(dem.Shape...)
	for i, v := range dem.Data {
		out.Data[i] = v * EMDeltaT
	}
	units := "cm^-5"
	if opts.Volume {
		area := PixelAreaArcsec(hdr, opts)
		areaCM2 := (arcsecToRad * auCM) * (arcsecToRad * auCM) * area
		for i := range out.Data {
			out.Data[i] *= areaCM2
		}
		units = "cm^-3 pixel^-1"
	}
	return out, units
}

// EMHistory returns the provenance lines for EM FITS outputs.
func EMHistory(opts EMOptions) []string {
	lines := []string{
		"EM = DEM * DeltaT (flare bin approximation)",
		fmt.Sprintf("logT range %g-%g, dlogT=%g", EMLogTMin, EMLogTMax, EMDeltaLogT),
		fmt.Sprintf("Trep=%.2eK, DeltaT=%.3eK", EMTRepKelvin, EMDeltaT),
		"Units recorded in EM_UNITS",
	}
	if opts.Volume {
		lines = append(lines, "Converted to volume EM using pixel area")
	}
	return lines
}
