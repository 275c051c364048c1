package demmap

import (
	"fmt"
	"os"

	"github.com/klauspost/pgzip"

	"github.com/pocky-solar/dem-pipeline/internal/fitsio"
	"github.com/pocky-solar/dem-pipeline/internal/npy"
)

// Output formats for combined maps.
const (
	FormatNpy   = "npy"
	FormatNpyGz = "npy.gz"
	FormatFITS  = "fits"
)

// WriteMap writes data at base+extension for the chosen format. FITS output
// copies hdr through and appends the history lines; array output drops both.
func WriteMap(base string, res *Result, format string, history []string) (string, error) {
	switch format {
	case FormatNpy:
		path := base + ".npy"
		return path, npy.WriteFile(path, res.Data)
	case FormatNpyGz:
		path := base + ".npy.gz"
		f, err := os.Create(path)
		if err != nil {
			return path, err
		}
		zw := pgzip.NewWriter(f)
		if err := npy.Write(zw, res.Data); err != nil {
			zw.Close()
			f.Close()
			return path, err
		}
		if err := zw.Close(); err != nil {
			f.Close()
			return path, err
		}
		return path, f.Close()
	case FormatFITS:
		path := base + ".fits"
		return path, fitsio.Write(path, res.Data, res.Header, history)
	default:
		return "", fmt.Errorf("unknown output format %q", format)
	}
}
