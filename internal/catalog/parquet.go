package catalog

import (
	"fmt"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"
)

// FrameRow is the Parquet record form of a catalog entry.
type FrameRow struct {
	Event    string  `parquet:"event"`
	Channel  int32   `parquet:"channel"`
	Time     int64   `parquet:"time_unix"`
	Path     string  `parquet:"path"`
	Exposure float64 `parquet:"exposure"`
	Kind     string  `parquet:"kind"`
}

// SaveParquet writes the catalog as a Parquet file.
func SaveParquet(path string, frames []Frame) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := parquet.NewGenericWriter[FrameRow](f)
	rows := make([]FrameRow, len(frames))
	for i, fr := range frames {
		rows[i] = FrameRow{
			Event:    fr.Event,
			Channel:  int32(fr.Channel),
			Time:     fr.Time.Unix(),
			Path:     fr.Path,
			Exposure: fr.Exposure,
			Kind:     fr.Kind,
		}
	}
	if _, err := w.Write(rows); err != nil {
		f.Close()
		return fmt.Errorf("writing parquet catalog: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadParquet reads a catalog Parquet file back into frame records.
func LoadParquet(path string) ([]Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("opening parquet catalog %s: %w", path, err)
	}

	reader := parquet.NewGenericReader[FrameRow](pf)
	defer reader.Close()

	var frames []Frame
	buf := make([]FrameRow, 1000)
	for {
		n, err := reader.Read(buf)
		for _, r := range buf[:n] {
			frames = append(frames, Frame{
				Event:    r.Event,
				Channel:  int(r.Channel),
				Time:     time.Unix(r.Time, 0).UTC(),
				Path:     r.Path,
				Exposure: r.Exposure,
				Kind:     r.Kind,
			})
		}
		if n == 0 || err != nil {
			break
		}
	}
	return frames, nil
}
