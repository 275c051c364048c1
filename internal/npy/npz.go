package npy

import (
	"archive/zip"
	"fmt"
	"os"
	"strings"
)

// ReadNpz reads every array entry of an .npz archive, keyed by entry name
// without the .npy suffix.
func ReadNpz(path string) (map[string]*Array, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening npz %s: %w", path, err)
	}
	defer zr.Close()

	out := make(map[string]*Array, len(zr.File))
	for _, zf := range zr.File {
		name := strings.TrimSuffix(zf.Name, ".npy")
		rc, err := zf.Open()
		if err != nil {
			return nil, fmt.Errorf("opening npz entry %s: %w", zf.Name, err)
		}
		a, err := Read(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("npz entry %s: %w", zf.Name, err)
		}
		out[name] = a
	}
	return out, nil
}

// NpzEntry is one named array of an .npz archive. Int entries are stored
// as '<i8', everything else as '<f8'.
type NpzEntry struct {
	Name  string
	Array *Array
	Int   bool
}

// WriteNpz writes entries into a zip archive in the given order.
func WriteNpz(path string, entries []NpzEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e.Name + ".npy")
		if err != nil {
			f.Close()
			return fmt.Errorf("creating npz entry %s: %w", e.Name, err)
		}
		if e.Int {
			err = WriteInt64(w, e.Array)
		} else {
			err = Write(w, e.Array)
		}
		if err != nil {
			f.Close()
			return fmt.Errorf("writing npz entry %s: %w", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
