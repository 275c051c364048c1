// Package fitsio reads and writes simple single-HDU FITS images.
//
// Only what the pipeline needs is implemented: 2-D primary arrays in the
// integer and float BITPIX encodings on read, IEEE double on write, and
// enough header plumbing to carry instrument keywords through to output
// maps. Values are always materialized as float64 with BZERO/BSCALE applied.
package fitsio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pocky-solar/dem-pipeline/internal/npy"
)

const (
	blockSize  = 2880
	cardSize   = 80
	cardsBlock = blockSize / cardSize
)

// Card is one 80-column header record, split into keyword and raw value
// text. The raw text keeps quoting and comments so copied cards survive a
// round trip unchanged.
type Card struct {
	Key string
	Raw string // everything after "KEY     = ", trailing spaces trimmed
}

// Header is an ordered card list with keyed lookup.
type Header struct {
	Cards []Card
}

// Get returns the parsed value text of key, with string quoting and any
// inline comment stripped.
func (h *Header) Get(key string) (string, bool) {
	key = strings.ToUpper(key)
	for _, c := range h.Cards {
		if c.Key == key {
			return parseValue(c.Raw), true
		}
	}
	return "", false
}

// Float returns the value of key as a float64.
func (h *Header) Float(key string) (float64, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Int returns the value of key as an int.
func (h *Header) Int(key string) (int, bool) {
	f, ok := h.Float(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Exposure returns the frame exposure in seconds, trying EXPTIME first and
// EXPOSURE second.
func (h *Header) Exposure() (float64, bool) {
	if v, ok := h.Float("EXPTIME"); ok {
		return v, true
	}
	return h.Float("EXPOSURE")
}

// Set replaces the first card for key or appends a new one. The value is
// written in FITS fixed format.
func (h *Header) Set(key, value string) {
	key = strings.ToUpper(key)
	raw := fmt.Sprintf("%20s", value)
	for i, c := range h.Cards {
		if c.Key == key {
			h.Cards[i].Raw = raw
			return
		}
	}
	h.Cards = append(h.Cards, Card{Key: key, Raw: raw})
}

// SetString sets key to a quoted string value.
func (h *Header) SetString(key, value string) {
	h.Set(key, fmt.Sprintf("'%s'", value))
}

// Remove drops every card for key.
func (h *Header) Remove(key string) {
	key = strings.ToUpper(key)
	out := h.Cards[:0]
	for _, c := range h.Cards {
		if c.Key != key {
			out = append(out, c)
		}
	}
	h.Cards = out
}

// Image is a decoded 2-D primary HDU.
type Image struct {
	Data   *npy.Array // shape [height, width]
	Header *Header
}

func parseValue(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "'") {
		if end := strings.LastIndex(raw[1:], "'"); end >= 0 {
			return strings.TrimRight(raw[1:1+end], " ")
		}
		return strings.Trim(raw, "' ")
	}
	if i := strings.Index(raw, "/"); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	return raw
}

// structural keys are regenerated on write and never copied through.
func isStructural(key string) bool {
	switch key {
	case "SIMPLE", "BITPIX", "NAXIS", "NAXIS1", "NAXIS2", "NAXIS3",
		"EXTEND", "BZERO", "BSCALE", "END":
		return true
	}
	return false
}

// Read decodes the primary HDU of a FITS file.
func Read(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening FITS %s: %w", path, err)
	}
	defer f.Close()
	img, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// ReadHeader decodes only the primary header.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening FITS %s: %w", path, err)
	}
	defer f.Close()
	hdr, _, err := decodeHeader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return hdr, nil
}

type geometry struct {
	bitpix, width, height int
	bzero, bscale         float64
}

func decodeHeader(r io.Reader) (*Header, geometry, error) {
	geo := geometry{bscale: 1}
	hdr := &Header{}
	buf := make([]byte, cardSize)
	done := false
	for !done {
		for i := 0; i < cardsBlock; i++ {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, geo, fmt.Errorf("reading header record: %w", err)
			}
			record := string(buf)
			key := strings.TrimSpace(record[:8])
			if key == "END" {
				done = true
				if rest := cardsBlock - 1 - i; rest > 0 {
					if _, err := io.ReadFull(r, make([]byte, rest*cardSize)); err != nil {
						return nil, geo, fmt.Errorf("skipping header padding: %w", err)
					}
				}
				break
			}
			if key == "HISTORY" || key == "COMMENT" {
				hdr.Cards = append(hdr.Cards, Card{Key: key, Raw: strings.TrimRight(record[8:], " ")})
				continue
			}
			if len(record) <= 10 || record[8] != '=' {
				continue
			}
			raw := strings.TrimRight(record[10:], " ")
			hdr.Cards = append(hdr.Cards, Card{Key: key, Raw: raw})
			val := parseValue(raw)
			switch key {
			case "BITPIX":
				geo.bitpix, _ = strconv.Atoi(val)
			case "NAXIS1":
				geo.width, _ = strconv.Atoi(val)
			case "NAXIS2":
				geo.height, _ = strconv.Atoi(val)
			case "BZERO":
				geo.bzero, _ = strconv.ParseFloat(val, 64)
			case "BSCALE":
				geo.bscale, _ = strconv.ParseFloat(val, 64)
			}
		}
	}
	return hdr, geo, nil
}

func decode(r io.Reader) (*Image, error) {
	hdr, geo, err := decodeHeader(r)
	if err != nil {
		return nil, err
	}
	if geo.width <= 0 || geo.height <= 0 {
		return nil, fmt.Errorf("invalid image geometry %dx%d", geo.width, geo.height)
	}
	n := geo.width * geo.height
	var size int
	switch geo.bitpix {
	case 8:
		size = 1
	case 16:
		size = 2
	case 32, -32:
		size = 4
	case 64, -64:
		size = 8
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", geo.bitpix)
	}
	raw := make([]byte, n*size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("reading %d-bit pixel data: %w", geo.bitpix, err)
	}

	data := npy.NewArray(geo.height, geo.width)
	for i := 0; i < n; i++ {
		var v float64
		switch geo.bitpix {
		case 8:
			v = float64(raw[i])
		case 16:
			v = float64(int16(binary.BigEndian.Uint16(raw[i*2:])))
		case 32:
			v = float64(int32(binary.BigEndian.Uint32(raw[i*4:])))
		case 64:
			v = float64(int64(binary.BigEndian.Uint64(raw[i*8:])))
		case -32:
			v = float64(math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:])))
		case -64:
			v = math.Float64frombits(binary.BigEndian.Uint64(raw[i*8:]))
		}
		data.Data[i] = v*geo.bscale + geo.bzero
	}
	return &Image{Data: data, Header: hdr}, nil
}

func formatCard(key, raw string) []byte {
	out := make([]byte, cardSize)
	for i := range out {
		out[i] = ' '
	}
	if key == "" {
		return out
	}
	if key == "HISTORY" || key == "COMMENT" || key == "END" {
		copy(out, key)
		copy(out[8:], raw)
		return out
	}
	copy(out, fmt.Sprintf("%-8s", key))
	out[8] = '='
	copy(out[10:], raw)
	return out
}

// Write encodes data as a BITPIX -64 primary HDU. Non-structural cards of
// hdr are copied through (BLANK excluded, since it has no meaning for
// floats); history lines are appended before END.
func Write(path string, data *npy.Array, hdr *Header, history []string) error {
	if len(data.Shape) != 2 {
		return fmt.Errorf("FITS output needs a 2-D array, got shape %v", data.Shape)
	}
	height, width := data.Shape[0], data.Shape[1]

	cards := [][]byte{
		formatCard("SIMPLE", fmt.Sprintf("%20s", "T")),
		formatCard("BITPIX", fmt.Sprintf("%20d", -64)),
		formatCard("NAXIS", fmt.Sprintf("%20d", 2)),
		formatCard("NAXIS1", fmt.Sprintf("%20d", width)),
		formatCard("NAXIS2", fmt.Sprintf("%20d", height)),
	}
	if hdr != nil {
		for _, c := range hdr.Cards {
			if isStructural(c.Key) || c.Key == "BLANK" {
				continue
			}
			if len(c.Raw) > cardSize-10 {
				c.Raw = c.Raw[:cardSize-10]
			}
			cards = append(cards, formatCard(c.Key, c.Raw))
		}
	}
	for _, line := range history {
		if len(line) > cardSize-8 {
			line = line[:cardSize-8]
		}
		cards = append(cards, formatCard("HISTORY", line))
	}
	cards = append(cards, formatCard("END", ""))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	for _, c := range cards {
		if _, err := f.Write(c); err != nil {
			f.Close()
			return err
		}
	}
	if pad := (cardsBlock - len(cards)%cardsBlock) % cardsBlock; pad > 0 {
		blank := formatCard("", "")
		for i := 0; i < pad; i++ {
			if _, err := f.Write(blank); err != nil {
				f.Close()
				return err
			}
		}
	}

	buf := make([]byte, len(data.Data)*8)
	for i, v := range data.Data {
		binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	if pad := (blockSize - len(buf)%blockSize) % blockSize; pad > 0 {
		buf = append(buf, make([]byte, pad)...)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
