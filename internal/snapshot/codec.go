package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Genome storage formats, recorded per slot.
const (
	FormatZlib = "zlib"
	FormatRaw  = "raw"
)

// ErrDecompression is returned when a stored genome payload is corrupt or
// truncated.
var ErrDecompression = errors.New("snapshot: genome payload is corrupt")

func compressGenome(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// maxInitialRatio bounds the starting buffer against the compressed size,
// so a corrupt size hint cannot force a huge allocation.
const maxInitialRatio = 64

// decompressGenome inflates data into a buffer of sizeHint bytes, doubling
// it whenever the hint turns out to be too small or absent.
func decompressGenome(data []byte, sizeHint int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompression, err)
	}
	defer r.Close()

	size := sizeHint
	if size <= 0 {
		size = 4 * len(data)
	}
	size = min(size, maxInitialRatio*len(data)+64)
	if size < 64 {
		size = 64
	}
	buf := make([]byte, size)
	n := 0
	for {
		if n == len(buf) {
			grown := make([]byte, 2*len(buf))
			copy(grown, buf)
			buf = grown
		}
		m, err := r.Read(buf[n:])
		n += m
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecompression, err)
		}
	}
	return buf[:n], nil
}

// encodeGenome returns the stored form of a genome and its size hint.
func encodeGenome(raw []byte, format string) ([]byte, int, error) {
	if len(raw) == 0 {
		return []byte{}, 0, nil
	}
	if format == FormatRaw {
		return raw, len(raw), nil
	}
	packed, err := compressGenome(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("compress genome: %w", err)
	}
	return packed, len(raw), nil
}

func decodeGenome(stored []byte, sizeHint int, format string) ([]byte, error) {
	if len(stored) == 0 {
		return nil, nil
	}
	switch format {
	case FormatRaw:
		return stored, nil
	case FormatZlib:
		return decompressGenome(stored, sizeHint)
	default:
		return nil, fmt.Errorf("snapshot: unknown genome format %q", format)
	}
}
