// Package filtercache persists prepared (frequency-domain) filter
// spectra to disk in a compact, f16-compressed chunked container, so a
// warm restart with an unchanged filter list can skip re-decoding WAV
// files and re-running forward FFTs. A cache miss or a content-hash
// mismatch simply falls back to loading from source. Spectra read from
// the cache are rounded to half precision, so output rendered from a
// warm start can differ slightly from a cold load.
package filtercache

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/binsim/binsynth-server/pkg/f16"
)

// magic identifies a filter spectrum cache file, distinct from the
// teacher's irlib container since the payload shape differs (complex
// spectra, not raw audio channels).
const magic = "FSCH"

const formatVersion uint16 = 1

// ErrInvalidMagic is returned when a file does not start with the
// expected cache header.
var ErrInvalidMagic = errors.New("filtercache: invalid magic number")

// ErrUnsupportedVersion is returned when a cache file's format version
// differs from the one this package writes.
var ErrUnsupportedVersion = errors.New("filtercache: unsupported format version")

// ErrHashMismatch is returned by Load when the cache's stored content
// hash does not match the hash the caller supplies, meaning the
// filter-list source has changed since the cache was written.
var ErrHashMismatch = errors.New("filtercache: source hash mismatch")

// Entry is one population member's prepared spectra, keyed the same way
// FilterStore keys its in-memory dict (pose.Pose.Key()).
type Entry struct {
	Key       string
	BlockSize int
	Left      [][]complex64
	Right     [][]complex64
}

// HashFile returns the SHA-256 content hash of path, used as the cache
// invalidation key: any byte change to the filter-list file invalidates
// every cache built from it.
func HashFile(path string) ([32]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("filtercache: hash %q: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return [32]byte{}, fmt.Errorf("filtercache: hash %q: %w", path, err)
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// Write serializes entries to path, stamped with sourceHash.
func Write(path string, sourceHash [32]byte, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("filtercache: create %q: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	if _, err := w.WriteString(magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, formatVersion); err != nil {
		return err
	}
	if _, err := w.Write(sourceHash[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(entries))); err != nil {
		return err
	}

	for _, e := range entries {
		if err := writeEntry(w, e); err != nil {
			return err
		}
	}

	return w.Flush()
}

func writeEntry(w *bufio.Writer, e Entry) error {
	keyBytes := []byte(e.Key)
	if err := binary.Write(w, binary.LittleEndian, uint16(len(keyBytes))); err != nil {
		return err
	}
	if _, err := w.Write(keyBytes); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(e.BlockSize)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(e.Left))); err != nil {
		return err
	}

	bins := e.BlockSize + 1
	flat := make([]float32, 0, bins*2)
	for b := range e.Left {
		flat = flat[:0]
		flat = appendComplex(flat, e.Left[b])
		if _, err := w.Write(f16.Float32ToF16(flat)); err != nil {
			return err
		}
		flat = flat[:0]
		flat = appendComplex(flat, e.Right[b])
		if _, err := w.Write(f16.Float32ToF16(flat)); err != nil {
			return err
		}
	}
	return nil
}

func appendComplex(dst []float32, row []complex64) []float32 {
	for _, c := range row {
		dst = append(dst, real(c), imag(c))
	}
	return dst
}

// Read deserializes a cache file, verifying its format header and that
// its stored source hash matches wantHash. A hash mismatch is reported
// via ErrHashMismatch, a recoverable condition callers should treat as
// a cache miss rather than a fatal error.
func Read(path string, wantHash [32]byte) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filtercache: open %q: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	magicBuf := make([]byte, len(magic))
	if _, err := io.ReadFull(r, magicBuf); err != nil {
		return nil, fmt.Errorf("filtercache: %q: %w", path, err)
	}
	if string(magicBuf) != magic {
		return nil, fmt.Errorf("filtercache: %q: %w", path, ErrInvalidMagic)
	}

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != formatVersion {
		return nil, fmt.Errorf("filtercache: %q: %w", path, ErrUnsupportedVersion)
	}

	var gotHash [32]byte
	if _, err := io.ReadFull(r, gotHash[:]); err != nil {
		return nil, err
	}
	if gotHash != wantHash {
		return nil, fmt.Errorf("filtercache: %q: %w", path, ErrHashMismatch)
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	entries := make([]Entry, count)
	for i := range entries {
		e, err := readEntry(r)
		if err != nil {
			return nil, fmt.Errorf("filtercache: %q: entry %d: %w", path, i, err)
		}
		entries[i] = e
	}
	return entries, nil
}

func readEntry(r *bufio.Reader) (Entry, error) {
	var keyLen uint16
	if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
		return Entry{}, err
	}
	keyBytes := make([]byte, keyLen)
	if _, err := io.ReadFull(r, keyBytes); err != nil {
		return Entry{}, err
	}

	var blockSize, blocks uint32
	if err := binary.Read(r, binary.LittleEndian, &blockSize); err != nil {
		return Entry{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &blocks); err != nil {
		return Entry{}, err
	}

	bins := int(blockSize) + 1
	rowBytes := bins * 2 * 2 // 2 float32 components, 2 bytes per f16
	left := make([][]complex64, blocks)
	right := make([][]complex64, blocks)
	buf := make([]byte, rowBytes)

	for b := 0; b < int(blocks); b++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return Entry{}, err
		}
		left[b] = decodeRow(buf, bins)

		if _, err := io.ReadFull(r, buf); err != nil {
			return Entry{}, err
		}
		right[b] = decodeRow(buf, bins)
	}

	return Entry{
		Key:       string(keyBytes),
		BlockSize: int(blockSize),
		Left:      left,
		Right:     right,
	}, nil
}

func decodeRow(buf []byte, bins int) []complex64 {
	flat := f16.F16ToFloat32(buf)
	row := make([]complex64, bins)
	for i := 0; i < bins; i++ {
		row[i] = complex(flat[i*2], flat[i*2+1])
	}
	return row
}
