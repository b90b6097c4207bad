// Package filter implements the partitioned BRIR representation used by
// the convolution engine: a stereo impulse response split into
// equal-size blocks, held in time domain while loading and in frequency
// domain (the only shape the Convolver ever sees) once prepared.
package filter

import (
	"errors"
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// ErrEmptySamples is returned by FromInterleavedStereo when given zero
// samples: there is nothing to partition.
var ErrEmptySamples = errors.New("filter: cannot build from zero samples")

// ErrNotPrepared is returned by Spectra when Prepare has not been
// called yet.
var ErrNotPrepared = errors.New("filter: spectra requested before prepare")

// Filter is a stereo impulse response partitioned into Blocks blocks of
// BlockSize samples each. It is either in time-domain form (irLeft/irRight
// populated, spectra nil) or in frequency-domain form (the reverse),
// never both, per the core invariant.
type Filter struct {
	blockSize int
	blocks    int

	irLeft  [][]float32 // [blocks][blockSize], released once prepared
	irRight [][]float32

	tfLeft  [][]complex64 // [blocks][blockSize+1], nil until Prepare
	tfRight [][]complex64

	// Name is an optional diagnostic label (e.g. the source WAV path).
	Name string
}

// Blocks returns the number of partitions B.
func (f *Filter) Blocks() int { return f.blocks }

// BlockSize returns the partition length N.
func (f *Filter) BlockSize() int { return f.blockSize }

// Prepared reports whether the filter has been transformed to frequency
// domain.
func (f *Filter) Prepared() bool { return f.tfLeft != nil }

// FromInterleavedStereo partitions an [S,2] interleaved stereo buffer
// into ceil(S/blockSize) blocks of blockSize samples per ear, zero-padding
// the final block if S is not a multiple of blockSize.
func FromInterleavedStereo(samples []float32, blockSize int) (*Filter, error) {
	if len(samples) == 0 {
		return nil, ErrEmptySamples
	}
	numFrames := len(samples) / 2
	blocks := (numFrames + blockSize - 1) / blockSize

	left := make([][]float32, blocks)
	right := make([][]float32, blocks)
	for b := 0; b < blocks; b++ {
		left[b] = make([]float32, blockSize)
		right[b] = make([]float32, blockSize)
		for i := 0; i < blockSize; i++ {
			frame := b*blockSize + i
			if frame >= numFrames {
				break
			}
			left[b][i] = samples[frame*2]
			right[b][i] = samples[frame*2+1]
		}
	}

	return &Filter{
		blockSize: blockSize,
		blocks:    blocks,
		irLeft:    left,
		irRight:   right,
	}, nil
}

// FromDeinterleavedMono builds a Filter from two separate per-ear time
// series (already split by the caller), partitioning them into
// ceil(len/blockSize) zero-padded blocks.
func FromDeinterleavedMono(left, right []float32, blockSize int) (*Filter, error) {
	if len(left) == 0 {
		return nil, ErrEmptySamples
	}
	if len(right) != len(left) {
		return nil, fmt.Errorf("filter: left/right length mismatch (%d vs %d)", len(left), len(right))
	}
	blocks := (len(left) + blockSize - 1) / blockSize

	il := make([][]float32, blocks)
	ir := make([][]float32, blocks)
	for b := 0; b < blocks; b++ {
		il[b] = make([]float32, blockSize)
		ir[b] = make([]float32, blockSize)
		start := b * blockSize
		end := start + blockSize
		if end > len(left) {
			end = len(left)
		}
		copy(il[b], left[start:end])
		copy(ir[b], right[start:end])
	}

	return &Filter{blockSize: blockSize, blocks: blocks, irLeft: il, irRight: ir}, nil
}

// Prepare transforms each time-domain block into an (N+1)-bin complex
// spectrum by real-FFT of a length-2N frame whose first half holds the
// block's N samples and whose second half is implicitly zero (the
// overlap-save partitioned-convolution layout). Time-domain storage is
// released afterwards.
func (f *Filter) Prepare(plan *algofft.PlanRealT[float32, complex64]) error {
	fftSize := f.blockSize * 2
	frame := make([]float32, fftSize)

	f.tfLeft = make([][]complex64, f.blocks)
	f.tfRight = make([][]complex64, f.blocks)

	for b := 0; b < f.blocks; b++ {
		for i := range frame {
			frame[i] = 0
		}
		copy(frame[:f.blockSize], f.irLeft[b])
		f.tfLeft[b] = make([]complex64, f.blockSize+1)
		if err := plan.Forward(f.tfLeft[b], frame); err != nil {
			return fmt.Errorf("filter: forward FFT (left, block %d): %w", b, err)
		}

		for i := range frame {
			frame[i] = 0
		}
		copy(frame[:f.blockSize], f.irRight[b])
		f.tfRight[b] = make([]complex64, f.blockSize+1)
		if err := plan.Forward(f.tfRight[b], frame); err != nil {
			return fmt.Errorf("filter: forward FFT (right, block %d): %w", b, err)
		}
	}

	f.irLeft = nil
	f.irRight = nil
	return nil
}

// Spectra returns the prepared frequency-domain blocks for each ear.
// Callers must not mutate the returned slices; they are the Filter's
// owned, immutable storage.
func (f *Filter) Spectra() (left, right [][]complex64, err error) {
	if !f.Prepared() {
		return nil, nil, ErrNotPrepared
	}
	return f.tfLeft, f.tfRight, nil
}

// FromSpectra builds an already-prepared Filter directly from frequency
// domain blocks, bypassing FromInterleavedStereo/Prepare entirely. It is
// used to reconstruct filters from a warm on-disk cache of previously
// prepared spectra.
func FromSpectra(left, right [][]complex64, blockSize int) *Filter {
	return &Filter{
		blockSize: blockSize,
		blocks:    len(left),
		tfLeft:    left,
		tfRight:   right,
	}
}

// NewSilent returns a prepared Filter of the given shape whose spectrum
// is all zeros — the default filter every FilterStore population falls
// back to on a lookup miss.
func NewSilent(blocks, blockSize int) *Filter {
	tfLeft := make([][]complex64, blocks)
	tfRight := make([][]complex64, blocks)
	for b := 0; b < blocks; b++ {
		tfLeft[b] = make([]complex64, blockSize+1)
		tfRight[b] = make([]complex64, blockSize+1)
	}
	return &Filter{
		blockSize: blockSize,
		blocks:    blocks,
		tfLeft:    tfLeft,
		tfRight:   tfRight,
		Name:      "(silence)",
	}
}
