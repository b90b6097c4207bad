// Package convolver implements the real-time uniform-partitioned
// frequency-domain (overlap-save) convolver: the heart of the engine.
// One instance drives one virtual-source channel; a second, stereo-input
// instance drives the optional headphone-compensation stage.
package convolver

import (
	"errors"
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// ErrBlockSizeMismatch is returned when Process is fed a block whose
// length does not equal the configured block size N.
var ErrBlockSizeMismatch = errors.New("convolver: block length does not match configured block size")

// ErrFilterShapeMismatch is returned by SetFilter/SetLateReverb when the
// supplied spectra do not have the expected number of blocks or bins.
var ErrFilterShapeMismatch = errors.New("convolver: filter spectrum shape mismatch")

// Convolver holds one channel's full convolution state: frequency-domain
// delay lines, the current and previous filter spectra, the late-reverb
// tail, and the equal-power crossfade bookkeeping for filter swaps.
type Convolver struct {
	blockSize   int // N
	earlyBlocks int // B_early
	lateBlocks  int // L
	total       int // T = B_early + L

	plan *algofft.PlanRealT[float32, complex64] // shared, size 2N

	fdlL, fdlR []complex64Row // ring storage, logical row i = physical[(head+i) mod T]
	head       int

	tfL, tfR         []complex64Row // current filter, T rows of N+1 bins
	tfLPrev, tfRPrev []complex64Row
	tfLateL, tfLateR []complex64Row // L rows, sticky late-reverb tail

	// tfLNew/tfRNew stage a filter installed by SetFilter until the start
	// of the next process() call. snapshotPrevious() must capture the
	// filter that is still live in tfL/tfR before this staged copy
	// overwrites it, or tfLPrev would never differ from the new filter.
	tfLNew, tfRNew []complex64Row

	bufInL, bufInR []float32 // [2N] overlap-save input windows

	windowIn, windowOut []float32 // [N] cosine-squared crossfade curves

	xfadePending      bool
	filterPending     bool // tfLNew/tfRNew hold a filter awaiting install
	lateReverbPending bool // tfLateL/tfLateR hold a tail awaiting splice
	counter           uint64

	// Scratch buffers reused every process() call; never reallocated on
	// the hot path.
	freqScratchL, freqScratchR         []complex64
	freqScratchLPrev, freqScratchRPrev []complex64
	timeScratchL, timeScratchR         []float32
	timeScratchLPrev, timeScratchRPrev []float32
	fftFrame                           []float32
}

type complex64Row = []complex64

// New constructs a Convolver for earlyBlocks early partitions and
// lateBlocks late-reverb partitions (0 disables the late tail), each of
// blockSize samples. plan must be a real-FFT plan of size 2*blockSize
// and may be shared across Convolvers and Filters of the same block
// size.
func New(blockSize, earlyBlocks, lateBlocks int, plan *algofft.PlanRealT[float32, complex64]) (*Convolver, error) {
	if blockSize <= 1 {
		return nil, fmt.Errorf("convolver: block size must be > 1, got %d", blockSize)
	}
	if earlyBlocks <= 0 {
		return nil, fmt.Errorf("convolver: earlyBlocks must be > 0, got %d", earlyBlocks)
	}
	total := earlyBlocks + lateBlocks
	bins := blockSize + 1

	c := &Convolver{
		blockSize:   blockSize,
		earlyBlocks: earlyBlocks,
		lateBlocks:  lateBlocks,
		total:       total,
		plan:        plan,

		fdlL: newRows(total, bins),
		fdlR: newRows(total, bins),

		tfL:     newRows(total, bins),
		tfR:     newRows(total, bins),
		tfLPrev: newRows(total, bins),
		tfRPrev: newRows(total, bins),
		tfLNew:  newRows(earlyBlocks, bins),
		tfRNew:  newRows(earlyBlocks, bins),

		bufInL: make([]float32, blockSize*2),
		bufInR: make([]float32, blockSize*2),

		freqScratchL:     make([]complex64, bins),
		freqScratchR:     make([]complex64, bins),
		freqScratchLPrev: make([]complex64, bins),
		freqScratchRPrev: make([]complex64, bins),
		timeScratchL:     make([]float32, blockSize*2),
		timeScratchR:     make([]float32, blockSize*2),
		timeScratchLPrev: make([]float32, blockSize*2),
		timeScratchRPrev: make([]float32, blockSize*2),
		fftFrame:         make([]float32, blockSize*2),
	}
	if lateBlocks > 0 {
		c.tfLateL = newRows(lateBlocks, bins)
		c.tfLateR = newRows(lateBlocks, bins)
	}
	c.windowIn, c.windowOut = crossfadeWindows(blockSize)
	return c, nil
}

func newRows(n, bins int) []complex64Row {
	rows := make([]complex64Row, n)
	for i := range rows {
		rows[i] = make([]complex64, bins)
	}
	return rows
}

// crossfadeWindows builds the equal-power cosine-squared fade pair:
// w_in[n] = sin²(πn/(2(N-1))), w_out[n] = cos²(πn/(2(N-1))). They
// satisfy w_in[n]+w_out[n]=1 for all n via the Pythagorean identity.
func crossfadeWindows(blockSize int) (in, out []float32) {
	in = make([]float32, blockSize)
	out = make([]float32, blockSize)
	denom := float64(blockSize - 1)
	if denom == 0 {
		denom = 1
	}
	for n := 0; n < blockSize; n++ {
		theta := float64(n) / denom * (math.Pi / 2)
		s := math.Sin(theta)
		cc := math.Cos(theta)
		in[n] = float32(s * s)
		out[n] = float32(cc * cc)
	}
	return in, out
}

// BlockSize returns N.
func (c *Convolver) BlockSize() int { return c.blockSize }

// Counter returns the number of process() calls performed so far.
func (c *Convolver) Counter() uint64 { return c.counter }

// SetFilter stages a new early/directional filter spectrum. dist is a
// scalar distance attenuation (pass 1 for unity). dirL/dirR are an
// optional element-wise directivity spectrum applied per block; pass nil
// for unity. The staged spectrum is installed at the start of the next
// process() call, after that call has snapshotted the still-live filter
// as "previous" — so a crossfade blends the genuinely old filter against
// the new one, not the new one against itself.
func (c *Convolver) SetFilter(left, right [][]complex64, dist float32, dirL, dirR [][]complex64, crossfade bool) error {
	if len(left) != c.earlyBlocks || len(right) != c.earlyBlocks {
		return fmt.Errorf("%w: got %d/%d blocks, want %d", ErrFilterShapeMismatch, len(left), len(right), c.earlyBlocks)
	}
	for b := 0; b < c.earlyBlocks; b++ {
		copyScaled(c.tfLNew[b], left[b], dist, rowOrNil(dirL, b))
		copyScaled(c.tfRNew[b], right[b], dist, rowOrNil(dirR, b))
	}
	c.filterPending = true
	c.xfadePending = crossfade
	return nil
}

func rowOrNil(rows [][]complex64, i int) []complex64 {
	if rows == nil {
		return nil
	}
	return rows[i]
}

func copyScaled(dst, src []complex64, dist float32, dir []complex64) {
	for i := range dst {
		v := src[i] * complex(dist, 0)
		if dir != nil {
			v *= dir[i]
		}
		dst[i] = v
	}
}

// SetLateReverb installs a new late-reverb tail spectrum. The tail is
// spliced into tf_*[earlyBlocks:total] on the next process() call.
func (c *Convolver) SetLateReverb(left, right [][]complex64, crossfade bool) error {
	if c.lateBlocks == 0 {
		return fmt.Errorf("convolver: late-reverb is disabled for this instance")
	}
	if len(left) != c.lateBlocks || len(right) != c.lateBlocks {
		return fmt.Errorf("%w: got %d/%d blocks, want %d", ErrFilterShapeMismatch, len(left), len(right), c.lateBlocks)
	}
	for b := 0; b < c.lateBlocks; b++ {
		copy(c.tfLateL[b], left[b])
		copy(c.tfLateR[b], right[b])
	}
	c.lateReverbPending = true
	c.xfadePending = crossfade
	return nil
}

// Process runs one block through the convolver from a mono input. The
// same input spectrum feeds both ears' frequency-domain delay lines, as
// the directional BRIR pair is what differentiates left from right.
func (c *Convolver) Process(block []float32) (outL, outR []float32, err error) {
	if len(block) != c.blockSize {
		return nil, nil, fmt.Errorf("%w: got %d, want %d", ErrBlockSizeMismatch, len(block), c.blockSize)
	}

	c.snapshotPrevious()
	c.rebuildIfPending()

	spec, err := c.feedMono(block)
	if err != nil {
		return nil, nil, err
	}
	c.storeSpectrum(c.fdlL, spec)
	c.storeSpectrum(c.fdlR, spec)
	c.rotateHead()

	return c.convolveAndCrossfade()
}

// ProcessStereo runs one block through the convolver from independent
// left/right inputs, used for the headphone-compensation stage.
func (c *Convolver) ProcessStereo(blockL, blockR []float32) (outL, outR []float32, err error) {
	if len(blockL) != c.blockSize || len(blockR) != c.blockSize {
		return nil, nil, fmt.Errorf("%w: got %d/%d, want %d", ErrBlockSizeMismatch, len(blockL), len(blockR), c.blockSize)
	}

	c.snapshotPrevious()
	c.rebuildIfPending()

	specL, err := c.feedChannel(c.bufInL, blockL)
	if err != nil {
		return nil, nil, err
	}
	specR, err := c.feedChannel(c.bufInR, blockR)
	if err != nil {
		return nil, nil, err
	}
	c.storeSpectrum(c.fdlL, specL)
	c.storeSpectrum(c.fdlR, specR)
	c.rotateHead()

	return c.convolveAndCrossfade()
}

func (c *Convolver) snapshotPrevious() {
	for b := 0; b < c.total; b++ {
		copy(c.tfLPrev[b], c.tfL[b])
		copy(c.tfRPrev[b], c.tfR[b])
	}
}

// rebuildIfPending installs any staged filter (SetFilter) and/or splices
// in any staged late-reverb tail (SetLateReverb) into the live tfL/tfR.
// Must run after snapshotPrevious so tfLPrev/tfRPrev still hold the
// filter that was live before this call.
func (c *Convolver) rebuildIfPending() {
	if c.filterPending {
		for b := 0; b < c.earlyBlocks; b++ {
			copy(c.tfL[b], c.tfLNew[b])
			copy(c.tfR[b], c.tfRNew[b])
		}
		c.filterPending = false
	}
	if c.lateReverbPending && c.lateBlocks > 0 {
		for b := 0; b < c.lateBlocks; b++ {
			copy(c.tfL[c.earlyBlocks+b], c.tfLateL[b])
			copy(c.tfR[c.earlyBlocks+b], c.tfLateR[b])
		}
	}
	c.lateReverbPending = false
}

// feedMono shifts bufInL and transforms it; used by the mono Process path.
func (c *Convolver) feedMono(block []float32) ([]complex64, error) {
	return c.feedChannel(c.bufInL, block)
}

func (c *Convolver) feedChannel(buf []float32, block []float32) ([]complex64, error) {
	n := c.blockSize
	copy(buf[:n], buf[n:])
	copy(buf[n:], block)

	spec := make([]complex64, n+1)
	if err := c.plan.Forward(spec, buf); err != nil {
		return nil, fmt.Errorf("convolver: forward FFT: %w", err)
	}
	return spec, nil
}

func (c *Convolver) storeSpectrum(ring []complex64Row, spec []complex64) {
	// Caller calls rotateHead() once per process() after both ears are
	// stored, so write at the slot that will become the new head.
	physical := (c.head - 1 + c.total) % c.total
	copy(ring[physical], spec)
}

func (c *Convolver) rotateHead() {
	c.head = (c.head - 1 + c.total) % c.total
}

func (c *Convolver) physicalIndex(logical int) int {
	return (c.head + logical) % c.total
}

// convolveAndCrossfade performs the accumulate-multiply-inverse step,
// optionally blended against the previous filter's output, and commits
// the counter/xfade state.
func (c *Convolver) convolveAndCrossfade() (outL, outR []float32, err error) {
	n := c.blockSize

	c.accumulate(c.freqScratchL, c.tfL, c.fdlL)
	c.accumulate(c.freqScratchR, c.tfR, c.fdlR)

	if err := c.plan.Inverse(c.timeScratchL, c.freqScratchL); err != nil {
		return nil, nil, fmt.Errorf("convolver: inverse FFT (left): %w", err)
	}
	if err := c.plan.Inverse(c.timeScratchR, c.freqScratchR); err != nil {
		return nil, nil, fmt.Errorf("convolver: inverse FFT (right): %w", err)
	}

	outL = make([]float32, n)
	outR = make([]float32, n)
	copy(outL, c.timeScratchL[n:2*n])
	copy(outR, c.timeScratchR[n:2*n])

	if c.xfadePending {
		c.accumulate(c.freqScratchLPrev, c.tfLPrev, c.fdlL)
		c.accumulate(c.freqScratchRPrev, c.tfRPrev, c.fdlR)

		if err := c.plan.Inverse(c.timeScratchLPrev, c.freqScratchLPrev); err != nil {
			return nil, nil, fmt.Errorf("convolver: inverse FFT (left, previous): %w", err)
		}
		if err := c.plan.Inverse(c.timeScratchRPrev, c.freqScratchRPrev); err != nil {
			return nil, nil, fmt.Errorf("convolver: inverse FFT (right, previous): %w", err)
		}

		for i := 0; i < n; i++ {
			outL[i] = c.windowIn[i]*outL[i] + c.windowOut[i]*c.timeScratchLPrev[n+i]
			outR[i] = c.windowIn[i]*outR[i] + c.windowOut[i]*c.timeScratchRPrev[n+i]
		}
	}

	c.counter++
	c.xfadePending = false
	return outL, outR, nil
}

// accumulate computes dst = Σ_i tf[i] ⊙ fdl[logical i], iterating the
// delay line in logical (ring-relative) order.
func (c *Convolver) accumulate(dst []complex64, tf []complex64Row, fdl []complex64Row) {
	for i := range dst {
		dst[i] = 0
	}
	for logical := 0; logical < c.total; logical++ {
		row := fdl[c.physicalIndex(logical)]
		filt := tf[logical]
		for bin := range dst {
			dst[bin] += filt[bin] * row[bin]
		}
	}
}

// Reset clears all delay lines, filters, and counters back to t=0 state.
func (c *Convolver) Reset() {
	zeroRows(c.fdlL)
	zeroRows(c.fdlR)
	zeroRows(c.tfL)
	zeroRows(c.tfR)
	zeroRows(c.tfLPrev)
	zeroRows(c.tfRPrev)
	zeroRows(c.tfLateL)
	zeroRows(c.tfLateR)
	zeroRows(c.tfLNew)
	zeroRows(c.tfRNew)
	for i := range c.bufInL {
		c.bufInL[i] = 0
		c.bufInR[i] = 0
	}
	c.head = 0
	c.xfadePending = false
	c.filterPending = false
	c.lateReverbPending = false
	c.counter = 0
}

func zeroRows(rows []complex64Row) {
	for _, row := range rows {
		for i := range row {
			row[i] = 0
		}
	}
}
