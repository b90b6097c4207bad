// Package engine wires a FilterStore, a PoseTracker, and one Convolver
// per channel together into the per-block request handler. Operation
// order mirrors the original synthesis loop's process_block exactly:
// pose update, conditional filter refresh, per-channel convolution,
// post-mix headphone compensation, loudness scaling, then a non-fatal
// clipping check.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"

	"github.com/binsim/binsynth-server/internal/config"
	"github.com/binsim/binsynth-server/internal/convolver"
	"github.com/binsim/binsynth-server/internal/filterstore"
	"github.com/binsim/binsynth-server/internal/pose"
	"github.com/binsim/binsynth-server/internal/posetracker"
)

// ErrInvalidChannel is returned when a channel index is out of range.
var ErrInvalidChannel = errors.New("engine: channel out of range")

// ErrInvalidBlock is returned when an input block's length does not
// equal the configured block size.
var ErrInvalidBlock = errors.New("engine: block length mismatch")

// Engine is the top-level synthesis coordinator: one per running
// configuration. It is not safe for concurrent use from multiple
// goroutines; callers must serialize block requests themselves.
type Engine struct {
	cfg   config.Config
	store *filterstore.Store

	tracker    *posetracker.Tracker
	convolvers []*convolver.Convolver

	headphone *convolver.Convolver

	log *slog.Logger
}

// New constructs an Engine from cfg: it loads the filter store, builds
// one Convolver per channel, and — if enabled — a headphone-compensation
// Convolver whose filter is fixed at startup.
func New(cfg config.Config) (*Engine, error) {
	log := slog.Default().With("component", "engine")

	store, err := filterstore.Load(filterstore.Config{
		BlockSize:          cfg.BlockSize,
		FilterSize:         cfg.FilterSize,
		UseLateReverb:      cfg.UseLateReverb,
		LateReverbSize:     cfg.LateReverbSize,
		DirectivitySize:    cfg.DirectivitySize,
		UseHeadphoneFilter: cfg.UseHeadphoneFilter,
		HeadphoneSize:      cfg.HeadphoneFilterSize,
		FilterListPath:     cfg.FilterList,
		CachePath:          cfg.FilterCachePath,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	plan, err := algofft.NewPlanReal32(cfg.BlockSize * 2)
	if err != nil {
		return nil, fmt.Errorf("engine: build FFT plan: %w", err)
	}

	earlyBlocks := blocksFor(cfg.FilterSize, cfg.BlockSize)
	lateBlocks := 0
	if cfg.UseLateReverb {
		lateBlocks = blocksFor(cfg.LateReverbSize, cfg.BlockSize)
	}

	convolvers := make([]*convolver.Convolver, cfg.MaxChannels)
	for i := range convolvers {
		c, err := convolver.New(cfg.BlockSize, earlyBlocks, lateBlocks, plan)
		if err != nil {
			return nil, fmt.Errorf("engine: build convolver %d: %w", i, err)
		}
		convolvers[i] = c
	}

	e := &Engine{
		cfg:        cfg,
		store:      store,
		tracker:    posetracker.New(cfg.MaxChannels),
		convolvers: convolvers,
		log:        log,
	}

	if cfg.UseHeadphoneFilter {
		hpBlocks := blocksFor(cfg.HeadphoneFilterSize, cfg.BlockSize)
		hp, err := convolver.New(cfg.BlockSize, hpBlocks, 0, plan)
		if err != nil {
			return nil, fmt.Errorf("engine: build headphone convolver: %w", err)
		}
		hpFilter := store.Headphone()
		left, right, err := hpFilter.Spectra()
		if err != nil {
			return nil, fmt.Errorf("engine: headphone filter not prepared: %w", err)
		}
		if err := hp.SetFilter(left, right, 1, nil, nil, false); err != nil {
			return nil, fmt.Errorf("engine: install headphone filter: %w", err)
		}
		e.headphone = hp
	}

	log.Info("engine ready", "channels", cfg.MaxChannels, "blockSize", cfg.BlockSize, "headphone", cfg.UseHeadphoneFilter)
	return e, nil
}

func blocksFor(size, blockSize int) int {
	if size <= 0 {
		return 0
	}
	return (size + blockSize - 1) / blockSize
}

// HandleBlock runs one input block for channel through the synthesis
// pipeline, resolving the direction (azimuth, elevation) against the
// filter store only when it has changed since the previous call on this
// channel. The returned slice is interleaved stereo, blockSize frames.
func (e *Engine) HandleBlock(channel int, block []float32, azimuth, elevation int) ([]float32, error) {
	if channel < 0 || channel >= len(e.convolvers) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	if len(block) != e.cfg.BlockSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidBlock, len(block), e.cfg.BlockSize)
	}

	if err := e.tracker.Update(channel, azimuth, elevation); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if dirty, _ := e.tracker.NeedsUpdate(channel); dirty {
		p, _ := e.tracker.Consume(channel)
		if err := e.refreshFilter(channel, p); err != nil {
			return nil, err
		}
	}

	outL, outR, err := e.convolvers[channel].Process(block)
	if err != nil {
		return nil, fmt.Errorf("engine: channel %d: %w", channel, err)
	}

	if e.headphone != nil {
		outL, outR, err = e.headphone.ProcessStereo(outL, outR)
		if err != nil {
			return nil, fmt.Errorf("engine: headphone stage: %w", err)
		}
	}

	result := make([]float32, e.cfg.BlockSize*2)
	gain := float32(e.cfg.LoudnessFactor)
	var peak float32
	for i := 0; i < e.cfg.BlockSize; i++ {
		l := outL[i] * gain
		r := outR[i] * gain
		result[i*2] = l
		result[i*2+1] = r
		if a := float32(math.Abs(float64(l))); a > peak {
			peak = a
		}
		if a := float32(math.Abs(float64(r))); a > peak {
			peak = a
		}
	}
	if peak > 1 {
		e.log.Warn("clipping occurred, adjust loudnessFactor", "channel", channel, "peak", peak)
	}

	return result, nil
}

func (e *Engine) refreshFilter(channel int, p pose.Pose) error {
	f := e.store.Nearest(p)
	left, right, err := f.Spectra()
	if err != nil {
		return fmt.Errorf("engine: channel %d: %w", channel, err)
	}

	var dirLeft, dirRight [][]complex64
	if e.cfg.DirectivitySize > 0 {
		dir := e.store.NearestDirectivity(p)
		dl, dr, err := dir.Spectra()
		if err != nil {
			return fmt.Errorf("engine: channel %d directivity: %w", channel, err)
		}
		if len(dl) == len(left) {
			dirLeft, dirRight = dl, dr
		} else {
			e.log.Warn("directivity filter block count does not match directional filter, skipping",
				"channel", channel, "directivityBlocks", len(dl), "directionalBlocks", len(left))
		}
	}

	if err := e.convolvers[channel].SetFilter(left, right, 1, dirLeft, dirRight, e.cfg.EnableCrossfading); err != nil {
		return fmt.Errorf("engine: channel %d: %w", channel, err)
	}

	if e.cfg.UseLateReverb {
		late := e.store.NearestLateReverb(p)
		lateLeft, lateRight, err := late.Spectra()
		if err != nil {
			return fmt.Errorf("engine: channel %d late reverb: %w", channel, err)
		}
		if err := e.convolvers[channel].SetLateReverb(lateLeft, lateRight, e.cfg.EnableCrossfading); err != nil {
			return fmt.Errorf("engine: channel %d late reverb: %w", channel, err)
		}
	}
	return nil
}

// Channels returns the number of channels this Engine was built for.
func (e *Engine) Channels() int { return len(e.convolvers) }

// BlockSize returns the configured block size N.
func (e *Engine) BlockSize() int { return e.cfg.BlockSize }

// Snapshot returns a diagnostic summary for the monitor: per-channel
// processed-block counters, independent of the audio path.
func (e *Engine) Snapshot() Snapshot {
	channels := make([]uint64, len(e.convolvers))
	for i, c := range e.convolvers {
		channels[i] = c.Counter()
	}
	return Snapshot{Channels: channels}
}

// Snapshot is a read-only diagnostic view of engine activity.
type Snapshot struct {
	Channels []uint64 // blocks processed per channel
}
