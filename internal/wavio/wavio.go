// Package wavio decodes the stereo (or mono) float32 WAV files that back
// the filter store's impulse responses, and reshapes them to the exact
// frame count a filter population requires.
package wavio

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/wav"
)

// DecodeStereo reads a WAV file from path and returns its samples as
// interleaved float32 stereo frames ([L0,R0,L1,R1,...]) in the range
// [-1, 1]. Mono files are expanded to stereo by duplicating the single
// channel into both ears.
func DecodeStereo(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavio: open %q: %w", path, err)
	}
	defer f.Close()

	samples, channels, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("wavio: decode %q: %w", path, err)
	}

	switch channels {
	case 1:
		return expandMono(samples), nil
	case 2:
		return samples, nil
	default:
		// Keep only the first two channels; filters are always stereo
		// BRIRs here.
		return downmixFirstTwo(samples, channels), nil
	}
}

func decode(r io.Reader) (samples []float32, channels int, err error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, 0, fmt.Errorf("not a valid WAV file")
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("read PCM buffer: %w", err)
	}

	channels = buf.Format.NumChannels
	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	maxAmplitude := float64(int64(1) << (uint(bitDepth) - 1))

	samples = make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(float64(v) / maxAmplitude)
	}
	return samples, channels, nil
}

func expandMono(mono []float32) []float32 {
	out := make([]float32, len(mono)*2)
	for i, v := range mono {
		out[i*2] = v
		out[i*2+1] = v
	}
	return out
}

func downmixFirstTwo(interleaved []float32, channels int) []float32 {
	frames := len(interleaved) / channels
	out := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		out[i*2] = interleaved[i*channels]
		out[i*2+1] = interleaved[i*channels+1]
	}
	return out
}

// ResizeFrames zero-pads or truncates an interleaved stereo buffer to
// exactly targetFrames frames (targetFrames*2 samples).
func ResizeFrames(interleavedStereo []float32, targetFrames int) []float32 {
	want := targetFrames * 2
	if len(interleavedStereo) == want {
		return interleavedStereo
	}
	out := make([]float32, want)
	copy(out, interleavedStereo)
	return out
}

// Peak returns the largest absolute sample value.
func Peak(samples []float32) float32 {
	var peak float32
	for _, v := range samples {
		a := float32(math.Abs(float64(v)))
		if a > peak {
			peak = a
		}
	}
	return peak
}
