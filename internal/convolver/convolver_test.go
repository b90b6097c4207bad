package convolver

import (
	"errors"
	"testing"

	algofft "github.com/MeKo-Christian/algo-fft"
)

const blockSize = 4

func mustPlan(t *testing.T) *algofft.PlanRealT[float32, complex64] {
	t.Helper()
	plan, err := algofft.NewPlanReal32(blockSize * 2)
	if err != nil {
		t.Fatalf("NewPlanReal32: %v", err)
	}
	return plan
}

func identitySpectrum(t *testing.T, plan *algofft.PlanRealT[float32, complex64], blocks int) [][]complex64 {
	t.Helper()
	rows := make([][]complex64, blocks)
	frame := make([]float32, blockSize*2)
	for b := 0; b < blocks; b++ {
		for i := range frame {
			frame[i] = 0
		}
		if b == 0 {
			frame[0] = 1 // unit impulse in block 0
		}
		rows[b] = make([]complex64, blockSize+1)
		if err := plan.Forward(rows[b], frame); err != nil {
			t.Fatalf("Forward: %v", err)
		}
	}
	return rows
}

func zeroSpectrum(blocks int) [][]complex64 {
	rows := make([][]complex64, blocks)
	for b := range rows {
		rows[b] = make([]complex64, blockSize+1)
	}
	return rows
}

func TestWindowsSumToOne(t *testing.T) {
	in, out := crossfadeWindows(blockSize)
	for i := range in {
		if got := in[i] + out[i]; got < 0.999999 || got > 1.000001 {
			t.Fatalf("windowIn[%d]+windowOut[%d] = %v, want 1", i, i, got)
		}
	}
}

func TestSilenceInSilenceOut(t *testing.T) {
	plan := mustPlan(t)
	c, err := New(blockSize, 2, 0, plan)
	if err != nil {
		t.Fatal(err)
	}
	left := identitySpectrum(t, plan, 2)
	right := identitySpectrum(t, plan, 2)
	if err := c.SetFilter(left, right, 1, nil, nil, false); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 4; i++ {
		outL, outR, err := c.Process(make([]float32, blockSize))
		if err != nil {
			t.Fatal(err)
		}
		for _, v := range outL {
			if v != 0 {
				t.Fatalf("silence in produced nonzero left output: %v", outL)
			}
		}
		for _, v := range outR {
			if v != 0 {
				t.Fatalf("silence in produced nonzero right output: %v", outR)
			}
		}
	}
}

func TestZeroFilterProducesZeroOutput(t *testing.T) {
	plan := mustPlan(t)
	c, err := New(blockSize, 2, 0, plan)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetFilter(zeroSpectrum(2), zeroSpectrum(2), 1, nil, nil, false); err != nil {
		t.Fatal(err)
	}

	block := []float32{1, 1, 1, 1}
	outL, outR, err := c.Process(block)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range outL {
		if v != 0 {
			t.Fatalf("zero filter produced nonzero left output: %v", outL)
		}
	}
	for _, v := range outR {
		if v != 0 {
			t.Fatalf("zero filter produced nonzero right output: %v", outR)
		}
	}
}

func TestIdentityFilterPreservesImpulse(t *testing.T) {
	plan := mustPlan(t)
	c, err := New(blockSize, 1, 0, plan)
	if err != nil {
		t.Fatal(err)
	}
	left := identitySpectrum(t, plan, 1)
	right := identitySpectrum(t, plan, 1)
	if err := c.SetFilter(left, right, 1, nil, nil, false); err != nil {
		t.Fatal(err)
	}

	impulse := []float32{1, 0, 0, 0}
	outL, _, err := c.Process(impulse)
	if err != nil {
		t.Fatal(err)
	}
	if outL[0] < 0.999 || outL[0] > 1.001 {
		t.Fatalf("identity filter distorted impulse: %v", outL)
	}
	for _, v := range outL[1:] {
		if v < -0.001 || v > 0.001 {
			t.Fatalf("identity filter leaked energy: %v", outL)
		}
	}
}

func TestProcessRejectsWrongBlockSize(t *testing.T) {
	plan := mustPlan(t)
	c, err := New(blockSize, 1, 0, plan)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Process(make([]float32, blockSize+1)); !errors.Is(err, ErrBlockSizeMismatch) {
		t.Fatalf("expected ErrBlockSizeMismatch, got %v", err)
	}
}

func TestSetFilterRejectsWrongBlockCount(t *testing.T) {
	plan := mustPlan(t)
	c, err := New(blockSize, 2, 0, plan)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetFilter(zeroSpectrum(1), zeroSpectrum(1), 1, nil, nil, false); !errors.Is(err, ErrFilterShapeMismatch) {
		t.Fatalf("expected ErrFilterShapeMismatch, got %v", err)
	}
}

func TestCrossfadeBlendsOldAndNew(t *testing.T) {
	plan := mustPlan(t)
	c, err := New(blockSize, 1, 0, plan)
	if err != nil {
		t.Fatal(err)
	}
	// Old filter is zero, new filter is identity; feed a DC block so the
	// crossfaded block rises from the old filter's 0 at sample 0 towards
	// the new filter's steady-state value at the last sample.
	if err := c.SetFilter(zeroSpectrum(1), zeroSpectrum(1), 1, nil, nil, false); err != nil {
		t.Fatal(err)
	}
	dc := []float32{1, 1, 1, 1}
	if _, _, err := c.Process(dc); err != nil {
		t.Fatal(err)
	}

	left := identitySpectrum(t, plan, 1)
	right := identitySpectrum(t, plan, 1)
	if err := c.SetFilter(left, right, 1, nil, nil, true); err != nil {
		t.Fatal(err)
	}
	outL, _, err := c.Process(dc)
	if err != nil {
		t.Fatal(err)
	}
	// windowIn[0] is 0 (sin(0)=0), so sample 0 should still favor the old
	// (zero) filter heavily; windowIn rises towards 1 across the block.
	if outL[0] < -0.001 || outL[0] > 0.001 {
		t.Fatalf("crossfade sample 0 should start near the old filter's output, got %v", outL[0])
	}
}

func TestSetFilterAppliesDistanceAndDirectivity(t *testing.T) {
	plan := mustPlan(t)
	c, err := New(blockSize, 1, 0, plan)
	if err != nil {
		t.Fatal(err)
	}
	left := identitySpectrum(t, plan, 1)
	right := identitySpectrum(t, plan, 1)

	// A directivity filter that halves every bin, combined with a 0.5
	// distance attenuation, should scale the impulse response by 0.25.
	half := zeroSpectrum(1)
	for i := range half[0] {
		half[0][i] = 0.5
	}
	if err := c.SetFilter(left, right, 0.5, half, half, false); err != nil {
		t.Fatal(err)
	}

	outL, _, err := c.Process([]float32{1, 0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if outL[0] < 0.24 || outL[0] > 0.26 {
		t.Fatalf("outL[0] = %v, want ~0.25 (0.5 distance * 0.5 directivity)", outL[0])
	}
}

func TestSetFilterWithoutCrossfadeSwitchesAbruptly(t *testing.T) {
	plan := mustPlan(t)
	c, err := New(blockSize, 1, 0, plan)
	if err != nil {
		t.Fatal(err)
	}
	left := identitySpectrum(t, plan, 1)
	right := identitySpectrum(t, plan, 1)
	if err := c.SetFilter(left, right, 1, nil, nil, false); err != nil {
		t.Fatal(err)
	}
	impulse := []float32{1, 0, 0, 0}
	outL, _, err := c.Process(impulse)
	if err != nil {
		t.Fatal(err)
	}
	if outL[0] < 0.999 || outL[0] > 1.001 {
		t.Fatalf("outL[0] before swap = %v, want ~1", outL[0])
	}

	// Same filter, quarter scale, swapped in without a crossfade: the very
	// next block must land on the new scale with no blend toward the old.
	if err := c.SetFilter(left, right, 0.25, nil, nil, false); err != nil {
		t.Fatal(err)
	}
	outL, _, err = c.Process(impulse)
	if err != nil {
		t.Fatal(err)
	}
	if outL[0] < 0.249 || outL[0] > 0.251 {
		t.Fatalf("outL[0] after abrupt swap = %v, want ~0.25 with no blending", outL[0])
	}
}

func TestLateReverbRequiresEnabledTail(t *testing.T) {
	plan := mustPlan(t)
	c, err := New(blockSize, 1, 0, plan)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetLateReverb(zeroSpectrum(1), zeroSpectrum(1), false); err == nil {
		t.Fatalf("expected error when late-reverb is disabled")
	}
}

func TestLateReverbSplicesIntoTail(t *testing.T) {
	plan := mustPlan(t)
	c, err := New(blockSize, 1, 1, plan)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetFilter(zeroSpectrum(1), zeroSpectrum(1), 1, nil, nil, false); err != nil {
		t.Fatal(err)
	}
	late := identitySpectrum(t, plan, 1)
	if err := c.SetLateReverb(late, late, false); err != nil {
		t.Fatal(err)
	}

	// Two blocks: the late tail occupies logical block 1, which only
	// affects the delay line once two blocks have been fed.
	if _, _, err := c.Process([]float32{1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	outL, _, err := c.Process([]float32{0, 0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if outL[0] < 0.999 || outL[0] > 1.001 {
		t.Fatalf("late-reverb tail did not apply identity filter to delayed block: %v", outL)
	}
}
