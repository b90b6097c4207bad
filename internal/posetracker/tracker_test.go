package posetracker

import (
	"errors"
	"testing"
)

func TestNewStartsAllDirty(t *testing.T) {
	tr := New(4)
	for ch := 0; ch < 4; ch++ {
		dirty, err := tr.NeedsUpdate(ch)
		if err != nil {
			t.Fatal(err)
		}
		if !dirty {
			t.Fatalf("channel %d should start dirty", ch)
		}
	}
}

func TestUpdateSetsDirtyOnlyOnChange(t *testing.T) {
	tr := New(2)
	if err := tr.Update(0, 30, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Consume(0); err != nil {
		t.Fatal(err)
	}
	if dirty, _ := tr.NeedsUpdate(0); dirty {
		t.Fatalf("channel should not be dirty right after Consume")
	}

	if err := tr.Update(0, 30, 0); err != nil {
		t.Fatal(err)
	}
	if dirty, _ := tr.NeedsUpdate(0); dirty {
		t.Fatalf("identical pose should not re-dirty the channel")
	}

	if err := tr.Update(0, 60, 0); err != nil {
		t.Fatal(err)
	}
	if dirty, _ := tr.NeedsUpdate(0); !dirty {
		t.Fatalf("changed pose should dirty the channel")
	}
}

func TestConsumeReturnsPoseAndClearsDirty(t *testing.T) {
	tr := New(1)
	if err := tr.Update(0, 10, 20); err != nil {
		t.Fatal(err)
	}
	p, err := tr.Consume(0)
	if err != nil {
		t.Fatal(err)
	}
	az, el := p.Coord()
	if az != 10 || el != 20 {
		t.Fatalf("Consume pose = (%d,%d), want (10,20)", az, el)
	}
	if dirty, _ := tr.NeedsUpdate(0); dirty {
		t.Fatalf("Consume should clear dirty flag")
	}
}

func TestOutOfRangeChannelErrors(t *testing.T) {
	tr := New(2)
	if err := tr.Update(5, 0, 0); !errors.Is(err, ErrChannelOutOfRange) {
		t.Fatalf("expected ErrChannelOutOfRange, got %v", err)
	}
	if _, err := tr.Consume(-1); !errors.Is(err, ErrChannelOutOfRange) {
		t.Fatalf("expected ErrChannelOutOfRange, got %v", err)
	}
	if _, err := tr.NeedsUpdate(2); !errors.Is(err, ErrChannelOutOfRange) {
		t.Fatalf("expected ErrChannelOutOfRange, got %v", err)
	}
}
