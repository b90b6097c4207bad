package filtercache

import (
	"os"
	"path/filepath"
	"testing"
)

func sampleEntries() []Entry {
	return []Entry{
		{
			Key:       "0|0|0|0|0|0|0|0|0",
			BlockSize: 4,
			Left:      [][]complex64{{1, 2, 3, 4, 5}, {0, 0, 0, 0, 0}},
			Right:     [][]complex64{{1 + 1i, 0, 0, 0, 0}, {0, 0, 0, 0, 0}},
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.fsch")

	var hash [32]byte
	hash[0] = 0xAB

	if err := Write(cachePath, hash, sampleEntries()); err != nil {
		t.Fatal(err)
	}

	got, err := Read(cachePath, hash)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if got[0].Key != "0|0|0|0|0|0|0|0|0" {
		t.Fatalf("Key = %q", got[0].Key)
	}
	if len(got[0].Left) != 2 || len(got[0].Right) != 2 {
		t.Fatalf("unexpected block counts: %+v", got[0])
	}
	// f16 is lossy; check approximate equality instead of exact.
	if d := real(got[0].Left[0][1]) - 2; d < -0.01 || d > 0.01 {
		t.Fatalf("Left[0][1] = %v, want ~2", got[0].Left[0][1])
	}
}

func TestReadRejectsHashMismatch(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.fsch")

	var hash [32]byte
	hash[0] = 1
	if err := Write(cachePath, hash, sampleEntries()); err != nil {
		t.Fatal(err)
	}

	var wrongHash [32]byte
	wrongHash[0] = 2
	if _, err := Read(cachePath, wrongHash); err == nil {
		t.Fatalf("expected ErrHashMismatch")
	}
}

func TestReadRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "bad.fsch")
	if err := os.WriteFile(cachePath, []byte("NOTFSCH"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(cachePath, [32]byte{}); err == nil {
		t.Fatalf("expected ErrInvalidMagic")
	}
}

func TestHashFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "source.txt")
	if err := os.WriteFile(path, []byte("FILTER 0 0 a.wav\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h1, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("HashFile not deterministic")
	}
}
