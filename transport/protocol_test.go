package transport

import "testing"

func TestDecodeRequestRejectsWrongSize(t *testing.T) {
	_, _, _, _, err := DecodeRequest(make([]byte, 3), 4)
	if err == nil {
		t.Fatalf("expected shape error")
	}
}

func TestDecodeRequestRowMajor(t *testing.T) {
	const blockSize = 4
	payload := make([]byte, RequestSize(blockSize))
	// row-major: row i, column 0 (audio) at offset i*2, column 1 at i*2+1
	for i, v := range []float32{1, 2, 3, 4} {
		writeFloat32(payload, i*2, v)
	}
	// column 1: channel=2, azimuth=30, elevation=-10
	writeFloat32(payload, 0*2+1, 2)
	writeFloat32(payload, 1*2+1, 30)
	writeFloat32(payload, 2*2+1, -10)

	block, channel, az, el, err := DecodeRequest(payload, blockSize)
	if err != nil {
		t.Fatal(err)
	}
	if channel != 2 || az != 30 || el != -10 {
		t.Fatalf("decoded (channel,az,el) = (%d,%d,%d), want (2,30,-10)", channel, az, el)
	}
	want := []float32{1, 2, 3, 4}
	for i := range want {
		if block[i] != want[i] {
			t.Fatalf("block[%d] = %v, want %v", i, block[i], want[i])
		}
	}
}

func TestEncodeReplyRowMajor(t *testing.T) {
	const blockSize = 2
	interleaved := []float32{1, 10, 2, 20} // L0,R0,L1,R1
	out := EncodeReply(interleaved, blockSize)
	if len(out) != RequestSize(blockSize) {
		t.Fatalf("len(out) = %d, want %d", len(out), RequestSize(blockSize))
	}
	if v := readFloat32(out, 0); v != 1 {
		t.Fatalf("row0 col0 = %v, want 1", v)
	}
	if v := readFloat32(out, 1); v != 10 {
		t.Fatalf("row0 col1 = %v, want 10", v)
	}
	if v := readFloat32(out, 2); v != 2 {
		t.Fatalf("row1 col0 = %v, want 2", v)
	}
	if v := readFloat32(out, 3); v != 20 {
		t.Fatalf("row1 col1 = %v, want 20", v)
	}
}
