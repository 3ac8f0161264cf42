package shmring

import "testing"

func TestNewRingRejectsNonPositiveCapacity(t *testing.T) {
	if _, err := NewRing(0); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

func TestRingWriteReadRoundTrip(t *testing.T) {
	r, err := NewRing(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := r.Writable()
	if len(w) != 16 {
		t.Fatalf("expected 16 writable bytes, got %d", len(w))
	}
	n := copy(w, []byte("hello world!!!!!"))
	r.CommitWrite(n)

	if r.Used() != 16 || r.Free() != 0 {
		t.Fatalf("unexpected used/free after write: used=%d free=%d", r.Used(), r.Free())
	}

	read := r.Readable()
	if string(read) != "hello world!!!!!" {
		t.Fatalf("unexpected readable content: %q", read)
	}
	r.CommitRead(len(read))

	if r.Used() != 0 || r.Free() != 16 {
		t.Fatalf("expected empty ring after full read, used=%d free=%d", r.Used(), r.Free())
	}
}

func TestRingWraparoundBoundsWritable(t *testing.T) {
	r, _ := NewRing(8)
	w := r.Writable()
	r.CommitWrite(copy(w, []byte("12345678")))
	r.CommitRead(6) // free up 6 bytes at the start, wrap point is mid-buffer

	w2 := r.Writable()
	if len(w2) == 0 {
		t.Fatal("expected writable space after partial read")
	}
	// Writable must not exceed capacity-used even across the wrap boundary.
	if len(w2) > r.Free() {
		t.Fatalf("writable window %d exceeds free space %d", len(w2), r.Free())
	}
}

func TestInterleavedAreaChannelFrame(t *testing.T) {
	data := make([]byte, 2*2*4) // 2 channels, 2 frames, 4 bytes/sample
	for i := range data {
		data[i] = byte(i)
	}
	area := NewInterleavedArea(data, 2, 4)
	f0c1 := area.ChannelFrame(1, 0)
	if len(f0c1) != 4 || f0c1[0] != 4 {
		t.Fatalf("unexpected interleaved channel frame: %v", f0c1)
	}
}

func TestPlanarAreaChannelFrame(t *testing.T) {
	planeLen := 8
	data := make([]byte, 2*planeLen)
	for i := range data {
		data[i] = byte(i)
	}
	area := NewPlanarArea(data, 2, 4, planeLen)
	f0c1 := area.ChannelFrame(1, 0)
	if f0c1[0] != byte(planeLen) {
		t.Fatalf("expected planar channel 1 to start at plane offset %d, got %v", planeLen, f0c1)
	}
}
