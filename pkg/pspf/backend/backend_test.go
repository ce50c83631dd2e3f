package backend

import (
	"bytes"
	"os"
	"testing"

	"github.com/hashicorp/go-hclog"
)

func writeTempFile(t *testing.T, data []byte) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "backend-test-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	return f
}

func TestPositionalReadAt(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 100)
	f := writeTempFile(t, data)
	defer f.Close()

	b := NewPositional(f)
	defer b.Close()

	got, err := b.ReadAt(10, 20)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, data[10:30]) {
		t.Errorf("ReadAt(10,20) = %q, want %q", got, data[10:30])
	}

	// repeat read should hit the cache and still be correct
	got2, err := b.ReadAt(10, 20)
	if err != nil {
		t.Fatalf("ReadAt (cached): %v", err)
	}
	if !bytes.Equal(got2, data[10:30]) {
		t.Errorf("cached ReadAt(10,20) = %q, want %q", got2, data[10:30])
	}
}

func TestMappedReadAt(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefghij"), 50)
	f := writeTempFile(t, data)
	defer f.Close()

	b, err := NewMapped(f, hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("NewMapped: %v", err)
	}
	defer b.Close()

	got, err := b.ReadAt(5, 15)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, data[5:20]) {
		t.Errorf("ReadAt(5,15) = %q, want %q", got, data[5:20])
	}

	if _, err := b.ReadAt(int64(len(data)-5), 100); err == nil {
		t.Error("expected out-of-range read to fail")
	}
}

func TestStreamingSequentialAndReseek(t *testing.T) {
	data := bytes.Repeat([]byte("xy"), 500)
	f := writeTempFile(t, data)
	defer f.Close()

	b := NewStreaming(f)
	defer b.Close()

	first, err := b.ReadAt(0, 100)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(first, data[0:100]) {
		t.Errorf("first read mismatch")
	}

	second, err := b.ReadAt(100, 100)
	if err != nil {
		t.Fatalf("sequential ReadAt: %v", err)
	}
	if !bytes.Equal(second, data[100:200]) {
		t.Errorf("sequential read mismatch")
	}

	// out-of-order read forces a reseek
	back, err := b.ReadAt(10, 10)
	if err != nil {
		t.Fatalf("reseek ReadAt: %v", err)
	}
	if !bytes.Equal(back, data[10:20]) {
		t.Errorf("reseek read mismatch: got %q want %q", back, data[10:20])
	}
}

func TestHybridSplitBoundary(t *testing.T) {
	data := bytes.Repeat([]byte("Z"), 1000)
	for i := range data {
		data[i] = byte('A' + i%26)
	}
	f := writeTempFile(t, data)
	defer f.Close()

	b, err := NewHybrid(f, 500, hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("NewHybrid: %v", err)
	}
	defer b.Close()

	// entirely in mapped half
	got, err := b.ReadAt(0, 10)
	if err != nil || !bytes.Equal(got, data[0:10]) {
		t.Errorf("mapped-half read failed: %v, got %q want %q", err, got, data[0:10])
	}

	// entirely in positional half
	got, err = b.ReadAt(600, 10)
	if err != nil || !bytes.Equal(got, data[600:610]) {
		t.Errorf("positional-half read failed: %v, got %q want %q", err, got, data[600:610])
	}

	// straddling the split
	got, err = b.ReadAt(495, 10)
	if err != nil || !bytes.Equal(got, data[495:505]) {
		t.Errorf("straddling read failed: %v, got %q want %q", err, got, data[495:505])
	}
}

func TestNewSelectsByAccessMode(t *testing.T) {
	data := bytes.Repeat([]byte("q"), 64)
	f := writeTempFile(t, data)
	defer f.Close()

	for _, mode := range []uint8{AccessFile, AccessMmap, AccessAuto, AccessStream} {
		b, err := New(mode, f, int64(len(data)), hclog.NewNullLogger())
		if err != nil {
			t.Fatalf("New(mode=%d): %v", mode, err)
		}
		got, err := b.ReadAt(0, 4)
		if err != nil {
			t.Fatalf("New(mode=%d).ReadAt: %v", mode, err)
		}
		if !bytes.Equal(got, data[0:4]) {
			t.Errorf("New(mode=%d) read mismatch", mode)
		}
		b.Close()
	}
}
