// Package pspf implements PSPF/2025 slot descriptors
// This file contains tests for slot descriptor packing/unpacking
package pspf

import (
	"fmt"
	"testing"
)

// TestSlotDescriptorPacking tests packing slot descriptors
func TestSlotDescriptorPacking(t *testing.T) {
	gzipOps, err := PackOperations([]uint8{OP_GZIP})
	if err != nil {
		t.Fatalf("PackOperations: %v", err)
	}
	tarGzipOps, err := PackOperations([]uint8{OP_TAR, OP_GZIP})
	if err != nil {
		t.Fatalf("PackOperations: %v", err)
	}

	testCases := []struct {
		name string
		desc SlotDescriptor
	}{
		{
			name: "raw_data",
			desc: SlotDescriptor{
				ID:         1,
				NameHash:   HashName("test_raw.txt"),
				Offset:     0,
				Size:       100,
				Operations: 0, // raw, no operations
				Checksum:   0x12345678,
				Purpose:    PurposeData,
				Lifecycle:  LifecycleRuntime,
			},
		},
		{
			name: "gzip_only",
			desc: SlotDescriptor{
				ID:          2,
				NameHash:    HashName("test_gzip.txt"),
				Offset:      1024,
				Size:        512,
				Operations:  gzipOps,
				Checksum:    0xABCDEF01,
				Purpose:     PurposeLibrary,
				Lifecycle:   LifecycleInit,
				Permissions: 0o644,
			},
		},
		{
			name: "tar_gzip",
			desc: SlotDescriptor{
				ID:          42,
				NameHash:    HashName("archive.tar.gz"),
				Offset:      8192,
				Size:        4096,
				Operations:  tarGzipOps,
				Checksum:    0xDEADBEEF,
				Purpose:     PurposeData,
				Lifecycle:   LifecycleCache,
				Permissions: 0o755,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			packed := tc.desc.Pack()

			if len(packed) != SlotDescriptorSize {
				t.Errorf("Packed size = %d, want %d", len(packed), SlotDescriptorSize)
			}

			unpacked, err := UnpackSlotDescriptor(packed)
			if err != nil {
				t.Fatalf("Failed to unpack: %v", err)
			}

			if unpacked.ID != tc.desc.ID {
				t.Errorf("ID = %d, want %d", unpacked.ID, tc.desc.ID)
			}
			if unpacked.NameHash != tc.desc.NameHash {
				t.Errorf("NameHash = %d, want %d", unpacked.NameHash, tc.desc.NameHash)
			}
			if unpacked.Operations != tc.desc.Operations {
				t.Errorf("Operations = 0x%016x, want 0x%016x", unpacked.Operations, tc.desc.Operations)
			}
			if unpacked.Checksum != tc.desc.Checksum {
				t.Errorf("Checksum = 0x%016x, want 0x%016x", unpacked.Checksum, tc.desc.Checksum)
			}
			if unpacked.Permissions != tc.desc.Permissions {
				t.Errorf("Permissions = 0%o, want 0%o", unpacked.Permissions, tc.desc.Permissions)
			}
			if unpacked.Purpose != tc.desc.Purpose {
				t.Errorf("Purpose = %d, want %d", unpacked.Purpose, tc.desc.Purpose)
			}
			if unpacked.Lifecycle != tc.desc.Lifecycle {
				t.Errorf("Lifecycle = %d, want %d", unpacked.Lifecycle, tc.desc.Lifecycle)
			}
		})
	}
}

// TestSlotDescriptorOverlaps tests the overlap invariant check (§3)
func TestSlotDescriptorOverlaps(t *testing.T) {
	a := &SlotDescriptor{Offset: 0, Size: 100}
	b := &SlotDescriptor{Offset: 50, Size: 100}
	c := &SlotDescriptor{Offset: 100, Size: 100}
	empty := &SlotDescriptor{Offset: 0, Size: 0}

	if !a.Overlaps(b) {
		t.Error("expected overlap between a and b")
	}
	if a.Overlaps(c) {
		t.Error("did not expect overlap between a and c (adjacent ranges)")
	}
	if a.Overlaps(empty) {
		t.Error("a zero-size slot should never overlap")
	}
}

// TestHashName exercises the stable name hash used for slot lookup
func TestHashName(t *testing.T) {
	testCases := []string{"test_raw.txt", "test_gzip.txt", "archive.tar.gz"}

	seen := make(map[uint64]string)
	for _, name := range testCases {
		hash := HashName(name)
		if other, ok := seen[hash]; ok {
			t.Errorf("HashName collision: %q and %q both hash to 0x%016x", name, other, hash)
		}
		seen[hash] = name

		if hash != HashName(name) {
			t.Errorf("HashName(%q) is not deterministic", name)
		}
	}
}

// TestPermissions round-trips the descriptor's POSIX permission bits
func TestPermissions(t *testing.T) {
	testCases := []uint16{0o644, 0o755, 0o700, 0o777, 0o400}

	for _, perm := range testCases {
		t.Run(fmt.Sprintf("0%o", perm), func(t *testing.T) {
			desc := SlotDescriptor{Permissions: perm}
			packed := desc.Pack()

			unpacked, err := UnpackSlotDescriptor(packed)
			if err != nil {
				t.Fatalf("Failed to unpack: %v", err)
			}
			if unpacked.Permissions != perm {
				t.Errorf("Permissions = 0%o, want 0%o", unpacked.Permissions, perm)
			}
		})
	}
}
