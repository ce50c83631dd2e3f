// Package pspf implements PSPF/2025 operation chains
// This file contains tests for operation packing/unpacking
package pspf

import (
	"fmt"
	"testing"

	"github.com/hashicorp/go-hclog"
)

// TestOperationPacking tests packing operations into 64-bit integers
func TestOperationPacking(t *testing.T) {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "operations_test",
		Level: hclog.Trace,
	})

	testCases := []struct {
		name       string
		operations []uint8
		expected   uint64
		wantErr    bool
	}{
		{
			name:       "empty/raw",
			operations: []uint8{},
			expected:   0x0,
		},
		{
			name:       "single GZIP",
			operations: []uint8{OP_GZIP},
			expected:   0x10,
		},
		{
			name:       "single TAR",
			operations: []uint8{OP_TAR},
			expected:   0x01,
		},
		{
			name:       "TAR + GZIP",
			operations: []uint8{OP_TAR, OP_GZIP},
			expected:   0x1001,
		},
		{
			name:       "TAR + BZIP2",
			operations: []uint8{OP_TAR, OP_BZIP2},
			expected:   0x1301,
		},
		{
			name:       "TAR + ZSTD",
			operations: []uint8{OP_TAR, OP_ZSTD},
			expected:   0x1b01,
		},
		{
			name:       "TAR + GZIP + XZ",
			operations: []uint8{OP_TAR, OP_GZIP, OP_XZ},
			expected:   0x161001,
		},
		{
			name:       "8 operations",
			operations: []uint8{1, 2, 3, 4, 5, 6, 7, 8},
			expected:   0x0807060504030201,
		},
		{
			name:       "9 operations exceeds limit",
			operations: []uint8{1, 2, 3, 4, 5, 6, 7, 8, 9},
			wantErr:    true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			logger.Info("testing operation packing", "test", tc.name, "operations", tc.operations)

			packed, err := PackOperations(tc.operations)
			if tc.wantErr {
				if err == nil {
					t.Errorf("PackOperations(%v) expected error, got nil", tc.operations)
				}
				return
			}
			if err != nil {
				t.Fatalf("PackOperations(%v) unexpected error: %v", tc.operations, err)
			}

			if packed != tc.expected {
				t.Errorf("PackOperations(%v) = 0x%016x, want 0x%016x",
					tc.operations, packed, tc.expected)
			}
		})
	}
}

// TestOperationUnpacking tests unpacking 64-bit integers into operations
func TestOperationUnpacking(t *testing.T) {
	testCases := []struct {
		name     string
		packed   uint64
		expected []uint8
	}{
		{
			name:     "empty/raw",
			packed:   0x0,
			expected: []uint8{},
		},
		{
			name:     "single GZIP",
			packed:   0x10,
			expected: []uint8{OP_GZIP},
		},
		{
			name:     "single TAR",
			packed:   0x01,
			expected: []uint8{OP_TAR},
		},
		{
			name:     "TAR + GZIP",
			packed:   0x1001,
			expected: []uint8{OP_TAR, OP_GZIP},
		},
		{
			name:     "TAR + GZIP + XZ",
			packed:   0x161001,
			expected: []uint8{OP_TAR, OP_GZIP, OP_XZ},
		},
		{
			name:     "8 operations",
			packed:   0x0807060504030201,
			expected: []uint8{1, 2, 3, 4, 5, 6, 7, 8},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ops := UnpackOperations(tc.packed)
			if !equalSlices(ops, tc.expected) {
				t.Errorf("UnpackOperations(0x%016x) = %v, want %v",
					tc.packed, ops, tc.expected)
			}
		})
	}
}

// TestOperationRoundTrip tests packing and unpacking are inverses
func TestOperationRoundTrip(t *testing.T) {
	testCases := [][]uint8{
		{},
		{OP_GZIP},
		{OP_TAR},
		{OP_TAR, OP_GZIP},
		{OP_TAR, OP_BZIP2},
		{OP_TAR, OP_ZSTD, OP_XZ},
		{1, 2, 3, 4, 5, 6, 7, 8},
	}

	for i, ops := range testCases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			packed, err := PackOperations(ops)
			if err != nil {
				t.Fatalf("PackOperations(%v) unexpected error: %v", ops, err)
			}

			unpacked := UnpackOperations(packed)

			if !equalSlices(unpacked, ops) {
				t.Errorf("Round-trip failed: %v -> 0x%016x -> %v",
					ops, packed, unpacked)
			}
		})
	}
}

// TestOperationNames tests operation constant to name mapping
func TestOperationNames(t *testing.T) {
	testCases := []struct {
		op   uint8
		name string
	}{
		{OP_TAR, "TAR"},
		{OP_GZIP, "GZIP"},
		{OP_BZIP2, "BZIP2"},
		{OP_XZ, "XZ"},
		{OP_ZSTD, "ZSTD"},
		{0x7F, "UNKNOWN"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			name := OperationName(tc.op)
			if name != tc.name {
				t.Errorf("OperationName(%d) = %s, want %s", tc.op, name, tc.name)
			}
		})
	}
}

// TestChainStringRoundTrip exercises the canonical-string encoding (§4.1)
func TestChainStringRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		ops  []uint8
	}{
		{"raw", []uint8{}},
		{"tar", []uint8{OP_TAR}},
		{"tar.gz", []uint8{OP_TAR, OP_GZIP}},
		{"tar.bz2", []uint8{OP_TAR, OP_BZIP2}},
		{"tar.xz", []uint8{OP_TAR, OP_XZ}},
		{"tar.zst", []uint8{OP_TAR, OP_ZSTD}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := ChainToString(tc.ops)
			if s != tc.name {
				t.Errorf("ChainToString(%v) = %q, want %q", tc.ops, s, tc.name)
			}

			ops, err := ChainFromString(s)
			if err != nil {
				t.Fatalf("ChainFromString(%q) unexpected error: %v", s, err)
			}
			if !equalSlices(ops, tc.ops) {
				t.Errorf("ChainFromString(%q) = %v, want %v", s, ops, tc.ops)
			}
		})
	}
}

// TestChainFromStringUnknownOp rejects unrecognized operation names
func TestChainFromStringUnknownOp(t *testing.T) {
	if _, err := ChainFromString("lz4"); err == nil {
		t.Error("ChainFromString(\"lz4\") expected error, got nil")
	}
}

// Helper function to compare slices
func equalSlices(a, b []uint8) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
