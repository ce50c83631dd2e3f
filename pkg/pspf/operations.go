// Package pspf implements the PSPF/2025 container format: index block,
// slot descriptor table, magic trailer and the operation-chain codec (C1).
package pspf

import (
	"strings"

	"github.com/hashicorp/go-hclog"
)

// v0 opcode space (§3, §4.1). Deliberately narrow: the format reserves the
// full byte range for future versions, but a v0 reader/writer only ever
// packs or recognizes these five.
const (
	OP_NONE  uint8 = 0x00
	OP_TAR   uint8 = 0x01
	OP_GZIP  uint8 = 0x10
	OP_BZIP2 uint8 = 0x13
	OP_XZ    uint8 = 0x16
	OP_ZSTD  uint8 = 0x1B
)

var opsLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "pspf.operations",
	Level: hclog.Trace,
})

// PackOperations packs up to 8 opcodes into a 64-bit field, op[0] in the
// lowest byte, little-endian. Fails with ErrTooManyOps beyond 8.
func PackOperations(ops []uint8) (uint64, error) {
	if len(ops) > 8 {
		return 0, ErrTooManyOps
	}
	var packed uint64
	for i, op := range ops {
		packed |= uint64(op) << (i * 8)
	}
	opsLogger.Trace("packed operation chain", "ops", ops, "packed", packed)
	return packed, nil
}

// UnpackOperations scans byte 0..7 of packed, stopping at the first zero
// byte, and returns the opcode prefix. A chain of all zeros is "raw" and
// unpacks to an empty slice.
func UnpackOperations(packed uint64) []uint8 {
	ops := make([]uint8, 0, 8)
	for i := 0; i < 8; i++ {
		op := uint8((packed >> (i * 8)) & 0xFF)
		if op == OP_NONE {
			break
		}
		ops = append(ops, op)
	}
	return ops
}

var operationNames = map[uint8]string{
	OP_TAR:   "TAR",
	OP_GZIP:  "GZIP",
	OP_BZIP2: "BZIP2",
	OP_XZ:    "XZ",
	OP_ZSTD:  "ZSTD",
}

var namesToOperation = map[string]uint8{
	"TAR":   OP_TAR,
	"GZIP":  OP_GZIP,
	"BZIP2": OP_BZIP2,
	"XZ":    OP_XZ,
	"ZSTD":  OP_ZSTD,
}

// canonical string forms named in §4.1, resolved to an opcode chain.
var namedChains = map[string][]uint8{
	"raw":      {},
	"tar":      {OP_TAR},
	"tar.gz":   {OP_TAR, OP_GZIP},
	"tar.bz2":  {OP_TAR, OP_BZIP2},
	"tar.xz":   {OP_TAR, OP_XZ},
	"tar.zst":  {OP_TAR, OP_ZSTD},
}

// OperationName returns the v0 opcode's name, or "UNKNOWN" outside the v0 set.
func OperationName(op uint8) string {
	if name, ok := operationNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsBundleOp reports whether op is the one opcode whose Reverse produces a
// directory tree rather than a byte blob.
func IsBundleOp(op uint8) bool {
	return op == OP_TAR
}

// ChainToString renders an opcode chain to its canonical textual form: one
// of the named shortcuts ("raw", "tar.gz", ...) if it matches exactly, else
// a pipe-separated list ("TAR|GZIP").
func ChainToString(ops []uint8) string {
	for name, chain := range namedChains {
		if chainsEqual(chain, ops) {
			return name
		}
	}
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = OperationName(op)
	}
	return strings.Join(names, "|")
}

// ChainFromString parses a canonical textual chain form back into opcodes.
// Fails with ErrUnknownOp on an unrecognized name.
func ChainFromString(s string) ([]uint8, error) {
	if chain, ok := namedChains[s]; ok {
		out := make([]uint8, len(chain))
		copy(out, chain)
		return out, nil
	}
	parts := strings.Split(s, "|")
	ops := make([]uint8, 0, len(parts))
	for _, p := range parts {
		op, ok := namesToOperation[strings.ToUpper(strings.TrimSpace(p))]
		if !ok {
			return nil, ErrUnknownOp
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func chainsEqual(a, b []uint8) bool {
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
