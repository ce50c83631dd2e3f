package pspf

import (
	"encoding/binary"
	"fmt"
	"hash/adler32"
)

// Index is the PSPF/2025 index block: a fixed 8192-byte, little-endian
// header describing package geometry. It is self-checksummed: IndexChecksum
// is the Adler-32 of the packed block computed with the checksum field
// itself and the Signature field zeroed.
//
// Field layout below is the frozen byte order (SPEC_FULL.md §3 resolves the
// "reserved field layout" open question this way) and must not be reordered
// without a format-version bump.
type Index struct {
	FormatVersion uint32 // 0x20250001
	IndexChecksum uint32 // Adler-32 of this block with this field and Signature zeroed

	PackageSize     uint64 // total file size
	LauncherSize    uint64 // size of the launcher prefix
	SlotCount       uint32
	SlotTableOffset uint64
	SlotTableSize   uint64
	MetadataOffset  uint64
	MetadataSize    uint64

	BuildTimestamp uint64 // unix seconds
	Capabilities   uint64 // capability flag bits, engine-defined

	AccessMode    uint8 // AccessFile/AccessMmap/AccessAuto/AccessStream (defaults.go)
	CacheStrategy uint8 // CacheLow/CacheNormal/CacheHigh/CacheCritical (defaults.go)

	PageSize  uint32 // alignment unit when the builder page-aligns slots
	MinMemory uint64 // suggested minimum resident memory
	MaxMemory uint64 // suggested maximum resident memory

	PublicKey [32]byte // Ed25519 public key used to verify Signature
	Signature [64]byte // Ed25519 detached signature over the canonical range

	// Reserved pads the block to exactly IndexSize bytes. It round-trips
	// byte-for-byte through Pack/Unpack even though nothing assigns it yet.
	Reserved [7998]byte
}

const (
	offFormatVersion  = 0
	offIndexChecksum  = 4
	offPackageSize    = 8
	offLauncherSize   = 16
	offSlotCount      = 24
	offSlotTabOffset  = 28
	offSlotTabSize    = 36
	offMetadataOffset = 44
	offMetadataSize   = 52
	offBuildTimestamp = 60
	offCapabilities   = 68
	offAccessMode     = 76
	offCacheStrategy  = 77
	offPageSize       = 78
	offMinMemory      = 82
	offMaxMemory      = 90
	offPublicKey      = 98
	offSignature      = 130
	offReserved       = 194
)

// Pack serializes the index to an IndexSize-byte buffer.
func (idx *Index) Pack() []byte {
	buf := make([]byte, IndexSize)

	binary.LittleEndian.PutUint32(buf[offFormatVersion:], idx.FormatVersion)
	binary.LittleEndian.PutUint32(buf[offIndexChecksum:], idx.IndexChecksum)
	binary.LittleEndian.PutUint64(buf[offPackageSize:], idx.PackageSize)
	binary.LittleEndian.PutUint64(buf[offLauncherSize:], idx.LauncherSize)
	binary.LittleEndian.PutUint32(buf[offSlotCount:], idx.SlotCount)
	binary.LittleEndian.PutUint64(buf[offSlotTabOffset:], idx.SlotTableOffset)
	binary.LittleEndian.PutUint64(buf[offSlotTabSize:], idx.SlotTableSize)
	binary.LittleEndian.PutUint64(buf[offMetadataOffset:], idx.MetadataOffset)
	binary.LittleEndian.PutUint64(buf[offMetadataSize:], idx.MetadataSize)
	binary.LittleEndian.PutUint64(buf[offBuildTimestamp:], idx.BuildTimestamp)
	binary.LittleEndian.PutUint64(buf[offCapabilities:], idx.Capabilities)
	buf[offAccessMode] = idx.AccessMode
	buf[offCacheStrategy] = idx.CacheStrategy
	binary.LittleEndian.PutUint32(buf[offPageSize:], idx.PageSize)
	binary.LittleEndian.PutUint64(buf[offMinMemory:], idx.MinMemory)
	binary.LittleEndian.PutUint64(buf[offMaxMemory:], idx.MaxMemory)
	copy(buf[offPublicKey:offPublicKey+32], idx.PublicKey[:])
	copy(buf[offSignature:offSignature+64], idx.Signature[:])
	copy(buf[offReserved:], idx.Reserved[:])

	return buf
}

// Unpack deserializes the index from an IndexSize-byte buffer.
func (idx *Index) Unpack(data []byte) error {
	if len(data) != IndexSize {
		return fmt.Errorf("%w: invalid index size %d", ErrFormat, len(data))
	}

	idx.FormatVersion = binary.LittleEndian.Uint32(data[offFormatVersion:])
	idx.IndexChecksum = binary.LittleEndian.Uint32(data[offIndexChecksum:])
	idx.PackageSize = binary.LittleEndian.Uint64(data[offPackageSize:])
	idx.LauncherSize = binary.LittleEndian.Uint64(data[offLauncherSize:])
	idx.SlotCount = binary.LittleEndian.Uint32(data[offSlotCount:])
	idx.SlotTableOffset = binary.LittleEndian.Uint64(data[offSlotTabOffset:])
	idx.SlotTableSize = binary.LittleEndian.Uint64(data[offSlotTabSize:])
	idx.MetadataOffset = binary.LittleEndian.Uint64(data[offMetadataOffset:])
	idx.MetadataSize = binary.LittleEndian.Uint64(data[offMetadataSize:])
	idx.BuildTimestamp = binary.LittleEndian.Uint64(data[offBuildTimestamp:])
	idx.Capabilities = binary.LittleEndian.Uint64(data[offCapabilities:])
	idx.AccessMode = data[offAccessMode]
	idx.CacheStrategy = data[offCacheStrategy]
	idx.PageSize = binary.LittleEndian.Uint32(data[offPageSize:])
	idx.MinMemory = binary.LittleEndian.Uint64(data[offMinMemory:])
	idx.MaxMemory = binary.LittleEndian.Uint64(data[offMaxMemory:])
	copy(idx.PublicKey[:], data[offPublicKey:offPublicKey+32])
	copy(idx.Signature[:], data[offSignature:offSignature+64])
	copy(idx.Reserved[:], data[offReserved:])

	return nil
}

// Checksum computes the Adler-32 of the index with IndexChecksum and
// Signature zeroed, per §4.2/§4.6: the self-check and the signature are
// both taken over the block as it exists before the signature is patched
// in, so verification must blank the same two fields to reproduce it.
func (idx *Index) Checksum() uint32 {
	cp := *idx
	cp.IndexChecksum = 0
	cp.Signature = [64]byte{}
	return adler32.Checksum(cp.Pack())
}

// Finalize recomputes and patches IndexChecksum in place. Call this before
// the Ed25519 signature is computed and patched in — see signCanonicalRange.
func (idx *Index) Finalize() {
	idx.IndexChecksum = idx.Checksum()
}

// VerifyChecksum reports whether the stored IndexChecksum matches the
// recomputed Adler-32 of the block with IndexChecksum and Signature zeroed.
func (idx *Index) VerifyChecksum() bool {
	return idx.IndexChecksum == idx.Checksum()
}
