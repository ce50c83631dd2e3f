package pspf

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-hclog"
)

// HashName returns the stable 64-bit name hash used for O(1) slot lookup:
// the first 8 bytes of SHA-256(name), interpreted little-endian. This is
// a hint only — the descriptor table's position is authoritative (§4.3);
// nothing in this package looks slots up by NameHash, and readers address
// slots by their table position.
func HashName(name string) uint64 {
	hash := sha256.Sum256([]byte(name))
	return binary.LittleEndian.Uint64(hash[:8])
}

// SlotMetadata is the human-facing, metadata-blob counterpart to the binary
// SlotDescriptor, carried in parallel per slot (§3 "Metadata blob").
type SlotMetadata struct {
	Slot        int    `json:"slot"`
	ID          string `json:"id"`
	Source      string `json:"source"`
	Target      string `json:"target"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	Operations  string `json:"operations"`
	Purpose     string `json:"purpose"`
	Lifecycle   string `json:"lifecycle"`
	Resolution  string `json:"resolution,omitempty"`
	Permissions string `json:"permissions,omitempty"`
	SelfRef     *bool  `json:"self_ref,omitempty"`
}

// SlotDescriptor is the fixed 64-byte binary slot descriptor (§3, §6.1).
type SlotDescriptor struct {
	ID         uint32 // slot index; matches position in the table
	NameHash   uint64 // HashName of the slot's logical name
	Offset     uint64 // file offset of raw (stored) slot bytes
	Size       uint64 // stored size, post-operation-chain
	Checksum   uint64 // little-endian prefix of SHA-256 of the stored bytes
	Operations uint64 // packed operation chain (C1)

	Purpose     uint8  // PurposePayload/Config/Library/Binary/Data
	Lifecycle   uint8  // LifecycleRuntime/Init/Temp/Cache
	Platform    uint8  // PlatformAny/Linux/Darwin/Windows (selection hint only)
	reserved    uint8  // padding
	Permissions uint16 // POSIX mode bits
}

var slotLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "pspf.slots",
	Level: hclog.Trace,
})

// Pack serializes the descriptor to exactly SlotDescriptorSize bytes.
func (d *SlotDescriptor) Pack() []byte {
	buf := make([]byte, SlotDescriptorSize)

	binary.LittleEndian.PutUint32(buf[0:4], d.ID)
	// buf[4:8] reserved, zero
	binary.LittleEndian.PutUint64(buf[8:16], d.NameHash)
	binary.LittleEndian.PutUint64(buf[16:24], d.Offset)
	binary.LittleEndian.PutUint64(buf[24:32], d.Size)
	binary.LittleEndian.PutUint64(buf[32:40], d.Checksum)
	binary.LittleEndian.PutUint64(buf[40:48], d.Operations)
	buf[48] = d.Purpose
	buf[49] = d.Lifecycle
	buf[50] = d.Platform
	buf[51] = d.reserved
	binary.LittleEndian.PutUint16(buf[52:54], d.Permissions)
	// buf[54:64] reserved, zero

	slotLogger.Trace("📦 packed slot descriptor", "id", d.ID, "operations", fmt.Sprintf("0x%016x", d.Operations))

	return buf
}

// UnpackSlotDescriptor deserializes a descriptor from SlotDescriptorSize bytes.
func UnpackSlotDescriptor(data []byte) (*SlotDescriptor, error) {
	if len(data) != SlotDescriptorSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidIndexSize, SlotDescriptorSize, len(data))
	}

	d := &SlotDescriptor{
		ID:         binary.LittleEndian.Uint32(data[0:4]),
		NameHash:   binary.LittleEndian.Uint64(data[8:16]),
		Offset:     binary.LittleEndian.Uint64(data[16:24]),
		Size:       binary.LittleEndian.Uint64(data[24:32]),
		Checksum:   binary.LittleEndian.Uint64(data[32:40]),
		Operations: binary.LittleEndian.Uint64(data[40:48]),
		Purpose:    data[48],
		Lifecycle:  data[49],
		Platform:   data[50],
		reserved:   data[51],
	}
	d.Permissions = binary.LittleEndian.Uint16(data[52:54])

	slotLogger.Trace("📂 unpacked slot descriptor", "id", d.ID, "operations", fmt.Sprintf("0x%016x", d.Operations))

	return d, nil
}

// Overlaps reports whether d's stored byte range intersects other's — a
// malformed-package condition per §3's overlap invariant.
func (d *SlotDescriptor) Overlaps(other *SlotDescriptor) bool {
	aStart, aEnd := d.Offset, d.Offset+d.Size
	bStart, bEnd := other.Offset, other.Offset+other.Size
	if d.Size == 0 || other.Size == 0 {
		return false
	}
	return aStart < bEnd && bStart < aEnd
}
