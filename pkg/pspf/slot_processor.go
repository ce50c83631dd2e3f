package pspf

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/pspf/pkg/pspf/operations"
	"github.com/provide-io/pspf/pkg/pspf/operations/bundle"
	_ "github.com/provide-io/pspf/pkg/pspf/operations/compress"
)

// SelfRefMarker is the special marker for self-referential slots
const SelfRefMarker = "$SELF"

// computeSlotChecksum computes SHA-256 checksum truncated to first 8 bytes (uint64)
func computeSlotChecksum(data []byte) uint64 {
	hash := sha256.Sum256(data)
	return binary.LittleEndian.Uint64(hash[:8])
}

// isSelfReferential checks if a slot references the launcher itself
func isSelfReferential(source string) bool {
	return source == SelfRefMarker
}

// SlotProcessor turns the manifest's slot configuration into the three
// parallel outputs a build needs: binary SlotDescriptor entries for the
// slot table, SlotMetadata entries for the JSON metadata blob, and the
// stored (post-operation-chain) bytes for each slot.
type SlotProcessor struct {
	manifestSlots   []Slot
	slotDescriptors []SlotDescriptor
	metadataSlots   []SlotMetadata
	slotData        [][]byte
	logger          hclog.Logger
}

// NewSlotProcessor creates a new slot processor
func NewSlotProcessor(slots []Slot, logger hclog.Logger) *SlotProcessor {
	return &SlotProcessor{
		manifestSlots:   slots,
		slotDescriptors: make([]SlotDescriptor, 0, len(slots)),
		metadataSlots:   make([]SlotMetadata, 0, len(slots)),
		slotData:        make([][]byte, 0, len(slots)),
		logger:          logger,
	}
}

// ProcessSlots processes all slots from the manifest, in declaration order.
func (sp *SlotProcessor) ProcessSlots() error {
	sp.logger.Info("📦 processing slots", "count", len(sp.manifestSlots))

	for i, slot := range sp.manifestSlots {
		if err := sp.processSlot(i, &slot); err != nil {
			return fmt.Errorf("failed to process slot %d: %w", i, err)
		}
	}

	return nil
}

// mapPurposeToUint8 maps a manifest purpose string to the binary Purpose
// enum (§3): payload, config, library, binary, data.
func mapPurposeToUint8(purpose string) uint8 {
	switch purpose {
	case "payload":
		return PurposePayload
	case "config":
		return PurposeConfig
	case "library":
		return PurposeLibrary
	case "binary":
		return PurposeBinary
	case "data":
		return PurposeData
	default:
		return PurposePayload
	}
}

// mapLifecycleToUint8 maps a manifest lifecycle string to the binary
// Lifecycle enum (§3): runtime, init, temp, cache.
func mapLifecycleToUint8(lifecycle string) uint8 {
	switch lifecycle {
	case "runtime":
		return LifecycleRuntime
	case "init":
		return LifecycleInit
	case "temp":
		return LifecycleTemp
	case "cache":
		return LifecycleCache
	default:
		return LifecycleRuntime
	}
}

// parsePermissions parses permission string (e.g., "0755") to uint16
func parsePermissions(permStr string) uint16 {
	if permStr == "" {
		return uint16(FilePerms)
	}

	cleaned := strings.TrimPrefix(permStr, "0")
	if parsed, err := strconv.ParseUint(cleaned, 8, 16); err == nil {
		return uint16(parsed)
	}

	return uint16(FilePerms)
}

// processSlot processes a single manifest slot: validates required fields,
// loads and runs its data through the declared operation chain, and
// produces the matching descriptor and metadata entries.
func (sp *SlotProcessor) processSlot(index int, slot *Slot) error {
	if slot.ID == "" {
		return fmt.Errorf("slot %d missing required 'id' field", index)
	}
	if slot.Source == "" {
		return fmt.Errorf("slot %d missing required 'source' field (id: %s)", index, slot.ID)
	}
	if slot.Target == "" {
		return fmt.Errorf("slot %d missing required 'target' field (id: %s)", index, slot.ID)
	}

	if slot.Resolution == "" {
		slot.Resolution = "build"
	}
	if slot.Permissions == "" {
		slot.Permissions = fmt.Sprintf("%04o", FilePerms)
	}

	if slot.Slot != nil && *slot.Slot != index {
		return fmt.Errorf("slot number mismatch: expected %d, declared %d (id: %s)",
			index, *slot.Slot, slot.ID)
	}

	sp.logger.Debug("📂 processing slot", "index", index, "id", slot.ID,
		"source", slot.Source, "target", slot.Target)

	if isSelfReferential(slot.Source) {
		sp.logger.Info("✨ slot is self-referential, skipping packaging",
			"index", index, "source", slot.Source)

		selfRefTrue := true
		sp.metadataSlots = append(sp.metadataSlots, SlotMetadata{
			Slot:        index,
			ID:          slot.ID,
			Source:      slot.Source,
			Target:      slot.Target,
			Purpose:     slot.Purpose,
			Lifecycle:   slot.Lifecycle,
			Resolution:  slot.Resolution,
			Permissions: slot.Permissions,
			SelfRef:     &selfRefTrue,
		})
		sp.slotDescriptors = append(sp.slotDescriptors, SlotDescriptor{
			ID:          uint32(index),
			NameHash:    HashName(slot.Target),
			Purpose:     mapPurposeToUint8(slot.Purpose),
			Lifecycle:   mapLifecycleToUint8(slot.Lifecycle),
			Permissions: parsePermissions(slot.Permissions),
		})
		sp.slotData = append(sp.slotData, []byte{})

		sp.logger.Debug("✅ self-referential slot processed", "index", index, "id", slot.ID)
		return nil
	}

	stored, ops, rawSize, err := sp.loadAndEncodeSlotData(slot)
	if err != nil {
		return fmt.Errorf("failed to load slot data: %w", err)
	}

	packedOps, err := PackOperations(ops)
	if err != nil {
		return fmt.Errorf("packing operation chain for slot %d: %w", index, err)
	}

	checksumStr := fmt.Sprintf("sha256:%x", sha256.Sum256(stored))

	sp.metadataSlots = append(sp.metadataSlots, SlotMetadata{
		Slot:        index,
		ID:          slot.ID,
		Source:      slot.Source,
		Target:      slot.Target,
		Size:        int64(len(stored)),
		Checksum:    checksumStr,
		Operations:  ChainToString(ops),
		Purpose:     slot.Purpose,
		Lifecycle:   slot.Lifecycle,
		Resolution:  slot.Resolution,
		Permissions: slot.Permissions,
	})

	sp.slotDescriptors = append(sp.slotDescriptors, SlotDescriptor{
		ID:          uint32(index),
		NameHash:    HashName(slot.Target),
		Size:        uint64(len(stored)),
		Operations:  packedOps,
		Checksum:    computeSlotChecksum(stored),
		Purpose:     mapPurposeToUint8(slot.Purpose),
		Lifecycle:   mapLifecycleToUint8(slot.Lifecycle),
		Permissions: parsePermissions(slot.Permissions),
	})
	sp.slotData = append(sp.slotData, stored)

	sp.logger.Debug("✅ slot processed", "index", index, "id", slot.ID,
		"stored_size", len(stored), "original_size", rawSize)

	return nil
}

// loadAndEncodeSlotData resolves the slot's source path (applying the
// {workenv} placeholder), reads it, and runs it through the slot's declared
// operation chain, returning the stored bytes, the effective opcode chain
// actually applied, and the original (pre-chain) size.
//
// A directory source has no representation as a stored blob other than a
// TAR bundle, so it is archived directly via bundle.ArchiveDir — bypassing
// the registry's TAR step — and only the remainder of the declared chain
// (if any) is run through ApplyChain on the resulting archive bytes. A file
// source runs its full declared chain, TAR step included, through
// ApplyChain exactly as named.
func (sp *SlotProcessor) loadAndEncodeSlotData(slot *Slot) ([]byte, []uint8, int, error) {
	slotPath := slot.Source
	if strings.Contains(slotPath, "{workenv}") {
		baseDir := os.Getenv("FLAVOR_WORKENV_BASE")
		if baseDir == "" {
			baseDir, _ = os.Getwd()
		}
		slotPath = strings.ReplaceAll(slotPath, "{workenv}", baseDir)
		sp.logger.Debug("📍 resolved path", "original", slot.Source,
			"resolved", slotPath, "base", baseDir)
	}

	ops, err := ChainFromString(normalizeChainName(slot.Operations))
	if err != nil {
		return nil, nil, 0, fmt.Errorf("slot %s: %w", slot.ID, err)
	}

	info, err := os.Stat(slotPath)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to stat slot source %s: %w", slotPath, err)
	}

	if info.IsDir() {
		archived, err := bundle.ArchiveDir(slotPath)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("failed to archive directory %s: %w", slotPath, err)
		}
		sp.logger.Debug("📦 bundled directory slot", "path", slotPath, "archive_size", len(archived))

		remaining := ops
		if len(remaining) > 0 && remaining[0] == OP_TAR {
			remaining = remaining[1:]
		}
		stored, err := operations.ApplyChain(archived, remaining)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("applying operation chain: %w", err)
		}

		fullOps := ops
		if len(fullOps) == 0 || fullOps[0] != OP_TAR {
			fullOps = append([]uint8{OP_TAR}, fullOps...)
		}
		return stored, fullOps, len(archived), nil
	}

	raw, err := os.ReadFile(slotPath)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to read slot from %s: %w", slotPath, err)
	}
	sp.logger.Debug("📊 slot size", "original", len(raw), "operations", slot.Operations)

	stored, err := operations.ApplyChain(raw, ops)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("applying operation chain: %w", err)
	}

	return stored, ops, len(raw), nil
}

// normalizeChainName accepts the canonical chain forms ("tar.gz", "gzip")
// ChainFromString already understands, plus a couple of common alternate
// extensions a manifest might use for the same chain.
func normalizeChainName(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return "raw"
	case "tgz":
		return "tar.gz"
	case "tbz2":
		return "tar.bz2"
	case "txz":
		return "tar.xz"
	default:
		return strings.ToLower(strings.TrimSpace(s))
	}
}

// GetDescriptors returns the processed slot descriptors
func (sp *SlotProcessor) GetDescriptors() []SlotDescriptor {
	return sp.slotDescriptors
}

// GetMetadata returns the processed slot metadata
func (sp *SlotProcessor) GetMetadata() []SlotMetadata {
	return sp.metadataSlots
}

// GetSlotData returns the stored (post-operation-chain) slot data
func (sp *SlotProcessor) GetSlotData() [][]byte {
	return sp.slotData
}
