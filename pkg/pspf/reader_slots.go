package pspf

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/pspf/pkg/pspf/operations"
	"github.com/provide-io/pspf/pkg/pspf/operations/bundle"
	_ "github.com/provide-io/pspf/pkg/pspf/operations/compress"
)

// readSlotDescriptor reads and unpacks the slot table entry at slotIndex.
func (r *Reader) readSlotDescriptor(slotIndex int) (*SlotDescriptor, error) {
	index, err := r.ReadIndex()
	if err != nil {
		return nil, err
	}

	if slotIndex < 0 || slotIndex >= int(index.SlotCount) {
		return nil, ErrInvalidSlotIndex
	}

	offset := int64(index.SlotTableOffset) + int64(slotIndex)*int64(SlotDescriptorSize)
	if _, err := r.file.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}

	var entryData [SlotDescriptorSize]byte
	if _, err := io.ReadFull(r.file, entryData[:]); err != nil {
		return nil, err
	}

	return UnpackSlotDescriptor(entryData[:])
}

// ReadSlotBytes reads a slot's stored bytes and runs them back through the
// reverse of its operation chain (C1/C6), except for a leading TAR opcode:
// a TAR-bundled slot may contain many files, so unwrapping it is
// ExtractSlot's job, not a single byte-blob transform. The returned bytes
// are the raw TAR bytes when the chain starts with TAR, or the fully
// decompressed blob otherwise.
func (r *Reader) ReadSlotBytes(slotIndex int) ([]byte, *SlotDescriptor, error) {
	entry, err := r.readSlotDescriptor(slotIndex)
	if err != nil {
		return nil, nil, err
	}

	logger := r.logger
	if logger == nil {
		logger = hclog.L()
	}

	if entry.Size == 0 {
		return []byte{}, entry, nil
	}

	rb, err := r.SlotBackend()
	if err != nil {
		return nil, nil, err
	}
	stored, err := rb.ReadAt(int64(entry.Offset), int64(entry.Size))
	if err != nil {
		return nil, nil, err
	}

	hash := sha256.Sum256(stored)
	actualChecksum := binary.LittleEndian.Uint64(hash[:8])
	logger.Debug("verifying slot checksum",
		"slot_id", entry.ID,
		"data_length", len(stored),
		"computed_checksum", fmt.Sprintf("%016x", actualChecksum),
		"expected_checksum", fmt.Sprintf("%016x", entry.Checksum))

	if actualChecksum != entry.Checksum {
		return nil, nil, ErrChecksumMismatch
	}

	ops := UnpackOperations(entry.Operations)
	logger.Trace("slot operation chain", "operations", fmt.Sprintf("%#x", entry.Operations), "unpacked", ops)

	bundled := len(ops) > 0 && IsBundleOp(ops[0])
	toReverse := ops
	if bundled {
		toReverse = ops[1:]
	}

	result := stored
	for i := len(toReverse) - 1; i >= 0; i-- {
		op := toReverse[i]
		impl, err := operations.Get(op)
		if err != nil {
			return nil, nil, fmt.Errorf("operation 0x%02x: %w", op, err)
		}
		result, err = impl.Reverse(result)
		if err != nil {
			return nil, nil, fmt.Errorf("reversing %s: %w", OperationName(op), err)
		}
	}

	return result, entry, nil
}

// ReadSlot reads and fully decodes a single-blob slot (no TAR opcode in its
// chain). It is a convenience wrapper over ReadSlotBytes for callers that
// know the slot isn't a directory bundle.
func (r *Reader) ReadSlot(slotIndex int) ([]byte, error) {
	data, _, err := r.ReadSlotBytes(slotIndex)
	return data, err
}

// ExtractSlot extracts a slot to the specified directory, routing a
// TAR-bundled slot through bundle.ExtractTo (directory tree) and any other
// slot through a single file write.
func (r *Reader) ExtractSlot(slotIndex int, destDir string) (string, error) {
	logger := r.logger
	if logger == nil {
		logger = hclog.L()
	}

	metadata, err := r.ReadMetadata()
	if err != nil {
		return "", err
	}
	if slotIndex >= len(metadata.Slots) {
		return "", ErrInvalidSlotIndex
	}
	slotMeta := metadata.Slots[slotIndex]

	logger.Trace("extracting slot", "index", slotIndex, "id", slotMeta.ID, "target", slotMeta.Target)

	data, entry, err := r.ReadSlotBytes(slotIndex)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read slot %d: %v", ErrSlotExtractionFailed, slotIndex, err)
	}

	ops := UnpackOperations(entry.Operations)
	bundled := len(ops) > 0 && IsBundleOp(ops[0])

	targetPath := slotMeta.Target
	if strings.Contains(targetPath, "{workenv}") {
		targetPath = strings.ReplaceAll(targetPath, "{workenv}/", "")
		targetPath = strings.ReplaceAll(targetPath, "{workenv}", "")
	}

	var destPath, extractDir string
	if targetPath == "" || targetPath == "." {
		if bundled {
			destPath = destDir
			extractDir = destDir
		} else {
			slotSubdir := fmt.Sprintf("slot_%d_%s", slotIndex, slotMeta.ID)
			destPath = filepath.Join(destDir, slotSubdir)
			extractDir = destPath
		}
	} else {
		destPath = filepath.Join(destDir, targetPath)
		extractDir = filepath.Dir(destPath)
	}

	if bundled {
		if err := os.MkdirAll(extractDir, os.FileMode(DirPerms)); err != nil {
			return "", fmt.Errorf("%w: failed to create extraction directory for slot %d: %v", ErrSlotExtractionFailed, slotIndex, err)
		}
		if err := bundle.ExtractTo(data, extractDir); err != nil {
			return "", fmt.Errorf("%w: tar extraction failed for slot %d: %v", ErrSlotExtractionFailed, slotIndex, err)
		}
		return extractDir, nil
	}

	if info, statErr := os.Stat(destPath); statErr == nil && info.IsDir() {
		logger.Trace("destination is existing directory, skipping write", "destPath", destPath)
		return destPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), os.FileMode(DirPerms)); err != nil {
		return "", err
	}

	perm := os.FileMode(entry.Permissions)
	if perm == 0 {
		perm = os.FileMode(FilePerms)
	}

	if err := os.WriteFile(destPath, data, perm); err != nil {
		return "", fmt.Errorf("%w: failed to write slot %d to disk: %v", ErrSlotExtractionFailed, slotIndex, err)
	}

	logger.Trace("wrote file", "path", destPath, "size", len(data))
	return destPath, nil
}
