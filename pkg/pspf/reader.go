package pspf

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/pspf/pkg/pspf/backend"
)

// Constants are defined in constants.go; error kinds in errors.go.

// Reader reads PSPF/2025 packages via the magic trailer (C4), locating the
// index (C2) and metadata blob without ever parsing the launcher prefix.
type Reader struct {
	bundlePath string
	file       *os.File
	index      *Index
	metadata   *Metadata
	logger     hclog.Logger
	backend    backend.Backend
}

// SlotBackend returns the C5 read backend for slot data access, selecting
// and caching one per the index's AccessMode on first call.
func (r *Reader) SlotBackend() (backend.Backend, error) {
	if r.backend != nil {
		return r.backend, nil
	}

	index, err := r.ReadIndex()
	if err != nil {
		return nil, err
	}

	info, err := r.file.Stat()
	if err != nil {
		return nil, err
	}

	b, err := backend.New(index.AccessMode, r.file, info.Size(), r.logger)
	if err != nil {
		return nil, err
	}
	r.backend = b
	return b, nil
}

// NewReader creates a new PSPF reader
func NewReader(bundlePath string) (*Reader, error) {
	return NewReaderWithLogger(bundlePath, hclog.NewNullLogger())
}

// NewReaderWithLogger creates a new PSPF reader with a custom logger
func NewReaderWithLogger(bundlePath string, logger hclog.Logger) (*Reader, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Reader{
		bundlePath: bundlePath,
		logger:     logger,
	}, nil
}

// Open opens the bundle file
func (r *Reader) Open() error {
	if r.file != nil {
		return nil
	}

	file, err := os.Open(r.bundlePath)
	if err != nil {
		return err
	}

	r.file = file
	return nil
}

// Close closes the bundle file
func (r *Reader) Close() error {
	if r.backend != nil {
		if err := r.backend.Close(); err != nil {
			r.logger.Debug("error closing read backend", "error", err)
		}
		r.backend = nil
	}
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// ReadMagicTrailer reads the MagicTrailer and returns the index data
func (r *Reader) ReadMagicTrailer() ([]byte, error) {
	if err := r.Open(); err != nil {
		return nil, err
	}

	// Get file size
	info, err := r.file.Stat()
	if err != nil {
		return nil, err
	}

	// Read MagicTrailer (last 8200 bytes)
	trailer := make([]byte, MagicTrailerSize)
	if _, err := r.file.ReadAt(trailer, info.Size()-MagicTrailerSize); err != nil {
		return nil, err
	}

	// Verify emoji bookends
	if !bytes.Equal(trailer[:4], PackageEmojiBytes) {
		return nil, fmt.Errorf("%w: missing start sentinel", ErrInvalidMagic)
	}
	if !bytes.Equal(trailer[MagicTrailerSize-4:], MagicWandEmojiBytes) {
		return nil, fmt.Errorf("%w: missing end sentinel", ErrInvalidMagic)
	}

	// Extract index from between emojis
	indexData := trailer[4 : 4+IndexSize]

	r.logger.Debug("Found index in MagicTrailer", "trailer_size", MagicTrailerSize, "file_size", info.Size())

	return indexData, nil
}

// ReadIndex reads, unpacks and validates the index block (version and
// self-checksum). It does not verify the Ed25519 signature — that is the
// verifier's (C12) job, since it requires the caller's trust policy.
func (r *Reader) ReadIndex() (*Index, error) {
	if r.index != nil {
		return r.index, nil
	}

	if err := r.Open(); err != nil {
		return nil, err
	}

	indexData, err := r.ReadMagicTrailer()
	if err != nil {
		return nil, err
	}

	r.logger.Debug("parsing index from magic trailer", "size", IndexSize)

	index := &Index{}
	if err := index.Unpack(indexData); err != nil {
		return nil, err
	}

	if index.FormatVersion != PSPFVersion {
		return nil, fmt.Errorf("%w: got 0x%08x, expected 0x%08x", ErrInvalidVersion, index.FormatVersion, PSPFVersion)
	}

	if !index.VerifyChecksum() {
		return nil, fmt.Errorf("%w: index checksum mismatch", ErrChecksumMismatch)
	}

	r.index = index
	return index, nil
}

// ReadMetadata reads and parses metadata
func (r *Reader) ReadMetadata() (*Metadata, error) {
	if r.metadata != nil {
		return r.metadata, nil
	}

	index, err := r.ReadIndex()
	if err != nil {
		return nil, err
	}

	// Seek to metadata
	if _, err := r.file.Seek(int64(index.MetadataOffset), io.SeekStart); err != nil {
		return nil, err
	}

	// Read metadata archive
	archiveData := make([]byte, index.MetadataSize)
	if _, err := r.file.Read(archiveData); err != nil {
		return nil, err
	}

	// Decompress the gzipped JSON metadata
	gr, err := gzip.NewReader(bytes.NewReader(archiveData))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := gr.Close(); err != nil {
			// Log error but don't fail - already returning data
			_ = err
		}
	}()

	// Read and decode JSON directly
	var metadata Metadata
	if err := json.NewDecoder(gr).Decode(&metadata); err != nil {
		return nil, err
	}

	r.metadata = &metadata
	return &metadata, nil
}

// ReadMetadataArchive reads the raw (gzipped) metadata archive bytes.
// Its integrity is covered by the whole-package Ed25519 signature (C7),
// not a separate per-field checksum — see VerifyIntegritySeal.
func (r *Reader) ReadMetadataArchive() ([]byte, error) {
	index, err := r.ReadIndex()
	if err != nil {
		return nil, err
	}

	if _, err := r.file.Seek(int64(index.MetadataOffset), io.SeekStart); err != nil {
		return nil, err
	}

	metadataData := make([]byte, index.MetadataSize)
	if _, err := io.ReadFull(r.file, metadataData); err != nil {
		return nil, err
	}

	return metadataData, nil
}
