package pspf

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"io"
)

// VerifyMagicTrailer verifies the MagicTrailer emoji bookends
func (r *Reader) VerifyMagicTrailer() (bool, error) {
	if err := r.Open(); err != nil {
		return false, err
	}

	// Get file size
	info, err := r.file.Stat()
	if err != nil {
		return false, err
	}

	// Read MagicTrailer (last 8200 bytes)
	trailer := make([]byte, MagicTrailerSize)
	if _, err := r.file.ReadAt(trailer, info.Size()-MagicTrailerSize); err != nil {
		return false, err
	}

	// Check both bookends: 📦 opens the trailer, 🪄 closes it (last 4 bytes of file)
	if !bytes.Equal(trailer[:4], PackageEmojiBytes) ||
		!bytes.Equal(trailer[len(trailer)-4:], MagicWandEmojiBytes) {
		return false, ErrInvalidEmojiMagic
	}

	return true, nil
}

// VerifyAllChecksums verifies all slot checksums
func (r *Reader) VerifyAllChecksums() error {
	index, err := r.ReadIndex()
	if err != nil {
		return err
	}

	for i := 0; i < int(index.SlotCount); i++ {
		if _, err := r.ReadSlot(i); err != nil {
			return fmt.Errorf("slot %d: %w", i, err)
		}
	}

	return nil
}

// ReadEmojiMagic reads the emoji magic from the end of the file
func (r *Reader) ReadEmojiMagic(buf []byte) error {
	if len(buf) != 16 {
		return fmt.Errorf("buffer must be 16 bytes")
	}

	info, err := r.file.Stat()
	if err != nil {
		return err
	}

	// Seek to emoji magic position (last 16 bytes)
	if _, err := r.file.Seek(info.Size()-16, io.SeekStart); err != nil {
		return err
	}

	_, err = r.file.Read(buf)
	return err
}

// VerifyIntegritySeal verifies the whole-package Ed25519 signature (§4.6):
// the canonical range is the body preceding the magic trailer plus the
// trailer itself with its Signature field zeroed. Reconstructing that range
// from the file reproduces exactly what the builder signed.
func (r *Reader) VerifyIntegritySeal() (bool, error) {
	index, err := r.ReadIndex()
	if err != nil {
		return false, err
	}

	signature := index.Signature[:]
	allZeros := true
	for _, b := range signature {
		if b != 0 {
			allZeros = false
			break
		}
	}
	if allZeros {
		return false, ErrNoIntegritySeal
	}

	info, err := r.file.Stat()
	if err != nil {
		return false, err
	}

	bodySize := info.Size() - MagicTrailerSize
	body := make([]byte, bodySize)
	if _, err := r.file.ReadAt(body, 0); err != nil {
		return false, err
	}

	zeroSigIndex := *index
	zeroSigIndex.Signature = [64]byte{}

	trailerZeroSig := make([]byte, 0, MagicTrailerSize)
	trailerZeroSig = append(trailerZeroSig, PackageEmojiBytes...)
	trailerZeroSig = append(trailerZeroSig, zeroSigIndex.Pack()...)
	trailerZeroSig = append(trailerZeroSig, MagicWandEmojiBytes...)

	canonical := make([]byte, 0, len(body)+len(trailerZeroSig))
	canonical = append(canonical, body...)
	canonical = append(canonical, trailerZeroSig...)

	publicKey := index.PublicKey[:]
	if !ed25519.Verify(publicKey, canonical, signature) {
		return false, ErrSignatureInvalid
	}
	return true, nil
}
