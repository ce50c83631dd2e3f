package pspf

import (
	"bytes"
	"compress/gzip"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"os"
)

// writeMetadata gzips the metadata JSON and writes it to w. The metadata
// blob is not signed on its own — integrity is covered by the single
// whole-package Ed25519 signature over the canonical range (see
// signCanonicalRange), computed once the entire body is on disk.
func writeMetadata(w io.Writer, metadata *Metadata) (int, error) {
	metadataJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(metadataJSON); err != nil {
		return 0, err
	}
	if err := gw.Close(); err != nil {
		return 0, fmt.Errorf("failed to close gzip writer: %w", err)
	}

	n, err := w.Write(buf.Bytes())
	return n, err
}

// signCanonicalRange signs body (everything preceding the magic trailer)
// concatenated with trailerZeroSig (the packed trailer with its Signature
// field still zero) — the canonical range defined in §4.6. The index
// checksum must already be finalized over the same zero-signature state
// before this is called; the resulting 64-byte signature is patched into
// the trailer afterward without recomputing that checksum.
func signCanonicalRange(privateKey ed25519.PrivateKey, body, trailerZeroSig []byte) []byte {
	canonical := make([]byte, 0, len(body)+len(trailerZeroSig))
	canonical = append(canonical, body...)
	canonical = append(canonical, trailerZeroSig...)
	return ed25519.Sign(privateKey, canonical)
}

// loadKeysFromFiles loads Ed25519 keys from PEM files
func loadKeysFromFiles(privateKeyPath, publicKeyPath string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	// Load private key
	privateKeyData, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read private key: %w", err)
	}

	block, _ := pem.Decode(privateKeyData)
	if block == nil {
		return nil, nil, fmt.Errorf("failed to decode private key PEM")
	}

	var privateKey ed25519.PrivateKey

	// Try to parse as PKCS8 first (standard format)
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		var ok bool
		privateKey, ok = key.(ed25519.PrivateKey)
		if !ok {
			return nil, nil, fmt.Errorf("private key is not Ed25519")
		}
	} else if len(block.Bytes) == ed25519.PrivateKeySize {
		// Try raw Ed25519 format
		privateKey = ed25519.PrivateKey(block.Bytes)
	} else {
		return nil, nil, fmt.Errorf("unable to parse private key: %w", err)
	}

	// Derive or load public key
	var publicKey ed25519.PublicKey
	if publicKeyPath != "" {
		// Load public key from file
		publicKeyData, err := os.ReadFile(publicKeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read public key: %w", err)
		}

		block, _ := pem.Decode(publicKeyData)
		if block == nil {
			return nil, nil, fmt.Errorf("failed to decode public key PEM")
		}

		// Try to parse as PKIX first
		if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
			var ok bool
			publicKey, ok = key.(ed25519.PublicKey)
			if !ok {
				return nil, nil, fmt.Errorf("public key is not Ed25519")
			}
		} else if len(block.Bytes) == ed25519.PublicKeySize {
			// Try raw Ed25519 format
			publicKey = ed25519.PublicKey(block.Bytes)
		} else {
			return nil, nil, fmt.Errorf("unable to parse public key: %w", err)
		}
	} else {
		// Derive public key from private key
		publicKey = privateKey.Public().(ed25519.PublicKey)
	}

	return privateKey, publicKey, nil
}
