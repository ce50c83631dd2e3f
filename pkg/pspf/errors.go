package pspf

import "errors"

// Error kinds (§7). The engine has a closed error-kind set; every fallible
// operation wraps one of these so callers can branch with errors.Is without
// caring about the specific sentinel underneath.
var (
	ErrFormat    = errors.New("📦 format error")
	ErrIntegrity = errors.New("🔒 integrity error")
	ErrPolicy    = errors.New("🚫 policy error")
	ErrResource  = errors.New("💥 resource error")
	ErrConfig    = errors.New("⚙️ config error")
	ErrRuntime   = errors.New("🚀 runtime error")
)

// Specific sentinels, each classified under exactly one kind above via
// fmt.Errorf("%w: ...", Err*) at the call site.
var (
	// FormatError
	ErrInvalidMagic      = errors.New("invalid magic trailer sentinel")
	ErrInvalidEmojiMagic = errors.New("invalid emoji magic")
	ErrInvalidVersion    = errors.New("unsupported format version")
	ErrInvalidIndexSize  = errors.New("invalid index size")
	ErrDescriptorOverlap = errors.New("overlapping slot descriptors")
	ErrUnknownOp         = errors.New("unknown operation name")
	ErrTooManyOps        = errors.New("operation chain exceeds 8 opcodes")

	// IntegrityError
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrSignatureInvalid = errors.New("signature verification failed")
	ErrSignatureMissing = errors.New("signature required but absent")
	ErrCanonicalization = errors.New("canonical range mismatch")
	ErrNoIntegritySeal  = errors.New("no integrity seal found")

	// PolicyError
	ErrArchiveLimit       = errors.New("archive extraction limit exceeded")
	ErrPathEscape         = errors.New("archive entry escapes destination")
	ErrInvalidWorkenvPath = errors.New("workenv path missing {workenv} prefix")
	ErrDeprecatedField    = errors.New("deprecated metadata field")
	ErrUnknownField       = errors.New("unknown metadata field")

	// ResourceError
	ErrLockTimeout  = errors.New("lock acquisition timed out")
	ErrOutOfDisk    = errors.New("insufficient disk space")
	ErrMmapFailed   = errors.New("memory-map failed")

	// ConfigError
	ErrManifestField = errors.New("manifest missing required field")
	ErrInvalidEntry  = errors.New("invalid entry point")
	ErrInvalidMode   = errors.New("invalid umask or mode")

	// RuntimeError
	ErrExecutionFailed = errors.New("execution failed")
	ErrMissingSlot      = errors.New("referenced slot missing")

	// Structural / lookup errors (FormatError)
	ErrInvalidSlotIndex     = errors.New("invalid slot index")
	ErrSlotExtractionFailed = errors.New("slot extraction failed")
)
