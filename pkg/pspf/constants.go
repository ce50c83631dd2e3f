package pspf

// Core format constants that never change.
// For defaults and configuration, see defaults.go

var (
	// Individual emoji bytes for the magic trailer bookends.
	PackageEmojiBytes   = []byte{0xF0, 0x9F, 0x93, 0xA6} // 📦 as bytes (trailer start sentinel)
	MagicWandEmojiBytes = []byte{0xF0, 0x9F, 0xAA, 0x84} // 🪄 as bytes (trailer end sentinel)
)

const (
	// Format version - immutable
	PSPFVersion = 0x20250001

	// Fixed sizes - part of the format specification
	IndexSize          = 8192 // Index block size
	MagicTrailerSize   = 8200 // sentinel(4) + index(8192) + sentinel(4)
	SlotAlignment      = 8    // Default slot alignment when page alignment is off
	SlotDescriptorSize = 64   // Slot descriptor size

	// Purpose enum (C3) - §3 of the spec
	PurposePayload = 0 // General payload/data files
	PurposeConfig  = 1 // Configuration files
	PurposeLibrary = 2 // Shared libraries / loadable modules
	PurposeBinary  = 3 // Executable code
	PurposeData    = 4 // Auxiliary data/assets

	// Lifecycle enum (C3) - §4.9, §GLOSSARY
	LifecycleRuntime = 0 // Kept; available during application execution
	LifecycleInit    = 1 // Removed after setup_workenv completes
	LifecycleTemp    = 2 // Kept for this process, marked for best-effort teardown removal
	LifecycleCache   = 3 // Kept across runs; may be regenerated

	// Platform hint enum - consulted only by the builder's slot selection pass
	PlatformAny     = 0
	PlatformLinux   = 1
	PlatformDarwin  = 2
	PlatformWindows = 3
)
