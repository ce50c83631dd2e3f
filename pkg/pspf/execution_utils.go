package pspf

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// substitutePlatformTokens replaces {os}, {arch} and {platform} with the
// running binary's GOOS/GOARCH (and "{os}_{arch}" for {platform}) — §4.9's
// workenv directory paths may use these alongside {workenv}.
func substitutePlatformTokens(path string) string {
	path = strings.ReplaceAll(path, "{platform}", runtime.GOOS+"_"+runtime.GOARCH)
	path = strings.ReplaceAll(path, "{os}", runtime.GOOS)
	path = strings.ReplaceAll(path, "{arch}", runtime.GOARCH)
	return path
}

// copyFile copies a single file from src to dst
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	// Copy file permissions
	sourceInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dst, sourceInfo.Mode())
}

// copyDirAll recursively copies a directory tree
func copyDirAll(src, dst string) error {
	sourceInfo, err := os.Stat(src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dst, sourceInfo.Mode()); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			if err := copyDirAll(srcPath, dstPath); err != nil {
				return err
			}
		} else {
			if err := copyFile(srcPath, dstPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// fixShebangs fixes shebang paths in scripts after atomic move
func fixShebangs(binDir, oldPrefix, newPrefix string, logger hclog.Logger) error {
	if _, err := os.Stat(binDir); os.IsNotExist(err) {
		return nil
	}

	entries, err := os.ReadDir(binDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		scriptPath := filepath.Join(binDir, entry.Name())

		// Read first few bytes to check for shebang
		file, err := os.Open(scriptPath)
		if err != nil {
			continue
		}

		header := make([]byte, 2)
		if _, err := file.Read(header); err != nil {
			file.Close()
			continue
		}
		file.Close()

		if string(header) != "#!" {
			continue
		}

		// Read entire file
		content, err := os.ReadFile(scriptPath)
		if err != nil {
			continue
		}

		// Find end of first line
		lines := strings.SplitN(string(content), "\n", 2)
		if len(lines) < 1 {
			continue
		}

		firstLine := lines[0]
		if strings.Contains(firstLine, oldPrefix) {
			// Replace old prefix with new prefix in shebang
			newFirstLine := strings.ReplaceAll(firstLine, oldPrefix, newPrefix)

			// Reconstruct content
			var newContent string
			if len(lines) > 1 {
				newContent = newFirstLine + "\n" + lines[1]
			} else {
				newContent = newFirstLine + "\n"
			}

			// Write back the modified content
			if err := os.WriteFile(scriptPath, []byte(newContent), entry.Type().Perm()); err != nil {
				logger.Debug("Failed to fix shebang", "script", entry.Name(), "error", err)
			} else {
				logger.Debug("Fixed shebang", "script", entry.Name())
			}
		}
	}

	return nil
}

// substitutePrimarySlot resolves {primary} in command to the primary slot's
// on-disk path (§4.10). When the primary slot's target is a directory bundle
// (.tar.gz/.tgz, extracted into the workenv root) {primary} resolves to the
// literal "{workenv}" placeholder instead, left for the subsequent {workenv}
// substitution pass to finish — mirrors executor.py's _substitute_primary,
// which must run before the basic placeholder replacements.
func substitutePrimarySlot(command string, metadata *Metadata, slotPaths map[int]string, workenvDirForCmd string, logger hclog.Logger) string {
	if !strings.Contains(command, "{primary}") {
		return command
	}

	primarySlot := metadata.Execution.PrimarySlot
	if primarySlot < 0 || primarySlot >= len(metadata.Slots) {
		logger.Warn("⚠️ Primary slot not found", "slot", primarySlot)
		return command
	}

	slot := metadata.Slots[primarySlot]
	name := slot.Target
	if name == "" {
		name = slot.ID
	}
	if name == "" {
		name = fmt.Sprintf("slot_%d", primarySlot)
	}

	if strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz") {
		return strings.ReplaceAll(command, "{primary}", "{workenv}")
	}

	primaryPath, ok := slotPaths[primarySlot]
	if !ok {
		primaryPath = filepath.Join(workenvDirForCmd, name)
	}
	return strings.ReplaceAll(command, "{primary}", filepath.ToSlash(primaryPath))
}

// cleanupLifecycleSlots removes slots based on their lifecycle after setup
func cleanupLifecycleSlots(workenvDir string, metadata *Metadata, slotPaths map[int]string, logger hclog.Logger) {
	for i, slot := range metadata.Slots {
		// Clean up init lifecycle slots - they're only needed during setup
		if slot.Lifecycle == "init" {
			// Same destination ExtractSlot uses: the target relative to the workenv,
			// or slot_<index>_<id> when the slot has no target.
			target := strings.ReplaceAll(strings.ReplaceAll(slot.Target, "{workenv}/", ""), "{workenv}", "")
			if target == "" || target == "." {
				target = fmt.Sprintf("slot_%d_%s", i, slot.ID)
			}
			slotPath := filepath.Join(workenvDir, target)
			if err := os.RemoveAll(slotPath); err != nil {
				logger.Debug("⚠️ Failed to remove init slot", "slot", slot.ID, "path", slotPath, "error", err)
			} else {
				logger.Debug("✅ Removed init slot", "slot", slot.ID, "path", slotPath)
			}
			// Remove from slotPaths map so it's not used in execution
			delete(slotPaths, i)
		}
	}
}
