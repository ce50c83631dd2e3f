package pspf

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/provide-io/pspf/pkg/utils/shellparse"
)

var (
	ErrLockAcquisition = errors.New("failed to acquire lock")
)

// Utility functions: see execution_utils.go
// Cache functions: see execution_cache.go
// Metadata/integrity verification, workenv directory setup: see execution_setup.go

// prepareBundlePath prepares the bundle path for reading.
// On Windows with PSPF embedded as a PE resource, it extracts the PSPF data
// to a temporary file and returns the path + cleanup function.
// Otherwise, it returns the original exePath with no cleanup.
func prepareBundlePath(exePath string, logger hclog.Logger) (string, func(), error) {
	logger.Debug("Checking bundle path preparation method", "exe", exePath)

	logger.Trace("Checking for PE resource embedding")
	if HasPSPFResource(exePath, logger) {
		logger.Info("🪟 Detected PSPF embedded as PE resource, extracting to temp file")
		logger.Debug("Starting PE resource extraction workflow")

		logger.Trace("Reading PSPF data from PE resource")
		pspfData, err := ReadPSPFFromResource(exePath, logger)
		if err != nil {
			logger.Error("Failed to read PSPF from PE resource", "error", err)
			return "", nil, fmt.Errorf("failed to read PSPF from resource: %w", err)
		}
		logger.Debug("Successfully read PSPF from PE resource", "size", len(pspfData))

		logger.Trace("Creating temporary file for extracted PSPF data")
		tmpFile, err := os.CreateTemp("", "pspf-*.psp")
		if err != nil {
			logger.Error("Failed to create temp file for PSPF extraction", "error", err)
			return "", nil, fmt.Errorf("failed to create temp file: %w", err)
		}
		tmpPath := tmpFile.Name()
		logger.Debug("Created temp file", "path", tmpPath)

		logger.Trace("Writing PSPF data to temp file", "size", len(pspfData))
		bytesWritten, err := tmpFile.Write(pspfData)
		if err != nil {
			logger.Error("Failed to write PSPF data to temp file", "error", err, "path", tmpPath)
			tmpFile.Close()
			logger.Trace("Cleaning up temp file after write failure", "path", tmpPath)
			os.Remove(tmpPath)
			return "", nil, fmt.Errorf("failed to write PSPF to temp file: %w", err)
		}
		logger.Debug("Wrote PSPF data to temp file", "bytes", bytesWritten, "expected", len(pspfData))

		if bytesWritten != len(pspfData) {
			logger.Error("Incomplete write to temp file", "written", bytesWritten, "expected", len(pspfData))
			tmpFile.Close()
			os.Remove(tmpPath)
			return "", nil, fmt.Errorf("incomplete write: wrote %d bytes, expected %d", bytesWritten, len(pspfData))
		}

		logger.Trace("Closing temp file")
		if err := tmpFile.Close(); err != nil {
			logger.Error("Failed to close temp file", "error", err, "path", tmpPath)
			logger.Trace("Cleaning up temp file after close failure", "path", tmpPath)
			os.Remove(tmpPath)
			return "", nil, fmt.Errorf("failed to close temp file: %w", err)
		}
		logger.Debug("Temp file closed successfully", "path", tmpPath)
		logger.Debug("📝 Extracted PSPF to temp file", "path", tmpPath, "size", len(pspfData))

		cleanup := func() {
			logger.Debug("🧹 Cleaning up temp PSPF file", "path", tmpPath)
			if err := os.Remove(tmpPath); err != nil {
				logger.Debug("Failed to remove temp file (may have been already removed)", "path", tmpPath, "error", err)
			} else {
				logger.Trace("Successfully removed temp file", "path", tmpPath)
			}
		}
		return tmpPath, cleanup, nil
	}

	logger.Debug("📖 No PE resource detected, reading PSPF from EOF (appended to executable)")
	logger.Trace("Using direct executable path as bundle path", "path", exePath)
	return exePath, nil, nil
}

// populateWorkenv makes sure paths.Workenv() holds the extracted slots for
// this run, either by reusing a validated cache or performing a fresh
// extraction under the extraction lock, and returns the on-disk path of
// every slot keyed by slot index (§4.8, §4.12).
func populateWorkenv(reader *Reader, paths *WorkenvPaths, index *Index, metadata *Metadata, logger hclog.Logger) (map[int]string, bool, error) {
	useCache := os.Getenv("FLAVOR_WORKENV_CACHE") != "false" && os.Getenv("FLAVOR_WORKENV_CACHE") != "0"

	workenvValid := false
	if useCache {
		logger.Debug("🔍 Checking cache validity")
		valid, err := checkWorkenvValidity(paths, index, metadata, logger)
		if err != nil {
			return nil, false, err
		}
		workenvValid = valid
		if workenvValid {
			logger.Info("✅ Cache is valid, skipping extraction")
		} else {
			logger.Info("❌ Cache invalid, will extract")
		}
	} else {
		logger.Info("📦 FLAVOR_WORKENV_CACHE=false, forcing fresh extraction")
	}

	slotPaths := make(map[int]string)

	if !workenvValid {
		if err := checkDiskSpace(paths, metadata, logger); err != nil {
			return nil, false, err
		}

		acquiredLock, err := TryAcquireLock(paths, logger)
		if err != nil {
			logger.Error("❌ Failed to acquire extraction lock", "error", err)
			return nil, false, err
		}
		if !acquiredLock {
			logger.Info("⏳ Another process is extracting, waiting...")
			if err := WaitForExtraction(paths, 60, logger); err != nil {
				return nil, false, err
			}
			valid, err := checkWorkenvValidity(paths, index, metadata, logger)
			if err != nil {
				return nil, false, err
			}
			if !valid {
				return nil, false, fmt.Errorf("cache extraction by another process failed validation")
			}
			workenvValid = true
		} else {
			defer ReleaseLock(paths, logger)

			slotPaths, err = extractAndMergeSlotsToWorkenv(reader, metadata, paths, index, logger)
			if err != nil {
				return nil, false, err
			}

			if err := savePackageChecksum(paths, index.IndexChecksum, logger); err != nil {
				logger.Warn("⚠️ Failed to save package checksum", "error", err)
			}
			return slotPaths, false, nil
		}
	}

	logger.Info("✅ Work environment is valid, skipping persistent slot extraction")
	for i, slot := range metadata.Slots {
		if slot.Lifecycle == "temp" {
			logger.Debug("📦 Extracting temp slot", "index", i, "id", slot.ID)
			slotPath, err := reader.ExtractSlot(i, paths.Workenv())
			if err != nil {
				logger.Error("❌ Failed to extract slot", "error", fmt.Errorf("%w: %v", ErrSlotExtractionFailed, err))
				return nil, false, fmt.Errorf("%w: %v", ErrSlotExtractionFailed, err)
			}
			slotPaths[slot.Slot] = slotPath
		} else {
			slotPaths[slot.Slot] = paths.Workenv()
		}
	}
	return slotPaths, true, nil
}

// runSetupCommands executes metadata.SetupCommands once, immediately after a
// fresh extraction, then removes any lifecycle="init" slots they depended on.
func runSetupCommands(metadata *Metadata, slotPaths map[int]string, workenvDir, workenvDirForCmd, userCwd string, logger hclog.Logger) error {
	if len(metadata.SetupCommands) == 0 {
		return nil
	}

	logger.Info("🔧 Running setup commands", "count", len(metadata.SetupCommands))
	metadataDir := filepath.Join(workenvDir, "metadata")
	if err := os.MkdirAll(metadataDir, os.FileMode(DirPerms)); err != nil {
		logger.Error("❌ Failed to create metadata directory", "error", err)
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	for i, setupCmdInterface := range metadata.SetupCommands {
		logger.Debug("🔧 Processing setup command", "index", i)
		var cmdToRun string
		var cmdArgs []string

		switch cmd := setupCmdInterface.(type) {
		case string:
			cmdToRun = cmd
		case map[string]interface{}:
			cmdType, _ := cmd["type"].(string)
			command, _ := cmd["command"].(string)

			command = substitutePrimarySlot(command, metadata, slotPaths, workenvDirForCmd, logger)
			command = strings.ReplaceAll(command, "{workenv}", workenvDirForCmd)
			command = strings.ReplaceAll(command, "{package_name}", metadata.Package.Name)
			command = strings.ReplaceAll(command, "{version}", metadata.Package.Version)

			switch cmdType {
			case "enumerate_and_execute":
				if enumerate, ok := cmd["enumerate"].(map[string]interface{}); ok {
					path, _ := enumerate["path"].(string)
					pattern, _ := enumerate["pattern"].(string)

					path = strings.ReplaceAll(path, "{workenv}", workenvDir)

					matches, err := filepath.Glob(filepath.Join(path, pattern))
					if err != nil {
						logger.Warn("⚠️ Failed to enumerate files", "error", err)
					}

					parts := strings.Fields(command)
					if len(parts) > 0 && len(matches) > 0 {
						cmdArgs = append(parts[1:], matches...)
						cmdToRun = parts[0]
					} else {
						cmdToRun = command
					}
				}
			case "write_file":
				if err := runWriteFileSetupCommand(cmd, metadata, workenvDir, workenvDirForCmd, logger); err != nil {
					return err
				}
				continue
			default:
				cmdToRun = command
			}
		default:
			logger.Warn("⚠️ Unknown setup command type", "type", fmt.Sprintf("%T", setupCmdInterface))
			continue
		}

		if cmdToRun == "" {
			continue
		}

		if err := runSingleSetupCommand(cmdToRun, cmdArgs, metadata, slotPaths, workenvDir, workenvDirForCmd, userCwd, logger); err != nil {
			return err
		}
	}

	logger.Info("🧹 Cleaning up lifecycle slots...")
	cleanupLifecycleSlots(workenvDir, metadata, slotPaths, logger)
	return nil
}

// runWriteFileSetupCommand handles the "write_file" setup command type:
// substitute placeholders into path/content and write the file directly.
func runWriteFileSetupCommand(cmd map[string]interface{}, metadata *Metadata, workenvDir, workenvDirForCmd string, logger hclog.Logger) error {
	path, _ := cmd["path"].(string)
	content, _ := cmd["content"].(string)

	path = strings.ReplaceAll(path, "{workenv}", workenvDir)
	path = strings.ReplaceAll(path, "{package_name}", metadata.Package.Name)
	path = strings.ReplaceAll(path, "{version}", metadata.Package.Version)

	content = strings.ReplaceAll(content, "{workenv}", workenvDirForCmd)
	content = strings.ReplaceAll(content, "{package_name}", metadata.Package.Name)
	content = strings.ReplaceAll(content, "{version}", metadata.Package.Version)

	mode := os.FileMode(0644)
	if modeFloat, ok := cmd["mode"].(float64); ok {
		mode = os.FileMode(int(modeFloat))
	}

	if err := os.WriteFile(path, []byte(content+"\n"), mode); err != nil {
		logger.Error("❌ Failed to write file", "path", path, "error", err)
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return nil
}

// runSingleSetupCommand spawns one resolved setup command and blocks until
// it exits, with FLAVOR_WORKENV and workenv/bin layered into its environment.
func runSingleSetupCommand(cmdToRun string, cmdArgs []string, metadata *Metadata, slotPaths map[int]string, workenvDir, workenvDirForCmd, userCwd string, logger hclog.Logger) error {
	if len(cmdArgs) == 0 {
		cmdToRun = substitutePrimarySlot(cmdToRun, metadata, slotPaths, workenvDirForCmd, logger)
		cmdToRun = strings.ReplaceAll(cmdToRun, "{workenv}", workenvDirForCmd)
		cmdToRun = strings.ReplaceAll(cmdToRun, "{package_name}", metadata.Package.Name)
		cmdToRun = strings.ReplaceAll(cmdToRun, "{version}", metadata.Package.Version)
	}

	var setupExec *exec.Cmd
	if len(cmdArgs) > 0 {
		resolvedCmd := resolveExecutable(cmdToRun, logger)
		setupExec = exec.Command(resolvedCmd, cmdArgs...)
	} else {
		parts, err := shellparse.Split(cmdToRun)
		if err != nil {
			logger.Error("❌ Failed to parse setup command", "command", cmdToRun, "error", err)
			return fmt.Errorf("failed to parse setup command %q: %w", cmdToRun, err)
		}
		if len(parts) == 0 {
			return nil
		}
		resolvedExec := resolveExecutable(parts[0], logger)
		setupExec = exec.Command(resolvedExec, parts[1:]...)
	}

	setupExec.Dir = userCwd
	setupExec.Env = os.Environ()
	setupExec.Env = append(setupExec.Env, fmt.Sprintf("FLAVOR_WORKENV=%s", workenvDir))

	for i, env := range setupExec.Env {
		if strings.HasPrefix(env, "PATH=") {
			setupExec.Env[i] = fmt.Sprintf("PATH=%s/bin:%s", workenvDir, strings.TrimPrefix(env, "PATH="))
			break
		}
	}

	logger.Debug("🏃 Running setup command", "command", cmdToRun, "args", cmdArgs, "cwd", userCwd)
	if output, err := setupExec.CombinedOutput(); err != nil {
		logger.Error("❌ Setup command failed", "command", cmdToRun, "output", string(output))
		return fmt.Errorf("setup command %s failed: %w", cmdToRun, err)
	}
	return nil
}

// buildCommandString resolves every placeholder in metadata.Execution.Command
// against the extracted slot paths (§4.10): {primary} first (it may expand
// into a further {workenv} placeholder), then {slot:N}, {workenv},
// {package_name} and {version}. Returns ErrMissingSlot if a {slot:N}
// reference to one of the metadata's slots (N < len(metadata.Slots))
// survives substitution; references past the slot list are left in place.
func buildCommandString(metadata *Metadata, slotPaths map[int]string, workenvDirForCmd string, logger hclog.Logger) (string, error) {
	command := metadata.Execution.Command
	command = substitutePrimarySlot(command, metadata, slotPaths, workenvDirForCmd, logger)
	for idx, path := range slotPaths {
		placeholder := fmt.Sprintf("{slot:%d}", idx)
		command = strings.ReplaceAll(command, placeholder, filepath.ToSlash(path))
	}
	command = strings.ReplaceAll(command, "{workenv}", workenvDirForCmd)
	command = strings.ReplaceAll(command, "{package_name}", metadata.Package.Name)
	command = strings.ReplaceAll(command, "{version}", metadata.Package.Version)

	if strings.Contains(command, "{slot:") {
		for i := 0; i < len(metadata.Slots); i++ {
			placeholder := fmt.Sprintf("{slot:%d}", i)
			if strings.Contains(command, placeholder) {
				logger.Error("❌ Missing slot reference", "slot", i, "error", ErrMissingSlot)
				return "", fmt.Errorf("%w: slot %d", ErrMissingSlot, i)
			}
		}
	}

	return command, nil
}

// buildExecCmd parses the resolved command line and assembles the *exec.Cmd
// that will run the primary command, layering argv, environment and working
// directory. Setup commands are assembled separately by runSingleSetupCommand.
func buildExecCmd(command string, args []string, userCwd, workenvDir string, metadata *Metadata, slotPaths map[int]string, logger hclog.Logger) (*exec.Cmd, error) {
	parts, err := shellparse.Split(command)
	if err != nil {
		logger.Error("❌ Failed to parse command", "command", command, "error", err)
		return nil, fmt.Errorf("failed to parse command %q: %w", command, err)
	}
	if len(parts) == 0 {
		logger.Error("Empty command")
		return nil, errors.New("empty command")
	}

	cmdArgs := parts[1:]
	if len(args) > 0 {
		cmdArgs = append(cmdArgs, args...)
	}

	resolvedExec := resolveExecutable(parts[0], logger)
	cmd := exec.Command(resolvedExec, cmdArgs...)

	originalCmd := os.Args[0]
	binaryName := filepath.Base(originalCmd)

	cmd.Args = append([]string{binaryName}, cmdArgs...)
	logger.Debug("🏷️ Attempted to set argv[0] (Go limitation: won't work)", "argv0", binaryName, "original", originalCmd, "fullArgs", cmd.Args)

	parentEnv := os.Environ()
	logger.Debug("🌍 Inheriting parent environment", "vars_count", len(parentEnv))
	cmd.Env = parentEnv

	// Set FLAVOR_CACHE BEFORE workenv environment (which overwrites HOME)
	cmd.Env = setFlavorCacheBeforeWorkenv(cmd.Env, logger)

	cmd.Env = append(cmd.Env, fmt.Sprintf("FLAVOR_WORKENV=%s", workenvDir))
	logger.Debug("➕ Added FLAVOR_WORKENV", "path", workenvDir)

	cmd.Env = append(cmd.Env,
		fmt.Sprintf("FLAVOR_ORIGINAL_COMMAND=%s", originalCmd),
		fmt.Sprintf("FLAVOR_COMMAND_NAME=%s", binaryName))
	logger.Debug("🏷️ Added command name environment variables",
		"FLAVOR_ORIGINAL_COMMAND", originalCmd,
		"FLAVOR_COMMAND_NAME", binaryName)

	pathFound := false
	for i, env := range cmd.Env {
		if strings.HasPrefix(env, "PATH=") {
			cmd.Env[i] = fmt.Sprintf("PATH=%s/bin:%s", workenvDir, strings.TrimPrefix(env, "PATH="))
			pathFound = true
			break
		}
	}
	if !pathFound {
		cmd.Env = append(cmd.Env, fmt.Sprintf("PATH=%s/bin", workenvDir))
	}

	if metadata.Runtime != nil && metadata.Runtime.Env != nil {
		logger.Debug("🔄 Processing runtime.env configuration")
		cmd.Env = processRuntimeEnv(cmd.Env, metadata.Runtime.Env, logger)
	}

	if metadata.Execution.Environment != nil {
		logger.Debug("➕ Adding package-defined environment variables", "count", len(metadata.Execution.Environment))
		for k, v := range metadata.Execution.Environment {
			for idx, path := range slotPaths {
				placeholder := fmt.Sprintf("{slot:%d}", idx)
				v = strings.ReplaceAll(v, placeholder, path)
			}
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
			logger.Trace("➕ Added package env var", "key", k, "value", v)
		}
	}

	cmd.Dir = userCwd
	logger.Debug("📂 Setting working directory", "path", userCwd)

	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	logger.Info("🚀 Executing command", "path", cmd.Path)
	logger.Debug("🎯 Command details", "args", cmd.Args[1:], "cwd", cmd.Dir)
	logger.Debug("📊 Final environment state", "total_vars", len(cmd.Env))

	logEnvironmentTrace(cmd.Env, logger)

	return cmd, nil
}

// runBundleWithCwd is the full run pipeline: locate the PSPF data, verify and
// read its metadata, populate the workenv (cache or fresh extraction), run
// any setup commands, then resolve and spawn metadata.Execution.Command.
func runBundleWithCwd(exePath string, args []string, userCwd string, logger hclog.Logger) (*exec.Cmd, error) {
	bundlePath, cleanup, err := prepareBundlePath(exePath, logger)
	if err != nil {
		logger.Error("❌ Failed to prepare bundle path", "error", err)
		return nil, fmt.Errorf("failed to prepare bundle path: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	reader, err := NewReaderWithLogger(bundlePath, logger)
	if err != nil {
		logger.Error("❌ Failed to create reader", "error", err)
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Error("Failed to close reader", "error", err)
		}
	}()

	index, err := reader.ReadIndex()
	if err != nil {
		logger.Error("❌ Failed to read index", "error", err)
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	metadata, err := readAndVerifyMetadata(reader, logger)
	if err != nil {
		return nil, err
	}

	paths := getWorkenvPaths(exePath, logger)
	workenvDir := paths.Workenv()
	// Convert to forward slashes for command string substitution on Windows
	// so backslashes aren't treated as escape characters by the shell parser.
	workenvDirForCmd := filepath.ToSlash(workenvDir)
	if err := os.MkdirAll(workenvDir, os.FileMode(DirPerms)); err != nil {
		logger.Error("❌ Failed to create work environment directory", "error", err)
		return nil, fmt.Errorf("failed to create work environment directory: %w", err)
	}
	logger.Info("📁 Work environment", "path", workenvDir)

	if err := setupWorkenvDirectories(workenvDir, metadata, logger); err != nil {
		return nil, err
	}

	slotPaths, workenvValid, err := populateWorkenv(reader, paths, index, metadata, logger)
	if err != nil {
		return nil, err
	}

	if !workenvValid {
		if err := runSetupCommands(metadata, slotPaths, workenvDir, workenvDirForCmd, userCwd, logger); err != nil {
			return nil, err
		}
	}

	if metadata.Execution == nil {
		logger.Error("❌ No execution configuration found")
		return nil, errors.New("no execution configuration found")
	}

	command, err := buildCommandString(metadata, slotPaths, workenvDirForCmd, logger)
	if err != nil {
		return nil, err
	}

	return buildExecCmd(command, args, userCwd, workenvDir, metadata, slotPaths, logger)
}
