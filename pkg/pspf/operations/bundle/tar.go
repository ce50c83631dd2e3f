package bundle

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/provide-io/pspf/pkg/pspf/operations"
)

func init() {
	operations.Register(NewTarOperation())
}

// MaxEntries and MaxEntrySize bound a single TAR bundle to keep extraction
// from a hostile or corrupt archive bounded; ArchiveDir/ExtractTo enforce
// both, Reverse enforces MaxEntrySize, and ExtractTo also rejects entries
// that escape the destination directory.
const (
	MaxEntries   = 65536
	MaxEntrySize = 4 << 30
)

// epoch is the fixed ModTime stamped on every archived entry. Reproducible
// builds (§4.5, §8) require two builds over identical inputs and key_seed to
// produce byte-identical packages, so wall-clock time can never reach a
// TAR header.
var epoch = time.Unix(0, 0).UTC()

// TarOperation implements the TAR bundling step of the operation chain (C1).
// Apply/Reverse operate on a single opaque blob (matching the Operation
// interface used by the registry-driven chain codec); ArchiveDir/ExtractTo
// are the directory-tree entry points the builder and extractor actually use
// for a slot whose source is a directory.
type TarOperation struct {
	operations.BaseOperation
}

// NewTarOperation creates a new TAR operation
func NewTarOperation() *TarOperation {
	return &TarOperation{
		BaseOperation: operations.BaseOperation{
			OpID:   operations.OP_TAR,
			OpName: "TAR",
		},
	}
}

// Apply wraps input as a single-entry TAR archive named "data".
func (o *TarOperation) Apply(input []byte) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	header := &tar.Header{
		Name:    "data",
		Mode:    0600,
		Size:    int64(len(input)),
		ModTime: epoch,
	}

	if err := tw.WriteHeader(header); err != nil {
		return nil, fmt.Errorf("writing tar header: %w", err)
	}
	if _, err := tw.Write(input); err != nil {
		return nil, fmt.Errorf("writing tar data: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar writer: %w", err)
	}

	return buf.Bytes(), nil
}

// ApplyStream streams input into a single-entry TAR archive.
func (o *TarOperation) ApplyStream(input io.Reader, output io.Writer) error {
	tw := tar.NewWriter(output)
	defer tw.Close()

	data, err := io.ReadAll(input)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	header := &tar.Header{
		Name:    "data",
		Mode:    0600,
		Size:    int64(len(data)),
		ModTime: epoch,
	}

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("writing tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("writing tar data: %w", err)
	}

	return nil
}

// Reverse extracts the first entry of a TAR archive back into a blob.
func (o *TarOperation) Reverse(input []byte) ([]byte, error) {
	tr := tar.NewReader(bytes.NewReader(input))

	header, err := tr.Next()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("empty tar archive")
		}
		return nil, fmt.Errorf("reading tar header: %w", err)
	}

	if header.Size < 0 || header.Size > MaxEntrySize {
		return nil, fmt.Errorf("invalid file size: %d", header.Size)
	}

	data := make([]byte, header.Size)
	if _, err := io.ReadFull(tr, data); err != nil {
		return nil, fmt.Errorf("reading tar data: %w", err)
	}

	return data, nil
}

// ReverseStream extracts the first entry of a TAR archive stream.
func (o *TarOperation) ReverseStream(input io.Reader, output io.Writer) error {
	tr := tar.NewReader(input)

	header, err := tr.Next()
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("empty tar archive")
		}
		return fmt.Errorf("reading tar header: %w", err)
	}

	if header.Size < 0 || header.Size > MaxEntrySize {
		return fmt.Errorf("invalid file size: %d", header.Size)
	}

	if _, err := io.CopyN(output, tr, header.Size); err != nil {
		return fmt.Errorf("extracting tar data: %w", err)
	}

	return nil
}

// EstimateSize estimates TAR archive size given an input size.
func (o *TarOperation) EstimateSize(inputSize int64) int64 {
	headerSize := int64(512)
	padding := (512 - (inputSize % 512)) % 512
	return headerSize + inputSize + padding + 1024
}

// ArchiveDir walks srcDir and packs every regular file, directory and
// symlink it contains into a TAR archive with slash-separated, root-relative
// entry names. This is the directory-tree counterpart to Apply used when a
// slot's source is a directory rather than a single file.
func ArchiveDir(srcDir string) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	entries := 0
	walkErr := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}

		entries++
		if entries > MaxEntries {
			return fmt.Errorf("archive entry limit exceeded: more than %d entries", MaxEntries)
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			link, err = os.Readlink(path)
			if err != nil {
				return fmt.Errorf("reading symlink %s: %w", path, err)
			}
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return fmt.Errorf("building tar header for %s: %w", path, err)
		}
		header.Name = rel
		if info.IsDir() {
			header.Name += "/"
		}

		// Normalize everything the source filesystem or current user could
		// vary between builds; only the name, mode and content may differ.
		header.ModTime = epoch
		header.AccessTime = time.Time{}
		header.ChangeTime = time.Time{}
		header.Uid = 0
		header.Gid = 0
		header.Uname = ""
		header.Gname = ""

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("writing tar header for %s: %w", path, err)
		}

		if info.Mode().IsRegular() {
			if info.Size() > MaxEntrySize {
				return fmt.Errorf("entry %s exceeds max size %d", rel, MaxEntrySize)
			}
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			defer f.Close()
			if _, err := io.Copy(tw, f); err != nil {
				return fmt.Errorf("writing data for %s: %w", path, err)
			}
		}

		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar writer: %w", err)
	}

	return buf.Bytes(), nil
}

// ExtractTo unpacks a TAR archive produced by ArchiveDir into destDir.
// Every entry name is validated against path escape (absolute paths, ".."
// segments, and symlink targets that resolve outside destDir) before being
// written, and the archive is rejected outright once it exceeds MaxEntries
// or any entry exceeds MaxEntrySize.
func ExtractTo(data []byte, destDir string) error {
	tr := tar.NewReader(bytes.NewReader(data))

	entries := 0
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar header: %w", err)
		}

		entries++
		if entries > MaxEntries {
			return fmt.Errorf("archive entry limit exceeded: more than %d entries", MaxEntries)
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode&0o777)); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if header.Size < 0 || header.Size > MaxEntrySize {
				return fmt.Errorf("entry %s exceeds max size %d", header.Name, MaxEntrySize)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
				return fmt.Errorf("creating parent for %s: %w", target, err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode&0o777))
			if err != nil {
				return fmt.Errorf("creating file %s: %w", target, err)
			}
			if _, err := io.CopyN(f, tr, header.Size); err != nil {
				f.Close()
				return fmt.Errorf("writing %s: %w", target, err)
			}
			f.Close()
		case tar.TypeSymlink:
			linkTarget := header.Linkname
			if filepath.IsAbs(linkTarget) {
				return fmt.Errorf("symlink %s: absolute link target rejected", header.Name)
			}
			resolved := filepath.Join(filepath.Dir(target), linkTarget)
			if _, err := safeJoin(destDir, mustRel(destDir, resolved)); err != nil {
				return fmt.Errorf("symlink %s escapes destination: %w", header.Name, err)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
				return fmt.Errorf("creating parent for %s: %w", target, err)
			}
			if err := os.Symlink(linkTarget, target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", target, err)
			}
		default:
			// skip device nodes, fifos and other non-regular entries
			continue
		}
	}

	return nil
}

// safeJoin joins destDir and name, rejecting absolute paths, empty names and
// any result that escapes destDir via ".." traversal.
func safeJoin(destDir, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("archive entry %q: invalid path", name)
	}
	cleaned := filepath.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return filepath.Join(destDir, cleaned), nil
}

func mustRel(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return rel
}
