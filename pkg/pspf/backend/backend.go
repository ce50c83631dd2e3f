// Package backend implements the C5 read backend: the set of strategies a
// Reader can use to pull slot bytes off disk once the index (C2) has told it
// where they live. Which one applies is selected by the index's AccessMode
// byte (pspf.AccessFile/AccessMmap/AccessAuto/AccessStream).
package backend

import (
	"bufio"
	"container/list"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/hashicorp/go-hclog"
)

// Backend is a random-access view over a package file restricted to byte
// ranges a slot descriptor names. Implementations need not support
// concurrent ReadAt calls unless documented otherwise.
type Backend interface {
	// ReadAt returns size bytes starting at offset.
	ReadAt(offset int64, size int64) ([]byte, error)
	// Prefetch is a hint that [offset, offset+size) will likely be read
	// soon. Implementations may treat it as a no-op.
	Prefetch(offset int64, size int64)
	Close() error
}

// mappedBackend serves reads from a read-only mmap(2) view of the whole
// file. Cheapest per-read path once the mapping exists; costs one syscall
// up front and holds the mapping for the Reader's lifetime.
type mappedBackend struct {
	data mmap.MMap
}

// NewMapped mmaps the file read-only. Returns an error if the file is
// empty, since mmap-go rejects zero-length mappings.
func NewMapped(f *os.File, logger hclog.Logger) (Backend, error) {
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	logger.Trace("opened mapped backend", "bytes", len(m))
	return &mappedBackend{data: m}, nil
}

func (b *mappedBackend) ReadAt(offset, size int64) ([]byte, error) {
	if offset < 0 || size < 0 || offset+size > int64(len(b.data)) {
		return nil, fmt.Errorf("mapped read out of range: offset=%d size=%d len=%d", offset, size, len(b.data))
	}
	out := make([]byte, size)
	copy(out, b.data[offset:offset+size])
	return out, nil
}

// Prefetch is a no-op: mmap-go exposes no portable madvise binding, so
// there is nothing to hint beyond what the OS already does on page fault.
func (b *mappedBackend) Prefetch(offset, size int64) {}

func (b *mappedBackend) Close() error {
	return b.data.Unmap()
}

// positionalBackend serves reads via os.File.ReadAt, backed by a small
// bounded LRU of already-read ranges so repeated reads of the same slot
// (e.g. re-verification after extraction) don't re-hit the file.
type positionalBackend struct {
	file     *os.File
	mu       sync.Mutex
	cache    map[rangeKey]*list.Element
	order    *list.List
	capacity int
}

type rangeKey struct {
	offset int64
	size   int64
}

type rangeEntry struct {
	key  rangeKey
	data []byte
}

const defaultPositionalCacheEntries = 32

// NewPositional wraps f for ReadAt-based access with an LRU cache.
func NewPositional(f *os.File) Backend {
	return &positionalBackend{
		file:     f,
		cache:    make(map[rangeKey]*list.Element),
		order:    list.New(),
		capacity: defaultPositionalCacheEntries,
	}
}

func (b *positionalBackend) ReadAt(offset, size int64) ([]byte, error) {
	key := rangeKey{offset, size}

	b.mu.Lock()
	if el, ok := b.cache[key]; ok {
		b.order.MoveToFront(el)
		data := el.Value.(*rangeEntry).data
		b.mu.Unlock()
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	b.mu.Unlock()

	buf := make([]byte, size)
	if _, err := b.file.ReadAt(buf, offset); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.order.Len() >= b.capacity {
		oldest := b.order.Back()
		if oldest != nil {
			b.order.Remove(oldest)
			delete(b.cache, oldest.Value.(*rangeEntry).key)
		}
	}
	el := b.order.PushFront(&rangeEntry{key: key, data: buf})
	b.cache[key] = el
	b.mu.Unlock()

	out := make([]byte, size)
	copy(out, buf)
	return out, nil
}

// Prefetch warms the LRU cache by performing the read now and discarding
// the result's identity (the cache entry is what's kept).
func (b *positionalBackend) Prefetch(offset, size int64) {
	_, _ = b.ReadAt(offset, size)
}

func (b *positionalBackend) Close() error { return nil }

// streamingBackend serves reads via a single bufio.Reader that advances
// sequentially. Out-of-order reads re-seek and reset the buffer, so this
// backend is best suited to callers that read slots in ascending offset
// order (the extractor's usual access pattern).
type streamingBackend struct {
	file   *os.File
	mu     sync.Mutex
	reader *bufio.Reader
	pos    int64
}

const streamingBufferSize = 256 * 1024

// NewStreaming wraps f for sequential access.
func NewStreaming(f *os.File) Backend {
	return &streamingBackend{
		file:   f,
		reader: bufio.NewReaderSize(f, streamingBufferSize),
	}
}

func (b *streamingBackend) ReadAt(offset, size int64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if offset != b.pos {
		if _, err := b.file.Seek(offset, io.SeekStart); err != nil {
			return nil, err
		}
		b.reader.Reset(b.file)
		b.pos = offset
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(b.reader, buf); err != nil {
		return nil, err
	}
	b.pos += size
	return buf, nil
}

// Prefetch is a no-op: the sequential reader already buffers ahead via
// bufio; there's no separate range to warm.
func (b *streamingBackend) Prefetch(offset, size int64) {}

func (b *streamingBackend) Close() error { return nil }

// hybridBackend composes a mapped view over [0, splitOffset) with a
// positional view over [splitOffset, EOF) — useful for packages whose slot
// table is small and hot (good mmap candidate) but whose slot data is
// large and accessed sparsely.
type hybridBackend struct {
	mapped     Backend
	positional Backend
	split      int64
}

// NewHybrid builds a hybrid backend split at splitOffset.
func NewHybrid(f *os.File, splitOffset int64, logger hclog.Logger) (Backend, error) {
	mapped, err := NewMapped(f, logger)
	if err != nil {
		return nil, err
	}
	return &hybridBackend{
		mapped:     mapped,
		positional: NewPositional(f),
		split:      splitOffset,
	}, nil
}

func (b *hybridBackend) ReadAt(offset, size int64) ([]byte, error) {
	if offset+size <= b.split {
		return b.mapped.ReadAt(offset, size)
	}
	if offset >= b.split {
		return b.positional.ReadAt(offset, size)
	}
	// Straddles the split: read each half and concatenate.
	headSize := b.split - offset
	head, err := b.mapped.ReadAt(offset, headSize)
	if err != nil {
		return nil, err
	}
	tail, err := b.positional.ReadAt(b.split, size-headSize)
	if err != nil {
		return nil, err
	}
	return append(head, tail...), nil
}

func (b *hybridBackend) Prefetch(offset, size int64) {
	if offset+size <= b.split {
		b.mapped.Prefetch(offset, size)
		return
	}
	if offset >= b.split {
		b.positional.Prefetch(offset, size)
		return
	}
	b.mapped.Prefetch(offset, b.split-offset)
	b.positional.Prefetch(b.split, size-(b.split-offset))
}

func (b *hybridBackend) Close() error {
	if err := b.mapped.Close(); err != nil {
		return err
	}
	return b.positional.Close()
}

// Access mode constants, mirrored from pspf.AccessFile/AccessMmap/
// AccessAuto/AccessStream so this package has no import cycle on pspf.
const (
	AccessFile   uint8 = 0
	AccessMmap   uint8 = 1
	AccessAuto   uint8 = 2
	AccessStream uint8 = 3
)

// autoMmapThreshold is the file size above which AccessAuto prefers a
// mapped backend over plain positional reads.
const autoMmapThreshold = 16 * 1024 * 1024

// New selects and constructs a Backend for f given the index's AccessMode
// byte and the file's size (used only by AccessAuto).
func New(accessMode uint8, f *os.File, fileSize int64, logger hclog.Logger) (Backend, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	switch accessMode {
	case AccessMmap:
		return NewMapped(f, logger)
	case AccessStream:
		return NewStreaming(f), nil
	case AccessAuto:
		if fileSize >= autoMmapThreshold {
			b, err := NewMapped(f, logger)
			if err == nil {
				return b, nil
			}
			logger.Debug("mmap unavailable, falling back to positional backend", "error", err)
		}
		return NewPositional(f), nil
	case AccessFile:
		fallthrough
	default:
		return NewPositional(f), nil
	}
}
