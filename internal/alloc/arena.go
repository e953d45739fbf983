package alloc

import (
	"encoding/binary"
	"errors"
	"os"
	"sync"
)

// arenaMagic identifies an arena file; arenaVersion allows format changes
// to be detected on open.
const (
	arenaMagic      uint32 = 0x4b565348 // "HSVK"
	arenaVersion    uint32 = 1
	arenaFileHeader        = 16 // magic(4) + version(4) + highWater(8)
)

var errBadArenaHeader = errors.New("alloc: not a valid arena file")

// Arena is a growable, memory-mapped byte space. Offsets into the arena are
// stable across growth: growing unmaps and remaps the file, which may move
// the mapping, and offsets remain valid because they are arena-relative,
// not pointer-relative.
type Arena struct {
	mu         sync.Mutex
	file       *os.File
	data       []byte // current mapping, including arenaFileHeader prefix
	mapped     int64  // bytes currently mapped
	highWater  uint64 // next free offset, relative to payload (post-header)
	growth     int64  // size to grow by when exhausted
}

// DefaultInitialSize is the initial arena size for a freshly created file.
const DefaultInitialSize = 64 << 20 // 64MiB

// DefaultGrowth is the fixed step the arena grows by each time it runs out
// of room; growth never doubles.
const DefaultGrowth = 64 << 20

// OpenFile creates or opens a persistent arena backed by path. If the file
// is new, it is truncated to initialSize and initialized with a fresh
// header; if it exists, the header is validated and highWater restored.
func OpenFile(path string, initialSize int64) (*Arena, error) {
	if initialSize <= 0 {
		initialSize = DefaultInitialSize
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	a := &Arena{file: f, growth: DefaultGrowth}
	if info.Size() == 0 {
		if err := f.Truncate(initialSize); err != nil {
			f.Close()
			return nil, err
		}
		if err := a.mapUpTo(initialSize); err != nil {
			f.Close()
			return nil, err
		}
		binary.LittleEndian.PutUint32(a.data[0:4], arenaMagic)
		binary.LittleEndian.PutUint32(a.data[4:8], arenaVersion)
		binary.LittleEndian.PutUint64(a.data[8:16], 0)
		return a, nil
	}

	if err := a.mapUpTo(info.Size()); err != nil {
		f.Close()
		return nil, err
	}
	if len(a.data) < arenaFileHeader ||
		binary.LittleEndian.Uint32(a.data[0:4]) != arenaMagic {
		a.unmap()
		f.Close()
		return nil, errBadArenaHeader
	}
	a.highWater = binary.LittleEndian.Uint64(a.data[8:16])
	return a, nil
}

// OpenMemory creates an in-memory arena (backed by an anonymous temp file),
// useful for tests and for callers who don't need durability.
func OpenMemory(initialSize int64) (*Arena, error) {
	f, err := os.CreateTemp("", "hashkv-arena-*")
	if err != nil {
		return nil, err
	}
	os.Remove(f.Name())
	if initialSize <= 0 {
		initialSize = DefaultInitialSize
	}
	a := &Arena{file: f, growth: DefaultGrowth}
	if err := f.Truncate(initialSize); err != nil {
		f.Close()
		return nil, err
	}
	if err := a.mapUpTo(initialSize); err != nil {
		f.Close()
		return nil, err
	}
	binary.LittleEndian.PutUint32(a.data[0:4], arenaMagic)
	binary.LittleEndian.PutUint32(a.data[4:8], arenaVersion)
	binary.LittleEndian.PutUint64(a.data[8:16], 0)
	return a, nil
}

// bump allocates size bytes (aligned to alignment) from the high-water
// mark, growing the backing file/mapping if necessary.
func (a *Arena) bump(alignment, size uint64) (SpaceEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	offset := a.highWater
	if alignment > 1 {
		if rem := offset % alignment; rem != 0 {
			offset += alignment - rem
		}
	}
	end := offset + size
	if int64(arenaFileHeader)+int64(end) > a.mapped {
		needed := int64(arenaFileHeader) + int64(end)
		grown := a.mapped
		for grown < needed {
			grown += a.growth
		}
		if err := a.growTo(grown); err != nil {
			return SpaceEntry{}, err
		}
	}

	a.highWater = end
	binary.LittleEndian.PutUint64(a.data[8:16], a.highWater)
	return SpaceEntry{Offset: offset, Size: size}, nil
}

// slice returns the arena bytes at [offset, offset+size), relative to the
// payload region (i.e. offset 0 is the first byte after the file header).
func (a *Arena) slice(offset, size uint64) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := int64(arenaFileHeader) + int64(offset)
	end := start + int64(size)
	return a.data[start:end]
}

// Sync flushes the mapping to disk.
func (a *Arena) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.msync()
}

// Close unmaps and closes the backing file.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unmap()
	return a.file.Close()
}
