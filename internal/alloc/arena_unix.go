//go:build unix

package alloc

import (
	"golang.org/x/sys/unix"
)

func (a *Arena) mapUpTo(size int64) error {
	data, err := unix.Mmap(int(a.file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	a.data = data
	a.mapped = size
	return nil
}

func (a *Arena) growTo(newSize int64) error {
	if err := a.file.Truncate(newSize); err != nil {
		return err
	}
	if a.data != nil {
		if err := unix.Munmap(a.data); err != nil {
			return err
		}
		a.data = nil
	}
	return a.mapUpTo(newSize)
}

func (a *Arena) unmap() {
	if a.data != nil {
		unix.Munmap(a.data)
		a.data = nil
	}
}

func (a *Arena) msync() error {
	if a.data == nil {
		return nil
	}
	return unix.Msync(a.data, unix.MS_SYNC)
}
