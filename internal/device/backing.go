// Package device abstracts the backing blob of a volume: a container
// file on the host filesystem or a raw block device. It also provides
// the host-device probe used by the mount front-ends.
package device

import (
	"fmt"
	"os"
	"time"

	"basalt/internal/errors"
	"basalt/internal/util"
)

// Backing is an open backing file or block device. All volume I/O goes
// through it; offsets are absolute within the blob, with negative
// offsets resolved against the end (for end-anchored backup headers).
type Backing struct {
	f          *os.File
	path       string
	isDevice   bool
	size       int64
	sectorSize int

	preserveTimestamps bool
	atime, mtime       time.Time
}

// Open opens the backing blob at path.
//
// With preserveTimestamps, the file's access and modification times are
// captured now and restored on Close, so mounting a container leaves no
// trace in its timestamps.
func Open(path string, readOnly, preserveTimestamps bool) (*Backing, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewSystemError(path, errnoOf(err), err)
	}

	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, errors.NewSystemError(path, errnoOf(err), err)
	}

	b := &Backing{
		f:                  f,
		path:               path,
		isDevice:           fi.Mode()&os.ModeDevice != 0,
		sectorSize:         util.SectorSize,
		preserveTimestamps: preserveTimestamps,
	}

	if preserveTimestamps {
		b.mtime = fi.ModTime()
		b.atime = accessTime(fi)
	}

	if b.isDevice {
		if err := b.probeDevice(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		b.size = fi.Size()
	}

	return b, nil
}

// Path returns the path the backing was opened from.
func (b *Backing) Path() string { return b.path }

// IsDevice reports whether the backing is a raw block device.
func (b *Backing) IsDevice() bool { return b.isDevice }

// Size returns the total size of the backing blob in bytes.
func (b *Backing) Size() int64 { return b.size }

// SectorSize returns the logical sector size of the backing blob.
func (b *Backing) SectorSize() int { return b.sectorSize }

// ResolveOffset maps a possibly end-relative offset (negative = from
// end) to an absolute one.
func (b *Backing) ResolveOffset(off int64) int64 {
	if off < 0 {
		return b.size + off
	}
	return off
}

// ReadAt reads len(p) bytes at the given (possibly end-relative)
// offset. Short reads surface as SystemError with the offending offset.
func (b *Backing) ReadAt(p []byte, off int64) error {
	abs := b.ResolveOffset(off)
	if _, err := b.f.ReadAt(p, abs); err != nil {
		return errors.NewSystemError(b.path, errnoOf(err), errors.Wrap(err, fmt.Sprintf("read at offset %d", abs)))
	}
	return nil
}

// WriteAt writes len(p) bytes at the given (possibly end-relative)
// offset.
func (b *Backing) WriteAt(p []byte, off int64) error {
	abs := b.ResolveOffset(off)
	if _, err := b.f.WriteAt(p, abs); err != nil {
		return errors.NewSystemError(b.path, errnoOf(err), errors.Wrap(err, "write"))
	}
	return nil
}

// Flush forces buffered writes to stable storage.
func (b *Backing) Flush() error {
	if err := b.f.Sync(); err != nil {
		return errors.NewSystemError(b.path, errnoOf(err), errors.Wrap(err, "sync"))
	}
	return nil
}

// Truncate grows or shrinks a container file. Refused for devices.
func (b *Backing) Truncate(size int64) error {
	if b.isDevice {
		return errors.NewValidationError("path", "cannot resize a block device")
	}
	if err := b.f.Truncate(size); err != nil {
		return errors.NewSystemError(b.path, errnoOf(err), errors.Wrap(err, "truncate"))
	}
	b.size = size
	return nil
}

// Close closes the handle, restoring preserved timestamps if requested.
func (b *Backing) Close() error {
	err := b.f.Close()
	if b.preserveTimestamps && !b.isDevice {
		// Restore after close so our own writes do not re-dirty mtime.
		os.Chtimes(b.path, b.atime, b.mtime)
	}
	if err != nil {
		return errors.NewSystemError(b.path, errnoOf(err), errors.Wrap(err, "close"))
	}
	return nil
}

// HostDevice describes one host block device found by the probe.
type HostDevice struct {
	Path       string
	Size       int64
	Removable  bool
	Partitions []string
}
