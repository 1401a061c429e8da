//go:build linux

package device

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"basalt/internal/errors"

	"golang.org/x/sys/unix"
)

// probeDevice queries the kernel for device size and logical sector
// size.
func (b *Backing) probeDevice() error {
	fd := int(b.f.Fd())

	size, err := unix.IoctlGetInt(fd, unix.BLKGETSIZE64)
	if err != nil {
		return errors.NewSystemError(b.path, errnoOf(err), errors.Wrap(err, "BLKGETSIZE64"))
	}
	b.size = int64(size)

	ssz, err := unix.IoctlGetInt(fd, unix.BLKSSZGET)
	if err != nil {
		return errors.NewSystemError(b.path, errnoOf(err), errors.Wrap(err, "BLKSSZGET"))
	}
	b.sectorSize = ssz
	return nil
}

// accessTime extracts atime from the stat result.
func accessTime(fi os.FileInfo) time.Time {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return time.Unix(st.Atim.Sec, st.Atim.Nsec)
	}
	return fi.ModTime()
}

// errnoOf extracts the OS error number from err, or 0.
func errnoOf(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return 0
}

// ListHostDevices enumerates the host's block devices from /sys/block,
// skipping loop and ram pseudo-devices.
func ListHostDevices(pathsOnly bool) ([]HostDevice, error) {
	entries, err := os.ReadDir("/sys/block")
	if err != nil {
		return nil, errors.NewSystemError("/sys/block", errnoOf(err), err)
	}

	var devices []HostDevice
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "loop") || strings.HasPrefix(name, "ram") {
			continue
		}

		d := HostDevice{Path: "/dev/" + name}
		if !pathsOnly {
			d.Size = sysBlockSize(name)
			d.Removable = sysBlockFlag(name, "removable")
			d.Partitions = sysBlockPartitions(name)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// sysBlockSize reads the device size in bytes from sysfs (the size
// attribute counts 512-byte units regardless of logical sector size).
func sysBlockSize(name string) int64 {
	data, err := os.ReadFile(filepath.Join("/sys/block", name, "size"))
	if err != nil {
		return 0
	}
	sectors, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return sectors * 512
}

func sysBlockFlag(name, attr string) bool {
	data, err := os.ReadFile(filepath.Join("/sys/block", name, attr))
	return err == nil && strings.TrimSpace(string(data)) == "1"
}

func sysBlockPartitions(name string) []string {
	entries, err := os.ReadDir(filepath.Join("/sys/block", name))
	if err != nil {
		return nil
	}
	var parts []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), name) {
			parts = append(parts, "/dev/"+e.Name())
		}
	}
	return parts
}
