//go:build !linux

package device

import (
	"os"
	"time"

	"basalt/internal/errors"
)

// probeDevice has no portable implementation; raw device backing is
// only supported on Linux builds.
func (b *Backing) probeDevice() error {
	return errors.ErrNotImplemented
}

func accessTime(fi os.FileInfo) time.Time {
	return fi.ModTime()
}

func errnoOf(err error) int {
	return 0
}

// ListHostDevices reports no devices on unsupported platforms.
func ListHostDevices(pathsOnly bool) ([]HostDevice, error) {
	return nil, errors.ErrNotImplemented
}
