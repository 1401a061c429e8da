package volume

import (
	"sync"

	"basalt/internal/device"
	"basalt/internal/errors"
	"basalt/internal/header"
	"basalt/internal/layout"
	"basalt/internal/mode"
	"basalt/internal/worker"
)

// Protection selects the write-protection state of an open volume.
type Protection int

const (
	ProtectionNone Protection = iota
	ProtectionReadOnly
	ProtectionHiddenVolume
)

// Volume is an unlocked volume: the decrypted header, its layout, the
// keyed cipher-mode stack, and the open backing handle. A Volume
// exclusively owns its master key and backing handle; Close wipes the
// key before releasing anything.
type Volume struct {
	mu      sync.Mutex
	backing *device.Backing
	lay     layout.Layout
	hdr     *header.Header
	mode    mode.Mode
	pool    *worker.Pool
	dec     *header.Decoded

	kdfName       string
	kdfIterations int
	cascadeName   string
	modeName      string

	readOnly            bool
	protection          Protection
	protectedStart      uint64 // absolute backing offset of the inner range
	protectedEnd        uint64
	protectionTriggered bool

	totalBytesRead    uint64
	totalBytesWritten uint64

	closed bool
}

// Layout returns the layout the header decrypted under.
func (v *Volume) Layout() layout.Layout { return v.lay }

// Header returns the decrypted header. The caller must not retain the
// master key material.
func (v *Volume) Header() *header.Header { return v.hdr }

// Path returns the backing path.
func (v *Volume) Path() string { return v.backing.Path() }

// Decoded returns the KDF, cascade, and mode binding that unlocked the
// header. Used by the header rewrite operations.
func (v *Volume) Decoded() *header.Decoded { return v.dec }

// Backing returns the open backing handle. Header rewrite operations
// use it to reach the header regions; sector I/O must go through the
// Volume.
func (v *Volume) Backing() *device.Backing { return v.backing }

// Size returns the size of the decrypted data area in bytes.
func (v *Volume) Size() int64 { return int64(v.hdr.DataSize) }

// SectorSize returns the volume's logical sector size.
func (v *Volume) SectorSize() int { return int(v.hdr.SectorSize) }

// ReadOnly reports whether writes are refused.
func (v *Volume) ReadOnly() bool { return v.readOnly }

// ProtectionTriggered reports whether hidden-volume protection refused
// a write at any point since open. The flag latches.
func (v *Volume) ProtectionTriggered() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.protectionTriggered
}

// checkRange validates a sector I/O request. A Volume never exposes
// plaintext past its declared size.
func (v *Volume) checkRange(length int, off int64) error {
	ss := int64(v.hdr.SectorSize)
	if off < 0 || off%ss != 0 || int64(length)%ss != 0 {
		return errors.NewValidationError("range", "offset and length must be sector-aligned")
	}
	if off+int64(length) > int64(v.hdr.DataSize) {
		return errors.NewValidationError("range", "read/write past end of volume")
	}
	return nil
}

// ReadAt reads and decrypts len(p) bytes at byte offset off of the
// decrypted data stream. Both must be sector-aligned.
func (v *Volume) ReadAt(p []byte, off int64) error {
	if err := v.checkRange(len(p), off); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return errors.ErrNotInitialized
	}

	if err := v.backing.ReadAt(p, int64(v.hdr.DataStart)+off); err != nil {
		return err
	}

	ss := int(v.hdr.SectorSize)
	startSector := uint64(off) / uint64(ss)
	if err := v.pool.RunSectors(p, startSector, ss, v.mode.DecryptSectors); err != nil {
		return err
	}

	v.totalBytesRead += uint64(len(p))
	return nil
}

// WriteAt encrypts and writes len(p) bytes at byte offset off of the
// decrypted data stream. Both must be sector-aligned. The plaintext in
// p is consumed (encrypted in place) on success.
//
// With hidden-volume protection enabled, a write overlapping the inner
// volume's range is refused with ErrVolumeProtected before any backing
// mutation, and the triggered flag latches.
func (v *Volume) WriteAt(p []byte, off int64) error {
	if err := v.checkRange(len(p), off); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return errors.ErrNotInitialized
	}
	if v.readOnly {
		return errors.ErrVolumeReadOnly
	}

	absStart := v.hdr.DataStart + uint64(off)
	absEnd := absStart + uint64(len(p))
	if v.protection == ProtectionHiddenVolume && absStart < v.protectedEnd && absEnd > v.protectedStart {
		v.protectionTriggered = true
		return errors.ErrVolumeProtected
	}

	ss := int(v.hdr.SectorSize)
	startSector := uint64(off) / uint64(ss)
	if err := v.pool.RunSectors(p, startSector, ss, v.mode.EncryptSectors); err != nil {
		return err
	}

	if err := v.backing.WriteAt(p, int64(v.hdr.DataStart)+off); err != nil {
		return err
	}

	v.totalBytesWritten += uint64(len(p))
	return nil
}

// Flush forces buffered backing writes to stable storage.
func (v *Volume) Flush() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return errors.ErrNotInitialized
	}
	return v.backing.Flush()
}

// Close wipes the master key and the keyed mode state, then closes the
// backing handle - in that order, so no I/O can proceed with wiped key
// material. Idempotent.
func (v *Volume) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true

	v.hdr.Wipe()
	v.mode.Close()
	return v.backing.Close()
}
