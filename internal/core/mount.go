package core

import (
	"fmt"
	"time"

	"basalt/internal/errors"
	"basalt/internal/layout"
	"basalt/internal/log"
	"basalt/internal/shim"
	"basalt/internal/volume"
)

// ShimType selects how the decrypted stream is exposed to the host OS.
type ShimType int

const (
	// ShimBlock serves an NBD target; the host's block initiator
	// creates a real block device.
	ShimBlock ShimType = iota

	// ShimFile serves a WebDAV directory holding a single volume file.
	ShimFile

	// ShimNone opens the volume without exposing it. Used by header
	// maintenance and tests.
	ShimNone
)

// MountOptions extends the volume open options with mount bookkeeping.
type MountOptions struct {
	Path               string
	Password           *volume.Password
	Keyfiles           []string
	ReadOnly           bool
	PreserveTimestamps bool

	Protection         volume.Protection
	ProtectionPassword *volume.Password
	ProtectionKeyfiles []string

	Type            *layout.Type
	UseBackupHeader bool

	// Slot 0 selects the smallest unused slot.
	Slot       int
	MountPoint string

	Shim     ShimType
	ShimPort int

	// ClientTimeout bounds the wait for the host OS client's initial
	// handshake. Zero skips the wait (the front-end attaches the
	// client afterwards).
	ClientTimeout time.Duration
}

// Mount unlocks the volume, assigns a slot, starts the block shim, and
// records the volume in the table. On any failure nothing is added:
// the shim is stopped, the slot is released, and the volume is closed
// with its key wiped.
func (c *Core) Mount(opts MountOptions) (volume.Info, error) {
	var none volume.Info

	if err := c.requireInit(); err != nil {
		return none, err
	}
	if err := c.checkSelfTest(); err != nil {
		return none, err
	}

	// Admission and slot reservation happen under one critical section
	// so two concurrent mounts cannot share a path or slot.
	c.mu.Lock()
	if c.isMountedPath(opts.Path) {
		c.mu.Unlock()
		return none, errors.ErrVolumeAlreadyMounted
	}
	slot := opts.Slot
	if slot == 0 {
		slot = c.freeSlot()
	} else if _, taken := c.slots[slot]; taken {
		c.mu.Unlock()
		return none, errors.NewValidationError("slot", "already occupied")
	}
	c.slots[slot] = nil // reserve
	c.pending[opts.Path] = true
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		delete(c.slots, slot)
		delete(c.pending, opts.Path)
		c.mu.Unlock()
	}

	vol, err := volume.Open(volume.Options{
		Path:               opts.Path,
		Password:           opts.Password,
		Keyfiles:           opts.Keyfiles,
		ReadOnly:           opts.ReadOnly,
		PreserveTimestamps: opts.PreserveTimestamps,
		Protection:         opts.Protection,
		ProtectionPassword: opts.ProtectionPassword,
		ProtectionKeyfiles: opts.ProtectionKeyfiles,
		Type:               opts.Type,
		UseBackupHeader:    opts.UseBackupHeader,
	})
	if err != nil {
		release()
		return none, err
	}

	m := &mounted{vol: vol}
	m.info.MountPoint = opts.MountPoint

	if opts.Shim != ShimNone {
		srv, err := startShim(vol, opts)
		if err != nil {
			vol.Close()
			release()
			return none, err
		}
		m.shim = srv
		m.info.VirtualDevice = srv.Addr()

		if opts.ClientTimeout > 0 {
			select {
			case <-srv.ClientAttached():
			case <-time.After(opts.ClientTimeout):
				// Roll back: stop shim, close volume, free slot.
				srv.Stop()
				vol.Close()
				release()
				return none, errors.NewSystemError(opts.Path, 0,
					fmt.Errorf("host client did not attach within %s", opts.ClientTimeout))
			}
		}
	}

	c.mu.Lock()
	c.slots[slot] = m
	delete(c.pending, opts.Path)
	c.mu.Unlock()

	info := vol.Info()
	info.Slot = slot
	info.MountPoint = m.info.MountPoint
	info.VirtualDevice = m.info.VirtualDevice

	log.Info("volume mounted",
		log.Int("slot", slot),
		log.String("path", opts.Path),
		log.String("shim", m.info.VirtualDevice))

	return info, nil
}

func startShim(vol *volume.Volume, opts MountOptions) (shimServer, error) {
	var (
		srv shim.Server
		err error
	)
	switch opts.Shim {
	case ShimFile:
		srv, err = shim.NewWebdavServer(vol, opts.ShimPort)
	default:
		srv, err = shim.NewNBDServer(vol, opts.ShimPort)
	}
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		srv.Stop()
		return nil, err
	}
	return srv, nil
}

// Dismount drains the shim, wipes the key, and removes the table entry
// - in that order. Without force, a still-attached host client refuses
// the dismount with ErrMountedVolumeInUse; force disconnects it.
func (c *Core) Dismount(slot int, force bool) (volume.Info, error) {
	var none volume.Info

	c.mu.Lock()
	m, ok := c.slots[slot]
	if !ok || m == nil {
		c.mu.Unlock()
		return none, errors.NewValidationError("slot", "no volume mounted there")
	}
	if !force && m.shim != nil && m.shim.ActiveClients() > 0 {
		c.mu.Unlock()
		return none, errors.ErrMountedVolumeInUse
	}
	c.mu.Unlock()

	info := m.vol.Info()
	info.Slot = slot
	info.MountPoint = m.info.MountPoint
	info.VirtualDevice = m.info.VirtualDevice

	// Shim first: after Stop returns, no request can reach the volume.
	if m.shim != nil {
		if err := m.shim.Stop(); err != nil {
			log.Warn("shim stop failed during dismount", log.Err(err))
		}
	}

	// Key wipe before the table entry disappears.
	err := m.vol.Close()

	c.mu.Lock()
	delete(c.slots, slot)
	c.mu.Unlock()

	log.Info("volume dismounted", log.Int("slot", slot), log.String("path", info.Path))
	return info, err
}

// DismountAll dismounts every mounted volume, returning the first
// error.
func (c *Core) DismountAll(force bool) error {
	c.mu.RLock()
	slots := make([]int, 0, len(c.slots))
	for slot, m := range c.slots {
		if m != nil {
			slots = append(slots, slot)
		}
	}
	c.mu.RUnlock()

	var first error
	for _, slot := range slots {
		if _, err := c.Dismount(slot, force); err != nil && first == nil {
			first = err
		}
	}
	return first
}
