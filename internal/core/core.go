// Package core hosts the public orchestration surface: the
// mounted-volume table, mount/dismount, volume creation, header
// maintenance, and process-wide init/shutdown of the random pool and
// worker pool.
package core

import (
	"sort"
	"sync"

	"basalt/internal/creator"
	"basalt/internal/device"
	"basalt/internal/errors"
	"basalt/internal/log"
	"basalt/internal/rng"
	"basalt/internal/volume"
	"basalt/internal/worker"
)

// API is the caller-visible operation set. The in-process Core
// implements it. The elevated-service client proxy (ipc.Client) does
// not: it forwards only the device-level subset (mount, dismount, table
// snapshot, host-device probe, keyfile creation, self-test).
type API interface {
	Mount(opts MountOptions) (volume.Info, error)
	Dismount(slot int, force bool) (volume.Info, error)
	DismountAll(force bool) error
	GetMountedVolumes() []volume.Info
	GetHostDevices(pathsOnly bool) ([]device.HostDevice, error)

	CreateVolume(opts creator.Options) error
	GetCreationProgress() creator.Progress
	AbortCreation()

	ChangePassword(path string, oldCreds, newCreds Credentials, newKdf string) error
	BackupHeaders(path, file string, creds Credentials, hiddenCreds *Credentials) error
	RestoreHeadersFromInternalBackup(path string, creds Credentials) error
	RestoreHeadersFromFile(path, file string, creds Credentials) error

	CreateKeyfile(path string) error
	RunSelfTest() error
}

var _ API = (*Core)(nil)

// Credentials bundles a password with its keyfile list.
type Credentials struct {
	Password *volume.Password
	Keyfiles []string
}

// mounted pairs an unlocked volume with its running shim.
type mounted struct {
	vol  *volume.Volume
	shim shimServer
	info volume.Info
}

// shimServer is the subset of shim.Server the core drives (mount.go
// wires the concrete servers).
type shimServer interface {
	Addr() string
	Stop() error
	ClientAttached() <-chan struct{}
	ActiveClients() int
}

// Core owns the process-wide state. Construct with New, then Init.
type Core struct {
	mu      sync.RWMutex
	slots   map[int]*mounted
	pending map[string]bool // paths with a mount in progress
	creator *creator.Creator
	inited  bool

	selfTestOnce sync.Once
	selfTestErr  error
}

// checkSelfTest runs the known-answer tests once per process; a failure
// permanently refuses mounts.
func (c *Core) checkSelfTest() error {
	c.selfTestOnce.Do(func() {
		c.selfTestErr = cryptoSelfTest()
	})
	return c.selfTestErr
}

// New returns an uninitialized Core.
func New() *Core {
	return &Core{
		slots:   make(map[int]*mounted),
		pending: make(map[string]bool),
		creator: creator.New(),
	}
}

// Init starts the random pool and the worker pool and prepares the
// mounted-volume table. Idempotent.
func (c *Core) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inited {
		return nil
	}
	if err := rng.Default().Start(); err != nil {
		return err
	}
	worker.Default().Start()
	c.inited = true

	log.Info("core initialized")
	return nil
}

// Shutdown dismounts everything, stops the worker pool, and wipes the
// random pool.
func (c *Core) Shutdown() error {
	err := c.DismountAll(true)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inited {
		return err
	}
	worker.Default().Stop()
	rng.Default().Stop()
	c.inited = false

	log.Info("core shut down")
	return err
}

func (c *Core) requireInit() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.inited {
		return errors.ErrNotInitialized
	}
	return nil
}

// GetMountedVolumes returns a snapshot copy of the table, ordered by
// slot.
func (c *Core) GetMountedVolumes() []volume.Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	slots := make([]int, 0, len(c.slots))
	for slot, m := range c.slots {
		if m != nil {
			slots = append(slots, slot)
		}
	}
	sort.Ints(slots)

	out := make([]volume.Info, 0, len(slots))
	for _, slot := range slots {
		m := c.slots[slot]
		info := m.vol.Info()
		info.Slot = slot
		info.MountPoint = m.info.MountPoint
		info.VirtualDevice = m.info.VirtualDevice
		out = append(out, info)
	}
	return out
}

// GetHostDevices probes the host's block devices.
func (c *Core) GetHostDevices(pathsOnly bool) ([]device.HostDevice, error) {
	return device.ListHostDevices(pathsOnly)
}

// isMountedPath reports whether a backing path occupies a slot.
// Callers hold at least the read lock.
func (c *Core) isMountedPath(path string) bool {
	if c.pending[path] {
		return true
	}
	for _, m := range c.slots {
		if m != nil && m.vol.Path() == path {
			return true
		}
	}
	return false
}

// freeSlot returns the smallest unused slot. Callers hold the write
// lock.
func (c *Core) freeSlot() int {
	for slot := 1; ; slot++ {
		if _, ok := c.slots[slot]; !ok {
			return slot
		}
	}
}

// CreateVolume starts the creator asynchronously.
func (c *Core) CreateVolume(opts creator.Options) error {
	if err := c.requireInit(); err != nil {
		return err
	}

	c.mu.RLock()
	mountedAlready := c.isMountedPath(opts.Path)
	c.mu.RUnlock()
	if mountedAlready {
		return errors.ErrVolumeAlreadyMounted
	}

	return c.creator.Start(opts)
}

// GetCreationProgress returns the creation snapshot.
func (c *Core) GetCreationProgress() creator.Progress {
	return c.creator.Progress()
}

// AbortCreation requests cooperative abort of a running creation.
func (c *Core) AbortCreation() {
	c.creator.Abort()
}
