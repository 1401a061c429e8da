package ipc

import (
	"time"

	"basalt/internal/core"
	"basalt/internal/crypto"
	"basalt/internal/layout"
	"basalt/internal/volume"
)

// MountArgs is the wire form of core.MountOptions. Credentials cross
// the privilege boundary as raw bytes; the client wipes its encoded
// request and the server wipes its decoded copies.
type MountArgs struct {
	Path               string   `msgpack:"path"`
	Password           []byte   `msgpack:"password"`
	Keyfiles           []string `msgpack:"keyfiles,omitempty"`
	ReadOnly           bool     `msgpack:"read_only,omitempty"`
	PreserveTimestamps bool     `msgpack:"preserve_timestamps,omitempty"`

	HiddenProtection   bool     `msgpack:"hidden_protection,omitempty"`
	ProtectionPassword []byte   `msgpack:"protection_password,omitempty"`
	ProtectionKeyfiles []string `msgpack:"protection_keyfiles,omitempty"`

	VolumeType      string `msgpack:"volume_type,omitempty"` // "", "normal", "hidden"
	UseBackupHeader bool   `msgpack:"use_backup_header,omitempty"`

	Slot            int    `msgpack:"slot,omitempty"`
	MountPoint      string `msgpack:"mount_point,omitempty"`
	Shim            int    `msgpack:"shim"`
	ShimPort        int    `msgpack:"shim_port,omitempty"`
	ClientTimeoutMs int    `msgpack:"client_timeout_ms,omitempty"`
}

// toOptions reconstructs MountOptions. The returned cleanup zeroizes
// the password copies.
func (a *MountArgs) toOptions() (core.MountOptions, func(), error) {
	password, err := volume.NewPassword(a.Password)
	if err != nil {
		return core.MountOptions{}, nil, err
	}
	crypto.SecureZero(a.Password)

	opts := core.MountOptions{
		Path:               a.Path,
		Password:           password,
		Keyfiles:           a.Keyfiles,
		ReadOnly:           a.ReadOnly,
		PreserveTimestamps: a.PreserveTimestamps,
		UseBackupHeader:    a.UseBackupHeader,
		Slot:               a.Slot,
		MountPoint:         a.MountPoint,
		Shim:               core.ShimType(a.Shim),
		ShimPort:           a.ShimPort,
		ClientTimeout:      time.Duration(a.ClientTimeoutMs) * time.Millisecond,
	}

	cleanup := func() { password.Close() }

	if a.HiddenProtection {
		pp, err := volume.NewPassword(a.ProtectionPassword)
		if err != nil {
			cleanup()
			return core.MountOptions{}, nil, err
		}
		crypto.SecureZero(a.ProtectionPassword)
		opts.Protection = volume.ProtectionHiddenVolume
		opts.ProtectionPassword = pp
		opts.ProtectionKeyfiles = a.ProtectionKeyfiles
		inner := cleanup
		cleanup = func() { inner(); pp.Close() }
	}

	switch a.VolumeType {
	case "normal":
		t := layout.TypeNormal
		opts.Type = &t
	case "hidden":
		t := layout.TypeHidden
		opts.Type = &t
	}

	return opts, cleanup, nil
}

// DismountArgs selects a slot to dismount.
type DismountArgs struct {
	Slot  int  `msgpack:"slot"`
	Force bool `msgpack:"force"`
}

// HostDevicesArgs carries the probe flag.
type HostDevicesArgs struct {
	PathsOnly bool `msgpack:"paths_only"`
}

// KeyfileArgs names the keyfile to create.
type KeyfileArgs struct {
	Path string `msgpack:"path"`
}

// Operation names.
const (
	opMount             = "mount"
	opDismount          = "dismount"
	opDismountAll       = "dismount_all"
	opGetMountedVolumes = "get_mounted_volumes"
	opGetHostDevices    = "get_host_devices"
	opCreateKeyfile     = "create_keyfile"
	opRunSelfTest       = "run_self_test"
)
