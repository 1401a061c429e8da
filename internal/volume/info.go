package volume

// Info is an observable snapshot of a mounted volume. It holds no key
// material and is shared with observers by value copy; only the Volume
// that produced it updates the counters.
type Info struct {
	Slot             int
	Path             string
	MountPoint       string
	VirtualDevice    string
	Size             int64
	SectorSize       int
	Type             string // "normal" or "hidden"
	EncryptionName   string // cascade name
	ModeName         string
	KdfName          string
	KdfIterations    int // 0 for Argon2
	ReadOnly         bool
	HiddenProtection bool
	// HiddenVolumeProtectionTriggered latches true after the first
	// refused write into the protected inner range.
	HiddenVolumeProtectionTriggered bool
	TotalBytesRead                  uint64
	TotalBytesWritten               uint64
}

// Info snapshots the volume's observable state. Mount bookkeeping
// fields (slot, mount point, virtual device) are filled by the core.
func (v *Volume) Info() Info {
	v.mu.Lock()
	defer v.mu.Unlock()

	return Info{
		Path:                            v.backing.Path(),
		Size:                            int64(v.hdr.DataSize),
		SectorSize:                      int(v.hdr.SectorSize),
		Type:                            v.lay.Type().String(),
		EncryptionName:                  v.cascadeName,
		ModeName:                        v.modeName,
		KdfName:                         v.kdfName,
		KdfIterations:                   v.kdfIterations,
		ReadOnly:                        v.readOnly,
		HiddenProtection:                v.protection == ProtectionHiddenVolume,
		HiddenVolumeProtectionTriggered: v.protectionTriggered,
		TotalBytesRead:                  v.totalBytesRead,
		TotalBytesWritten:               v.totalBytesWritten,
	}
}
