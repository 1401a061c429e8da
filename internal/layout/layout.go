// Package layout defines where headers live inside a backing blob and
// which algorithms each header placement scheme admits.
//
// Four layouts exist: {Normal, Hidden} x {V1 legacy, V2 current}. The
// offsets are fixed constants of the on-disk format and must not drift.
package layout

import (
	"basalt/internal/crypto"
	"basalt/internal/header"
	"basalt/internal/kdf"
	"basalt/internal/mode"
	"basalt/internal/util"
)

// Format geometry.
const (
	// HeaderGroupSize is the reserved region holding a primary header
	// and its padding; an equal region at the end of the volume holds
	// the backup header group.
	HeaderGroupSize = 64 * util.KiB

	// LegacyDataStart is where the encrypted area of a V1 normal
	// volume begins.
	LegacyDataStart = header.Size

	// legacyHiddenHeaderOffset is the end-anchored V1 hidden header
	// position.
	legacyHiddenHeaderOffset = -1536
)

// Type distinguishes normal from hidden placement.
type Type int

const (
	TypeNormal Type = iota
	TypeHidden
)

func (t Type) String() string {
	if t == TypeHidden {
		return "hidden"
	}
	return "normal"
}

// Layout is one header placement scheme.
type Layout struct {
	name         string
	typ          Type
	legacy       bool
	headerOffset int64 // negative: relative to end of backing blob
	backupOffset int64 // negative: relative to end; 0: no backup header
}

func (l Layout) Name() string { return l.name }
func (l Layout) Type() Type   { return l.typ }
func (l Layout) Legacy() bool { return l.legacy }

// HeaderOffset returns the primary header position. Negative values are
// relative to the end of the backing blob.
func (l Layout) HeaderOffset() int64 { return l.headerOffset }

// HasBackupHeader reports whether this layout carries an end-anchored
// backup header (V2 only).
func (l Layout) HasBackupHeader() bool { return l.backupOffset != 0 }

// BackupHeaderOffset returns the backup header position, relative to
// the end of the backing blob.
func (l Layout) BackupHeaderOffset() int64 { return l.backupOffset }

// SupportedKdfs returns the KDF trial list for this layout. Legacy
// layouts admit only the legacy twins; V2 admits everything, legacy
// first, so old V2 volumes match before the Argon2 cost is paid.
func (l Layout) SupportedKdfs() []kdf.KDF {
	all := kdf.SupportedKdfs()
	if !l.legacy {
		return all
	}
	var out []kdf.KDF
	for _, k := range all {
		if k.Legacy {
			out = append(out, k)
		}
	}
	return out
}

// SupportedCascades returns the cipher cascades this layout admits.
func (l Layout) SupportedCascades() []crypto.Cascade {
	return crypto.SupportedCascades()
}

// SupportedModes returns the cipher modes this layout admits: XTS only
// for V2, plus the legacy modes for V1 headers.
func (l Layout) SupportedModes() []mode.Kind {
	if l.legacy {
		return []mode.Kind{mode.KindXTS, mode.KindLRW, mode.KindCBC}
	}
	return []mode.Kind{mode.KindXTS}
}

// DataStart returns the default encrypted-area start for a new volume
// of total size volumeSize under this layout.
func (l Layout) DataStart(volumeSize uint64) uint64 {
	if l.legacy {
		return LegacyDataStart
	}
	return HeaderGroupSize
}

// DataSize returns the default encrypted-area size for a new volume of
// total size volumeSize under this layout.
func (l Layout) DataSize(volumeSize uint64) uint64 {
	if l.legacy {
		return volumeSize - LegacyDataStart
	}
	return volumeSize - 2*HeaderGroupSize
}

// Layouts. Trial order is fixed: current format first, normal before
// hidden within a version.
var (
	V2Normal = Layout{
		name:         "V2 normal",
		typ:          TypeNormal,
		headerOffset: 0,
		backupOffset: -int64(HeaderGroupSize),
	}
	V2Hidden = Layout{
		name:         "V2 hidden",
		typ:          TypeHidden,
		headerOffset: HeaderGroupSize,
		backupOffset: -int64(HeaderGroupSize) + header.Size,
	}
	V1Normal = Layout{
		name:         "V1 normal",
		typ:          TypeNormal,
		legacy:       true,
		headerOffset: 0,
	}
	V1Hidden = Layout{
		name:         "V1 hidden",
		typ:          TypeHidden,
		legacy:       true,
		headerOffset: legacyHiddenHeaderOffset,
	}
)

// AvailableLayouts returns the header trial order for mount.
func AvailableLayouts() []Layout {
	return []Layout{V2Normal, V2Hidden, V1Normal, V1Hidden}
}

// LayoutsForType restricts the trial order to one volume type.
func LayoutsForType(t Type) []Layout {
	var out []Layout
	for _, l := range AvailableLayouts() {
		if l.typ == t {
			out = append(out, l)
		}
	}
	return out
}
