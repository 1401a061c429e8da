// Package header encodes, decodes, and trial-decrypts Basalt volume
// headers.
//
// This is AUDIT-CRITICAL code - changes here directly affect on-disk
// compatibility. A header is 512 bytes: a 64-byte plaintext salt
// followed by a 448-byte encrypted region. All multi-byte integers are
// big-endian.
package header

import (
	"encoding/binary"
	"hash/crc32"
	"time"

	"basalt/internal/crypto"
	"basalt/internal/errors"
)

// Sizes and offsets of the on-disk header.
const (
	// Size is the total on-disk header size.
	Size = 512

	// SaltSize is the plaintext KDF salt prefix.
	SaltSize = 64

	// EncryptedSize is the encrypted remainder of the header.
	EncryptedSize = Size - SaltSize // 448

	// MasterKeySize is the master-key material area inside the
	// encrypted region. A cipher mode consumes a prefix of it.
	MasterKeySize = 256
)

// Field offsets within the decrypted 448-byte region.
const (
	offMagic      = 0   // 4-byte ASCII magic
	offVersion    = 4   // 2-byte header format version
	offMinVersion = 6   // 2-byte minimum-compatible reader version
	offKeyCRC     = 8   // 4-byte CRC32 of the master-key area
	offCreated    = 12  // 8-byte volume creation time (Unix seconds)
	offModified   = 20  // 8-byte header modification time (Unix seconds)
	offHiddenSize = 28  // 8-byte hidden-volume size (0 for normal)
	offVolumeSize = 36  // 8-byte total volume size
	offDataStart  = 44  // 8-byte encrypted-area start offset
	offDataSize   = 52  // 8-byte encrypted-area size
	offFlags      = 60  // 4-byte flag bits
	offSectorSize = 64  // 4-byte sector size
	offReserved   = 68  // zeros up to offFieldsCRC
	offFieldsCRC  = 188 // 4-byte CRC32 of bytes [0, offFieldsCRC)
	offMasterKey  = 192 // 256-byte master-key material
)

// Magic is the four ASCII bytes at the start of every decrypted header.
var Magic = [4]byte{'T', 'R', 'U', 'E'}

// Header format versions.
const (
	// FormatVersionLegacy marks V1 volumes (legacy layouts and modes).
	FormatVersionLegacy = 1

	// FormatVersion is written to new volumes.
	FormatVersion = 2
)

// Flag bits.
const (
	FlagSystemEncryption = 1 << 0
)

// Header is a decrypted volume header.
type Header struct {
	Version          uint16
	MinVersion       uint16
	CreationTime     time.Time
	ModificationTime time.Time
	HiddenVolumeSize uint64
	VolumeSize       uint64
	DataStart        uint64
	DataSize         uint64
	Flags            uint32
	SectorSize       uint32

	// MasterKey is the full 256-byte key material area. Zeroize with
	// Wipe when the header leaves scope.
	MasterKey []byte
}

// Wipe zeroizes the master-key material.
func (h *Header) Wipe() {
	crypto.SecureZero(h.MasterKey)
}

// marshal serializes the header fields into a 448-byte plaintext
// region, computing both CRCs.
func (h *Header) marshal() ([]byte, error) {
	if len(h.MasterKey) != MasterKeySize {
		return nil, errors.NewValidationError("master key", "must be 256 bytes")
	}
	if h.SectorSize == 0 || h.SectorSize&(h.SectorSize-1) != 0 {
		return nil, errors.NewValidationError("sector size", "must be a power of two")
	}

	buf := make([]byte, EncryptedSize)
	copy(buf[offMagic:], Magic[:])
	binary.BigEndian.PutUint16(buf[offVersion:], h.Version)
	binary.BigEndian.PutUint16(buf[offMinVersion:], h.MinVersion)
	binary.BigEndian.PutUint32(buf[offKeyCRC:], crc32.ChecksumIEEE(h.MasterKey))
	binary.BigEndian.PutUint64(buf[offCreated:], uint64(h.CreationTime.Unix()))
	binary.BigEndian.PutUint64(buf[offModified:], uint64(h.ModificationTime.Unix()))
	binary.BigEndian.PutUint64(buf[offHiddenSize:], h.HiddenVolumeSize)
	binary.BigEndian.PutUint64(buf[offVolumeSize:], h.VolumeSize)
	binary.BigEndian.PutUint64(buf[offDataStart:], h.DataStart)
	binary.BigEndian.PutUint64(buf[offDataSize:], h.DataSize)
	binary.BigEndian.PutUint32(buf[offFlags:], h.Flags)
	binary.BigEndian.PutUint32(buf[offSectorSize:], h.SectorSize)
	binary.BigEndian.PutUint32(buf[offFieldsCRC:], crc32.ChecksumIEEE(buf[:offFieldsCRC]))
	copy(buf[offMasterKey:], h.MasterKey)
	return buf, nil
}

// unmarshal parses a decrypted 448-byte region. It returns nil (not an
// error) when the region does not hold a valid header: failed trials
// are the common case, not the exceptional one.
func unmarshal(buf []byte) *Header {
	if len(buf) != EncryptedSize {
		return nil
	}
	if [4]byte(buf[offMagic:offMagic+4]) != Magic {
		return nil
	}
	if crc32.ChecksumIEEE(buf[:offFieldsCRC]) != binary.BigEndian.Uint32(buf[offFieldsCRC:]) {
		return nil
	}
	if crc32.ChecksumIEEE(buf[offMasterKey:offMasterKey+MasterKeySize]) != binary.BigEndian.Uint32(buf[offKeyCRC:]) {
		return nil
	}

	h := &Header{
		Version:          binary.BigEndian.Uint16(buf[offVersion:]),
		MinVersion:       binary.BigEndian.Uint16(buf[offMinVersion:]),
		CreationTime:     time.Unix(int64(binary.BigEndian.Uint64(buf[offCreated:])), 0).UTC(),
		ModificationTime: time.Unix(int64(binary.BigEndian.Uint64(buf[offModified:])), 0).UTC(),
		HiddenVolumeSize: binary.BigEndian.Uint64(buf[offHiddenSize:]),
		VolumeSize:       binary.BigEndian.Uint64(buf[offVolumeSize:]),
		DataStart:        binary.BigEndian.Uint64(buf[offDataStart:]),
		DataSize:         binary.BigEndian.Uint64(buf[offDataSize:]),
		Flags:            binary.BigEndian.Uint32(buf[offFlags:]),
		SectorSize:       binary.BigEndian.Uint32(buf[offSectorSize:]),
		MasterKey:        append([]byte(nil), buf[offMasterKey:offMasterKey+MasterKeySize]...),
	}
	return h
}
