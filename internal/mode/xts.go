package mode

import (
	"basalt/internal/crypto"

	"golang.org/x/crypto/xts"
)

// xtsMode applies one independent XTS instance per cascade member.
// Encryption applies members in cascade order; decryption reverses.
//
// Key layout: 64 bytes per member (32-byte data key || 32-byte tweak
// key), members in cascade order. The whole sector is one XTS data unit
// keyed by the 64-bit sector index.
type xtsMode struct {
	name       string
	ciphers    []*xts.Cipher
	key        []byte
	sectorSize int
}

func xtsKeySize(c crypto.Cascade) int {
	return 2 * c.KeySize()
}

func newXTS(c crypto.Cascade, key []byte, sectorSize int) (Mode, error) {
	if len(key) != xtsKeySize(c) {
		return nil, errKeySize("XTS", c, len(key), xtsKeySize(c))
	}

	members := c.Ciphers()
	ciphers := make([]*xts.Cipher, len(members))
	const per = 2 * crypto.CipherKeySize
	for i, m := range members {
		xc, err := xts.NewCipher(m.New, key[i*per:(i+1)*per])
		if err != nil {
			return nil, err
		}
		ciphers[i] = xc
	}

	// Keep a copy so Close can zeroize; the caller may wipe its slice.
	owned := make([]byte, len(key))
	copy(owned, key)

	return &xtsMode{
		name:       "XTS",
		ciphers:    ciphers,
		key:        owned,
		sectorSize: sectorSize,
	}, nil
}

func (m *xtsMode) Name() string    { return m.name }
func (m *xtsMode) SectorSize() int { return m.sectorSize }

func (m *xtsMode) EncryptSectors(buf []byte, startSector uint64) error {
	if err := checkBuf(buf, m.sectorSize); err != nil {
		return err
	}
	for off := 0; off < len(buf); off += m.sectorSize {
		sector := buf[off : off+m.sectorSize]
		num := startSector + uint64(off/m.sectorSize)
		for _, xc := range m.ciphers {
			xc.Encrypt(sector, sector, num)
		}
	}
	return nil
}

func (m *xtsMode) DecryptSectors(buf []byte, startSector uint64) error {
	if err := checkBuf(buf, m.sectorSize); err != nil {
		return err
	}
	for off := 0; off < len(buf); off += m.sectorSize {
		sector := buf[off : off+m.sectorSize]
		num := startSector + uint64(off/m.sectorSize)
		for i := len(m.ciphers) - 1; i >= 0; i-- {
			m.ciphers[i].Decrypt(sector, sector, num)
		}
	}
	return nil
}

func (m *xtsMode) Close() {
	crypto.SecureZero(m.key)
	m.key = nil
	m.ciphers = nil
}
