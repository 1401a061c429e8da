package mode

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"basalt/internal/crypto"
)

// Legacy modes accepted only for V1 headers. New volumes always use XTS.

func errKeySize(mode string, c crypto.Cascade, got, want int) error {
	return fmt.Errorf("%s/%s: key length %d, need %d", mode, c.Name(), got, want)
}

// --- LRW ---

// lrwMode implements LRW over the whole cascade: the cascade is the
// block cipher E, and C = E(P xor T) xor T with tweak T = K2 (x) i in
// GF(2^128), where i is the 1-based 16-byte block index from the start
// of the encrypted area.
//
// Key layout: cascade keys (32 bytes per member) || 16-byte tweak key.
type lrwMode struct {
	cascade    crypto.Cascade
	blocks     []cipher.Block
	tweakKey   [16]byte
	key        []byte
	sectorSize int
}

func lrwKeySize(c crypto.Cascade) int {
	return c.KeySize() + 16
}

func newLRW(c crypto.Cascade, key []byte, sectorSize int) (Mode, error) {
	if len(key) != lrwKeySize(c) {
		return nil, errKeySize("LRW", c, len(key), lrwKeySize(c))
	}
	blocks, err := c.NewBlocks(key[:c.KeySize()])
	if err != nil {
		return nil, err
	}

	m := &lrwMode{
		cascade:    c,
		blocks:     blocks,
		sectorSize: sectorSize,
	}
	copy(m.tweakKey[:], key[c.KeySize():])
	m.key = make([]byte, len(key))
	copy(m.key, key)
	return m, nil
}

func (m *lrwMode) Name() string    { return "LRW" }
func (m *lrwMode) SectorSize() int { return m.sectorSize }

// blockIndex is the 1-based LRW block index of the first 16-byte block
// of the given sector.
func (m *lrwMode) blockIndex(sector uint64) uint64 {
	return sector*uint64(m.sectorSize/16) + 1
}

func (m *lrwMode) EncryptSectors(buf []byte, startSector uint64) error {
	if err := checkBuf(buf, m.sectorSize); err != nil {
		return err
	}
	return m.walk(buf, startSector, func(b []byte, tweak *[16]byte) {
		xor16(b, tweak)
		m.cascade.EncryptBlock(m.blocks, b)
		xor16(b, tweak)
	})
}

func (m *lrwMode) DecryptSectors(buf []byte, startSector uint64) error {
	if err := checkBuf(buf, m.sectorSize); err != nil {
		return err
	}
	return m.walk(buf, startSector, func(b []byte, tweak *[16]byte) {
		xor16(b, tweak)
		m.cascade.DecryptBlock(m.blocks, b)
		xor16(b, tweak)
	})
}

func (m *lrwMode) walk(buf []byte, startSector uint64, apply func([]byte, *[16]byte)) error {
	idx := m.blockIndex(startSector)
	var tweak [16]byte
	for off := 0; off < len(buf); off += 16 {
		gf128MulIndex(&m.tweakKey, idx, &tweak)
		apply(buf[off:off+16], &tweak)
		idx++
	}
	return nil
}

func (m *lrwMode) Close() {
	crypto.SecureZero(m.key)
	crypto.SecureZero(m.tweakKey[:])
	m.key = nil
	m.blocks = nil
}

// --- CBC ---

// cbcMode implements per-sector CBC over the cascade. The IV of each
// sector is the cascade encryption of the big-endian sector index, so
// identical plaintext sectors produce unrelated ciphertext.
//
// Key layout: cascade keys only (32 bytes per member).
type cbcMode struct {
	cascade    crypto.Cascade
	blocks     []cipher.Block
	key        []byte
	sectorSize int
}

func cbcKeySize(c crypto.Cascade) int {
	return c.KeySize()
}

func newCBC(c crypto.Cascade, key []byte, sectorSize int) (Mode, error) {
	if len(key) != cbcKeySize(c) {
		return nil, errKeySize("CBC", c, len(key), cbcKeySize(c))
	}
	blocks, err := c.NewBlocks(key)
	if err != nil {
		return nil, err
	}
	m := &cbcMode{
		cascade:    c,
		blocks:     blocks,
		sectorSize: sectorSize,
	}
	m.key = make([]byte, len(key))
	copy(m.key, key)
	return m, nil
}

func (m *cbcMode) Name() string    { return "CBC" }
func (m *cbcMode) SectorSize() int { return m.sectorSize }

func (m *cbcMode) sectorIV(sector uint64, iv *[16]byte) {
	for i := range iv {
		iv[i] = 0
	}
	binary.BigEndian.PutUint64(iv[8:], sector)
	m.cascade.EncryptBlock(m.blocks, iv[:])
}

func (m *cbcMode) EncryptSectors(buf []byte, startSector uint64) error {
	if err := checkBuf(buf, m.sectorSize); err != nil {
		return err
	}
	var iv [16]byte
	for off := 0; off < len(buf); off += m.sectorSize {
		sector := startSector + uint64(off/m.sectorSize)
		m.sectorIV(sector, &iv)
		prev := iv
		data := buf[off : off+m.sectorSize]
		for b := 0; b < len(data); b += 16 {
			blk := data[b : b+16]
			xor16(blk, &prev)
			m.cascade.EncryptBlock(m.blocks, blk)
			copy(prev[:], blk)
		}
	}
	return nil
}

func (m *cbcMode) DecryptSectors(buf []byte, startSector uint64) error {
	if err := checkBuf(buf, m.sectorSize); err != nil {
		return err
	}
	var iv, prev, ct [16]byte
	for off := 0; off < len(buf); off += m.sectorSize {
		sector := startSector + uint64(off/m.sectorSize)
		m.sectorIV(sector, &iv)
		prev = iv
		data := buf[off : off+m.sectorSize]
		for b := 0; b < len(data); b += 16 {
			blk := data[b : b+16]
			copy(ct[:], blk)
			m.cascade.DecryptBlock(m.blocks, blk)
			xor16(blk, &prev)
			prev = ct
		}
	}
	return nil
}

func (m *cbcMode) Close() {
	crypto.SecureZero(m.key)
	m.key = nil
	m.blocks = nil
}

// --- GF(2^128) helpers ---

func xor16(b []byte, t *[16]byte) {
	for i := 0; i < 16; i++ {
		b[i] ^= t[i]
	}
}

// gf128MulIndex computes out = key (x) index in GF(2^128) with the
// x^128 + x^7 + x^2 + x + 1 reduction polynomial. The index occupies
// the low 64 bits of the field element (big-endian byte order).
func gf128MulIndex(key *[16]byte, index uint64, out *[16]byte) {
	// v = key as a 128-bit big-endian value
	vHi := binary.BigEndian.Uint64(key[0:8])
	vLo := binary.BigEndian.Uint64(key[8:16])

	var rHi, rLo uint64
	for bit := 0; bit < 64 && index>>uint(bit) != 0; bit++ {
		if index&(1<<uint(bit)) != 0 {
			rHi ^= vHi
			rLo ^= vLo
		}
		// v <<= 1 with reduction
		carry := vHi >> 63
		vHi = vHi<<1 | vLo>>63
		vLo <<= 1
		if carry != 0 {
			vLo ^= 0x87
		}
	}

	binary.BigEndian.PutUint64(out[0:8], rHi)
	binary.BigEndian.PutUint64(out[8:16], rLo)
}
