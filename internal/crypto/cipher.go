package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/Picocrypt/serpent"
	"golang.org/x/crypto/twofish"
)

// Block cipher geometry shared by every supported cipher.
const (
	CipherBlockSize = 16 // 128-bit blocks
	CipherKeySize   = 32 // 256-bit keys
)

// Cipher describes one supported block cipher. All ciphers operate on
// 16-byte blocks with 32-byte keys.
type Cipher struct {
	Name string
	New  func(key []byte) (cipher.Block, error)
}

// Supported block ciphers.
//
// CRITICAL: Names are stored logic-free in mounted-volume snapshots and
// compared during header trials. Do not rename.
var (
	CipherAES = Cipher{
		Name: "AES",
		New:  func(key []byte) (cipher.Block, error) { return aes.NewCipher(key) },
	}
	CipherSerpent = Cipher{
		Name: "Serpent",
		New:  func(key []byte) (cipher.Block, error) { return serpent.NewCipher(key) },
	}
	CipherTwofish = Cipher{
		Name: "Twofish",
		New:  func(key []byte) (cipher.Block, error) { return twofish.NewCipher(key) },
	}
)

// Cascade is a fixed sequence of block ciphers applied in order: the
// output of one cipher feeds the next. A single cipher is a cascade of
// length one.
type Cascade struct {
	name    string
	members []Cipher
}

// Name returns the cascade's registry name, e.g. "AES-Twofish-Serpent".
func (c Cascade) Name() string { return c.name }

// Ciphers returns the constituent ciphers in application order.
func (c Cascade) Ciphers() []Cipher { return c.members }

// KeySize returns the total raw key bytes the cascade consumes in a
// cipher mode that needs one key per member (CBC, LRW). XTS consumes
// twice this (a data key and a tweak key per member).
func (c Cascade) KeySize() int { return len(c.members) * CipherKeySize }

// NewBlocks instantiates one cipher.Block per member from key, which
// must be exactly KeySize() bytes: member i is keyed from
// key[i*32 : (i+1)*32].
func (c Cascade) NewBlocks(key []byte) ([]cipher.Block, error) {
	if len(key) != c.KeySize() {
		return nil, fmt.Errorf("cascade %s: key length %d, need %d", c.name, len(key), c.KeySize())
	}
	blocks := make([]cipher.Block, len(c.members))
	for i, m := range c.members {
		b, err := m.New(key[i*CipherKeySize : (i+1)*CipherKeySize])
		if err != nil {
			return nil, err
		}
		blocks[i] = b
	}
	return blocks, nil
}

// EncryptBlock applies every member cipher in order to one 16-byte block.
// Used by the header codec and the self-test; sector data goes through
// the mode engine instead.
func (c Cascade) EncryptBlock(blocks []cipher.Block, b []byte) {
	for _, blk := range blocks {
		blk.Encrypt(b, b)
	}
}

// DecryptBlock applies every member cipher in reverse order.
func (c Cascade) DecryptBlock(blocks []cipher.Block, b []byte) {
	for i := len(blocks) - 1; i >= 0; i-- {
		blocks[i].Decrypt(b, b)
	}
}

// SupportedCascades returns every cascade a volume may be encrypted
// with, in header trial order. Single ciphers first: almost all volumes
// use plain AES, so the mount path matches quickly.
func SupportedCascades() []Cascade {
	return []Cascade{
		{name: "AES", members: []Cipher{CipherAES}},
		{name: "Serpent", members: []Cipher{CipherSerpent}},
		{name: "Twofish", members: []Cipher{CipherTwofish}},
		{name: "AES-Twofish-Serpent", members: []Cipher{CipherAES, CipherTwofish, CipherSerpent}},
		{name: "Serpent-AES", members: []Cipher{CipherSerpent, CipherAES}},
		{name: "Twofish-Serpent", members: []Cipher{CipherTwofish, CipherSerpent}},
	}
}

// CascadeByName looks up a cascade by its registry name.
func CascadeByName(name string) (Cascade, error) {
	for _, c := range SupportedCascades() {
		if c.name == name {
			return c, nil
		}
	}
	return Cascade{}, fmt.Errorf("unknown cipher cascade %q", name)
}
