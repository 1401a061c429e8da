package crypto

import (
	"crypto/sha512"
	"fmt"
	"hash"

	"github.com/jzelinskie/whirlpool"
	"golang.org/x/crypto/ripemd160"
)

// Hash describes one supported hash function. Hashes serve as HMAC PRFs
// for the PBKDF2 family and as the RNG pool mixing function.
type Hash struct {
	Name string
	Size int // digest size in bytes
	New  func() hash.Hash
}

// Supported hash functions.
var (
	HashSHA512 = Hash{
		Name: "SHA-512",
		Size: sha512.Size,
		New:  sha512.New,
	}
	HashRIPEMD160 = Hash{
		Name: "RIPEMD-160",
		Size: ripemd160.Size,
		New:  ripemd160.New,
	}
	HashWhirlpool = Hash{
		Name: "Whirlpool",
		Size: 64,
		New:  whirlpool.New,
	}
)

// SupportedHashes returns every registered hash function.
// The first entry is the default RNG pool hash.
func SupportedHashes() []Hash {
	return []Hash{HashSHA512, HashRIPEMD160, HashWhirlpool}
}

// HashByName looks up a hash function by name.
func HashByName(name string) (Hash, error) {
	for _, h := range SupportedHashes() {
		if h.Name == name {
			return h, nil
		}
	}
	return Hash{}, fmt.Errorf("unknown hash %q", name)
}
