// Package kdf provides the key-derivation registry for Basalt volume
// headers: the PBKDF2-HMAC family and Argon2id.
//
// This is AUDIT-CRITICAL code - changes here directly affect on-disk
// compatibility. Iteration counts and Argon2 cost parameters MUST NOT
// change or existing volumes cannot be unlocked.
package kdf

import (
	"crypto/sha1"
	"errors"
	"fmt"

	"basalt/internal/crypto"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// Argon2id cost parameters.
const (
	Argon2Passes  = 4
	Argon2Memory  = 256 * 1024 // KiB = 256 MiB
	Argon2Threads = 4

	Argon2MaxPasses  = 4
	Argon2MaxMemory  = 1024 * 1024 // KiB = 1 GiB
	Argon2MaxThreads = 8

	// argon2OutputSize is the length every Argon2id derivation produces
	// before it is cut to keyLen. Argon2 output depends on the requested
	// length, so a fixed length keeps a shorter key a prefix of a longer
	// one, as with PBKDF2; header trials slice one derivation.
	argon2OutputSize = 256
)

// KDF is one entry of the key-derivation registry.
type KDF struct {
	Name       string
	Iterations int  // PBKDF2 iteration count; 0 for the Argon2 entries
	Legacy     bool // predecessor-format iteration counts
	derive     func(password, salt []byte, keyLen int) []byte
}

// DeriveKey produces keyLen bytes from password and salt.
func (k KDF) DeriveKey(password, salt []byte, keyLen int) ([]byte, error) {
	if len(password) == 0 || len(salt) == 0 || keyLen < 1 {
		return nil, errors.New("kdf: empty password, salt, or key length")
	}
	return k.derive(password, salt, keyLen), nil
}

func pbkdf2Entry(name string, h crypto.Hash, iterations int, legacy bool) KDF {
	return KDF{
		Name:       name,
		Iterations: iterations,
		Legacy:     legacy,
		derive: func(password, salt []byte, keyLen int) []byte {
			return pbkdf2.Key(password, salt, iterations, keyLen, h.New)
		},
	}
}

func sha1Hash() crypto.Hash {
	return crypto.Hash{Name: "SHA-1", Size: sha1.Size, New: sha1.New}
}

// SupportedKdfs returns every registered KDF in mount trial order.
//
// Legacy entries come first so existing volumes match with cheap
// iteration counts, then the modern PBKDF2 entries, and the memory-hard
// Argon2 entries last: a volume keyed with PBKDF2 never pays the Argon2
// memory cost during trial decryption.
func SupportedKdfs() []KDF {
	return []KDF{
		// Legacy (predecessor-format iteration counts)
		pbkdf2Entry("RIPEMD-160", crypto.HashRIPEMD160, 2000, true),
		pbkdf2Entry("SHA-512", crypto.HashSHA512, 1000, true),
		pbkdf2Entry("Whirlpool", crypto.HashWhirlpool, 1000, true),
		pbkdf2Entry("SHA-1", sha1Hash(), 2000, true),

		// Modern (high iteration counts for new volumes)
		pbkdf2Entry("RIPEMD-160", crypto.HashRIPEMD160, 655331, false),
		pbkdf2Entry("SHA-512", crypto.HashSHA512, 500000, false),
		pbkdf2Entry("Whirlpool", crypto.HashWhirlpool, 500000, false),
		pbkdf2Entry("SHA-1", sha1Hash(), 500000, false), // deprecated, kept for compatibility

		// Memory-hard KDFs last (expensive to try during mount)
		{
			Name: "Argon2id",
			derive: func(password, salt []byte, keyLen int) []byte {
				out := argon2.IDKey(password, salt, Argon2Passes, Argon2Memory, Argon2Threads, uint32(max(keyLen, argon2OutputSize)))
				crypto.SecureZero(out[keyLen:])
				return out[:keyLen]
			},
		},
		{
			Name: "Argon2id-Max",
			derive: func(password, salt []byte, keyLen int) []byte {
				out := argon2.IDKey(password, salt, Argon2MaxPasses, Argon2MaxMemory, Argon2MaxThreads, uint32(max(keyLen, argon2OutputSize)))
				crypto.SecureZero(out[keyLen:])
				return out[:keyLen]
			},
		},
	}
}

// ByName looks up a KDF by name. allowLegacy selects between the legacy
// and modern twin of the PBKDF2 entries; the Argon2 entries have no
// legacy twin and match regardless.
func ByName(name string, allowLegacy bool) (KDF, error) {
	for _, k := range SupportedKdfs() {
		if k.Name != name {
			continue
		}
		if k.Iterations == 0 || k.Legacy == allowLegacy {
			return k, nil
		}
	}
	return KDF{}, fmt.Errorf("unknown key derivation function %q", name)
}

// Default returns the KDF used for new volumes when the caller does not
// select one.
func Default() KDF {
	k, _ := ByName("Argon2id", false)
	return k
}
