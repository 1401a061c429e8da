package header

import (
	"time"

	"basalt/internal/crypto"
	"basalt/internal/errors"
	"basalt/internal/kdf"
	"basalt/internal/log"
	"basalt/internal/mode"
	"basalt/internal/rng"
)

// Decoded binds a successfully decrypted header to the KDF, cascade,
// and mode that unlocked it.
type Decoded struct {
	Header  *Header
	Kdf     kdf.KDF
	Cascade crypto.Cascade
	Mode    mode.Kind
}

// Decrypt trial-decrypts a raw 512-byte header against every supported
// (KDF, cascade, mode) combination.
//
// password is the keyfile-mixed KDF input. The KDF list must already be
// in trial order (legacy first). On no match the result is
// ErrPasswordIncorrect - never ErrHeaderCorrupt - so an attacker
// holding the blob learns nothing about whether a decryptable header
// exists at this offset.
func Decrypt(raw []byte, password []byte, kdfs []kdf.KDF, cascades []crypto.Cascade, modes []mode.Kind) (*Decoded, error) {
	if len(raw) != Size {
		return nil, errors.NewValidationError("header", "must be 512 bytes")
	}
	if len(password) == 0 {
		return nil, errors.ErrPasswordIncorrect
	}

	salt := raw[:SaltSize]
	ciphertext := raw[SaltSize:]

	// The widest key any combination needs; each trial slices a prefix.
	maxKeyLen := 0
	for _, c := range cascades {
		for _, m := range modes {
			if n := m.KeySize(c); n > maxKeyLen {
				maxKeyLen = n
			}
		}
	}

	for _, k := range kdfs {
		dk, err := k.DeriveKey(password, salt, maxKeyLen)
		if err != nil {
			return nil, err
		}

		dec, err := tryKey(ciphertext, dk, k, cascades, modes)
		crypto.SecureZero(dk)
		if err != nil {
			return nil, err
		}
		if dec != nil {
			return dec, nil
		}
	}

	return nil, errors.ErrPasswordIncorrect
}

// tryKey attempts every cascade and mode with one derived key. A nil,
// nil return means "no match, keep trying".
func tryKey(ciphertext, dk []byte, k kdf.KDF, cascades []crypto.Cascade, modes []mode.Kind) (*Decoded, error) {
	buf := make([]byte, EncryptedSize)
	defer crypto.SecureZero(buf)

	for _, c := range cascades {
		for _, mk := range modes {
			m, err := mk.New(c, dk[:mk.KeySize(c)], EncryptedSize)
			if err != nil {
				return nil, err
			}

			copy(buf, ciphertext)
			err = m.DecryptSectors(buf, 0)
			m.Close()
			if err != nil {
				return nil, err
			}

			h := unmarshal(buf)
			if h == nil {
				continue
			}
			if h.MinVersion > FormatVersion {
				return nil, errors.ErrHigherVersionRequired
			}

			log.Debug("header decrypted",
				log.String("kdf", k.Name),
				log.String("cascade", c.Name()),
				log.String("mode", mk.Name))

			return &Decoded{Header: h, Kdf: k, Cascade: c, Mode: mk}, nil
		}
	}
	return nil, nil
}

// Encrypt serializes and encrypts a header for writeback. A fresh
// 64-byte salt is always drawn from the random pool - the old salt is
// never reused, even for the same password - and the header
// modification time is refreshed. Returns the full 512 bytes.
func Encrypt(h *Header, password []byte, k kdf.KDF, c crypto.Cascade, mk mode.Kind) ([]byte, error) {
	if len(password) == 0 {
		return nil, errors.NewValidationError("password", "empty")
	}

	h.ModificationTime = time.Now().UTC()
	if h.CreationTime.IsZero() {
		h.CreationTime = h.ModificationTime
	}

	plaintext, err := h.marshal()
	if err != nil {
		return nil, err
	}
	defer crypto.SecureZero(plaintext)

	out := make([]byte, Size)
	if err := rng.Default().GetData(out[:SaltSize]); err != nil {
		return nil, err
	}

	dk, err := k.DeriveKey(password, out[:SaltSize], mk.KeySize(c))
	if err != nil {
		return nil, err
	}
	defer crypto.SecureZero(dk)

	m, err := mk.New(c, dk, EncryptedSize)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	if err := m.EncryptSectors(plaintext, 0); err != nil {
		return nil, err
	}
	copy(out[SaltSize:], plaintext)
	return out, nil
}

// EncryptRandom fills a 512-byte buffer with a block that is
// computationally indistinguishable from an encrypted header: a random
// salt followed by 448 bytes encrypted under a freshly randomized key.
// Used for the decoy half of a backup file when no hidden volume
// exists.
func EncryptRandom(c crypto.Cascade, mk mode.Kind) ([]byte, error) {
	out := make([]byte, Size)
	if err := rng.Default().Fill(out); err != nil {
		return nil, err
	}

	key := make([]byte, mk.KeySize(c))
	defer crypto.SecureZero(key)
	if err := rng.Default().Fill(key); err != nil {
		return nil, err
	}

	m, err := mk.New(c, key, EncryptedSize)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	if err := m.EncryptSectors(out[SaltSize:], 0); err != nil {
		return nil, err
	}
	return out, nil
}
