package kdf

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"

	"basalt/internal/errors"

	"golang.org/x/crypto/pbkdf2"
)

// RFC 6070 test vector for the PBKDF2 machinery.
var pbkdf2KatOutput, _ = hex.DecodeString("0c60c80f961f0e71f3a9b524af6012062fe037a6")

// SelfTest verifies the PBKDF2 machinery against its published vector
// and every legacy registry entry for determinism and output length.
// The modern and Argon2 entries share the same code paths with larger
// cost parameters, so they are not re-run here.
func SelfTest() error {
	out := pbkdf2.Key([]byte("password"), []byte("salt"), 1, 20, sha1.New)
	if !bytes.Equal(out, pbkdf2KatOutput) {
		return errors.Wrap(errors.ErrTestFailed, "PBKDF2 known answer")
	}

	for _, k := range SupportedKdfs() {
		if !k.Legacy {
			continue
		}
		a, err := k.DeriveKey([]byte("basalt"), []byte("0123456789abcdef"), 64)
		if err != nil {
			return err
		}
		b, err := k.DeriveKey([]byte("basalt"), []byte("0123456789abcdef"), 64)
		if err != nil {
			return err
		}
		if len(a) != 64 || !bytes.Equal(a, b) {
			return errors.Wrap(errors.ErrTestFailed, k.Name+" not deterministic")
		}
	}
	return nil
}
