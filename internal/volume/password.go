// Package volume implements the runtime volume object: credential
// handling, the open/unlock protocol, sector I/O, and hidden-volume
// protection.
package volume

import (
	"crypto/subtle"

	"basalt/internal/crypto"
	"basalt/internal/errors"
)

// MaxPasswordSize bounds the UTF-8 encoded secret.
const MaxPasswordSize = 64

// Password is a bounded secret buffer. Immutable after construction and
// zeroized on Close. Empty is permitted only as the "keyfiles only"
// sentinel.
type Password struct {
	data   []byte
	closed bool
}

// NewPassword copies the given secret into a new Password.
func NewPassword(secret []byte) (*Password, error) {
	if len(secret) > MaxPasswordSize {
		return nil, errors.NewValidationError("password", "longer than 64 bytes")
	}
	data := make([]byte, len(secret))
	copy(data, secret)
	return &Password{data: data}, nil
}

// Bytes returns the secret. Returns nil after Close.
func (p *Password) Bytes() []byte {
	if p == nil || p.closed {
		return nil
	}
	return p.data
}

// IsEmpty reports whether the password is the empty sentinel.
func (p *Password) IsEmpty() bool {
	return p == nil || p.closed || len(p.data) == 0
}

// Equal reports whether two passwords hold the same secret, in constant
// time with respect to the content. Used by callers deciding whether a
// credential change is a real password change or just a KDF upgrade.
func (p *Password) Equal(other *Password) bool {
	a, b := p.Bytes(), other.Bytes()
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Close securely zeros the secret. Idempotent.
func (p *Password) Close() {
	if p == nil || p.closed {
		return
	}
	crypto.SecureZero(p.data)
	p.data = nil
	p.closed = true
}
