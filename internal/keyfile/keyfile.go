// Package keyfile folds keyfile contents into the password buffer used
// for header key derivation.
//
// This is AUDIT-CRITICAL code - changes here directly affect key
// derivation. The folding is deterministic and associative across a
// keyfile list in list order: the same files in the same order always
// produce the same pad.
package keyfile

import (
	"hash/crc32"
	"io"
	"os"

	"basalt/internal/crypto"
	"basalt/internal/errors"
	"basalt/internal/rng"
	"basalt/internal/util"
)

const (
	// PadSize is the fixed size of the keyfile pad. When any keyfile is
	// present, the KDF input is always exactly PadSize bytes.
	PadSize = 64

	// MaxFileSize bounds how much of each keyfile contributes.
	MaxFileSize = 1 * util.MiB
)

// Result holds the combined KDF input after keyfile application.
// Call Close() when done to securely zero the buffer.
type Result struct {
	Data   []byte
	closed bool
}

// Close securely zeros the buffer. Idempotent.
func (r *Result) Close() {
	if r == nil || r.closed {
		return
	}
	crypto.SecureZero(r.Data)
	r.Data = nil
	r.closed = true
}

// ApplyListToPassword folds the given keyfiles into password and
// returns the buffer to feed the KDF.
//
// With no keyfiles the password passes through unchanged. With
// keyfiles, each file's bytes drive a running CRC32 whose four digest
// bytes are added into a 64-byte pad at a rolling cursor; the password
// bytes are then added in, and the full 64-byte pad is the KDF input.
// An empty password with keyfiles is the "keyfiles only" case.
func ApplyListToPassword(paths []string, password []byte) (*Result, error) {
	if len(paths) == 0 {
		data := make([]byte, len(password))
		copy(data, password)
		return &Result{Data: data}, nil
	}

	if len(password) > PadSize {
		return nil, errors.NewValidationError("password", "longer than 64 bytes")
	}

	var pad [PadSize]byte
	pos := 0
	for _, path := range paths {
		if err := applyFile(&pad, &pos, path); err != nil {
			return nil, err
		}
	}

	for i, b := range password {
		pad[i] += b
	}

	data := make([]byte, PadSize)
	copy(data, pad[:])
	crypto.SecureZero(pad[:])
	return &Result{Data: data}, nil
}

// applyFile folds up to MaxFileSize bytes of one keyfile into the pad.
func applyFile(pad *[PadSize]byte, pos *int, path string) error {
	fin, err := os.Open(path)
	if err != nil {
		return errors.NewSystemError(path, 0, err)
	}
	defer fin.Close()

	var crc uint32
	buf := make([]byte, 64*util.KiB)
	defer crypto.SecureZero(buf)

	var total int64
	for total < MaxFileSize {
		n, err := fin.Read(buf)
		if n > 0 {
			if total+int64(n) > MaxFileSize {
				n = int(MaxFileSize - total)
			}
			for _, b := range buf[:n] {
				crc = crc32.Update(crc, crc32.IEEETable, []byte{b})
				pad[*pos] += byte(crc >> 24)
				*pos = (*pos + 1) % PadSize
				pad[*pos] += byte(crc >> 16)
				*pos = (*pos + 1) % PadSize
				pad[*pos] += byte(crc >> 8)
				*pos = (*pos + 1) % PadSize
				pad[*pos] += byte(crc)
				*pos = (*pos + 1) % PadSize
			}
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.NewSystemError(path, 0, err)
		}
	}

	if total == 0 {
		return errors.NewValidationError("keyfile", "file is empty: "+path)
	}
	return nil
}

// Create writes a new 64-byte keyfile drawn from the random pool.
// Refuses to overwrite an existing file.
func Create(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.NewValidationError("path", "file already exists: "+path)
	}

	buf := make([]byte, PadSize)
	defer crypto.SecureZero(buf)
	if err := rng.Default().GetData(buf); err != nil {
		return err
	}

	if err := os.WriteFile(path, buf, 0600); err != nil {
		return errors.NewSystemError(path, 0, err)
	}
	return nil
}
