// Package ipc carries device-level core operations across a privilege
// boundary: a framed, synchronous request/reply channel over the
// standard input/output of an elevated helper process.
//
// Framing is a 4-byte big-endian length prefix followed by a msgpack
// payload. The first frame in each direction is a protocol-version tag;
// the responder rejects mismatches. Errors are serialized by wire name
// and re-raised as the same sentinel on the client side.
package ipc

import (
	"encoding/binary"
	"io"

	"basalt/internal/errors"

	"github.com/vmihailenco/msgpack/v5"
)

// ProtocolVersion is bumped on any wire-incompatible change.
const ProtocolVersion = 1

// maxFrameSize bounds one frame; requests carry paths and credentials,
// never sector data.
const maxFrameSize = 1 * 1024 * 1024

type versionFrame struct {
	Version int `msgpack:"version"`
}

type request struct {
	Op   string          `msgpack:"op"`
	Args msgpack.RawMessage `msgpack:"args"`
}

type response struct {
	Err    *wireError         `msgpack:"err,omitempty"`
	Result msgpack.RawMessage `msgpack:"result,omitempty"`
}

// wireError is the serialized form of a typed error.
type wireError struct {
	Type    string `msgpack:"type"` // sentinel wire name, "System", or ""
	Message string `msgpack:"message"`
	Code    int    `msgpack:"code,omitempty"`
	Subject string `msgpack:"subject,omitempty"`
}

func toWireError(err error) *wireError {
	if err == nil {
		return nil
	}
	var sysErr *errors.SystemError
	if errors.As(err, &sysErr) {
		return &wireError{Type: "System", Message: err.Error(), Code: sysErr.Code, Subject: sysErr.Subject}
	}
	return &wireError{Type: errors.WireName(err), Message: err.Error()}
}

func fromWireError(we *wireError) error {
	if we == nil {
		return nil
	}
	if we.Type == "System" {
		return errors.NewSystemError(we.Subject, we.Code, errors.New(we.Message))
	}
	if sentinel, ok := errors.Sentinels()[we.Type]; ok {
		return sentinel
	}
	return errors.New(we.Message)
}

// writeFrame length-prefixes and writes one msgpack-encoded value.
func writeFrame(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// readFrame reads one frame and decodes it into v.
func readFrame(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxFrameSize {
		return errors.New("ipc: frame too large")
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	return msgpack.Unmarshal(payload, v)
}

// The version handshake is asymmetric so it works over synchronous
// pipes: the client sends its version frame first, the responder
// validates it and answers with its own.

func clientHandshake(r io.Reader, w io.Writer) error {
	if err := writeFrame(w, versionFrame{Version: ProtocolVersion}); err != nil {
		return err
	}
	var peer versionFrame
	if err := readFrame(r, &peer); err != nil {
		return err
	}
	if peer.Version != ProtocolVersion {
		return errors.New("ipc: protocol version mismatch")
	}
	return nil
}

func serverHandshake(r io.Reader, w io.Writer) error {
	var peer versionFrame
	if err := readFrame(r, &peer); err != nil {
		return err
	}
	if peer.Version != ProtocolVersion {
		// Answer with our version anyway so the client can report the
		// mismatch, then reject.
		writeFrame(w, versionFrame{Version: ProtocolVersion})
		return errors.New("ipc: protocol version mismatch")
	}
	return writeFrame(w, versionFrame{Version: ProtocolVersion})
}
