// Package shim exposes an unlocked volume's sector stream to the host
// OS over a loopback-only endpoint.
//
// Two instantiations share the same lifecycle (start, serve, drain,
// stop) and the same Volume sector API: an NBD block target the host's
// block initiator attaches to, and a WebDAV directory holding a single
// virtual file the host mounts. Both are pure consumers of the Volume;
// they never touch headers, and they hold no plaintext longer than the
// span of one request.
package shim

import (
	"net"

	"basalt/internal/errors"
	"basalt/internal/volume"
)

// Server is one running shim endpoint.
type Server interface {
	// Addr returns the bound loopback address, valid after Start.
	Addr() string

	// Start binds the endpoint and begins serving in the background.
	Start() error

	// Stop drains in-flight requests, notifies connected clients, and
	// closes the endpoint. Blocking; idempotent.
	Stop() error

	// ClientAttached is closed when the host OS client completes its
	// initial handshake. Mount blocks on it, with a timeout.
	ClientAttached() <-chan struct{}

	// ActiveClients reports currently connected host clients.
	ActiveClients() int
}

// sectorBacked adapts the Volume sector API for the shims.
type sectorBacked struct {
	vol *volume.Volume
}

func (s sectorBacked) size() int64     { return s.vol.Size() }
func (s sectorBacked) sectorSize() int { return s.vol.SectorSize() }
func (s sectorBacked) readOnly() bool  { return s.vol.ReadOnly() }
func (s sectorBacked) flush() error    { return s.vol.Flush() }

func (s sectorBacked) readAt(p []byte, off int64) error {
	return s.vol.ReadAt(p, off)
}

func (s sectorBacked) writeAt(p []byte, off int64) error {
	return s.vol.WriteAt(p, off)
}

// listenLoopback binds a TCP listener on 127.0.0.1. Port 0 lets the
// kernel pick.
func listenLoopback(port int) (net.Listener, error) {
	l, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return nil, errors.NewSystemError("127.0.0.1", 0, err)
	}
	return l, nil
}

// isLoopback verifies the peer address. The decrypted stream must never
// be reachable off-host; non-loopback peers are rejected before any
// protocol exchange.
func isLoopback(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	return ok && tcp.IP.IsLoopback()
}
