package shim

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"basalt/internal/errors"
	"basalt/internal/log"
	"basalt/internal/volume"

	"golang.org/x/sync/errgroup"
)

// NBD wire constants (fixed-newstyle negotiation, NBD protocol).
const (
	nbdMagic       = 0x4e42444d41474943 // "NBDMAGIC"
	nbdOptsMagic   = 0x49484156454f5054 // "IHAVEOPT"
	nbdOptReplyMag = 0x3e889045565a9

	nbdFlagFixedNewstyle = 1 << 0
	nbdFlagNoZeroes      = 1 << 1

	nbdOptExportName = 1
	nbdOptAbort      = 2
	nbdOptGo         = 7

	nbdRepAck        = 1
	nbdRepInfo       = 3
	nbdRepErrUnsup   = 0x80000001
	nbdInfoExport    = 0

	nbdRequestMagic = 0x25609513
	nbdReplyMagic   = 0x67446698

	nbdCmdRead  = 0
	nbdCmdWrite = 1
	nbdCmdDisc  = 2
	nbdCmdFlush = 3

	nbdTransmissionHasFlags = 1 << 0
	nbdTransmissionReadOnly = 1 << 1
	nbdTransmissionFlush    = 1 << 2

	nbdErrIO    = 5
	nbdErrPerm  = 1
	nbdErrInval = 22

	// nbdMaxRequest bounds one transfer so a client cannot make the
	// shim stage unbounded plaintext.
	nbdMaxRequest = 32 * 1024 * 1024
)

// NBDServer serves the volume as a network block device on loopback.
// The host OS's NBD initiator turns the connection into /dev/nbdN.
type NBDServer struct {
	backing sectorBacked

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	group    *errgroup.Group
	running  bool

	attachedOnce sync.Once
	attached     chan struct{}
	active       atomic.Int32
}

// NewNBDServer wraps an unlocked volume. Port 0 picks a free port.
func NewNBDServer(vol *volume.Volume, port int) (*NBDServer, error) {
	l, err := listenLoopback(port)
	if err != nil {
		return nil, err
	}
	return &NBDServer{
		backing:  sectorBacked{vol: vol},
		listener: l,
		attached: make(chan struct{}),
	}, nil
}

// ClientAttached is closed after the first completed negotiation.
func (s *NBDServer) ClientAttached() <-chan struct{} {
	return s.attached
}

// ActiveClients reports currently connected initiators.
func (s *NBDServer) ActiveClients() int {
	return int(s.active.Load())
}

// Addr returns the bound loopback address.
func (s *NBDServer) Addr() string {
	return s.listener.Addr().String()
}

// Start launches the accept loop.
func (s *NBDServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	s.cancel = cancel
	s.group = g
	s.running = true

	g.Go(func() error { return s.acceptLoop(ctx) })

	log.Info("nbd shim listening", log.String("addr", s.Addr()))
	return nil
}

// Stop closes the listener, disconnects clients, and joins every
// connection handler after its in-flight request completes.
func (s *NBDServer) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	g := s.group
	s.mu.Unlock()

	cancel()
	s.listener.Close()
	g.Wait()

	log.Info("nbd shim stopped", log.String("addr", s.Addr()))
	return nil
}

func (s *NBDServer) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Listener closed during Stop.
			return nil
		}

		if !isLoopback(conn.RemoteAddr()) {
			log.Warn("rejected non-loopback nbd connection", log.String("peer", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		c := conn
		s.group.Go(func() error {
			s.active.Add(1)
			defer s.active.Add(-1)
			defer c.Close()
			go func() {
				// A cancelled context forces the blocking read in
				// serveConn to fail, which drains and returns.
				<-ctx.Done()
				c.Close()
			}()
			if err := s.serveConn(c); err != nil && ctx.Err() == nil {
				log.Warn("nbd connection ended", log.Err(err))
			}
			return nil
		})
	}
}

// serveConn runs fixed-newstyle negotiation followed by the
// transmission phase until disconnect.
func (s *NBDServer) serveConn(conn net.Conn) error {
	res, err := s.negotiate(conn)
	if err != nil || res == negotiateAborted {
		return err
	}
	s.attachedOnce.Do(func() { close(s.attached) })
	return s.transmission(conn)
}

type negotiateResult int

const (
	negotiateOK      negotiateResult = iota
	negotiateAborted
)

func (s *NBDServer) negotiate(conn net.Conn) (negotiateResult, error) {
	var hello [18]byte
	binary.BigEndian.PutUint64(hello[0:], nbdMagic)
	binary.BigEndian.PutUint64(hello[8:], nbdOptsMagic)
	binary.BigEndian.PutUint16(hello[16:], nbdFlagFixedNewstyle|nbdFlagNoZeroes)
	if _, err := conn.Write(hello[:]); err != nil {
		return negotiateAborted, err
	}

	var clientFlags uint32
	if err := binary.Read(conn, binary.BigEndian, &clientFlags); err != nil {
		return negotiateAborted, err
	}
	noZeroes := clientFlags&nbdFlagNoZeroes != 0

	for {
		var optHeader struct {
			Magic  uint64
			Option uint32
			Length uint32
		}
		if err := binary.Read(conn, binary.BigEndian, &optHeader); err != nil {
			return negotiateAborted, err
		}
		if optHeader.Magic != nbdOptsMagic || optHeader.Length > 4096 {
			return negotiateAborted, errors.New("nbd: bad option header")
		}

		data := make([]byte, optHeader.Length)
		if _, err := io.ReadFull(conn, data); err != nil {
			return negotiateAborted, err
		}

		switch optHeader.Option {
		case nbdOptGo:
			if err := s.replyInfoExport(conn, optHeader.Option); err != nil {
				return negotiateAborted, err
			}
			if err := s.optionReply(conn, optHeader.Option, nbdRepAck, nil); err != nil {
				return negotiateAborted, err
			}
			return negotiateOK, nil

		case nbdOptExportName:
			// Compatibility reply: size, flags, and (unless the client
			// negotiated no-zeroes) 124 bytes of padding.
			var reply [10]byte
			binary.BigEndian.PutUint64(reply[0:], uint64(s.backing.size()))
			binary.BigEndian.PutUint16(reply[8:], s.transmissionFlags())
			if _, err := conn.Write(reply[:]); err != nil {
				return negotiateAborted, err
			}
			if !noZeroes {
				if _, err := conn.Write(make([]byte, 124)); err != nil {
					return negotiateAborted, err
				}
			}
			return negotiateOK, nil

		case nbdOptAbort:
			s.optionReply(conn, optHeader.Option, nbdRepAck, nil)
			return negotiateAborted, nil

		default:
			if err := s.optionReply(conn, optHeader.Option, nbdRepErrUnsup, nil); err != nil {
				return negotiateAborted, err
			}
		}
	}
}

func (s *NBDServer) transmissionFlags() uint16 {
	flags := uint16(nbdTransmissionHasFlags | nbdTransmissionFlush)
	if s.backing.readOnly() {
		flags |= nbdTransmissionReadOnly
	}
	return flags
}

func (s *NBDServer) replyInfoExport(conn net.Conn, option uint32) error {
	var info [12]byte
	binary.BigEndian.PutUint16(info[0:], nbdInfoExport)
	binary.BigEndian.PutUint64(info[2:], uint64(s.backing.size()))
	binary.BigEndian.PutUint16(info[10:], s.transmissionFlags())
	return s.optionReply(conn, option, nbdRepInfo, info[:])
}

func (s *NBDServer) optionReply(conn net.Conn, option, replyType uint32, data []byte) error {
	var hdr [20]byte
	binary.BigEndian.PutUint64(hdr[0:], nbdOptReplyMag)
	binary.BigEndian.PutUint32(hdr[8:], option)
	binary.BigEndian.PutUint32(hdr[12:], replyType)
	binary.BigEndian.PutUint32(hdr[16:], uint32(len(data)))
	if _, err := conn.Write(hdr[:]); err != nil {
		return err
	}
	if len(data) > 0 {
		_, err := conn.Write(data)
		return err
	}
	return nil
}

func (s *NBDServer) transmission(conn net.Conn) error {
	buf := make([]byte, 0)

	for {
		var req struct {
			Magic  uint32
			Flags  uint16
			Type   uint16
			Handle uint64
			Offset uint64
			Length uint32
		}
		if err := binary.Read(conn, binary.BigEndian, &req); err != nil {
			// Client disconnect: drain-and-close is handled by the
			// caller; the volume saw every completed request.
			return nil
		}
		if req.Magic != nbdRequestMagic {
			return errors.New("nbd: bad request magic")
		}
		if req.Length > nbdMaxRequest {
			if err := s.simpleReply(conn, req.Handle, nbdErrInval, nil); err != nil {
				return err
			}
			continue
		}

		switch req.Type {
		case nbdCmdRead:
			if cap(buf) < int(req.Length) {
				buf = make([]byte, req.Length)
			}
			data := buf[:req.Length]
			nbdErr := uint32(0)
			if err := s.backing.readAt(data, int64(req.Offset)); err != nil {
				log.Error("nbd read failed", log.Int64("offset", int64(req.Offset)), log.Err(err))
				nbdErr = nbdErrIO
				data = nil
			}
			err := s.simpleReply(conn, req.Handle, nbdErr, data)
			zeroBytes(data)
			if err != nil {
				return err
			}

		case nbdCmdWrite:
			if cap(buf) < int(req.Length) {
				buf = make([]byte, req.Length)
			}
			data := buf[:req.Length]
			if _, err := io.ReadFull(conn, data); err != nil {
				return err
			}
			nbdErr := uint32(0)
			if err := s.backing.writeAt(data, int64(req.Offset)); err != nil {
				nbdErr = mapWriteError(err)
				log.Error("nbd write failed", log.Int64("offset", int64(req.Offset)), log.Err(err))
			}
			zeroBytes(data)
			if err := s.simpleReply(conn, req.Handle, nbdErr, nil); err != nil {
				return err
			}

		case nbdCmdFlush:
			nbdErr := uint32(0)
			if err := s.backing.flush(); err != nil {
				nbdErr = nbdErrIO
			}
			if err := s.simpleReply(conn, req.Handle, nbdErr, nil); err != nil {
				return err
			}

		case nbdCmdDisc:
			// Clean-shutdown notification: no reply is sent.
			return nil

		default:
			if err := s.simpleReply(conn, req.Handle, nbdErrInval, nil); err != nil {
				return err
			}
		}
	}
}

// mapWriteError keeps hidden-volume protection visible to the host as
// a permission error rather than generic I/O failure.
func mapWriteError(err error) uint32 {
	if errors.Is(err, errors.ErrVolumeProtected) || errors.Is(err, errors.ErrVolumeReadOnly) {
		return nbdErrPerm
	}
	return nbdErrIO
}

func (s *NBDServer) simpleReply(conn net.Conn, handle uint64, nbdErr uint32, data []byte) error {
	var hdr [16]byte
	binary.BigEndian.PutUint32(hdr[0:], nbdReplyMagic)
	binary.BigEndian.PutUint32(hdr[4:], nbdErr)
	binary.BigEndian.PutUint64(hdr[8:], handle)
	if _, err := conn.Write(hdr[:]); err != nil {
		return err
	}
	if len(data) > 0 {
		_, err := conn.Write(data)
		return err
	}
	return nil
}
