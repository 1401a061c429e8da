package ipc

import (
	"io"

	"basalt/internal/core"
	"basalt/internal/errors"
	"basalt/internal/log"

	"github.com/vmihailenco/msgpack/v5"
)

// Server dispatches requests from the unprivileged client onto a Core
// running with elevated privileges. Requests are strictly serial: one
// request, one reply.
type Server struct {
	core *core.Core
	r    io.Reader
	w    io.Writer
}

// NewServer wraps the helper's stdio.
func NewServer(c *core.Core, r io.Reader, w io.Writer) *Server {
	return &Server{core: c, r: r, w: w}
}

// Serve exchanges version frames and runs the dispatch loop until the
// client closes its end.
func (s *Server) Serve() error {
	if err := serverHandshake(s.r, s.w); err != nil {
		return err
	}

	for {
		var req request
		if err := readFrame(s.r, &req); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		result, err := s.dispatch(&req)
		resp := response{Err: toWireError(err)}
		if err == nil && result != nil {
			raw, merr := msgpack.Marshal(result)
			if merr != nil {
				resp.Err = toWireError(merr)
			} else {
				resp.Result = raw
			}
		}

		if err := writeFrame(s.w, &resp); err != nil {
			return err
		}
	}
}

func (s *Server) dispatch(req *request) (any, error) {
	log.Debug("ipc request", log.String("op", req.Op))

	switch req.Op {
	case opMount:
		var args MountArgs
		if err := msgpack.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		opts, cleanup, err := args.toOptions()
		if err != nil {
			return nil, err
		}
		defer cleanup()
		return s.core.Mount(opts)

	case opDismount:
		var args DismountArgs
		if err := msgpack.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return s.core.Dismount(args.Slot, args.Force)

	case opDismountAll:
		var args DismountArgs
		if err := msgpack.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, s.core.DismountAll(args.Force)

	case opGetMountedVolumes:
		return s.core.GetMountedVolumes(), nil

	case opGetHostDevices:
		var args HostDevicesArgs
		if err := msgpack.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return s.core.GetHostDevices(args.PathsOnly)

	case opCreateKeyfile:
		var args KeyfileArgs
		if err := msgpack.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, s.core.CreateKeyfile(args.Path)

	case opRunSelfTest:
		return nil, s.core.RunSelfTest()
	}

	return nil, errors.New("ipc: unknown operation " + req.Op)
}
