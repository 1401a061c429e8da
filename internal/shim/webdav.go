package shim

import (
	"context"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"basalt/internal/errors"
	"basalt/internal/log"
	"basalt/internal/volume"

	"golang.org/x/net/webdav"
)

// VolumeFileName is the single entry of the served directory.
const VolumeFileName = "volume.img"

// WebdavServer serves the volume as one file in a tiny virtual WebDAV
// directory over loopback HTTP. The host OS mounts the share; its
// loopback filesystem driver turns the file into a disk image.
type WebdavServer struct {
	backing sectorBacked

	mu      sync.Mutex
	lis     net.Listener
	server  *http.Server
	running bool
	done    chan struct{}

	attachedOnce sync.Once
	attached     chan struct{}
	active       atomic.Int32
}

// NewWebdavServer wraps an unlocked volume. Port 0 picks a free port.
func NewWebdavServer(vol *volume.Volume, port int) (*WebdavServer, error) {
	l, err := listenLoopback(port)
	if err != nil {
		return nil, err
	}

	s := &WebdavServer{
		backing:  sectorBacked{vol: vol},
		lis:      &loopbackListener{Listener: l},
		attached: make(chan struct{}),
	}

	dav := &webdav.Handler{
		FileSystem: &volumeFS{backing: s.backing},
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				log.Debug("webdav request failed",
					log.String("method", r.Method),
					log.String("path", r.URL.Path),
					log.Err(err))
			}
		},
	}
	s.server = &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.attachedOnce.Do(func() { close(s.attached) })
			dav.ServeHTTP(w, r)
		}),
		ConnState: func(c net.Conn, state http.ConnState) {
			switch state {
			case http.StateNew:
				s.active.Add(1)
			case http.StateClosed, http.StateHijacked:
				s.active.Add(-1)
			}
		},
	}
	return s, nil
}

// ClientAttached is closed after the first served request.
func (s *WebdavServer) ClientAttached() <-chan struct{} {
	return s.attached
}

// ActiveClients reports currently open client connections.
func (s *WebdavServer) ActiveClients() int {
	return int(s.active.Load())
}

// Addr returns the bound loopback address.
func (s *WebdavServer) Addr() string {
	return s.lis.Addr().String()
}

// Start begins serving in the background.
func (s *WebdavServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.server.Serve(s.lis)
	}()

	log.Info("webdav shim listening", log.String("addr", s.Addr()))
	return nil
}

// Stop drains in-flight requests and closes the endpoint.
func (s *WebdavServer) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	done := s.done
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	<-done

	log.Info("webdav shim stopped", log.String("addr", s.Addr()))
	return err
}

// loopbackListener rejects non-loopback peers before HTTP sees them.
type loopbackListener struct {
	net.Listener
}

func (l *loopbackListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		if !isLoopback(conn.RemoteAddr()) {
			log.Warn("rejected non-loopback webdav connection",
				log.String("peer", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		return conn, nil
	}
}

// volumeFS is the virtual directory: a root containing exactly one
// fixed-size file backed by Volume sector I/O. The namespace is
// immutable.
type volumeFS struct {
	backing sectorBacked
}

func (v *volumeFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	return os.ErrPermission
}

func (v *volumeFS) RemoveAll(ctx context.Context, name string) error {
	return os.ErrPermission
}

func (v *volumeFS) Rename(ctx context.Context, oldName, newName string) error {
	return os.ErrPermission
}

func (v *volumeFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	switch cleanName(name) {
	case "":
		return dirInfo{}, nil
	case VolumeFileName:
		return fileInfo{size: v.backing.size()}, nil
	}
	return nil, os.ErrNotExist
}

func (v *volumeFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	switch cleanName(name) {
	case "":
		return &dirHandle{backing: v.backing}, nil
	case VolumeFileName:
		// PUT opens with O_CREATE|O_TRUNC; the file always exists at
		// its fixed size, so both are no-ops. Only append is refused.
		if flag&os.O_APPEND != 0 {
			return nil, os.ErrPermission
		}
		if flag&(os.O_WRONLY|os.O_RDWR) != 0 && v.backing.readOnly() {
			return nil, os.ErrPermission
		}
		return &fileHandle{backing: v.backing}, nil
	}
	return nil, os.ErrNotExist
}

func cleanName(name string) string {
	return strings.Trim(name, "/")
}

// dirHandle is the root directory listing.
type dirHandle struct {
	backing sectorBacked
	listed  bool
}

func (d *dirHandle) Close() error                 { return nil }
func (d *dirHandle) Read(p []byte) (int, error)   { return 0, os.ErrInvalid }
func (d *dirHandle) Write(p []byte) (int, error)  { return 0, os.ErrInvalid }
func (d *dirHandle) Seek(offset int64, whence int) (int64, error) {
	return 0, os.ErrInvalid
}

func (d *dirHandle) Stat() (os.FileInfo, error) { return dirInfo{}, nil }

func (d *dirHandle) Readdir(count int) ([]os.FileInfo, error) {
	if d.listed {
		return nil, io.EOF
	}
	d.listed = true
	return []os.FileInfo{fileInfo{size: d.backing.size()}}, nil
}

// fileHandle is one open handle on the volume file. Unaligned spans are
// bridged with a bounce buffer covering the touched sectors, zeroed after each
// request, so no plaintext outlives a request.
type fileHandle struct {
	backing sectorBacked
	mu      sync.Mutex
	pos     int64
}

func (f *fileHandle) Close() error { return nil }

func (f *fileHandle) Stat() (os.FileInfo, error) {
	return fileInfo{size: f.backing.size()}, nil
}

func (f *fileHandle) Readdir(count int) ([]os.FileInfo, error) {
	return nil, os.ErrInvalid
}

func (f *fileHandle) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = f.pos + offset
	case io.SeekEnd:
		next = f.backing.size() + offset
	default:
		return 0, os.ErrInvalid
	}
	if next < 0 {
		return 0, os.ErrInvalid
	}
	f.pos = next
	return next, nil
}

func (f *fileHandle) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	size := f.backing.size()
	if f.pos >= size {
		return 0, io.EOF
	}
	if int64(len(p)) > size-f.pos {
		p = p[:size-f.pos]
	}

	if err := f.alignedIO(p, f.pos, false); err != nil {
		return 0, err
	}
	f.pos += int64(len(p))
	return len(p), nil
}

func (f *fileHandle) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	size := f.backing.size()
	if f.pos+int64(len(p)) > size {
		return 0, errors.New("write past end of volume")
	}

	if err := f.alignedIO(p, f.pos, true); err != nil {
		return 0, err
	}
	f.pos += int64(len(p))
	return len(p), nil
}

// alignedIO bridges an arbitrary byte span onto sector-aligned volume
// I/O. Writes to partial edge sectors read-modify-write through a
// bounce buffer.
func (f *fileHandle) alignedIO(p []byte, off int64, write bool) error {
	ss := int64(f.backing.sectorSize())
	start := off / ss * ss
	end := (off + int64(len(p)) + ss - 1) / ss * ss
	if end > f.backing.size() {
		end = f.backing.size()
	}

	aligned := off == start && (off+int64(len(p)))%ss == 0
	if aligned {
		if write {
			return f.backing.writeAt(p, off)
		}
		return f.backing.readAt(p, off)
	}

	buf := make([]byte, end-start)
	defer zeroBytes(buf)

	if err := f.backing.readAt(buf, start); err != nil {
		return err
	}
	if !write {
		copy(p, buf[off-start:])
		return nil
	}
	copy(buf[off-start:], p)
	return f.backing.writeAt(buf, start)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// dirInfo / fileInfo implement os.FileInfo for the virtual namespace.
type dirInfo struct{}

func (dirInfo) Name() string       { return "/" }
func (dirInfo) Size() int64        { return 0 }
func (dirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0500 }
func (dirInfo) ModTime() time.Time { return time.Time{} }
func (dirInfo) IsDir() bool        { return true }
func (dirInfo) Sys() any           { return nil }

type fileInfo struct {
	size int64
}

func (f fileInfo) Name() string       { return VolumeFileName }
func (f fileInfo) Size() int64        { return f.size }
func (f fileInfo) Mode() fs.FileMode  { return 0600 }
func (f fileInfo) ModTime() time.Time { return time.Time{} }
func (f fileInfo) IsDir() bool        { return false }
func (f fileInfo) Sys() any           { return nil }
