// Package creator writes new volumes: headers, body fill, and the
// progress/abort machinery polled by front-ends.
package creator

import (
	"os"
	"sync"

	"basalt/internal/crypto"
	"basalt/internal/device"
	"basalt/internal/errors"
	"basalt/internal/header"
	"basalt/internal/kdf"
	"basalt/internal/keyfile"
	"basalt/internal/layout"
	"basalt/internal/log"
	"basalt/internal/mode"
	"basalt/internal/rng"
	"basalt/internal/util"
	"basalt/internal/volume"

	"github.com/Picocrypt/zxcvbn-go"
)

// fillChunkSize is the wipe-pattern write granularity; abort is checked
// at every chunk boundary.
const fillChunkSize = util.FillChunkSize

// MinVolumeSize is the smallest V2 volume: two header groups and one
// data sector.
const MinVolumeSize = 2*layout.HeaderGroupSize + util.SectorSize

// Options is the creation request.
type Options struct {
	Path    string
	Size    int64 // total size including header groups; for hidden, the inner data size
	Hidden  bool
	Cascade string // cascade name; empty selects AES
	Kdf     string // KDF name; empty selects the default
	// LegacyKdf selects the legacy twin of Kdf (predecessor iteration
	// counts), for compatibility volumes.
	LegacyKdf bool
	Password  *volume.Password
	Keyfiles  []string

	// Quick skips the body fill. Ignored for hidden volumes, which
	// never touch the outer body.
	Quick bool

	// Filesystem, when set, runs after the volume is written. The
	// filesystem-creation collaborator itself is external.
	Filesystem func(path string) error
}

// Progress is the poll snapshot. There is no callback.
type Progress struct {
	InProgress bool
	TotalBytes int64
	BytesDone  int64
	Err        error // terminal result, nil while in progress
}

// Creator runs one volume creation at a time on a background
// goroutine.
type Creator struct {
	mu       sync.Mutex
	progress Progress
	abort    bool
	done     chan struct{}
}

// New returns an idle Creator.
func New() *Creator {
	return &Creator{}
}

// Progress returns the current snapshot.
func (c *Creator) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Abort requests cooperative cancellation. The fill loop observes it at
// the next chunk boundary, stops, and leaves the partial state in
// place.
func (c *Creator) Abort() {
	c.mu.Lock()
	c.abort = true
	c.mu.Unlock()
}

// Wait blocks until the running creation finishes and returns its
// terminal error.
func (c *Creator) Wait() error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	return c.Progress().Err
}

// Start validates the request and launches the creation asynchronously.
func (c *Creator) Start(opts Options) error {
	if err := validate(&opts); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.progress.InProgress {
		return errors.NewValidationError("creator", "creation already in progress")
	}
	c.abort = false
	c.progress = Progress{InProgress: true}
	c.done = make(chan struct{})

	go func() {
		err := c.run(opts)
		c.mu.Lock()
		c.progress.InProgress = false
		c.progress.Err = err
		close(c.done)
		c.mu.Unlock()
	}()
	return nil
}

func validate(opts *Options) error {
	if opts.Path == "" {
		return errors.NewValidationError("path", "empty")
	}
	if opts.Password.IsEmpty() && len(opts.Keyfiles) == 0 {
		return errors.NewValidationError("credentials", "no password or keyfiles")
	}
	if opts.Size%util.SectorSize != 0 {
		return errors.NewValidationError("size", "must be a multiple of the sector size")
	}
	if !opts.Hidden && opts.Size < MinVolumeSize {
		return errors.NewValidationError("size", "below minimum volume size")
	}
	if opts.Hidden && opts.Size < util.SectorSize {
		return errors.NewValidationError("size", "hidden volume too small")
	}
	if opts.Cascade == "" {
		opts.Cascade = "AES"
	}
	if opts.Kdf == "" {
		opts.Kdf = kdf.Default().Name
	}

	if !opts.Password.IsEmpty() {
		if score := zxcvbn.PasswordStrength(string(opts.Password.Bytes()), nil).Score; score < 3 {
			log.Warn("weak volume password", log.Int("zxcvbn score", score))
		}
	}
	return nil
}

func (c *Creator) aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abort
}

func (c *Creator) setProgress(total, done int64) {
	c.mu.Lock()
	c.progress.TotalBytes = total
	c.progress.BytesDone = done
	c.mu.Unlock()
}

func (c *Creator) run(opts Options) error {
	cascade, err := crypto.CascadeByName(opts.Cascade)
	if err != nil {
		return err
	}
	k, err := kdf.ByName(opts.Kdf, opts.LegacyKdf)
	if err != nil {
		return err
	}

	if opts.Hidden {
		return c.createHidden(opts, cascade, k)
	}
	return c.createNormal(opts, cascade, k)
}

// prepareHeader allocates a fresh master key from the random pool and
// assembles a header for the given geometry.
func prepareHeader(volumeSize, hiddenSize, dataStart, dataSize uint64) (*header.Header, error) {
	masterKey := make([]byte, header.MasterKeySize)
	if err := rng.Default().Fill(masterKey); err != nil {
		return nil, err
	}
	return &header.Header{
		Version:          header.FormatVersion,
		MinVersion:       header.FormatVersion,
		HiddenVolumeSize: hiddenSize,
		VolumeSize:       volumeSize,
		DataStart:        dataStart,
		DataSize:         dataSize,
		SectorSize:       util.SectorSize,
		MasterKey:        masterKey,
	}, nil
}

// writeHeaders encrypts and writes the primary and backup headers. Each
// encryption draws its own fresh salt, so the two ciphertexts are
// independent.
func writeHeaders(backing *device.Backing, h *header.Header, mixed []byte, k kdf.KDF, cascade crypto.Cascade, primaryOff, backupOff int64) error {
	raw, err := header.Encrypt(h, mixed, k, cascade, mode.KindXTS)
	if err != nil {
		return err
	}
	if err := backing.WriteAt(raw, primaryOff); err != nil {
		return err
	}

	raw, err = header.Encrypt(h, mixed, k, cascade, mode.KindXTS)
	if err != nil {
		return err
	}
	return backing.WriteAt(raw, backupOff)
}

func (c *Creator) createNormal(opts Options, cascade crypto.Cascade, k kdf.KDF) error {
	lay := layout.V2Normal

	// A regular file that does not exist yet is created and grown to
	// the requested size. Devices must already exist.
	if _, err := os.Stat(opts.Path); os.IsNotExist(err) {
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
		if err != nil {
			return errors.NewSystemError(opts.Path, 0, err)
		}
		f.Close()
	}

	backing, err := device.Open(opts.Path, false, false)
	if err != nil {
		return err
	}
	defer backing.Close()

	if !backing.IsDevice() && backing.Size() != opts.Size {
		if err := backing.Truncate(opts.Size); err != nil {
			return err
		}
	}
	if backing.IsDevice() && backing.Size() < opts.Size {
		return errors.NewValidationError("size", "device smaller than requested size")
	}

	mixed, err := keyfile.ApplyListToPassword(opts.Keyfiles, opts.Password.Bytes())
	if err != nil {
		return err
	}
	defer mixed.Close()

	size := uint64(opts.Size)
	h, err := prepareHeader(size, 0, lay.DataStart(size), lay.DataSize(size))
	if err != nil {
		return err
	}
	defer h.Wipe()

	if err := writeHeaders(backing, h, mixed.Data, k, cascade, lay.HeaderOffset(), lay.BackupHeaderOffset()); err != nil {
		return err
	}

	if !opts.Quick {
		if err := c.fillBody(backing, int64(h.DataStart), int64(h.DataSize)); err != nil {
			return err
		}
	}

	if err := backing.Flush(); err != nil {
		return err
	}

	log.Info("volume created",
		log.String("path", opts.Path),
		log.String("cascade", cascade.Name()),
		log.String("kdf", k.Name))

	if opts.Filesystem != nil {
		return opts.Filesystem(opts.Path)
	}
	return nil
}

// createHidden writes an inner volume's headers into an existing outer
// volume. The inner data area is end-anchored inside the outer data
// region; the outer body is never touched.
func (c *Creator) createHidden(opts Options, cascade crypto.Cascade, k kdf.KDF) error {
	lay := layout.V2Hidden

	backing, err := device.Open(opts.Path, false, true)
	if err != nil {
		return err
	}
	defer backing.Close()

	outerSize := uint64(backing.Size())
	innerSize := uint64(opts.Size)
	if innerSize+layout.HeaderGroupSize+header.Size > layout.V2Normal.DataSize(outerSize) {
		return errors.NewValidationError("size", "hidden volume does not fit inside the outer volume")
	}

	mixed, err := keyfile.ApplyListToPassword(opts.Keyfiles, opts.Password.Bytes())
	if err != nil {
		return err
	}
	defer mixed.Close()

	dataStart := outerSize - layout.HeaderGroupSize - innerSize
	h, err := prepareHeader(innerSize, innerSize, dataStart, innerSize)
	if err != nil {
		return err
	}
	defer h.Wipe()

	if err := writeHeaders(backing, h, mixed.Data, k, cascade, lay.HeaderOffset(), lay.BackupHeaderOffset()); err != nil {
		return err
	}
	if err := backing.Flush(); err != nil {
		return err
	}

	log.Info("hidden volume created", log.String("path", opts.Path))
	return nil
}

// fillBody overwrites the data area with a wipe pattern that is
// indistinguishable from encrypted data: zeros enciphered under a
// throwaway XTS key drawn from the random pool.
func (c *Creator) fillBody(backing *device.Backing, start, length int64) error {
	cascade, _ := crypto.CascadeByName("AES")
	key := make([]byte, mode.KindXTS.KeySize(cascade))
	if err := rng.Default().Fill(key); err != nil {
		return err
	}
	m, err := mode.KindXTS.New(cascade, key, util.SectorSize)
	crypto.SecureZero(key)
	if err != nil {
		return err
	}
	defer m.Close()

	c.setProgress(length, 0)

	buf := util.GetFillBuffer()
	defer util.PutFillBuffer(buf)
	var done int64
	for done < length {
		if c.aborted() {
			log.Info("volume creation aborted", log.String("path", backing.Path()))
			return errors.ErrUserAbort
		}

		n := int64(len(buf))
		if length-done < n {
			n = length - done
		}
		chunk := buf[:n]
		for i := range chunk {
			chunk[i] = 0
		}
		if err := m.EncryptSectors(chunk, uint64(done)/util.SectorSize); err != nil {
			return err
		}
		if err := backing.WriteAt(chunk, start+done); err != nil {
			return err
		}

		done += n
		c.setProgress(length, done)
	}
	return nil
}
