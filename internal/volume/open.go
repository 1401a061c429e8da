package volume

import (
	"basalt/internal/device"
	"basalt/internal/errors"
	"basalt/internal/header"
	"basalt/internal/keyfile"
	"basalt/internal/layout"
	"basalt/internal/log"
	"basalt/internal/worker"
)

// Options selects what to open and how.
type Options struct {
	Path               string
	Password           *Password
	Keyfiles           []string
	ReadOnly           bool
	PreserveTimestamps bool

	// Protection and the protection credentials. With
	// ProtectionHiddenVolume, the inner volume's header is unlocked
	// during open and its range is shielded from outer writes.
	Protection         Protection
	ProtectionPassword *Password
	ProtectionKeyfiles []string

	// Type restricts the layout trial to one volume type. Nil tries
	// everything in layout order.
	Type *layout.Type

	// UseBackupHeader unlocks via the end-anchored backup header
	// instead of the primary (V2 only).
	UseBackupHeader bool
}

func (o *Options) validate() error {
	if o.Path == "" {
		return errors.NewValidationError("path", "empty")
	}
	if o.Password.IsEmpty() && len(o.Keyfiles) == 0 {
		return errors.NewValidationError("credentials", "no password or keyfiles")
	}
	if o.Protection == ProtectionHiddenVolume &&
		o.ProtectionPassword.IsEmpty() && len(o.ProtectionKeyfiles) == 0 {
		return errors.NewValidationError("protection credentials", "no password or keyfiles")
	}
	return nil
}

// credentialError maps a failed trial to the right credential error.
func credentialError(keyfiles []string) error {
	if len(keyfiles) > 0 {
		return errors.ErrPasswordKeyfilesIncorrect
	}
	return errors.ErrPasswordIncorrect
}

// Open unlocks the volume at opts.Path: it opens the backing blob,
// folds keyfiles into the password, and trial-decrypts the candidate
// headers in layout order. The first layout whose header decrypts wins.
// The plaintext salt alone never reveals whether a hidden volume
// exists: a wrong-credential result is ErrPasswordIncorrect for every
// layout.
func Open(opts Options) (*Volume, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	readOnly := opts.ReadOnly || opts.Protection == ProtectionReadOnly

	backing, err := device.Open(opts.Path, readOnly, opts.PreserveTimestamps)
	if err != nil {
		return nil, err
	}

	v, err := openOnBacking(backing, opts)
	if err != nil {
		backing.Close()
		return nil, err
	}
	return v, nil
}

func openOnBacking(backing *device.Backing, opts Options) (*Volume, error) {
	mixed, err := keyfile.ApplyListToPassword(opts.Keyfiles, opts.Password.Bytes())
	if err != nil {
		return nil, err
	}
	defer mixed.Close()

	candidates := layout.AvailableLayouts()
	if opts.Type != nil {
		candidates = layout.LayoutsForType(*opts.Type)
	}

	dec, lay, err := decryptFirstHeader(backing, candidates, mixed.Data, opts.UseBackupHeader)
	if err != nil {
		return nil, err
	}
	if dec == nil {
		return nil, credentialError(opts.Keyfiles)
	}

	h := dec.Header
	m, err := dec.Mode.New(dec.Cascade, h.MasterKey[:dec.Mode.KeySize(dec.Cascade)], int(h.SectorSize))
	if err != nil {
		h.Wipe()
		return nil, err
	}

	v := &Volume{
		backing:       backing,
		lay:           lay,
		hdr:           h,
		mode:          m,
		pool:          worker.Default(),
		dec:           dec,
		kdfName:       dec.Kdf.Name,
		kdfIterations: dec.Kdf.Iterations,
		cascadeName:   dec.Cascade.Name(),
		modeName:      dec.Mode.Name,
		readOnly:      opts.ReadOnly || opts.Protection == ProtectionReadOnly,
		protection:    opts.Protection,
	}

	if opts.Protection == ProtectionHiddenVolume {
		if err := v.armHiddenProtection(opts); err != nil {
			v.Close()
			return nil, err
		}
	}

	log.Info("volume opened",
		log.String("path", backing.Path()),
		log.String("layout", lay.Name()),
		log.String("cascade", v.cascadeName),
		log.String("kdf", v.kdfName))

	return v, nil
}

// decryptFirstHeader tries each candidate layout's header region. A
// (nil, _, nil) return means every trial failed: the caller reports the
// credential error.
func decryptFirstHeader(backing *device.Backing, candidates []layout.Layout, password []byte, useBackup bool) (*header.Decoded, layout.Layout, error) {
	raw := make([]byte, header.Size)

	for _, lay := range candidates {
		off := lay.HeaderOffset()
		if useBackup {
			if !lay.HasBackupHeader() {
				continue
			}
			off = lay.BackupHeaderOffset()
		}

		// A blob too small to hold this layout's header region simply
		// doesn't use this layout.
		abs := backing.ResolveOffset(off)
		if abs < 0 || abs+header.Size > backing.Size() {
			continue
		}
		if err := backing.ReadAt(raw, off); err != nil {
			return nil, lay, err
		}

		dec, err := header.Decrypt(raw, password, lay.SupportedKdfs(), lay.SupportedCascades(), lay.SupportedModes())
		if err == nil {
			return dec, lay, nil
		}
		if !errors.IsPasswordError(err) {
			return nil, lay, err
		}
	}

	var none layout.Layout
	return nil, none, nil
}

// armHiddenProtection trial-decrypts the inner hidden header with the
// protection credentials and shields its range. An unlockable inner
// header is required: failure is ProtectionPasswordIncorrect.
func (v *Volume) armHiddenProtection(opts Options) error {
	if v.lay.Type() != layout.TypeNormal {
		return errors.NewValidationError("protection", "hidden protection applies to outer volumes only")
	}

	mixed, err := keyfile.ApplyListToPassword(opts.ProtectionKeyfiles, opts.ProtectionPassword.Bytes())
	if err != nil {
		return err
	}
	defer mixed.Close()

	dec, _, err := decryptFirstHeader(v.backing, layout.LayoutsForType(layout.TypeHidden), mixed.Data, false)
	if err != nil {
		return err
	}
	if dec == nil {
		return errors.ErrProtectionPasswordIncorrect
	}

	inner := dec.Header
	v.protectedStart = inner.DataStart
	v.protectedEnd = inner.DataStart + inner.DataSize
	inner.Wipe()

	log.Info("hidden volume protection armed", log.String("path", v.backing.Path()))
	return nil
}
