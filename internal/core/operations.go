package core

import (
	"os"

	"basalt/internal/errors"
	"basalt/internal/header"
	"basalt/internal/kdf"
	"basalt/internal/keyfile"
	"basalt/internal/layout"
	"basalt/internal/log"
	"basalt/internal/rng"
	"basalt/internal/volume"
)

// openForMaintenance unlocks a dismounted volume for header rewrite.
func (c *Core) openForMaintenance(path string, creds Credentials, typ *layout.Type, useBackup bool) (*volume.Volume, error) {
	c.mu.RLock()
	mountedAlready := c.isMountedPath(path)
	c.mu.RUnlock()
	if mountedAlready {
		return nil, errors.ErrVolumeAlreadyMounted
	}

	return volume.Open(volume.Options{
		Path:               path,
		Password:           creds.Password,
		Keyfiles:           creds.Keyfiles,
		PreserveTimestamps: true,
		Type:               typ,
		UseBackupHeader:    useBackup,
	})
}

// rewriteHeaders re-encrypts the volume's header under creds/k and
// writes it to the primary slot and, when the layout carries one, the
// backup slot. Each write gets an independently encrypted copy with
// fresh salt.
func rewriteHeaders(v *volume.Volume, creds Credentials, k kdf.KDF) error {
	mixed, err := keyfile.ApplyListToPassword(creds.Keyfiles, creds.Password.Bytes())
	if err != nil {
		return err
	}
	defer mixed.Close()

	dec := v.Decoded()
	lay := v.Layout()

	raw, err := header.Encrypt(v.Header(), mixed.Data, k, dec.Cascade, dec.Mode)
	if err != nil {
		return err
	}
	if err := v.Backing().WriteAt(raw, lay.HeaderOffset()); err != nil {
		return err
	}

	if lay.HasBackupHeader() {
		raw, err = header.Encrypt(v.Header(), mixed.Data, k, dec.Cascade, dec.Mode)
		if err != nil {
			return err
		}
		if err := v.Backing().WriteAt(raw, lay.BackupHeaderOffset()); err != nil {
			return err
		}
	}

	return v.Backing().Flush()
}

// ChangePassword re-encrypts the header(s) with fresh salt under the
// new credentials. The master key is preserved, so data is untouched.
// Passing the old credentials as new with a different KDF performs an
// iteration-count upgrade without changing the password.
func (c *Core) ChangePassword(path string, oldCreds, newCreds Credentials, newKdf string) error {
	if err := c.requireInit(); err != nil {
		return err
	}

	v, err := c.openForMaintenance(path, oldCreds, nil, false)
	if err != nil {
		return err
	}
	defer v.Close()

	k := v.Decoded().Kdf
	if newKdf != "" {
		if k, err = kdf.ByName(newKdf, false); err != nil {
			return err
		}
	}

	if err := rewriteHeaders(v, newCreds, k); err != nil {
		return err
	}

	log.Info("volume password changed",
		log.String("path", path),
		log.String("kdf", k.Name))
	return nil
}

// UpgradeVolumeKdf rewrites a legacy-KDF header under the modern twin
// of its PRF (or an explicitly chosen modern KDF), reusing the same
// credentials. Returns the new KDF name.
func (c *Core) UpgradeVolumeKdf(path string, creds Credentials, newKdf string) (string, error) {
	if err := c.requireInit(); err != nil {
		return "", err
	}

	v, err := c.openForMaintenance(path, creds, nil, false)
	if err != nil {
		return "", err
	}
	defer v.Close()

	dec := v.Decoded()
	if !dec.Kdf.Legacy && newKdf == "" {
		return dec.Kdf.Name, nil // nothing to upgrade
	}

	name := newKdf
	if name == "" {
		name = dec.Kdf.Name
	}
	k, err := kdf.ByName(name, false)
	if err != nil {
		return "", err
	}

	if err := rewriteHeaders(v, creds, k); err != nil {
		return "", err
	}

	log.Info("volume kdf upgraded",
		log.String("path", path),
		log.String("kdf", k.Name))
	return k.Name, nil
}

// BackupHeaders writes the external 1024-byte backup file: the
// re-encrypted primary header followed by the re-encrypted hidden
// header, or - when no hidden credentials are presented - a random
// block encrypted under a fresh cascade key, indistinguishable from a
// real hidden header.
func (c *Core) BackupHeaders(path, file string, creds Credentials, hiddenCreds *Credentials) error {
	if err := c.requireInit(); err != nil {
		return err
	}

	normalType := layout.TypeNormal
	v, err := c.openForMaintenance(path, creds, &normalType, false)
	if err != nil {
		return err
	}
	defer v.Close()

	mixed, err := keyfile.ApplyListToPassword(creds.Keyfiles, creds.Password.Bytes())
	if err != nil {
		return err
	}
	defer mixed.Close()

	dec := v.Decoded()
	first, err := header.Encrypt(v.Header(), mixed.Data, dec.Kdf, dec.Cascade, dec.Mode)
	if err != nil {
		return err
	}

	var second []byte
	if hiddenCreds != nil {
		hiddenType := layout.TypeHidden
		hv, err := c.openForMaintenance(path, *hiddenCreds, &hiddenType, false)
		if err != nil {
			if errors.IsPasswordError(err) {
				return errors.ErrProtectionPasswordIncorrect
			}
			return err
		}
		defer hv.Close()

		hmixed, err := keyfile.ApplyListToPassword(hiddenCreds.Keyfiles, hiddenCreds.Password.Bytes())
		if err != nil {
			return err
		}
		defer hmixed.Close()

		hdec := hv.Decoded()
		second, err = header.Encrypt(hv.Header(), hmixed.Data, hdec.Kdf, hdec.Cascade, hdec.Mode)
		if err != nil {
			return err
		}
	} else {
		second, err = header.EncryptRandom(dec.Cascade, dec.Mode)
		if err != nil {
			return err
		}
	}

	out := append(first, second...)
	if err := os.WriteFile(file, out, 0600); err != nil {
		return errors.NewSystemError(file, 0, err)
	}

	log.Info("headers backed up", log.String("path", path), log.String("file", file))
	return nil
}

// RestoreHeadersFromInternalBackup decrypts the end-anchored backup
// header (V2 only) and writes a fresh-salt re-encryption of it to the
// primary slot.
func (c *Core) RestoreHeadersFromInternalBackup(path string, creds Credentials) error {
	if err := c.requireInit(); err != nil {
		return err
	}

	v, err := c.openForMaintenance(path, creds, nil, true)
	if err != nil {
		return err
	}
	defer v.Close()

	if !v.Layout().HasBackupHeader() {
		return errors.NewValidationError("volume", "has no internal backup header")
	}

	mixed, err := keyfile.ApplyListToPassword(creds.Keyfiles, creds.Password.Bytes())
	if err != nil {
		return err
	}
	defer mixed.Close()

	dec := v.Decoded()
	raw, err := header.Encrypt(v.Header(), mixed.Data, dec.Kdf, dec.Cascade, dec.Mode)
	if err != nil {
		return err
	}
	if err := v.Backing().WriteAt(raw, v.Layout().HeaderOffset()); err != nil {
		return err
	}
	if err := v.Backing().Flush(); err != nil {
		return err
	}

	log.Info("primary header restored from internal backup", log.String("path", path))
	return nil
}

// RestoreHeadersFromFile tries both halves of an external backup file
// against the presented credentials and writes the matching header to
// the volume's primary slot (and backup slot when the layout carries
// one).
//
// The backup file has no framing envelope: its plaintext size is
// exactly two header lengths and no in-band marker distinguishes the
// halves. "Which half" is decided purely by which one decrypts.
func (c *Core) RestoreHeadersFromFile(path, file string, creds Credentials) error {
	if err := c.requireInit(); err != nil {
		return err
	}

	c.mu.RLock()
	mountedAlready := c.isMountedPath(path)
	c.mu.RUnlock()
	if mountedAlready {
		return errors.ErrVolumeAlreadyMounted
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return errors.NewSystemError(file, 0, err)
	}
	if len(data) != 2*header.Size {
		return errors.NewValidationError("file", "backup size incorrect")
	}

	mixed, err := keyfile.ApplyListToPassword(creds.Keyfiles, creds.Password.Bytes())
	if err != nil {
		return err
	}
	defer mixed.Close()

	// Normal layouts read the first half, hidden layouts the second.
	var dec *header.Decoded
	var lay layout.Layout
	for _, cand := range layout.AvailableLayouts() {
		half := data[:header.Size]
		if cand.Type() == layout.TypeHidden {
			half = data[header.Size:]
		}
		d, err := header.Decrypt(half, mixed.Data, cand.SupportedKdfs(), cand.SupportedCascades(), cand.SupportedModes())
		if err == nil {
			dec = d
			lay = cand
			break
		}
		if !errors.IsPasswordError(err) {
			return err
		}
	}
	if dec == nil {
		return errors.ErrPasswordIncorrect
	}
	defer dec.Header.Wipe()

	backing, err := openBackingForHeaderWrite(path)
	if err != nil {
		return err
	}
	defer backing.Close()

	raw, err := header.Encrypt(dec.Header, mixed.Data, dec.Kdf, dec.Cascade, dec.Mode)
	if err != nil {
		return err
	}
	if err := backing.WriteAt(raw, lay.HeaderOffset()); err != nil {
		return err
	}

	if lay.HasBackupHeader() {
		raw, err = header.Encrypt(dec.Header, mixed.Data, dec.Kdf, dec.Cascade, dec.Mode)
		if err != nil {
			return err
		}
		if err := backing.WriteAt(raw, lay.BackupHeaderOffset()); err != nil {
			return err
		}
	}
	if err := backing.Flush(); err != nil {
		return err
	}

	log.Info("headers restored from file", log.String("path", path), log.String("file", file))
	return nil
}

// CreateKeyfile writes a new 64-byte random keyfile.
func (c *Core) CreateKeyfile(path string) error {
	if err := c.requireInit(); err != nil {
		return err
	}
	return keyfile.Create(path)
}

// RunSelfTest runs the known-answer tests over every cipher, cascade,
// and hash, then verifies RNG pool liveness. Mount front-ends refuse to
// proceed on failure.
func (c *Core) RunSelfTest() error {
	if err := c.requireInit(); err != nil {
		return err
	}
	if err := cryptoSelfTest(); err != nil {
		return err
	}

	// RNG liveness: two successive draws must differ.
	a := make([]byte, 32)
	b := make([]byte, 32)
	if err := rng.Default().GetData(a); err != nil {
		return err
	}
	if err := rng.Default().GetData(b); err != nil {
		return err
	}
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		return errors.Wrap(errors.ErrTestFailed, "rng produced identical draws")
	}
	return nil
}
