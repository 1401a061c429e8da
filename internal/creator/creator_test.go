package creator

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"basalt/internal/errors"
	"basalt/internal/header"
	"basalt/internal/layout"
	"basalt/internal/rng"
	"basalt/internal/util"
	"basalt/internal/volume"
)

func mustPassword(t *testing.T, s string) *volume.Password {
	t.Helper()
	p, err := volume.NewPassword([]byte(s))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func startPool(t *testing.T) {
	t.Helper()
	if err := rng.Default().Start(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateQuickVolume(t *testing.T) {
	startPool(t)
	path := filepath.Join(t.TempDir(), "v.tc")

	c := New()
	err := c.Start(Options{
		Path:      path,
		Size:      2 * util.MiB,
		Kdf:       "SHA-512",
		LegacyKdf: true,
		Password:  mustPassword(t, "pw"),
		Quick:     true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Wait(); err != nil {
		t.Fatal(err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != 2*util.MiB {
		t.Errorf("file size = %d; want %d", fi.Size(), 2*util.MiB)
	}

	// Both header slots must hold data (salt regions non-zero).
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	zeroSalt := make([]byte, header.SaltSize)
	if bytes.Equal(raw[:header.SaltSize], zeroSalt) {
		t.Error("primary header missing")
	}
	backupOff := int64(len(raw)) - layout.HeaderGroupSize
	if bytes.Equal(raw[backupOff:backupOff+header.SaltSize], zeroSalt) {
		t.Error("backup header missing")
	}
	if bytes.Equal(raw[:header.Size], raw[backupOff:backupOff+header.Size]) {
		t.Error("backup header identical to primary; salts must be independent")
	}
}

func TestFillReportsProgress(t *testing.T) {
	startPool(t)
	path := filepath.Join(t.TempDir(), "v.tc")

	c := New()
	err := c.Start(Options{
		Path:      path,
		Size:      4 * util.MiB,
		Kdf:       "SHA-512",
		LegacyKdf: true,
		Password:  mustPassword(t, "pw"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Wait(); err != nil {
		t.Fatal(err)
	}

	p := c.Progress()
	if p.InProgress {
		t.Error("still in progress after Wait")
	}
	wantFill := int64(4*util.MiB - 2*layout.HeaderGroupSize)
	if p.TotalBytes != wantFill || p.BytesDone != wantFill {
		t.Errorf("progress = %d/%d; want %d/%d", p.BytesDone, p.TotalBytes, wantFill, wantFill)
	}

	// The filled body must not be all zeros.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	body := raw[layout.HeaderGroupSize : int64(len(raw))-layout.HeaderGroupSize]
	if bytes.Equal(body[:4096], make([]byte, 4096)) {
		t.Error("body fill left zeros")
	}
}

func TestAbortLeavesPartialState(t *testing.T) {
	startPool(t)
	path := filepath.Join(t.TempDir(), "v.tc")

	c := New()
	err := c.Start(Options{
		Path:      path,
		Size:      128 * util.MiB,
		Kdf:       "SHA-512",
		LegacyKdf: true,
		Password:  mustPassword(t, "pw"),
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Abort()

	err = c.Wait()
	if !errors.Is(err, errors.ErrUserAbort) {
		t.Fatalf("got %v; want ErrUserAbort", err)
	}

	// Partial state stays in place.
	if _, err := os.Stat(path); err != nil {
		t.Error("aborted creation removed the file")
	}
}

func TestValidation(t *testing.T) {
	startPool(t)
	c := New()

	if err := c.Start(Options{Path: "", Size: 2 * util.MiB, Password: mustPassword(t, "x")}); err == nil {
		t.Error("expected error for empty path")
	}
	if err := c.Start(Options{Path: "/tmp/x", Size: 2 * util.MiB}); err == nil {
		t.Error("expected error for missing credentials")
	}
	if err := c.Start(Options{Path: "/tmp/x", Size: 1000, Password: mustPassword(t, "x")}); err == nil {
		t.Error("expected error for unaligned size")
	}
	if err := c.Start(Options{Path: "/tmp/x", Size: 512, Password: mustPassword(t, "x")}); err == nil {
		t.Error("expected error for undersized volume")
	}
}

func TestOnlyOneCreationAtATime(t *testing.T) {
	startPool(t)
	dir := t.TempDir()

	c := New()
	if err := c.Start(Options{
		Path:      filepath.Join(dir, "a.tc"),
		Size:      64 * util.MiB,
		Kdf:       "SHA-512",
		LegacyKdf: true,
		Password:  mustPassword(t, "pw"),
	}); err != nil {
		t.Fatal(err)
	}

	err := c.Start(Options{
		Path:      filepath.Join(dir, "b.tc"),
		Size:      2 * util.MiB,
		Kdf:       "SHA-512",
		LegacyKdf: true,
		Password:  mustPassword(t, "pw"),
		Quick:     true,
	})
	if err == nil {
		// The first creation may already have finished on a fast
		// machine; only overlapping starts must be refused.
		if c.Progress().InProgress {
			t.Error("second Start accepted while first still running")
		}
	}

	c.Abort()
	c.Wait()
}

func TestHiddenCreationDoesNotTouchOuterBody(t *testing.T) {
	startPool(t)
	path := filepath.Join(t.TempDir(), "v.tc")

	c := New()
	if err := c.Start(Options{
		Path:      path,
		Size:      4 * util.MiB,
		Kdf:       "SHA-512",
		LegacyKdf: true,
		Password:  mustPassword(t, "outer"),
		Quick:     true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := c.Wait(); err != nil {
		t.Fatal(err)
	}

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	c2 := New()
	if err := c2.Start(Options{
		Path:      path,
		Size:      1 * util.MiB,
		Hidden:    true,
		Kdf:       "SHA-512",
		LegacyKdf: true,
		Password:  mustPassword(t, "inner"),
	}); err != nil {
		t.Fatal(err)
	}
	if err := c2.Wait(); err != nil {
		t.Fatal(err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// Outer primary header and the outer data area in front of the
	// inner region are untouched; only the hidden header slots differ.
	if !bytes.Equal(before[:layout.HeaderGroupSize/2], after[:layout.HeaderGroupSize/2]) {
		t.Error("outer primary header modified by hidden creation")
	}
	dataStart := int64(layout.HeaderGroupSize)
	innerStart := int64(4*util.MiB) - layout.HeaderGroupSize - int64(1*util.MiB)
	if !bytes.Equal(before[dataStart+4096:innerStart], after[dataStart+4096:innerStart]) {
		t.Error("outer body modified outside the hidden header region")
	}
}

func TestHiddenTooLargeRejected(t *testing.T) {
	startPool(t)
	path := filepath.Join(t.TempDir(), "v.tc")

	c := New()
	if err := c.Start(Options{
		Path:      path,
		Size:      2 * util.MiB,
		Kdf:       "SHA-512",
		LegacyKdf: true,
		Password:  mustPassword(t, "outer"),
		Quick:     true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := c.Wait(); err != nil {
		t.Fatal(err)
	}

	c2 := New()
	if err := c2.Start(Options{
		Path:      path,
		Size:      4 * util.MiB, // larger than the outer data area
		Hidden:    true,
		Kdf:       "SHA-512",
		LegacyKdf: true,
		Password:  mustPassword(t, "inner"),
	}); err != nil {
		t.Fatal(err)
	}
	if err := c2.Wait(); err == nil {
		t.Error("expected error for oversized hidden volume")
	}
}

func TestWaitWithoutStart(t *testing.T) {
	c := New()
	done := make(chan error, 1)
	go func() { done <- c.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait on idle creator = %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Wait on idle creator blocked")
	}
}
