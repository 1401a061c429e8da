package device

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newBackingFile(t *testing.T, size int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(path, make([]byte, size), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenReadWrite(t *testing.T) {
	path := newBackingFile(t, 8192)

	b, err := Open(path, false, false)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if b.Size() != 8192 {
		t.Errorf("Size = %d; want 8192", b.Size())
	}
	if b.IsDevice() {
		t.Error("regular file reported as device")
	}

	data := []byte("written at one kilobyte")
	if err := b.WriteAt(data, 1024); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(data))
	if err := b.ReadAt(got, 1024); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("read back mismatch")
	}
}

func TestEndRelativeOffsets(t *testing.T) {
	path := newBackingFile(t, 4096)

	b, err := Open(path, false, false)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if b.ResolveOffset(-512) != 4096-512 {
		t.Errorf("ResolveOffset(-512) = %d", b.ResolveOffset(-512))
	}

	tail := []byte("tail data")
	if err := b.WriteAt(tail, -512); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(tail))
	if err := b.ReadAt(got, 4096-512); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, tail) {
		t.Error("end-relative write landed at the wrong place")
	}
}

func TestShortReadSurfacesSystemError(t *testing.T) {
	path := newBackingFile(t, 1024)

	b, err := Open(path, true, false)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := b.ReadAt(make([]byte, 2048), 0); err == nil {
		t.Error("expected error for read past end")
	}
}

func TestReadOnlyRefusesWrite(t *testing.T) {
	path := newBackingFile(t, 1024)

	b, err := Open(path, true, false)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := b.WriteAt([]byte("x"), 0); err == nil {
		t.Error("expected error writing a read-only backing")
	}
}

func TestTruncateGrowsFile(t *testing.T) {
	path := newBackingFile(t, 1024)

	b, err := Open(path, false, false)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := b.Truncate(1 << 20); err != nil {
		t.Fatal(err)
	}
	if b.Size() != 1<<20 {
		t.Errorf("Size after Truncate = %d", b.Size())
	}
}

func TestTimestampPreservation(t *testing.T) {
	path := newBackingFile(t, 1024)

	past := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatal(err)
	}

	b, err := Open(path, false, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.WriteAt([]byte("dirty the mtime"), 0); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !fi.ModTime().Equal(past) {
		t.Errorf("mtime = %v; want preserved %v", fi.ModTime(), past)
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "absent"), false, false); err == nil {
		t.Error("expected error for missing path")
	}
}
