package header

import (
	"bytes"
	"testing"
	"time"

	"basalt/internal/crypto"
	"basalt/internal/errors"
	"basalt/internal/kdf"
	"basalt/internal/mode"
	"basalt/internal/rng"
)

func startPool(t *testing.T) {
	t.Helper()
	if err := rng.Default().Start(); err != nil {
		t.Fatal(err)
	}
}

// fastKdfs keeps header trials cheap: the legacy twins run in
// milliseconds and exercise the same code paths.
func fastKdfs(t *testing.T) []kdf.KDF {
	t.Helper()
	k, err := kdf.ByName("SHA-512", true)
	if err != nil {
		t.Fatal(err)
	}
	return []kdf.KDF{k}
}

func testHeader(t *testing.T) *Header {
	t.Helper()
	masterKey := make([]byte, MasterKeySize)
	if err := rng.Default().Fill(masterKey); err != nil {
		t.Fatal(err)
	}
	return &Header{
		Version:      FormatVersion,
		MinVersion:   FormatVersion,
		CreationTime: time.Now().UTC(),
		VolumeSize:   10 << 20,
		DataStart:    65536,
		DataSize:     (10 << 20) - 131072,
		SectorSize:   512,
		MasterKey:    masterKey,
	}
}

func TestRoundTripAllCascades(t *testing.T) {
	startPool(t)
	kdfs := fastKdfs(t)
	password := []byte("correct horse")

	for _, cascade := range crypto.SupportedCascades() {
		h := testHeader(t)
		raw, err := Encrypt(h, password, kdfs[0], cascade, mode.KindXTS)
		if err != nil {
			t.Fatalf("%s: Encrypt: %v", cascade.Name(), err)
		}
		if len(raw) != Size {
			t.Fatalf("%s: header size = %d; want %d", cascade.Name(), len(raw), Size)
		}

		dec, err := Decrypt(raw, password, kdfs, crypto.SupportedCascades(), []mode.Kind{mode.KindXTS})
		if err != nil {
			t.Fatalf("%s: Decrypt: %v", cascade.Name(), err)
		}
		if dec.Cascade.Name() != cascade.Name() {
			t.Errorf("decrypted under %s; encrypted under %s", dec.Cascade.Name(), cascade.Name())
		}
		if !bytes.Equal(dec.Header.MasterKey, h.MasterKey) {
			t.Errorf("%s: master key mismatch after round trip", cascade.Name())
		}
		if dec.Header.VolumeSize != h.VolumeSize || dec.Header.DataStart != h.DataStart ||
			dec.Header.DataSize != h.DataSize || dec.Header.SectorSize != h.SectorSize {
			t.Errorf("%s: geometry fields mismatch", cascade.Name())
		}
	}
}

func TestRoundTripLegacyModes(t *testing.T) {
	startPool(t)
	kdfs := fastKdfs(t)
	cascade, _ := crypto.CascadeByName("AES")
	password := []byte("legacy volume")

	for _, kind := range []mode.Kind{mode.KindLRW, mode.KindCBC} {
		h := testHeader(t)
		h.Version = FormatVersionLegacy
		h.MinVersion = FormatVersionLegacy

		raw, err := Encrypt(h, password, kdfs[0], cascade, kind)
		if err != nil {
			t.Fatalf("%s: Encrypt: %v", kind.Name, err)
		}

		dec, err := Decrypt(raw, password, kdfs, []crypto.Cascade{cascade}, mode.SupportedKinds())
		if err != nil {
			t.Fatalf("%s: Decrypt: %v", kind.Name, err)
		}
		if dec.Mode.Name != kind.Name {
			t.Errorf("decrypted under mode %s; want %s", dec.Mode.Name, kind.Name)
		}
	}
}

func TestWrongPasswordIsPasswordIncorrect(t *testing.T) {
	startPool(t)
	kdfs := fastKdfs(t)
	cascade, _ := crypto.CascadeByName("AES")

	h := testHeader(t)
	raw, err := Encrypt(h, []byte("correct horse"), kdfs[0], cascade, mode.KindXTS)
	if err != nil {
		t.Fatal(err)
	}

	_, err = Decrypt(raw, []byte("wrong horse"), kdfs, []crypto.Cascade{cascade}, []mode.Kind{mode.KindXTS})
	if !errors.Is(err, errors.ErrPasswordIncorrect) {
		t.Errorf("wrong password: got %v; want ErrPasswordIncorrect", err)
	}
}

func TestCorruptHeaderIsStillPasswordIncorrect(t *testing.T) {
	// A flipped ciphertext bit must be indistinguishable from a wrong
	// password: deniability forbids a distinct "corrupt" answer here.
	startPool(t)
	kdfs := fastKdfs(t)
	cascade, _ := crypto.CascadeByName("AES")

	h := testHeader(t)
	raw, err := Encrypt(h, []byte("correct horse"), kdfs[0], cascade, mode.KindXTS)
	if err != nil {
		t.Fatal(err)
	}
	raw[SaltSize+100] ^= 1

	_, err = Decrypt(raw, []byte("correct horse"), kdfs, []crypto.Cascade{cascade}, []mode.Kind{mode.KindXTS})
	if !errors.Is(err, errors.ErrPasswordIncorrect) {
		t.Errorf("corrupt header: got %v; want ErrPasswordIncorrect", err)
	}
}

func TestFreshSaltOnEveryEncrypt(t *testing.T) {
	// Key independence: re-encrypting the same header under the same
	// password must produce a different salt AND different ciphertext.
	startPool(t)
	kdfs := fastKdfs(t)
	cascade, _ := crypto.CascadeByName("AES")
	password := []byte("same password")

	h := testHeader(t)
	raw1, err := Encrypt(h, password, kdfs[0], cascade, mode.KindXTS)
	if err != nil {
		t.Fatal(err)
	}
	raw2, err := Encrypt(h, password, kdfs[0], cascade, mode.KindXTS)
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(raw1[:SaltSize], raw2[:SaltSize]) {
		t.Error("salt reused across encryptions")
	}
	if bytes.Equal(raw1[SaltSize:], raw2[SaltSize:]) {
		t.Error("ciphertext regions identical across encryptions")
	}
}

func TestHigherVersionRefused(t *testing.T) {
	startPool(t)
	kdfs := fastKdfs(t)
	cascade, _ := crypto.CascadeByName("AES")

	h := testHeader(t)
	h.MinVersion = FormatVersion + 1
	raw, err := Encrypt(h, []byte("pw"), kdfs[0], cascade, mode.KindXTS)
	if err != nil {
		t.Fatal(err)
	}

	_, err = Decrypt(raw, []byte("pw"), kdfs, []crypto.Cascade{cascade}, []mode.Kind{mode.KindXTS})
	if !errors.Is(err, errors.ErrHigherVersionRequired) {
		t.Errorf("got %v; want ErrHigherVersionRequired", err)
	}
}

func TestEncryptRandomIndistinguishableShape(t *testing.T) {
	startPool(t)
	cascade, _ := crypto.CascadeByName("AES")

	a, err := EncryptRandom(cascade, mode.KindXTS)
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncryptRandom(cascade, mode.KindXTS)
	if err != nil {
		t.Fatal(err)
	}

	if len(a) != Size || len(b) != Size {
		t.Fatal("decoy header has wrong size")
	}
	if bytes.Equal(a, b) {
		t.Error("two decoy headers are identical")
	}
}

func TestMarshalValidation(t *testing.T) {
	h := testHeader(t)
	h.MasterKey = h.MasterKey[:10]
	if _, err := h.marshal(); err == nil {
		t.Error("expected error for short master key")
	}

	h = testHeader(t)
	h.SectorSize = 500 // not a power of two
	if _, err := h.marshal(); err == nil {
		t.Error("expected error for non-power-of-two sector size")
	}
}

func FuzzDecryptNeverPanics(f *testing.F) {
	if err := rng.Default().Start(); err != nil {
		f.Fatal(err)
	}
	k, err := kdf.ByName("SHA-512", true)
	if err != nil {
		f.Fatal(err)
	}

	seed := make([]byte, Size)
	f.Add(seed, []byte("pw"))

	cascade, _ := crypto.CascadeByName("AES")
	f.Fuzz(func(t *testing.T, raw, password []byte) {
		if len(raw) != Size {
			raw = append(raw, make([]byte, Size)...)[:Size]
		}
		if len(password) == 0 {
			password = []byte("x")
		}
		// Must reject gracefully, never panic.
		Decrypt(raw, password, []kdf.KDF{k}, []crypto.Cascade{cascade}, []mode.Kind{mode.KindXTS})
	})
}
