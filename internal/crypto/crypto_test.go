package crypto

import (
	"bytes"
	"testing"
)

func TestSelfTest(t *testing.T) {
	if err := SelfTest(); err != nil {
		t.Fatalf("SelfTest: %v", err)
	}
}

func TestCascadeRegistry(t *testing.T) {
	cascades := SupportedCascades()
	if len(cascades) != 6 {
		t.Fatalf("cascade count = %d; want 6", len(cascades))
	}
	if cascades[0].Name() != "AES" {
		t.Error("single-cipher AES must lead the trial order")
	}

	for _, c := range cascades {
		if c.KeySize() != len(c.Ciphers())*CipherKeySize {
			t.Errorf("%s: key size %d inconsistent with member count", c.Name(), c.KeySize())
		}
	}

	if _, err := CascadeByName("AES-Twofish-Serpent"); err != nil {
		t.Error(err)
	}
	if _, err := CascadeByName("ROT13"); err == nil {
		t.Error("expected error for unknown cascade")
	}
}

func TestCascadeOrderMatters(t *testing.T) {
	// Serpent-AES and a reversed hand-application must differ unless
	// order is honored.
	c, err := CascadeByName("Serpent-AES")
	if err != nil {
		t.Fatal(err)
	}
	key := make([]byte, c.KeySize())
	for i := range key {
		key[i] = byte(i)
	}
	blocks, err := c.NewBlocks(key)
	if err != nil {
		t.Fatal(err)
	}

	block := []byte("0123456789abcdef")
	forward := append([]byte(nil), block...)
	c.EncryptBlock(blocks, forward)

	reversed := append([]byte(nil), block...)
	blocks[1].Encrypt(reversed, reversed)
	blocks[0].Encrypt(reversed, reversed)

	if bytes.Equal(forward, reversed) {
		t.Error("cascade application order had no effect")
	}
}

func TestNewBlocksKeyValidation(t *testing.T) {
	c, _ := CascadeByName("AES")
	if _, err := c.NewBlocks(make([]byte, 16)); err == nil {
		t.Error("expected error for short key")
	}
}

func TestHashRegistry(t *testing.T) {
	for _, h := range SupportedHashes() {
		sum := h.New().Sum(nil)
		if len(sum) != h.Size {
			t.Errorf("%s: digest size %d; declared %d", h.Name, len(sum), h.Size)
		}
	}
	if SupportedHashes()[0].Name != "SHA-512" {
		t.Error("SHA-512 must be the default pool hash")
	}
	if _, err := HashByName("MD5"); err == nil {
		t.Error("expected error for unknown hash")
	}
}

func TestSecureZero(t *testing.T) {
	buf := []byte("sensitive key material")
	SecureZero(buf)
	if !bytes.Equal(buf, make([]byte, len(buf))) {
		t.Error("buffer not zeroed")
	}
	SecureZero(nil) // must not panic
}

func TestKeyMaterialLifecycle(t *testing.T) {
	orig := []byte("master key bytes")
	km := NewKeyMaterial(orig)

	if !bytes.Equal(km.Bytes(), orig) {
		t.Error("KeyMaterial does not hold a copy of the data")
	}
	if km.Len() != len(orig) {
		t.Errorf("Len = %d; want %d", km.Len(), len(orig))
	}

	// Mutating the original must not affect the copy.
	orig[0] = 'X'
	if km.Bytes()[0] == 'X' {
		t.Error("KeyMaterial aliases the caller's slice")
	}

	km.Close()
	if !km.IsClosed() || km.Bytes() != nil || km.Len() != 0 {
		t.Error("Close did not invalidate the material")
	}
	km.Close() // idempotent
}
