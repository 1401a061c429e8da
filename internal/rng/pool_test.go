package rng

import (
	"bytes"
	"testing"

	"basalt/internal/errors"
)

func TestStartStopLifecycle(t *testing.T) {
	p := &Pool{}

	buf := make([]byte, 32)
	if err := p.GetData(buf); !errors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("GetData before Start = %v; want ErrNotInitialized", err)
	}
	if err := p.AddToPool([]byte("entropy")); !errors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("AddToPool before Start = %v; want ErrNotInitialized", err)
	}

	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.IsRunning() {
		t.Error("pool not running after Start")
	}
	// Idempotent
	if err := p.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	p.Stop()
	if p.IsRunning() {
		t.Error("pool running after Stop")
	}
	if err := p.GetData(buf); !errors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("GetData after Stop = %v; want ErrNotInitialized", err)
	}
}

func TestLiveness(t *testing.T) {
	// Two successive draws must not be equal and must not XOR to zero.
	p := &Pool{}
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	a := make([]byte, 64)
	b := make([]byte, 64)
	if err := p.GetData(a); err != nil {
		t.Fatal(err)
	}
	if err := p.GetData(b); err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(a, b) {
		t.Error("successive draws are identical")
	}
	allZero := true
	for i := range a {
		if a[i]^b[i] != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Error("XOR of successive draws is identically zero")
	}
}

func TestGetDataBoundedByPoolSize(t *testing.T) {
	p := &Pool{}
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	if err := p.GetData(make([]byte, PoolSize+1)); err == nil {
		t.Error("expected error for oversized request")
	}
	if err := p.GetData(make([]byte, PoolSize)); err != nil {
		t.Errorf("pool-sized request failed: %v", err)
	}
}

func TestFillLargeBuffer(t *testing.T) {
	p := &Pool{}
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	buf := make([]byte, 3*PoolSize+17)
	if err := p.Fill(buf); err != nil {
		t.Fatal(err)
	}

	// A multi-kilobyte fill of all zeros would mean the pool is dead.
	if bytes.Equal(buf, make([]byte, len(buf))) {
		t.Error("Fill produced all zeros")
	}
}

func TestAddToPoolAccepted(t *testing.T) {
	p := &Pool{}
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	// Feed more than the mix threshold to force remixing.
	if err := p.AddToPool(bytes.Repeat([]byte{0xa5}, PoolSize*2)); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 32)
	if err := p.GetData(buf); err != nil {
		t.Fatal(err)
	}
}
