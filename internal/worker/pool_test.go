package worker

import (
	"bytes"
	"errors"
	"sync/atomic"
	"testing"
)

func TestRunInlineWhenStopped(t *testing.T) {
	p := &Pool{}

	var ran atomic.Int32
	err := p.Run([]Job{
		func() error { ran.Add(1); return nil },
		func() error { ran.Add(1); return nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	if ran.Load() != 2 {
		t.Errorf("ran = %d; want 2", ran.Load())
	}
}

func TestRunJoinsAllJobs(t *testing.T) {
	p := &Pool{}
	p.StartN(4)
	defer p.Stop()

	var ran atomic.Int32
	jobs := make([]Job, 64)
	for i := range jobs {
		jobs[i] = func() error { ran.Add(1); return nil }
	}
	if err := p.Run(jobs); err != nil {
		t.Fatal(err)
	}
	if ran.Load() != 64 {
		t.Errorf("ran = %d; want 64", ran.Load())
	}
}

func TestFirstErrorWins(t *testing.T) {
	p := &Pool{}
	p.StartN(2)
	defer p.Stop()

	boom := errors.New("job failed")
	err := p.Run([]Job{
		func() error { return nil },
		func() error { return boom },
		func() error { return nil },
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v; want the job error", err)
	}
}

func TestSizingClamp(t *testing.T) {
	p := &Pool{}
	p.StartN(1000)
	defer p.Stop()
	if p.Size() > MaxWorkers {
		t.Errorf("size = %d; want <= %d", p.Size(), MaxWorkers)
	}
}

func TestRestart(t *testing.T) {
	p := &Pool{}
	p.StartN(2)
	p.Restart()
	defer p.Stop()

	if !p.IsRunning() {
		t.Fatal("pool not running after Restart")
	}
	if err := p.Run([]Job{func() error { return nil }}); err != nil {
		t.Fatal(err)
	}
}

func TestRunSectorsCoversWholeBuffer(t *testing.T) {
	p := &Pool{}
	p.StartN(4)
	defer p.Stop()

	const sectorSize = 512
	buf := make([]byte, 37*sectorSize)

	// Mark each sector with its index via the fragment callback; every
	// sector must be visited exactly once with the right base index.
	err := p.RunSectors(buf, 100, sectorSize, func(frag []byte, sector uint64) error {
		for off := 0; off < len(frag); off += sectorSize {
			idx := sector + uint64(off/sectorSize)
			frag[off] = byte(idx)
			frag[off+1]++
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 37; i++ {
		if buf[i*sectorSize] != byte(100+i) {
			t.Fatalf("sector %d saw base index %d", i, buf[i*sectorSize])
		}
		if buf[i*sectorSize+1] != 1 {
			t.Fatalf("sector %d visited %d times", i, buf[i*sectorSize+1])
		}
	}
}

func TestRunSectorsEmptyBuffer(t *testing.T) {
	p := &Pool{}
	if err := p.RunSectors(nil, 0, 512, func([]byte, uint64) error {
		t.Error("callback invoked for empty buffer")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestRunSectorsFragmentsAreDisjoint(t *testing.T) {
	p := &Pool{}
	p.StartN(8)
	defer p.Stop()

	const sectorSize = 16
	buf := bytes.Repeat([]byte{0}, 129*sectorSize)

	err := p.RunSectors(buf, 0, sectorSize, func(frag []byte, sector uint64) error {
		for i := range frag {
			frag[i]++
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range buf {
		if b != 1 {
			t.Fatalf("byte %d touched %d times", i, b)
		}
	}
}
