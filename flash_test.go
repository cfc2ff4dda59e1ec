package qflash_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gentam/qflash"
	"github.com/gentam/qflash/memsim"
)

// Small test geometry so chip-wide cases stay fast.
var testGeom = qflash.Geometry{
	Size:       64 << 10,
	BlockSize:  16 << 10,
	SectorSize: 4 << 10,
	PageSize:   256,
}

func newFlash(t *testing.T, cfg qflash.Config) (*qflash.Flash, *memsim.Controller) {
	t.Helper()
	if cfg.Geometry == (qflash.Geometry{}) {
		cfg.Geometry = testGeom
	}
	sim := memsim.New(cfg.Geometry)
	f, err := qflash.New(sim, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := f.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !f.Ready() {
		t.Fatal("flash not ready after Init")
	}
	sim.ClearTrace()
	return f, sim
}

func TestProgramChunking(t *testing.T) {
	// page 256: a 300 byte write at 250 must split into 6 + 256 + 38,
	// each chunk write-enabled and followed by idle poll + reset.
	f, sim := newFlash(t, qflash.Config{})

	data := bytes.Repeat([]byte{0xA5}, 300)
	if err := f.Program(250, data); err != nil {
		t.Fatalf("Program: %v", err)
	}

	want := []memsim.Chunk{{Offset: 250, Len: 6}, {Offset: 256, Len: 256}, {Offset: 512, Len: 38}}
	if len(sim.Chunks) != len(want) {
		t.Fatalf("got %d chunks %v, want %v", len(sim.Chunks), sim.Chunks, want)
	}
	for i, c := range sim.Chunks {
		if c != want[i] {
			t.Errorf("chunk %d: got %+v, want %+v", i, c, want[i])
		}
	}
	if got := sim.Ops[qflash.OpWriteEnable]; got != 3 {
		t.Errorf("write-enable count: got %d, want 3", got)
	}
	if sim.Resets != 3 {
		t.Errorf("reset count: got %d, want 3", sim.Resets)
	}
	if sim.Ops[qflash.OpReadStatus1] < 3 {
		t.Errorf("status polls: got %d, want >= 3", sim.Ops[qflash.OpReadStatus1])
	}
}

func TestProgramNeverCrossesPage(t *testing.T) {
	f, sim := newFlash(t, qflash.Config{})
	page := testGeom.PageSize

	for _, offset := range []uint32{0, 1, 17, 255, 256, 511, 1000} {
		for _, length := range []int{1, 7, 255, 256, 257, 300, 1025} {
			sim.ClearTrace()
			if err := f.Program(offset, make([]byte, length)); err != nil {
				t.Fatalf("Program(%d, %d bytes): %v", offset, length, err)
			}
			total := uint32(0)
			for _, c := range sim.Chunks {
				if c.Offset/page != (c.Offset+c.Len-1)/page {
					t.Errorf("Program(%d, %d): chunk %+v crosses a page boundary", offset, length, c)
				}
				total += c.Len
			}
			if total != uint32(length) {
				t.Errorf("Program(%d, %d): chunks cover %d bytes", offset, length, total)
			}
		}
	}
}

func TestProgramBusyPolling(t *testing.T) {
	f, sim := newFlash(t, qflash.Config{})
	sim.BusyPolls = 3

	if err := f.Program(0, make([]byte, 16)); err != nil {
		t.Fatalf("Program: %v", err)
	}
	// one chunk: 3 busy polls plus the final idle poll
	if got := sim.Ops[qflash.OpReadStatus1]; got != 4 {
		t.Errorf("status polls: got %d, want 4", got)
	}
}

func TestEraseAlignment(t *testing.T) {
	f, sim := newFlash(t, qflash.Config{})

	for _, tc := range []struct{ offset, size uint32 }{
		{1, testGeom.SectorSize},
		{testGeom.SectorSize, 100},
		{testGeom.SectorSize / 2, testGeom.SectorSize / 2},
	} {
		err := f.Erase(tc.offset, tc.size)
		if !errors.Is(err, qflash.ErrInvalidArgument) {
			t.Errorf("Erase(%d, %d): got %v, want ErrInvalidArgument", tc.offset, tc.size, err)
		}
	}
	if n := sim.TotalOps(); n != 0 {
		t.Errorf("misaligned erase reached the bus: %d transfers", n)
	}
}

func TestEraseGranularity(t *testing.T) {
	f, sim := newFlash(t, qflash.Config{})

	cases := []struct {
		name         string
		offset, size uint32
		wantOp       qflash.Op
		wantCount    int
	}{
		{"chip", 0, testGeom.Size, qflash.OpEraseChip, 1},
		{"blocks", testGeom.BlockSize, 2 * testGeom.BlockSize, qflash.OpEraseBlock, 2},
		{"whole-as-blocks", 0, testGeom.Size - testGeom.BlockSize, qflash.OpEraseBlock, 3},
		{"sectors", testGeom.SectorSize, 2 * testGeom.SectorSize, qflash.OpEraseSector, 2},
		{"mixed-goes-sectors", 0, testGeom.BlockSize + testGeom.SectorSize, qflash.OpEraseSector, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sim.ClearTrace()
			if err := f.Erase(tc.offset, tc.size); err != nil {
				t.Fatalf("Erase(%d, %d): %v", tc.offset, tc.size, err)
			}
			for _, op := range []qflash.Op{qflash.OpEraseChip, qflash.OpEraseBlock, qflash.OpEraseSector} {
				want := 0
				if op == tc.wantOp {
					want = tc.wantCount
				}
				if got := sim.Ops[op]; got != want {
					t.Errorf("%s count: got %d, want %d", op, got, want)
				}
			}
			if got := sim.Ops[qflash.OpWriteEnable]; got != tc.wantCount {
				t.Errorf("write-enable count: got %d, want %d", got, tc.wantCount)
			}
			if sim.Resets != tc.wantCount {
				t.Errorf("reset count: got %d, want %d", sim.Resets, tc.wantCount)
			}
		})
	}
}

func TestEraseIdempotent(t *testing.T) {
	f, _ := newFlash(t, qflash.Config{})
	sector := testGeom.SectorSize

	for i := 0; i < 2; i++ {
		if err := f.Erase(sector, sector); err != nil {
			t.Fatalf("Erase: %v", err)
		}
	}
	buf := make([]byte, sector)
	if err := f.Read(sector, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	fill := f.Params().EraseValue
	for i, b := range buf {
		if b != fill {
			t.Fatalf("byte %d: got %#02x, want %#02x", i, b, fill)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	pattern := func(n int) []byte {
		p := make([]byte, n)
		for i := range p {
			p[i] = byte(i*7 + 3)
		}
		return p
	}

	t.Run("sub-page-unaligned", func(t *testing.T) {
		f, _ := newFlash(t, qflash.Config{})
		data := pattern(100)
		if err := f.Program(13, data); err != nil {
			t.Fatalf("Program: %v", err)
		}
		got := make([]byte, len(data))
		if err := f.Read(13, got); err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("read back mismatch:\ngot  %x\nwant %x", got, data)
		}
	})

	t.Run("multi-page", func(t *testing.T) {
		f, _ := newFlash(t, qflash.Config{})
		data := pattern(3*int(testGeom.PageSize) + 50)
		if err := f.Program(300, data); err != nil {
			t.Fatalf("Program: %v", err)
		}
		got := make([]byte, len(data))
		if err := f.Read(300, got); err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Error("multi-page read back mismatch")
		}
	})

	t.Run("staged-writes", func(t *testing.T) {
		f, _ := newFlash(t, qflash.Config{StageWrites: true})
		data := pattern(500)
		if err := f.Program(250, data); err != nil {
			t.Fatalf("Program: %v", err)
		}
		got := make([]byte, len(data))
		if err := f.Read(250, got); err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Error("staged read back mismatch")
		}
	})
}

func TestReadFallbackWithoutWindow(t *testing.T) {
	f, sim := newFlash(t, qflash.Config{})
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := f.Program(64, data); err != nil {
		t.Fatalf("Program: %v", err)
	}

	sim.NoWindow = true
	sim.ClearTrace()
	got := make([]byte, len(data))
	if err := f.Read(64, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("got %x, want %x", got, data)
	}
	if sim.Ops[qflash.OpReadQuadOutput] != 1 {
		t.Errorf("windowless read did not use the quad output sequence: %v", sim.Ops)
	}
}

func TestSingleLaneReadFallback(t *testing.T) {
	f, sim := newFlash(t, qflash.Config{SingleLaneRead: true})
	data := []byte{0x12, 0x34, 0x56}
	if err := f.Program(128, data); err != nil {
		t.Fatalf("Program: %v", err)
	}

	sim.NoWindow = true
	sim.ClearTrace()
	got := make([]byte, len(data))
	if err := f.Read(128, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("got %x, want %x", got, data)
	}
	if sim.Ops[qflash.OpReadData] != 1 {
		t.Errorf("read did not use the single-lane sequence: %v", sim.Ops)
	}
	if sim.Ops[qflash.OpReadQuadOutput] != 0 {
		t.Errorf("read used a quad sequence: %v", sim.Ops)
	}
}

func TestStatusReaders(t *testing.T) {
	f, _ := newFlash(t, qflash.Config{})

	sr1, err := f.ReadStatus()
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if sr1.Busy() || sr1.WriteEnabled() {
		t.Errorf("idle device reports %s", sr1)
	}

	sr2, err := f.ReadStatus2()
	if err != nil {
		t.Fatalf("ReadStatus2: %v", err)
	}
	if !sr2.QuadEnabled() {
		t.Errorf("quad not enabled after bring-up: %s", sr2)
	}
	if got := sr2.String(); got != "00000010 QE" {
		t.Errorf("String: got %q", got)
	}
}

func TestOperationsBeforeInit(t *testing.T) {
	// A zero-geometry config defers layout resolution to Init; data
	// operations before that have nothing to divide by and must be
	// rejected rather than reach the bus.
	sim := memsim.New(testGeom)
	f, err := qflash.New(sim, qflash.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := f.Erase(0, testGeom.SectorSize); !errors.Is(err, qflash.ErrInvalidArgument) {
		t.Errorf("Erase: got %v, want ErrInvalidArgument", err)
	}
	if err := f.Program(0, make([]byte, 16)); !errors.Is(err, qflash.ErrInvalidArgument) {
		t.Errorf("Program: got %v, want ErrInvalidArgument", err)
	}
	if err := f.Read(0, make([]byte, 16)); !errors.Is(err, qflash.ErrInvalidArgument) {
		t.Errorf("Read: got %v, want ErrInvalidArgument", err)
	}
	if n := sim.TotalOps(); n != 0 {
		t.Errorf("uninitialized handle reached the bus: %d transfers", n)
	}
}

func TestReadBounds(t *testing.T) {
	f, _ := newFlash(t, qflash.Config{})
	err := f.Read(testGeom.Size-4, make([]byte, 8))
	if !errors.Is(err, qflash.ErrInvalidArgument) {
		t.Errorf("got %v, want ErrInvalidArgument", err)
	}
}

func TestQuadEnableFailure(t *testing.T) {
	sim := memsim.New(testGeom)
	sim.FailQuadEnable = true
	f, err := qflash.New(sim, qflash.Config{Geometry: testGeom})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = f.Init()
	if !errors.Is(err, qflash.ErrQuadEnable) {
		t.Fatalf("Init: got %v, want ErrQuadEnable", err)
	}
	if f.Ready() {
		t.Error("device marked ready after failed quad enable")
	}
}

func TestXIPGuard(t *testing.T) {
	t.Run("not-xip", func(t *testing.T) {
		crit := &memsim.Critical{}
		f, sim := newFlash(t, qflash.Config{Critical: crit})
		sim.SetXIP(false, nil)
		if err := f.Program(0, make([]byte, 10)); err != nil {
			t.Fatalf("Program: %v", err)
		}
		if crit.Entered != 0 {
			t.Errorf("critical section entered %d times without XIP", crit.Entered)
		}
	})

	// The simulator fails any mutating transfer issued outside the
	// critical section while XIP is active, so a missing guard shows up
	// as a transfer error, not just a wrong count.
	t.Run("program", func(t *testing.T) {
		crit := &memsim.Critical{}
		f, sim := newFlash(t, qflash.Config{Critical: crit})
		sim.SetXIP(true, crit)
		if err := f.Program(0, make([]byte, 600)); err != nil {
			t.Fatalf("Program: %v", err)
		}
		if crit.Entered != 1 || crit.Exited != 1 || crit.Depth != 0 {
			t.Errorf("guard bracketing off: %+v", crit)
		}
	})

	t.Run("erase", func(t *testing.T) {
		crit := &memsim.Critical{}
		f, sim := newFlash(t, qflash.Config{Critical: crit})
		sim.SetXIP(true, crit)
		if err := f.Erase(0, 2*testGeom.SectorSize); err != nil {
			t.Fatalf("Erase: %v", err)
		}
		if crit.Entered != 1 || crit.Exited != 1 || crit.Depth != 0 {
			t.Errorf("guard bracketing off: %+v", crit)
		}
	})
}

func TestInvalidateCoversTouchedRange(t *testing.T) {
	f, sim := newFlash(t, qflash.Config{})

	if err := f.Program(250, make([]byte, 300)); err != nil {
		t.Fatalf("Program: %v", err)
	}
	if err := f.Erase(testGeom.SectorSize, 2*testGeom.SectorSize); err != nil {
		t.Fatalf("Erase: %v", err)
	}

	want := []memsim.Range{
		{Offset: 250, Size: 300},
		{Offset: testGeom.SectorSize, Size: 2 * testGeom.SectorSize},
	}
	if len(sim.Invalidated) != len(want) {
		t.Fatalf("invalidations: got %v, want %v", sim.Invalidated, want)
	}
	for i, r := range sim.Invalidated {
		if r != want[i] {
			t.Errorf("invalidation %d: got %+v, want %+v", i, r, want[i])
		}
	}
}

func TestParamsAndLayout(t *testing.T) {
	f, _ := newFlash(t, qflash.Config{})

	p := f.Params()
	if p.WriteBlockSize != 1 || p.EraseValue != 0xFF {
		t.Errorf("Params: got %+v", p)
	}
	l := f.PageLayout()
	if l.PageSize != testGeom.SectorSize || l.PageCount != testGeom.Size/testGeom.SectorSize {
		t.Errorf("PageLayout: got %+v", l)
	}
}

func TestGeometryResolvedFromID(t *testing.T) {
	// 16MB array matching the W25Q128JV id the simulator reports.
	geom := qflash.Geometry{Size: 16 << 20, BlockSize: 64 << 10, SectorSize: 4 << 10, PageSize: 256}
	sim := memsim.New(geom)
	f, err := qflash.New(sim, qflash.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := f.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if f.Geometry() != geom {
		t.Errorf("resolved geometry %+v, want %+v", f.Geometry(), geom)
	}
	if _, name := f.ID(); name != "Winbond W25Q128JV" {
		t.Errorf("part name: got %q", name)
	}
}
