package qflash

import (
	"errors"
	"fmt"
)

const (
	writeBlockSize = 1    // program granularity in bytes
	eraseValue     = 0xFF // byte value of erased cells
)

// Config selects the port and behavior of a Flash handle.
type Config struct {
	Port Port

	// Geometry of the attached part. Left zero, it is resolved from the
	// JEDEC id probe at Init (known parts only).
	Geometry Geometry

	// Device carries the per-port controller configuration installed at
	// bring-up.
	Device DeviceConfig

	// StageWrites copies each program chunk into a one-page staging
	// buffer owned by the handle before it is handed to the controller.
	// Needed when the caller's buffer may not be safely read during the
	// bus transfer, e.g. it aliases the mapped window being modified.
	StageWrites bool

	// SingleLaneProgram selects the single-lane page program sequence
	// instead of quad input, for parts or rigs without quad data wiring.
	SingleLaneProgram bool

	// SingleLaneRead selects the single-lane read sequence for the
	// windowless read fallback instead of quad output.
	SingleLaneRead bool

	// Critical is entered around program/erase while execute-in-place is
	// active. Defaults to a no-op for hosted ports.
	Critical CriticalSection
}

// Flash is the handle for one NOR device on one controller port. A handle is
// created once at bring-up and owns its port's command channel exclusively;
// concurrent calls into the same handle must be serialized by the caller.
type Flash struct {
	mc   Controller
	port Port
	geom Geometry
	dc   DeviceConfig
	crit CriticalSection

	progOp Op
	readOp Op
	stage  []byte // one page; nil unless Config.StageWrites

	id    [3]byte
	name  string
	ready bool
}

// New builds a Flash handle on mc. The device is not touched until Init.
func New(mc Controller, cfg Config) (*Flash, error) {
	if mc == nil {
		return nil, errors.New("nil controller")
	}
	f := &Flash{
		mc:     mc,
		port:   cfg.Port,
		geom:   cfg.Geometry,
		dc:     cfg.Device,
		crit:   cfg.Critical,
		progOp: OpPageProgramQuad,
		readOp: OpReadQuadOutput,
	}
	if cfg.SingleLaneProgram {
		f.progOp = OpPageProgram
	}
	if cfg.SingleLaneRead {
		f.readOp = OpReadData
	}
	if f.crit == nil {
		f.crit = nopCritical{}
	}
	if f.geom != (Geometry{}) {
		if err := f.geom.validate(); err != nil {
			return nil, err
		}
		if cfg.StageWrites {
			f.stage = make([]byte, f.geom.PageSize)
		}
	} else if cfg.StageWrites {
		// Allocated at Init once the page size is known.
		f.stage = []byte{}
	}
	return f, nil
}

// Init brings the device up: installs the command table, probes the JEDEC id
// and switches the part into quad mode. The handle is not usable before Init
// returns nil; a failed Init leaves the device un-initialized.
func (f *Flash) Init() error {
	if f.mc.XIPActive() {
		// Code is being fetched through the window; let in-flight
		// controller activity drain before reprogramming it.
		f.mc.WaitBusIdle()
	}

	if f.dc.FlashSize == 0 {
		f.dc.FlashSize = f.geom.Size
	}
	if err := f.mc.SetDeviceConfig(f.dc, &W25Q128JV, f.port); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	if err := f.settle(); err != nil {
		return err
	}

	id, _, err := f.ReadID()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceNotResponding, err)
	}
	if f.geom == (Geometry{}) {
		_, geom, ok := LookupPart(id)
		if !ok {
			return fmt.Errorf("%w: unknown part %X and no geometry configured", ErrConfig, id)
		}
		f.geom = geom
		f.dc.FlashSize = geom.Size
	}
	if f.stage != nil && len(f.stage) == 0 {
		f.stage = make([]byte, f.geom.PageSize)
	}

	if err := f.enableQuad(); err != nil {
		return err
	}
	if err := f.settle(); err != nil {
		return err
	}

	f.ready = true
	return nil
}

// dispatch builds the transfer for op and hands it to the controller. No
// retries here: a transport failure is the caller's to handle.
func (f *Flash) dispatch(op Op, offset uint32, kind TransferKind, data []byte) error {
	return f.mc.Transfer(&Transfer{
		Offset: offset,
		Port:   f.port,
		Kind:   kind,
		Op:     op,
		Data:   data,
	})
}

func (f *Flash) writeEnable() error {
	return f.dispatch(OpWriteEnable, 0, TransferCommand, nil)
}

// ReadStatus reads the device's first status register.
func (f *Flash) ReadStatus() (StatusRegister, error) {
	var sr [1]byte
	if err := f.dispatch(OpReadStatus1, 0, TransferRead, sr[:]); err != nil {
		return 0, err
	}
	return StatusRegister(sr[0]), nil
}

// ReadStatus2 reads the device's second status register.
func (f *Flash) ReadStatus2() (StatusRegister2, error) {
	var sr [1]byte
	if err := f.dispatch(OpReadStatus2, 0, TransferRead, sr[:]); err != nil {
		return 0, err
	}
	return StatusRegister2(sr[0]), nil
}

// waitUntilIdle polls status register 1 until the busy bit clears. The loop
// is unbounded: completion time is bounded by the part's own program/erase
// timing, and a transport error aborts immediately. Issuing any other command
// while the bit is set corrupts the in-flight operation.
func (f *Flash) waitUntilIdle() error {
	for {
		sr, err := f.ReadStatus()
		if err != nil {
			return err
		}
		if !sr.Busy() {
			return nil
		}
	}
}

// settle follows every state-mutating sequence: poll until the device is
// idle, then clear controller transaction state.
func (f *Flash) settle() error {
	if err := f.waitUntilIdle(); err != nil {
		return err
	}
	f.mc.Reset()
	return nil
}

// ReadID probes the JEDEC id. It returns a non-empty name for known parts.
func (f *Flash) ReadID() (id [3]byte, name string, err error) {
	buf := make([]byte, 3)
	if err = f.dispatch(OpReadID, 0, TransferRead, buf); err != nil {
		return
	}
	id = [3]byte(buf)
	f.id = id
	if n, _, ok := LookupPart(id); ok {
		f.name = n
		name = n
	}
	return id, name, nil
}

// ID returns the JEDEC id and part name captured by the last ReadID.
func (f *Flash) ID() (id [3]byte, name string) { return f.id, f.name }

// enableQuad runs the one-shot quad-mode handshake: write-enable, write
// status register 2's quad-enable bit, wait, verify the bit read back, wait,
// reset. Verification failure is fatal to bring-up.
func (f *Flash) enableQuad() error {
	if err := f.writeEnable(); err != nil {
		return err
	}
	payload := [2]byte{0x00, quadEnabled}
	if err := f.dispatch(OpWriteStatus, 0, TransferWrite, payload[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrStatusWrite, err)
	}
	if err := f.waitUntilIdle(); err != nil {
		return err
	}
	sr2, err := f.ReadStatus2()
	if err != nil {
		return err
	}
	if sr2 != quadEnabled {
		return fmt.Errorf("%w: status register 2 reads %#02x", ErrQuadEnable, byte(sr2))
	}
	if err := f.waitUntilIdle(); err != nil {
		return err
	}
	f.mc.Reset()
	return nil
}

// xipGuard is the scoped critical section wrapped around program/erase. It
// is entered only while execute-in-place is active and released exactly once
// on every exit path.
type xipGuard struct {
	cs   CriticalSection
	held bool
}

func (f *Flash) guardXIP() *xipGuard {
	g := &xipGuard{cs: f.crit}
	if f.mc.XIPActive() {
		g.cs.Enter()
		g.held = true
	}
	return g
}

func (g *xipGuard) release() {
	if g.held {
		g.held = false
		g.cs.Exit()
	}
}

// Read copies len(buf) bytes at offset out of the memory-mapped window. No
// command sequence is issued and no busy-wait applies; the window is kept
// coherent by the invalidation after Program and Erase. Controllers without
// a window fall back to a read sequence: quad output by default, single-lane
// with Config.SingleLaneRead.
func (f *Flash) Read(offset uint32, buf []byte) error {
	if err := f.checkReady(); err != nil {
		return err
	}
	if err := f.checkRange(offset, uint32(len(buf))); err != nil {
		return err
	}
	if win := f.mc.Window(f.port); win != nil {
		copy(buf, win[offset:offset+uint32(len(buf))])
		return nil
	}
	return f.dispatch(f.readOp, offset, TransferRead, buf)
}

// Program writes buf to the device at offset. Offset and length are
// unconstrained; the write is split so that no single program sequence
// crosses a page boundary, which on the wire would wrap within the page and
// corrupt the data. Each chunk is write-enabled, programmed, polled idle and
// followed by a controller reset. A failure partway leaves the device
// partially programmed.
func (f *Flash) Program(offset uint32, buf []byte) error {
	if err := f.checkReady(); err != nil {
		return err
	}
	if err := f.checkRange(offset, uint32(len(buf))); err != nil {
		return err
	}
	start, total := offset, uint32(len(buf))

	g := f.guardXIP()
	defer g.release()

	for len(buf) > 0 {
		// Fill only to the end of the current page.
		n := f.geom.PageSize - offset%f.geom.PageSize
		if uint32(len(buf)) < n {
			n = uint32(len(buf))
		}
		src := buf[:n]
		if f.stage != nil {
			copy(f.stage[:n], src)
			src = f.stage[:n]
		}
		if err := f.writeEnable(); err != nil {
			return err
		}
		if err := f.dispatch(f.progOp, offset, TransferWrite, src); err != nil {
			return err
		}
		if err := f.settle(); err != nil {
			return err
		}
		offset += n
		buf = buf[n:]
	}

	g.release()
	f.mc.InvalidateRange(f.port, start, total)
	return nil
}

// Erase erases [offset, offset+size). Both must be sector aligned or the
// call fails before any bus activity. Granularity is chosen by priority:
// the whole device in one chip erase, block erases when both bounds are
// block aligned, sector erases otherwise. The priority only changes how many
// bus transactions are issued, not the result.
func (f *Flash) Erase(offset, size uint32) error {
	if err := f.checkReady(); err != nil {
		return err
	}
	if offset%f.geom.SectorSize != 0 || size%f.geom.SectorSize != 0 {
		return fmt.Errorf("%w: erase bounds must be multiples of %d", ErrInvalidArgument, f.geom.SectorSize)
	}
	if err := f.checkRange(offset, size); err != nil {
		return err
	}
	start := offset

	g := f.guardXIP()
	defer g.release()

	switch {
	case offset == 0 && size == f.geom.Size:
		if err := f.eraseStep(OpEraseChip, 0); err != nil {
			return err
		}
	case offset%f.geom.BlockSize == 0 && size%f.geom.BlockSize == 0:
		for n := size / f.geom.BlockSize; n > 0; n-- {
			if err := f.eraseStep(OpEraseBlock, offset); err != nil {
				return err
			}
			offset += f.geom.BlockSize
		}
	default:
		for n := size / f.geom.SectorSize; n > 0; n-- {
			if err := f.eraseStep(OpEraseSector, offset); err != nil {
				return err
			}
			offset += f.geom.SectorSize
		}
	}

	g.release()
	f.mc.InvalidateRange(f.port, start, size)
	return nil
}

func (f *Flash) eraseStep(op Op, offset uint32) error {
	if err := f.writeEnable(); err != nil {
		return err
	}
	if err := f.dispatch(op, offset, TransferCommand, nil); err != nil {
		return err
	}
	return f.settle()
}

// checkReady rejects data operations before a successful Init; the geometry
// those operations divide by may not be resolved yet.
func (f *Flash) checkReady() error {
	if !f.ready {
		return fmt.Errorf("%w: device not initialized", ErrInvalidArgument)
	}
	return nil
}

func (f *Flash) checkRange(offset, size uint32) error {
	if offset > f.geom.Size || size > f.geom.Size-offset {
		return fmt.Errorf("%w: [%#x, +%#x) is outside the device", ErrInvalidArgument, offset, size)
	}
	return nil
}

// Params are the program/erase characteristics exposed to dependents.
type Params struct {
	WriteBlockSize uint32
	EraseValue     byte
}

// PageLayout describes the device as uniformly erasable pages. Pages here
// are erase units (sectors), not program pages.
type PageLayout struct {
	PageCount uint32
	PageSize  uint32
}

func (f *Flash) Params() Params {
	return Params{WriteBlockSize: writeBlockSize, EraseValue: eraseValue}
}

func (f *Flash) PageLayout() PageLayout {
	return PageLayout{
		PageCount: f.geom.Size / f.geom.SectorSize,
		PageSize:  f.geom.SectorSize,
	}
}

// Geometry returns the resolved part geometry.
func (f *Flash) Geometry() Geometry { return f.geom }

// Ready reports whether Init completed.
func (f *Flash) Ready() bool { return f.ready }
