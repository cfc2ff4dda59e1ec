// Package memsim simulates a sequence-programmed memory-bus controller with
// one W25Q-style NOR array behind it. It implements qflash.Controller for
// tests and bring-up rigs: erase returns cells to 0xFF, programming can only
// clear bits, mutating sequences require a write-enable latch and leave the
// busy bit set for a configurable number of status polls.
package memsim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gentam/qflash"
)

// Range is one recorded cache invalidation.
type Range struct {
	Offset uint32
	Size   uint32
}

// Chunk is one recorded program transfer.
type Chunk struct {
	Offset uint32
	Len    uint32
}

// Critical counts critical-section entries so tests can assert the guard
// brackets every execute-in-place write.
type Critical struct {
	Entered int
	Exited  int
	Depth   int
}

func (c *Critical) Enter() { c.Entered++; c.Depth++ }
func (c *Critical) Exit()  { c.Exited++; c.Depth-- }

// Controller is the simulated memory-bus controller. The zero value is not
// usable; construct with New.
type Controller struct {
	mu sync.Mutex

	geom  qflash.Geometry
	array []byte
	id    [3]byte

	table      *qflash.CommandTable
	port       qflash.Port
	configured bool

	wel  bool
	quad bool
	busy int // status polls left before the busy bit clears

	xip  bool
	crit *Critical

	// BusyPolls is how many status polls report busy after each mutating
	// sequence, to exercise the poll loop. Default 0: idle at once.
	BusyPolls int

	// FailQuadEnable makes the write-status sequence silently drop the
	// quad-enable bit, as a part with a stuck status register would.
	FailQuadEnable bool

	// NoWindow hides the memory-mapped window so reads take the
	// transfer sequence path.
	NoWindow bool

	// Ops counts transfers per operation. Chunks records every program
	// transfer, Invalidated every cache invalidation.
	Ops         map[qflash.Op]int
	Chunks      []Chunk
	Invalidated []Range
	Resets      int
}

// New builds a simulated controller holding an erased array of the given
// geometry, identifying itself with the W25Q128JV JEDEC id.
func New(geom qflash.Geometry) *Controller {
	array := make([]byte, geom.Size)
	for i := range array {
		array[i] = 0xFF
	}
	return &Controller{
		geom:  geom,
		array: array,
		id:    [3]byte{0xEF, 0x40, 0x18},
		Ops:   make(map[qflash.Op]int),
	}
}

// SetXIP marks the array as currently backing executed code.
func (c *Controller) SetXIP(active bool, crit *Critical) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.xip = active
	c.crit = crit
}

// ClearTrace resets the recorded counters so a test can scope assertions to
// the calls after bring-up.
func (c *Controller) ClearTrace() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Ops = make(map[qflash.Op]int)
	c.Chunks = nil
	c.Invalidated = nil
	c.Resets = 0
}

// TotalOps is the number of transfers recorded since the last ClearTrace.
func (c *Controller) TotalOps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.Ops {
		n += v
	}
	return n
}

// Bytes exposes the backing array for direct inspection.
func (c *Controller) Bytes() []byte { return c.array }

func (c *Controller) SetDeviceConfig(cfg qflash.DeviceConfig, table *qflash.CommandTable, port qflash.Port) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if table == nil {
		return errors.New("nil command table")
	}
	if cfg.FlashSize != 0 && cfg.FlashSize != c.geom.Size {
		return fmt.Errorf("configured size %d does not match array size %d", cfg.FlashSize, c.geom.Size)
	}
	c.table = table
	c.port = port
	c.configured = true
	return nil
}

func (c *Controller) Transfer(t *qflash.Transfer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.configured {
		return errors.New("transfer before device configuration")
	}
	if t.Port != c.port {
		return fmt.Errorf("transfer on unconfigured port %d", t.Port)
	}
	if c.table[t.Op][0].Phase != qflash.PhaseCommand {
		return fmt.Errorf("sequence %d has no command phase", t.Op)
	}
	c.Ops[t.Op]++

	// Only status polls may interleave with an in-flight write/erase.
	if c.busy > 0 {
		if t.Op != qflash.OpReadStatus1 && t.Op != qflash.OpReadStatus2 {
			return fmt.Errorf("%s issued while busy", t.Op)
		}
	}
	if c.xip && c.crit != nil && c.crit.Depth == 0 && mutates(t.Op) {
		return fmt.Errorf("%s issued outside critical section while XIP", t.Op)
	}

	switch t.Op {
	case qflash.OpReadStatus1:
		sr := byte(0)
		if c.busy > 0 {
			c.busy--
			sr |= 0x01
		}
		if c.wel {
			sr |= 0x02
		}
		t.Data[0] = sr

	case qflash.OpReadStatus2:
		sr := byte(0)
		if c.quad {
			sr |= 0x02
		}
		t.Data[0] = sr

	case qflash.OpWriteEnable:
		c.wel = true

	case qflash.OpWriteStatus:
		if err := c.latch(t.Op); err != nil {
			return err
		}
		if len(t.Data) >= 2 && t.Data[1]&0x02 != 0 && !c.FailQuadEnable {
			c.quad = true
		}

	case qflash.OpReadID:
		copy(t.Data, c.id[:])

	case qflash.OpReadQuadIO, qflash.OpReadQuadOutput, qflash.OpReadData:
		if err := c.checkRange(t.Offset, uint32(len(t.Data))); err != nil {
			return err
		}
		copy(t.Data, c.array[t.Offset:])

	case qflash.OpPageProgram, qflash.OpPageProgramQuad:
		if err := c.latch(t.Op); err != nil {
			return err
		}
		if err := c.checkRange(t.Offset, uint32(len(t.Data))); err != nil {
			return err
		}
		page := c.geom.PageSize
		if t.Offset%page+uint32(len(t.Data)) > page {
			return fmt.Errorf("program [%#x, +%d) crosses a page boundary", t.Offset, len(t.Data))
		}
		// NOR cells only clear bits until the next erase.
		for i, b := range t.Data {
			c.array[t.Offset+uint32(i)] &= b
		}
		c.Chunks = append(c.Chunks, Chunk{Offset: t.Offset, Len: uint32(len(t.Data))})

	case qflash.OpEraseSector:
		if err := c.erase(t.Op, t.Offset, c.geom.SectorSize); err != nil {
			return err
		}

	case qflash.OpEraseBlock:
		if err := c.erase(t.Op, t.Offset, c.geom.BlockSize); err != nil {
			return err
		}

	case qflash.OpEraseChip:
		if err := c.erase(t.Op, 0, c.geom.Size); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unhandled operation %s", t.Op)
	}
	return nil
}

// latch consumes the write-enable latch for a mutating sequence.
func (c *Controller) latch(op qflash.Op) error {
	if !c.wel {
		return fmt.Errorf("%s without write enable", op)
	}
	c.wel = false
	c.busy = c.BusyPolls
	return nil
}

func (c *Controller) erase(op qflash.Op, offset, size uint32) error {
	if err := c.latch(op); err != nil {
		return err
	}
	if offset%size != 0 {
		return fmt.Errorf("%s offset %#x not aligned to %d", op, offset, size)
	}
	if err := c.checkRange(offset, size); err != nil {
		return err
	}
	for i := offset; i < offset+size; i++ {
		c.array[i] = 0xFF
	}
	return nil
}

func (c *Controller) checkRange(offset, size uint32) error {
	if offset > c.geom.Size || size > c.geom.Size-offset {
		return fmt.Errorf("access [%#x, +%d) beyond array end", offset, size)
	}
	return nil
}

func mutates(op qflash.Op) bool {
	switch op {
	case qflash.OpWriteStatus, qflash.OpPageProgram, qflash.OpPageProgramQuad,
		qflash.OpEraseSector, qflash.OpEraseBlock, qflash.OpEraseChip:
		return true
	}
	return false
}

func (c *Controller) Window(port qflash.Port) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.NoWindow || port != c.port {
		return nil
	}
	return c.array
}

func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Resets++
}

func (c *Controller) WaitBusIdle() {}

func (c *Controller) XIPActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.xip
}

func (c *Controller) InvalidateRange(port qflash.Port, offset, size uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if port != c.port {
		return
	}
	c.Invalidated = append(c.Invalidated, Range{Offset: offset, Size: size})
}
