// Package spihost runs the qflash driver over a plain single-lane SPI link,
// such as an FT232H/FT2232H MPSSE bridge. It interprets each command
// sequence into wire bytes the way the memory-bus controller's engine would:
// command opcode, big-endian address, dummy cycles, then the data phase.
//
// Pad-width settings in the sequences are ignored: an MPSSE-class link
// clocks one lane regardless, so quad data phases are carried on a single
// wire. This is a bring-up and recovery rig, not the performance path.
// There is no memory-mapped window; reads go through the quad-output read
// sequence fallback in qflash.
package spihost

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"

	"github.com/gentam/qflash"
)

// ErrBusyTimeout reports a part whose busy bit stayed set past its
// datasheet's worst-case operation time.
var ErrBusyTimeout = errors.New("device stuck busy")

// Controller implements qflash.Controller over an spi.Conn with a dedicated
// chip-select pin.
type Controller struct {
	conn spi.Conn
	cs   gpio.PinIO

	table *qflash.CommandTable
	port  qflash.Port

	// PollInterval throttles status polls so the unbounded busy-wait in
	// the core does not hammer the USB link.
	PollInterval time.Duration

	timings  qflash.Timings
	deadline time.Time
}

// New wraps conn and cs. Timings default to the worst case over all known
// parts; narrow them with SetTimings once the part is identified.
func New(conn spi.Conn, cs gpio.PinIO) *Controller {
	return &Controller{
		conn:         conn,
		cs:           cs,
		PollInterval: 100 * time.Microsecond,
		timings:      qflash.TimingsForID([3]byte{}),
	}
}

// SetTimings bounds the busy-poll watchdog with part-specific values.
func (c *Controller) SetTimings(t qflash.Timings) { c.timings = t }

func (c *Controller) SetDeviceConfig(cfg qflash.DeviceConfig, table *qflash.CommandTable, port qflash.Port) error {
	if c.conn == nil {
		return errors.New("no SPI connection")
	}
	if table == nil {
		return errors.New("nil command table")
	}
	c.table = table
	c.port = port
	return nil
}

// tx wraps a full-duplex SPI transaction with CS assertion.
func (c *Controller) tx(buf []byte) (err error) {
	if err = c.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer func() {
		if csErr := c.cs.Out(gpio.High); csErr != nil && err == nil {
			err = csErr
		}
	}()
	err = c.conn.Tx(buf, buf)
	return
}

func (c *Controller) Transfer(t *qflash.Transfer) error {
	if c.table == nil {
		return errors.New("transfer before device configuration")
	}
	if t.Port != c.port {
		return fmt.Errorf("transfer on unconfigured port %d", t.Port)
	}

	if t.Op == qflash.OpReadStatus1 && !c.deadline.IsZero() {
		time.Sleep(c.PollInterval)
	}

	buf, dataStart, err := c.wire(t)
	if err != nil {
		return err
	}
	if err := c.tx(buf); err != nil {
		return err
	}
	if t.Kind == qflash.TransferRead {
		copy(t.Data, buf[dataStart:])
	}

	return c.watchdog(t)
}

// wire flattens the sequence for t.Op into a full-duplex transaction buffer
// and returns where the read data phase lands in it. Sequences with phases
// clocked on more than one lane are rejected: the link has a single data
// wire, so flattening a quad phase would return interleaved garbage. Select
// the single-lane sequences (qflash.Config SingleLaneProgram/SingleLaneRead)
// when driving a part through this bridge.
func (c *Controller) wire(t *qflash.Transfer) (buf []byte, dataStart int, err error) {
	for _, in := range c.table[t.Op] {
		if in.Phase != qflash.PhaseStop && in.Pads != qflash.Pads1 {
			return nil, 0, fmt.Errorf("%s clocks %d pads; the link has one data lane", t.Op, in.Pads)
		}
		switch in.Phase {
		case qflash.PhaseStop:
			return buf, dataStart, nil
		case qflash.PhaseCommand:
			buf = append(buf, in.Operand)
		case qflash.PhaseAddress:
			if in.Operand != 0x18 {
				return nil, 0, fmt.Errorf("unsupported address width %d bits", in.Operand)
			}
			buf = append(buf, byte(t.Offset>>16), byte(t.Offset>>8), byte(t.Offset))
		case qflash.PhaseDummy:
			// Dummy cycles become idle clocked bytes.
			buf = append(buf, make([]byte, int(in.Operand)/8)...)
		case qflash.PhaseRead:
			dataStart = len(buf)
			buf = append(buf, make([]byte, len(t.Data))...)
		case qflash.PhaseWrite:
			buf = append(buf, t.Data...)
		}
	}
	return buf, dataStart, nil
}

// watchdog arms a deadline after every mutating sequence and trips it when a
// later status poll still reports busy past the part's worst-case time. The
// core keeps its unbounded poll; this is the bridge's guard against a wedged
// part on the far side of a USB cable.
func (c *Controller) watchdog(t *qflash.Transfer) error {
	var d time.Duration
	switch t.Op {
	case qflash.OpPageProgram, qflash.OpPageProgramQuad, qflash.OpWriteStatus:
		d = c.timings.PageProgram
	case qflash.OpEraseSector:
		d = c.timings.SectorErase
	case qflash.OpEraseBlock:
		d = c.timings.BlockErase
	case qflash.OpEraseChip:
		d = c.timings.ChipErase
	case qflash.OpReadStatus1:
		if qflash.StatusRegister(t.Data[0]).Busy() {
			if !c.deadline.IsZero() && time.Now().After(c.deadline) {
				return fmt.Errorf("%w after %v", ErrBusyTimeout, time.Since(c.deadline))
			}
		} else {
			c.deadline = time.Time{}
		}
		return nil
	default:
		return nil
	}
	if d > 0 {
		c.deadline = time.Now().Add(d)
	}
	return nil
}

// Window reports no mapped window; the bridge cannot expose one.
func (c *Controller) Window(qflash.Port) []byte { return nil }

// Reset drops transaction state, including any armed busy watchdog.
func (c *Controller) Reset() { c.deadline = time.Time{} }

// WaitBusIdle is a no-op: every bridge transaction completes synchronously.
func (c *Controller) WaitBusIdle() {}

// XIPActive is always false: code never executes from behind the bridge.
func (c *Controller) XIPActive() bool { return false }

// InvalidateRange is a no-op: there is no cached window to invalidate.
func (c *Controller) InvalidateRange(qflash.Port, uint32, uint32) {}
