package qflash

import "errors"

// Port identifies which chip-select of the controller the device sits on.
type Port uint8

// TransferKind is the data direction of a transfer.
type TransferKind uint8

const (
	TransferCommand TransferKind = iota // no data phase
	TransferRead
	TransferWrite
)

// Transfer is one controller transaction: a device address, the sequence to
// run and the buffer the data phase reads into or writes from. Transfers are
// built per call and consumed immediately, never retained.
type Transfer struct {
	Offset uint32
	Port   Port
	Kind   TransferKind
	Op     Op
	Data   []byte
}

// DeviceConfig is the per-port electrical/timing configuration installed
// alongside the command table at bring-up.
type DeviceConfig struct {
	RootClockHz   uint32
	FlashSize     uint32 // bytes
	CSSetupCycles uint8
	CSHoldCycles  uint8
	DataValidTime uint8
}

// Controller is the memory-bus controller the driver runs on. It owns the
// electrical protocol, the memory-mapped window and the reset/idle
// primitives; the driver owns sequencing and hazard rules.
type Controller interface {
	// Transfer executes one command-sequence-driven bus transaction.
	Transfer(t *Transfer) error

	// Window returns the device's memory-mapped read window for port, or
	// nil if the controller exposes none.
	Window(port Port) []byte

	// Reset clears controller-internal transaction state. Must follow
	// every state-mutating sequence before the next command is issued.
	Reset()

	// WaitBusIdle blocks until the controller itself (not the device) is
	// idle. Used only at bring-up.
	WaitBusIdle()

	// SetDeviceConfig installs the command sequence table and per-port
	// configuration. Called once at bring-up.
	SetDeviceConfig(cfg DeviceConfig, table *CommandTable, port Port) error

	// XIPActive reports whether flash content currently backs code being
	// executed through the mapped window.
	XIPActive() bool

	// InvalidateRange drops cached lines covering [offset, offset+size)
	// of the port's mapped window.
	InvalidateRange(port Port, offset, size uint32)
}

// CriticalSection excludes interrupt-driven code fetches for the duration of
// a write or erase while execute-in-place is active. Everything that runs
// between Enter and Exit must already reside outside the flash under
// modification.
type CriticalSection interface {
	Enter()
	Exit()
}

type nopCritical struct{}

func (nopCritical) Enter() {}
func (nopCritical) Exit()  {}

var (
	// ErrInvalidArgument rejects misaligned or out-of-range offsets/sizes
	// before any bus activity.
	ErrInvalidArgument = errors.New("invalid offset or size")

	// ErrStatusWrite reports a failed status-register write during the
	// quad-enable handshake.
	ErrStatusWrite = errors.New("status register write failed")

	// ErrQuadEnable reports that the device did not confirm quad mode.
	ErrQuadEnable = errors.New("quad mode enable not confirmed")

	// ErrDeviceNotResponding reports a failed JEDEC id probe at bring-up.
	ErrDeviceNotResponding = errors.New("device id probe failed")

	// ErrConfig reports that the controller rejected the device
	// configuration at bring-up.
	ErrConfig = errors.New("device configuration rejected")
)
