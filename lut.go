package qflash

// Op indexes the command sequence table. The values double as the sequence
// indices programmed into the controller at bring-up, so their order is part
// of the device contract: OpReadQuadIO must stay at index 0 because the
// controller's memory-mapped fetch path is hardwired to sequence 0.
type Op uint8

const (
	OpReadQuadIO Op = iota // backs the mapped window and XIP fetches
	OpReadStatus1
	OpReadQuadOutput
	OpWriteEnable
	OpReadID
	OpEraseSector
	OpWriteStatus
	OpReadStatus2
	OpEraseBlock
	OpPageProgram
	OpPageProgramQuad
	OpEraseChip
	OpReadData // single-lane read, for links without quad data wiring

	// NumOps is the number of table entries.
	NumOps
)

func (op Op) String() string {
	switch op {
	case OpReadQuadIO:
		return "read-quad-io"
	case OpReadStatus1:
		return "read-status-1"
	case OpReadQuadOutput:
		return "read-quad-output"
	case OpWriteEnable:
		return "write-enable"
	case OpReadID:
		return "read-id"
	case OpEraseSector:
		return "erase-sector"
	case OpWriteStatus:
		return "write-status"
	case OpReadStatus2:
		return "read-status-2"
	case OpEraseBlock:
		return "erase-block"
	case OpPageProgram:
		return "page-program"
	case OpPageProgramQuad:
		return "page-program-quad"
	case OpEraseChip:
		return "erase-chip"
	case OpReadData:
		return "read-data"
	}
	return "invalid-op"
}

// Phase is the kind of one bus-protocol phase within a sequence.
type Phase uint8

const (
	PhaseStop Phase = iota // end of sequence; unused slots hold this
	PhaseCommand
	PhaseAddress
	PhaseDummy
	PhaseRead
	PhaseWrite
)

// Rate is the transfer-rate mode of a phase.
type Rate uint8

const (
	SDR Rate = iota // single data rate
	DDR             // double data rate
)

// Pads is the number of data lines a phase is clocked on.
type Pads uint8

const (
	Pads1 Pads = 1
	Pads4 Pads = 4
)

// Instr is one bus-instruction record: a single protocol phase of a command
// sequence. Operand carries the opcode for PhaseCommand, the address width in
// bits for PhaseAddress, the cycle count for PhaseDummy and the transfer
// watermark for the data phases.
type Instr struct {
	Phase   Phase
	Rate    Rate
	Pads    Pads
	Operand uint8
}

// Sequence is the instruction list for one logical operation: at most two
// instruction pairs, shorter sequences padded with PhaseStop.
type Sequence [4]Instr

// CommandTable maps every Op to its instruction sequence. A table is built
// once, installed into the controller at bring-up and never mutated.
type CommandTable [NumOps]Sequence

// Flash commands [W25Q128|8.1.2 Instruction Set Table 1]
const (
	cmdReadQuadIO      = 0xEB // Fast Read Quad I/O
	cmdReadStatus1     = 0x05 // Read Status Register-1
	cmdReadQuadOutput  = 0x6B // Fast Read Quad Output
	cmdWriteEnable     = 0x06
	cmdReadID          = 0x9F // Read JEDEC ID
	cmdEraseSector     = 0x20 // Sector Erase (4KB)
	cmdWriteStatus     = 0x01 // Write Status Register-1/2
	cmdReadStatus2     = 0x35 // Read Status Register-2
	cmdEraseBlock      = 0xD8 // Block Erase (64KB)
	cmdPageProgram     = 0x02
	cmdPageProgramQuad = 0x32 // Quad Input Page Program
	cmdEraseChip       = 0xC7
	cmdReadData        = 0x03
)

const addr24 = 0x18 // 24-bit address phase width

func cmd1(opcode uint8) Instr { return Instr{Phase: PhaseCommand, Pads: Pads1, Operand: opcode} }

// W25Q128JV is the command table for the Winbond W25Q128JV family. Sequences
// and their indices match the controller's XIP fetch layout.
var W25Q128JV = CommandTable{
	OpReadQuadIO: {
		cmd1(cmdReadQuadIO),
		{Phase: PhaseAddress, Pads: Pads4, Operand: addr24},
		{Phase: PhaseDummy, Pads: Pads4, Operand: 0x06},
		{Phase: PhaseRead, Pads: Pads4, Operand: 0x04},
	},
	OpReadStatus1: {
		cmd1(cmdReadStatus1),
		{Phase: PhaseRead, Pads: Pads1, Operand: 0x04},
	},
	OpReadQuadOutput: {
		cmd1(cmdReadQuadOutput),
		{Phase: PhaseAddress, Pads: Pads1, Operand: addr24},
		{Phase: PhaseDummy, Pads: Pads4, Operand: 0x08},
		{Phase: PhaseRead, Pads: Pads4, Operand: 0x04},
	},
	OpWriteEnable: {
		cmd1(cmdWriteEnable),
	},
	OpReadID: {
		cmd1(cmdReadID),
		{Phase: PhaseRead, Pads: Pads1, Operand: 0x04},
	},
	OpEraseSector: {
		cmd1(cmdEraseSector),
		{Phase: PhaseAddress, Pads: Pads1, Operand: addr24},
	},
	OpWriteStatus: {
		cmd1(cmdWriteStatus),
		{Phase: PhaseWrite, Pads: Pads1, Operand: 0x04},
	},
	OpReadStatus2: {
		cmd1(cmdReadStatus2),
		{Phase: PhaseRead, Pads: Pads1, Operand: 0x04},
	},
	OpEraseBlock: {
		cmd1(cmdEraseBlock),
		{Phase: PhaseAddress, Pads: Pads1, Operand: addr24},
	},
	OpPageProgram: {
		cmd1(cmdPageProgram),
		{Phase: PhaseAddress, Pads: Pads1, Operand: addr24},
		{Phase: PhaseWrite, Pads: Pads1, Operand: 0x04},
	},
	OpPageProgramQuad: {
		cmd1(cmdPageProgramQuad),
		{Phase: PhaseAddress, Pads: Pads1, Operand: addr24},
		{Phase: PhaseWrite, Pads: Pads4, Operand: 0x04},
	},
	OpEraseChip: {
		cmd1(cmdEraseChip),
	},
	OpReadData: {
		cmd1(cmdReadData),
		{Phase: PhaseAddress, Pads: Pads1, Operand: addr24},
		{Phase: PhaseRead, Pads: Pads1, Operand: 0x04},
	},
}
