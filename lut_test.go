package qflash

import "testing"

func TestCommandTableOpcodes(t *testing.T) {
	want := map[Op]uint8{
		OpReadQuadIO:      0xEB,
		OpReadStatus1:     0x05,
		OpReadQuadOutput:  0x6B,
		OpWriteEnable:     0x06,
		OpReadID:          0x9F,
		OpEraseSector:     0x20,
		OpWriteStatus:     0x01,
		OpReadStatus2:     0x35,
		OpEraseBlock:      0xD8,
		OpPageProgram:     0x02,
		OpPageProgramQuad: 0x32,
		OpEraseChip:       0xC7,
		OpReadData:        0x03,
	}
	if len(want) != int(NumOps) {
		t.Fatalf("expected %d operations, table has %d", len(want), NumOps)
	}
	for op, opcode := range want {
		seq := W25Q128JV[op]
		if seq[0].Phase != PhaseCommand {
			t.Errorf("%s: first phase is %d, want command", op, seq[0].Phase)
		}
		if seq[0].Operand != opcode {
			t.Errorf("%s: opcode %#02x, want %#02x", op, seq[0].Operand, opcode)
		}
		if seq[0].Pads != Pads1 {
			t.Errorf("%s: command phase on %d pads, want 1", op, seq[0].Pads)
		}
	}
}

func TestCommandTableAddressPhases(t *testing.T) {
	addressed := map[Op]bool{
		OpReadQuadIO: true, OpReadQuadOutput: true,
		OpEraseSector: true, OpEraseBlock: true,
		OpPageProgram: true, OpPageProgramQuad: true,
		OpReadData: true,
	}
	for op := Op(0); op < NumOps; op++ {
		var found bool
		for _, in := range W25Q128JV[op] {
			if in.Phase != PhaseAddress {
				continue
			}
			found = true
			if in.Operand != addr24 {
				t.Errorf("%s: address width %d bits, want 24", op, in.Operand)
			}
		}
		if found != addressed[op] {
			t.Errorf("%s: address phase present=%v, want %v", op, found, addressed[op])
		}
	}
}

func TestCommandTableDataLanes(t *testing.T) {
	dataPads := func(op Op) (Pads, bool) {
		for _, in := range W25Q128JV[op] {
			if in.Phase == PhaseRead || in.Phase == PhaseWrite {
				return in.Pads, true
			}
		}
		return 0, false
	}

	for op, want := range map[Op]Pads{
		OpReadQuadIO:      Pads4,
		OpReadQuadOutput:  Pads4,
		OpPageProgramQuad: Pads4,
		OpPageProgram:     Pads1,
		OpReadStatus1:     Pads1,
		OpReadStatus2:     Pads1,
		OpWriteStatus:     Pads1,
		OpReadID:          Pads1,
		OpReadData:        Pads1,
	} {
		got, ok := dataPads(op)
		if !ok {
			t.Errorf("%s: no data phase", op)
			continue
		}
		if got != want {
			t.Errorf("%s: data on %d pads, want %d", op, got, want)
		}
	}

	for _, op := range []Op{OpWriteEnable, OpEraseSector, OpEraseBlock, OpEraseChip} {
		if _, ok := dataPads(op); ok {
			t.Errorf("%s: unexpected data phase", op)
		}
	}
}
