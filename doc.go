// Package qflash drives a serial NOR flash device behind a command-sequence-
// programmable memory-bus controller. The controller executes transfers from
// a fixed table of bus instruction sequences installed at bring-up; this
// package builds that table, dispatches the per-operation transfers, and
// enforces the write-enable/poll-busy/reset protocol, page-boundary program
// splitting, erase granularity selection and execute-in-place hazard rules
// that the device requires.
//
// # References:
//
// SPI Flash
//   - [W25Q128]: W25Q128JV Winbond Serial Flash Memory (https://www.winbond.com/resource-files/w25q128jv%20revf%2003272018%20plus.pdf)
//   - [W25Q128-DTR]: W25Q128JV-DTR Winbond Serial Flash Memory (https://www.winbond.com/resource-files/W25Q128JV_DTR%20RevD%2012232024%20Plus.pdf)
//
// FTDI (https://ftdichip.com/document/application-notes/), for the spihost bring-up rig
//   - [FTDI-AN_108]: Command Processor for MPSSE and MCU Host Bus Emulation Modes (https://ftdichip.com/wp-content/uploads/2020/08/AN_108_Command_Processor_for_MPSSE_and_MCU_Host_Bus_Emulation_Modes.pdf)
//   - [FTDI-AN_114]: Interfacing FT2232H Hi-Speed Devices To SPI Bus (https://ftdichip.com/wp-content/uploads/2020/08/AN_114_FTDI_Hi_Speed_USB_To_SPI_Example.pdf)
//   - [FTDI-AN_135]: FTDI MPSSE Basics (https://ftdichip.com/wp-content/uploads/2020/08/AN_135_MPSSE_Basics.pdf)
package qflash
