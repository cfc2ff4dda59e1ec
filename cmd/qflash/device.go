package main

import (
	"errors"
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"

	"github.com/gentam/qflash"
	"github.com/gentam/qflash/spihost"
)

// rig is an FT2232H MPSSE bridge with the NOR part on ADBUS4 chip select.
type rig struct {
	ft    *ftdi.FT232H
	ctrl  *spihost.Controller
	flash *qflash.Flash
}

var hostInitialized atomic.Bool

// openRig finds an FT2232H, opens the MPSSE/SPI connection and brings the
// flash up through the single-lane bridge.
func openRig() (*rig, error) {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("host initialization failed: %w", err)
		}
	}

	r := &rig{}
	if err := r.openFT2232H(); err != nil {
		return nil, err
	}

	port, err := r.ft.SPI()
	if err != nil {
		return nil, fmt.Errorf("failed to get SPI port: %w", err)
	}
	// [FTDI AN_114|1.2] MPSSE supports SPI mode 0 and 2 only;
	// [W25Q128|6.1] the part takes mode 0 and 3.
	conn, err := port.Connect(30*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("SPI connect failed: %w", err)
	}

	// ADBUS0 SCK / ADBUS1 MOSI / ADBUS2 MISO / ADBUS4 CS
	r.ctrl = spihost.New(conn, r.ft.D4)

	// Quad data wiring does not exist on the bridge; keep both data paths
	// on one lane.
	r.flash, err = qflash.New(r.ctrl, qflash.Config{
		SingleLaneProgram: true,
		SingleLaneRead:    true,
	})
	if err != nil {
		return nil, err
	}
	if err := r.flash.Init(); err != nil {
		return nil, fmt.Errorf("flash bring-up failed: %w", err)
	}
	if id, _ := r.flash.ID(); id != ([3]byte{}) {
		r.ctrl.SetTimings(qflash.TimingsForID(id))
	}
	return r, nil
}

func (r *rig) openFT2232H() error {
	const (
		vendorID  = 0x0403 // FTDI
		productID = 0x6010 // FT2232H
	)

	info := ftdi.Info{}
	for _, dev := range ftdi.All() {
		dev.Info(&info)
		if info.VenID != vendorID || info.DevID != productID {
			continue
		}
		if ft, ok := dev.(*ftdi.FT232H); ok {
			r.ft = ft
			return nil
		}
	}

	return errors.New("FT2232H device not found")
}
