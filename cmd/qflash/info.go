package main

import (
	"fmt"

	"periph.io/x/host/v3/ftdi"
)

func infoCommand() {
	r, err := openRig()
	if err != nil {
		fatalf("%v", err)
	}

	id, name := r.flash.ID()
	if name == "" {
		name = "unknown part"
	}
	layout := r.flash.PageLayout()
	params := r.flash.Params()
	fmt.Printf("JEDEC id:        %X (%s)\n", id, name)
	fmt.Printf("Size:            %d bytes\n", r.flash.Geometry().Size)
	fmt.Printf("Erase pages:     %d x %d bytes\n", layout.PageCount, layout.PageSize)
	fmt.Printf("Write block:     %d byte(s), erase value %#02x\n", params.WriteBlockSize, params.EraseValue)

	// Reference: https://github.com/periph/cmd/tree/main/ftdi-list
	i := ftdi.Info{}
	r.ft.Info(&i)
	fmt.Printf("Bridge type:     %s\n", i.Type)
	fmt.Printf("Vendor ID:       %#04x\n", i.VenID)
	fmt.Printf("Device ID:       %#04x\n", i.DevID)

	ee := ftdi.EEPROM{}
	if err := r.ft.EEPROM(&ee); err != nil {
		fatalf("failed to read EEPROM: %v", err)
	}
	fmt.Printf("Manufacturer:    %s\n", ee.Manufacturer)
	fmt.Printf("Desc:            %s\n", ee.Desc)
	fmt.Printf("Serial:          %s\n", ee.Serial)
}
