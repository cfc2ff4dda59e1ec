package main

import (
	"flag"
)

func eraseCommand(args []string) {
	fs := flag.NewFlagSet("erase", flag.ExitOnError)
	var (
		offset uint
		size   uint
		chip   bool
	)
	fs.UintVar(&offset, "a", 0, "start address (sector aligned)")
	fs.UintVar(&size, "n", 0, "number of bytes to erase (sector aligned)")
	fs.BoolVar(&chip, "chip", false, "erase the entire device")
	fs.Parse(args)

	if !chip && size == 0 {
		fatalUsage("erase size is required (or -chip)")
	}

	r, err := openRig()
	if err != nil {
		fatalf("%v", err)
	}

	if chip {
		offset = 0
		size = uint(r.flash.Geometry().Size)
	}
	if err := r.flash.Erase(uint32(offset), uint32(size)); err != nil {
		fatalf("erase flash failed: %v", err)
	}
}
