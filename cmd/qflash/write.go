package main

import (
	"flag"
	"os"
)

func writeCommand(args []string) {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	var (
		filename string
		offset   uint
		preErase bool
	)
	fs.StringVar(&filename, "f", "", "input file")
	fs.UintVar(&offset, "a", 0, "start address (sector aligned when erasing)")
	fs.BoolVar(&preErase, "e", false, "erase the covered sectors first")
	fs.Parse(args)

	if filename == "" {
		fatalUsage("input file is required")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		fatalf("failed to read file: %v", err)
	}

	r, err := openRig()
	if err != nil {
		fatalf("%v", err)
	}

	if preErase {
		sector := r.flash.Geometry().SectorSize
		size := (uint32(len(data)) + sector - 1) / sector * sector
		if err := r.flash.Erase(uint32(offset), size); err != nil {
			fatalf("erase flash failed: %v", err)
		}
	}

	if err := r.flash.Program(uint32(offset), data); err != nil {
		fatalf("write flash failed: %v", err)
	}
}
