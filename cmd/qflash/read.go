package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
)

func readCommand(args []string) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	var (
		offset  uint
		nread   int
		idOnly  bool
		status  bool
		outFile string
	)
	fs.UintVar(&offset, "a", 0, "start address")
	fs.IntVar(&nread, "n", 256, "number of bytes to read")
	fs.BoolVar(&idOnly, "id", false, "just print the JEDEC id")
	fs.BoolVar(&status, "s", false, "print the status registers")
	fs.StringVar(&outFile, "o", "", "output file (default: hexdump)")
	fs.Parse(args)

	r, err := openRig()
	if err != nil {
		fatalf("%v", err)
	}

	if idOnly {
		id, name := r.flash.ID()
		fmt.Printf("%X\t%s\n", id, name)
		return
	}

	if status {
		sr1, err := r.flash.ReadStatus()
		if err != nil {
			fatalf("read status failed: %v", err)
		}
		sr2, err := r.flash.ReadStatus2()
		if err != nil {
			fatalf("read status failed: %v", err)
		}
		fmt.Printf("SR1: %s\nSR2: %s\n", sr1, sr2)
		return
	}

	buf := make([]byte, nread)
	if err := r.flash.Read(uint32(offset), buf); err != nil {
		fatalf("read flash failed: %v", err)
	}
	if outFile == "" {
		fmt.Println(hex.Dump(buf))
		return
	}
	if err := os.WriteFile(outFile, buf, 0644); err != nil {
		fmt.Fprintln(os.Stderr, "write file failed:", err)
	}
}
