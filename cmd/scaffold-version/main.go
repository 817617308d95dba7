// Copyright 2023 The go-scaffold Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command scaffold-version connects to a Scaffold board and displays its
// hardware version.
package main // import "github.com/go-scaffold/scaffold/cmd/scaffold-version"

import (
	"flag"
	"fmt"
	"log"

	"github.com/go-scaffold/scaffold/board"
	"github.com/go-scaffold/scaffold/sbus"
)

func main() {
	var (
		vid = flag.Uint("vid", sbus.DefaultVendorID, "USB vendor ID of the board")
		pid = flag.Uint("pid", sbus.DefaultProductID, "USB product ID of the board")
	)

	flag.Parse()

	log.SetPrefix("scaffold-version: ")
	log.SetFlags(0)

	run(uint16(*vid), uint16(*pid))
}

func run(vid, pid uint16) {
	port, err := sbus.OpenFTDI(vid, pid)
	if err != nil {
		log.Fatalf("could not open board transport: %+v", err)
	}

	brd, err := board.New(port)
	if err != nil {
		port.Close()
		log.Fatalf("could not connect to board: %+v", err)
	}
	defer brd.Close()

	fmt.Printf("scaffold-%s\n", brd.Version())
}
