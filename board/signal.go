// Copyright 2023 The go-scaffold Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package board

import (
	"strings"
)

// Signal is a connectable electrical signal of a Scaffold board, uniquely
// identified by its path (for instance "/uart0/tx"). Signals are immutable
// and belong to exactly one Board.
type Signal struct {
	brd  *Board
	path string
}

// Path returns the signal path, for instance "/uart0/tx".
func (sig *Signal) Path() string { return sig.path }

// Name returns the last element of the signal path, for instance "tx".
func (sig *Signal) Name() string {
	i := strings.LastIndexByte(sig.path, '/')
	return sig.path[i+1:]
}

func (sig *Signal) String() string { return sig.path }

// Connect feeds this signal with src, configuring the board interconnect.
// A nil src means high impedance.
func (sig *Signal) Connect(src *Signal) error {
	return sig.brd.Connect(sig, src)
}
