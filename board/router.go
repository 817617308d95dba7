// Copyright 2023 The go-scaffold Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package board

import (
	"golang.org/x/xerrors"
)

// Base addresses of the two interconnect matrices. Each matrix cell is one
// register: writing a source index at (base + destination index) routes that
// source to the destination.
const (
	addrMtxlBase = 0xf000
	addrMtxrBase = 0xf100
)

func (brd *Board) addMtxlIn(path string)  { brd.mtxlIn = append(brd.mtxlIn, path) }
func (brd *Board) addMtxlOut(path string) { brd.mtxlOut = append(brd.mtxlOut, path) }
func (brd *Board) addMtxrIn(path string)  { brd.mtxrIn = append(brd.mtxrIn, path) }
func (brd *Board) addMtxrOut(path string) { brd.mtxrOut = append(brd.mtxrOut, path) }

func indexOf(paths []string, p string) int {
	for i, v := range paths {
		if v == p {
			return i
		}
	}
	return -1
}

// signalPath resolves a signal to its path, checking board ownership.
// A nil signal resolves to high impedance.
func (brd *Board) signalPath(sig *Signal) (string, error) {
	if sig == nil {
		return "z", nil
	}
	if sig.brd != brd {
		return "", xerrors.Errorf("board: signal %q belongs to another board", sig.path)
	}
	return sig.path, nil
}

// Connect configures the interconnect matrices to feed dst with src.
// dst must resolve against exactly one matrix sink list and src against the
// matching source list: a destination or source known to both matrices is a
// naming collision in the board architecture and is rejected.
func (brd *Board) Connect(dst, src *Signal) error {
	if dst == nil {
		return xerrors.New("board: invalid nil destination signal")
	}
	dstPath, err := brd.signalPath(dst)
	if err != nil {
		return err
	}
	srcPath, err := brd.signalPath(src)
	if err != nil {
		return err
	}

	var (
		ri = indexOf(brd.mtxrOut, dstPath)
		li = indexOf(brd.mtxlOut, dstPath)
	)
	if ri < 0 && li < 0 {
		return xerrors.Errorf("board: invalid destination path %q", dstPath)
	}

	var (
		rightOK = ri >= 0 && indexOf(brd.mtxrIn, srcPath) >= 0
		leftOK  = li >= 0 && indexOf(brd.mtxlIn, srcPath) >= 0
	)
	switch {
	case rightOK && leftOK:
		return xerrors.Errorf("board: connection ambiguity %q << %q", dstPath, srcPath)
	case rightOK:
		si := indexOf(brd.mtxrIn, srcPath)
		_, err := brd.bus.Write(uint16(addrMtxrBase+ri), []byte{uint8(si)}, nil)
		return err
	case leftOK:
		si := indexOf(brd.mtxlIn, srcPath)
		_, err := brd.bus.Write(uint16(addrMtxlBase+li), []byte{uint8(si)}, nil)
		return err
	default:
		return xerrors.Errorf("board: cannot connect %q << %q", dstPath, srcPath)
	}
}

// DisconnectAll resets every matrix cell to its hardware default
// (high impedance), disconnecting all inputs and outputs.
func (brd *Board) DisconnectAll() error {
	for i := range brd.mtxlOut {
		_, err := brd.bus.Write(uint16(addrMtxlBase+i), []byte{0}, nil)
		if err != nil {
			return err
		}
	}
	for i := range brd.mtxrOut {
		_, err := brd.bus.Write(uint16(addrMtxrBase+i), []byte{0}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}
