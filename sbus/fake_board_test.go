// Copyright 2023 The go-scaffold Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sbus

import (
	"bytes"
	"testing"

	"golang.org/x/xerrors"
)

// fakeBoard emulates the datagram handling of a Scaffold board: it decodes
// the datagrams written to it and queues the matching acknowledgements,
// serving them back on Read in submission order.
type fakeBoard struct {
	t *testing.T

	regs   map[uint16]byte
	acks   bytes.Buffer
	dgrams [][]byte

	timeout uint32
	delays  []uint32
	bwSizes []int

	shortRead  int  // next read executes only n bytes (-1: disabled)
	shortWrite int  // next write executes only n bytes (-1: disabled)
	badAck     bool // acknowledge the next delay/buffer-wait with a non-zero byte
}

func newFakeBoard(t *testing.T) *fakeBoard {
	t.Helper()
	return &fakeBoard{
		t:          t,
		regs:       make(map[uint16]byte),
		shortRead:  -1,
		shortWrite: -1,
	}
}

func (f *fakeBoard) Write(p []byte) (int, error) {
	rest := p
	for len(rest) > 0 {
		n, err := f.exec(rest)
		if err != nil {
			f.t.Fatalf("fake board: %+v", err)
		}
		f.dgrams = append(f.dgrams, append([]byte(nil), rest[:n]...))
		rest = rest[n:]
	}
	return len(p), nil
}

// exec decodes and executes the datagram at the head of p, returning its
// wire size.
func (f *fakeBoard) exec(p []byte) (int, error) {
	cmd := p[0]
	switch cmd {
	case cmdTimeout:
		if len(p) < 5 {
			return 0, xerrors.Errorf("truncated timeout datagram % x", p)
		}
		f.timeout = uint32(p[1])<<24 | uint32(p[2])<<16 | uint32(p[3])<<8 | uint32(p[4])
		return 5, nil

	case cmdDelay:
		if len(p) < 4 {
			return 0, xerrors.Errorf("truncated delay datagram % x", p)
		}
		f.delays = append(f.delays, uint32(p[1])<<16|uint32(p[2])<<8|uint32(p[3]))
		f.ack()
		return 4, nil

	case cmdBufferWait:
		if len(p) < 3 {
			return 0, xerrors.Errorf("truncated buffer-wait datagram % x", p)
		}
		f.bwSizes = append(f.bwSizes, int(p[1])<<8|int(p[2]))
		f.ack()
		return 3, nil
	}

	if cmd&^uint8(cmdWrite|cmdSized|cmdPoll) != 0 {
		return 0, xerrors.Errorf("invalid command byte 0x%02x", cmd)
	}
	var (
		write = cmd&cmdWrite != 0
		sized = cmd&cmdSized != 0
		poll  = cmd&cmdPoll != 0
	)
	n := 3
	if poll {
		n += 4
	}
	size := 1
	if sized {
		if len(p) < n+1 {
			return 0, xerrors.Errorf("truncated datagram % x", p)
		}
		size = int(p[n])
		n++
	}
	addr := uint16(p[1])<<8 | uint16(p[2])

	if write {
		if len(p) < n+size {
			return 0, xerrors.Errorf("truncated write datagram % x", p)
		}
		data := p[n : n+size]
		n += size

		completed := size
		if f.shortWrite >= 0 {
			completed = f.shortWrite
			f.shortWrite = -1
		}
		if completed > 0 {
			f.regs[addr] = data[completed-1]
		}
		f.acks.WriteByte(uint8(completed))
		return n, nil
	}

	completed := size
	if f.shortRead >= 0 {
		completed = f.shortRead
		f.shortRead = -1
	}
	resp := make([]byte, size+1)
	for i := 0; i < completed; i++ {
		resp[i] = f.regs[addr]
	}
	resp[size] = uint8(completed)
	f.acks.Write(resp)
	return n, nil
}

func (f *fakeBoard) ack() {
	if f.badAck {
		f.badAck = false
		f.acks.WriteByte(0xff)
		return
	}
	f.acks.WriteByte(0)
}

func (f *fakeBoard) Read(p []byte) (int, error) {
	if f.acks.Len() == 0 {
		return 0, xerrors.New("fake board: no acknowledgement pending")
	}
	return f.acks.Read(p)
}
