// Copyright 2023 The go-scaffold Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package board

import (
	"bytes"
	"testing"

	"golang.org/x/xerrors"
)

const addrFakeVersion = 0x0100

// fakeScaffold emulates the register plane of a Scaffold board: a byte per
// register, plus the version register that replies its NUL-terminated
// identification string in a loop.
type fakeScaffold struct {
	t *testing.T

	version string // identification string, e.g. "scaffold-0.8"
	phase   int    // initial read offset in the identification loop

	regs    map[uint16]byte
	writes  []busWrite
	timeout uint32
	acks    bytes.Buffer
}

type busWrite struct {
	addr uint16
	data []byte
}

func newFakeScaffold(t *testing.T, version string) *fakeScaffold {
	t.Helper()
	return &fakeScaffold{
		t:       t,
		version: version,
		regs:    make(map[uint16]byte),
	}
}

func (f *fakeScaffold) Write(p []byte) (int, error) {
	rest := p
	for len(rest) > 0 {
		n, err := f.exec(rest)
		if err != nil {
			f.t.Fatalf("fake scaffold: %+v", err)
		}
		rest = rest[n:]
	}
	return len(p), nil
}

func (f *fakeScaffold) exec(p []byte) (int, error) {
	cmd := p[0]
	if cmd == 0x08 { // timeout configuration
		if len(p) < 5 {
			return 0, xerrors.Errorf("truncated timeout datagram % x", p)
		}
		f.timeout = uint32(p[1])<<24 | uint32(p[2])<<16 | uint32(p[3])<<8 | uint32(p[4])
		return 5, nil
	}
	if cmd&^uint8(0x07) != 0 {
		return 0, xerrors.Errorf("unexpected command byte 0x%02x", cmd)
	}
	var (
		write = cmd&0x01 != 0
		sized = cmd&0x02 != 0
		poll  = cmd&0x04 != 0
	)
	n := 3
	if poll {
		n += 4
	}
	size := 1
	if sized {
		size = int(p[n])
		n++
	}
	addr := uint16(p[1])<<8 | uint16(p[2])

	if write {
		if len(p) < n+size {
			return 0, xerrors.Errorf("truncated write datagram % x", p)
		}
		data := append([]byte(nil), p[n:n+size]...)
		n += size
		f.writes = append(f.writes, busWrite{addr: addr, data: data})
		f.regs[addr] = data[size-1]
		f.acks.WriteByte(uint8(size))
		return n, nil
	}

	resp := make([]byte, size+1)
	if addr == addrFakeVersion {
		cyc := []byte(f.version + "\x00")
		for i := 0; i < size; i++ {
			resp[i] = cyc[(f.phase+i)%len(cyc)]
		}
	} else {
		for i := 0; i < size; i++ {
			resp[i] = f.regs[addr]
		}
	}
	resp[size] = uint8(size)
	f.acks.Write(resp)
	return n, nil
}

func (f *fakeScaffold) Read(p []byte) (int, error) {
	if f.acks.Len() == 0 {
		return 0, xerrors.New("fake scaffold: no acknowledgement pending")
	}
	return f.acks.Read(p)
}

// lastWrite returns the most recent write datagram received by the fake.
func (f *fakeScaffold) lastWrite() busWrite {
	f.t.Helper()
	if len(f.writes) == 0 {
		f.t.Fatalf("fake scaffold: no write received")
	}
	return f.writes[len(f.writes)-1]
}
