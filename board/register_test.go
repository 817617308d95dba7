// Copyright 2023 The go-scaffold Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package board

import (
	"bytes"
	"testing"

	"github.com/go-scaffold/scaffold/sbus"
)

func TestNewRegister(t *testing.T) {
	bus := sbus.New(newFakeScaffold(t, "scaffold-0.8"))

	for _, tc := range []struct {
		name string
		mode string
		opts []RegOption
		ok   bool
	}{
		{name: "rw", mode: "rw", ok: true},
		{name: "rwv", mode: "rwv", ok: true},
		{name: "w-wide", mode: "w", opts: []RegOption{WithWidth(3)}, ok: true},
		{name: "bad-mode", mode: "rx", ok: false},
		{name: "zero-width", mode: "w", opts: []RegOption{WithWidth(0)}, ok: false},
		{name: "huge-width", mode: "w", opts: []RegOption{WithWidth(5)}, ok: false},
		{name: "wide-readable", mode: "rw", opts: []RegOption{WithWidth(2)}, ok: false},
		{name: "range", mode: "w", opts: []RegOption{WithRange(1, 100)}, ok: true},
		{name: "range-too-high", mode: "w", opts: []RegOption{WithRange(0, 256)}, ok: false},
		{name: "range-inverted", mode: "w", opts: []RegOption{WithRange(10, 5)}, ok: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRegister(bus, tc.mode, 0x0200, tc.opts...)
			if (err == nil) != tc.ok {
				t.Fatalf("invalid error: got=%+v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestRegisterSet(t *testing.T) {
	fake := newFakeScaffold(t, "scaffold-0.8")
	bus := sbus.New(fake)

	reg, err := NewRegister(bus, "w", 0x0201, WithRange(0, 127))
	if err != nil {
		t.Fatalf("could not create register: %+v", err)
	}
	err = reg.Set(42)
	if err != nil {
		t.Fatalf("could not set register: %+v", err)
	}
	w := fake.lastWrite()
	if w.addr != 0x0201 || !bytes.Equal(w.data, []byte{42}) {
		t.Fatalf("invalid write: addr=0x%04x data=% x", w.addr, w.data)
	}

	if err := reg.Set(128); err == nil {
		t.Fatalf("expected an out-of-range error")
	}

	ro, err := NewRegister(bus, "r", 0x0100)
	if err != nil {
		t.Fatalf("could not create register: %+v", err)
	}
	if err := ro.Set(1); err == nil {
		t.Fatalf("expected a not-writable error")
	}
}

func TestRegisterWide(t *testing.T) {
	fake := newFakeScaffold(t, "scaffold-0.8")
	bus := sbus.New(fake)

	reg, err := NewRegister(bus, "w", 0x0205, WithWidth(3))
	if err != nil {
		t.Fatalf("could not create register: %+v", err)
	}
	err = reg.Set(0x010203)
	if err != nil {
		t.Fatalf("could not set register: %+v", err)
	}
	w := fake.lastWrite()
	if !bytes.Equal(w.data, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("invalid write data: % x", w.data)
	}
	if got, want := reg.Max(), uint32(0xffffff); got != want {
		t.Fatalf("invalid maximum value: got=0x%x, want=0x%x", got, want)
	}
	// Wide registers have no read-back path: Get is served from the cache.
	v, err := reg.Get()
	if err != nil {
		t.Fatalf("could not get register: %+v", err)
	}
	if got, want := v, uint32(0x010203); got != want {
		t.Fatalf("invalid cached value: got=0x%x, want=0x%x", got, want)
	}
}

func TestRegisterCache(t *testing.T) {
	fake := newFakeScaffold(t, "scaffold-0.8")
	bus := sbus.New(fake)

	reg, err := NewRegister(bus, "rw", 0x0300)
	if err != nil {
		t.Fatalf("could not create register: %+v", err)
	}

	// First Get of an unknown value fetches from the board.
	fake.regs[0x0300] = 7
	v, err := reg.Get()
	if err != nil {
		t.Fatalf("could not get register: %+v", err)
	}
	if got, want := v, uint32(7); got != want {
		t.Fatalf("invalid value: got=%d, want=%d", got, want)
	}

	// Later Gets are served from the cache, even if the board changed.
	fake.regs[0x0300] = 9
	v, err = reg.Get()
	if err != nil {
		t.Fatalf("could not get register: %+v", err)
	}
	if got, want := v, uint32(7); got != want {
		t.Fatalf("invalid cached value: got=%d, want=%d", got, want)
	}

	// Set updates the cache.
	err = reg.Set(3)
	if err != nil {
		t.Fatalf("could not set register: %+v", err)
	}
	nwrites := len(fake.writes)
	v, err = reg.Get()
	if err != nil {
		t.Fatalf("could not get register: %+v", err)
	}
	if got, want := v, uint32(3); got != want {
		t.Fatalf("invalid cached value: got=%d, want=%d", got, want)
	}
	if got, want := len(fake.writes), nwrites; got != want {
		t.Fatalf("cache hit should not touch the board")
	}
}

func TestRegisterVolatile(t *testing.T) {
	fake := newFakeScaffold(t, "scaffold-0.8")
	bus := sbus.New(fake)

	reg, err := NewRegister(bus, "rwv", 0x0600)
	if err != nil {
		t.Fatalf("could not create register: %+v", err)
	}
	err = reg.Set(1)
	if err != nil {
		t.Fatalf("could not set register: %+v", err)
	}

	// Volatile registers are always fetched.
	fake.regs[0x0600] = 2
	v, err := reg.Get()
	if err != nil {
		t.Fatalf("could not get register: %+v", err)
	}
	if got, want := v, uint32(2); got != want {
		t.Fatalf("invalid value: got=%d, want=%d", got, want)
	}
}

func TestRegisterUnreadable(t *testing.T) {
	bus := sbus.New(newFakeScaffold(t, "scaffold-0.8"))

	reg, err := NewRegister(bus, "w", 0x0200)
	if err != nil {
		t.Fatalf("could not create register: %+v", err)
	}
	if _, err := reg.Get(); err == nil {
		t.Fatalf("expected a not-readable error")
	}
	if _, err := reg.Read(1, nil); err == nil {
		t.Fatalf("expected a not-readable error")
	}

	// Once set, Get serves the cache without a board access.
	err = reg.Set(5)
	if err != nil {
		t.Fatalf("could not set register: %+v", err)
	}
	v, err := reg.Get()
	if err != nil {
		t.Fatalf("could not get register: %+v", err)
	}
	if got, want := v, uint32(5); got != want {
		t.Fatalf("invalid cached value: got=%d, want=%d", got, want)
	}
}

func TestRegisterBits(t *testing.T) {
	fake := newFakeScaffold(t, "scaffold-0.8")
	bus := sbus.New(fake)

	reg, err := NewRegister(bus, "rw", 0x0400)
	if err != nil {
		t.Fatalf("could not create register: %+v", err)
	}
	err = reg.Set(0b0101)
	if err != nil {
		t.Fatalf("could not set register: %+v", err)
	}

	bit, err := reg.GetBit(2)
	if err != nil {
		t.Fatalf("could not get bit: %+v", err)
	}
	if !bit {
		t.Fatalf("invalid bit 2 value: got=false, want=true")
	}

	err = reg.SetBit(1, true)
	if err != nil {
		t.Fatalf("could not set bit: %+v", err)
	}
	if got, want := fake.regs[0x0400], uint8(0b0111); got != want {
		t.Fatalf("invalid register value: got=0b%b, want=0b%b", got, want)
	}

	err = reg.SetMask(0b1000, 0b1100)
	if err != nil {
		t.Fatalf("could not set mask: %+v", err)
	}
	if got, want := fake.regs[0x0400], uint8(0b1011); got != want {
		t.Fatalf("invalid register value: got=0b%b, want=0b%b", got, want)
	}

	err = reg.OrSet(0b0100)
	if err != nil {
		t.Fatalf("could not or-set register: %+v", err)
	}
	if got, want := fake.regs[0x0400], uint8(0b1111); got != want {
		t.Fatalf("invalid register value: got=0b%b, want=0b%b", got, want)
	}
}

func TestRegisterReset(t *testing.T) {
	fake := newFakeScaffold(t, "scaffold-0.8")
	bus := sbus.New(fake)

	reg, err := NewRegister(bus, "w", 0x0500, WithReset(7))
	if err != nil {
		t.Fatalf("could not create register: %+v", err)
	}
	err = reg.Reset()
	if err != nil {
		t.Fatalf("could not reset register: %+v", err)
	}
	if got, want := fake.regs[0x0500], uint8(7); got != want {
		t.Fatalf("invalid register value: got=%d, want=%d", got, want)
	}

	// Without a configured default, Reset is a no-op.
	plain, err := NewRegister(bus, "w", 0x0501)
	if err != nil {
		t.Fatalf("could not create register: %+v", err)
	}
	nwrites := len(fake.writes)
	err = plain.Reset()
	if err != nil {
		t.Fatalf("could not reset register: %+v", err)
	}
	if got, want := len(fake.writes), nwrites; got != want {
		t.Fatalf("unexpected write during no-op reset")
	}
}
