// Copyright 2023 The go-scaffold Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package board

import (
	"strings"

	"github.com/go-scaffold/scaffold/sbus"
	"golang.org/x/xerrors"
)

type regConfig struct {
	width int
	min   *uint32
	max   *uint32
	reset *uint32
}

// RegOption configures a Register at creation time.
type RegOption func(cfg *regConfig)

// WithWidth sets the register width in bytes (1 to 4). Registers wider than
// one byte cannot be read. Default is 1.
func WithWidth(n int) RegOption {
	return func(cfg *regConfig) {
		cfg.width = n
	}
}

// WithRange restricts the values accepted by Set. Defaults are 0 and the
// maximum value representable in the register width.
func WithRange(min, max uint32) RegOption {
	return func(cfg *regConfig) {
		cfg.min = &min
		cfg.max = &max
	}
}

// WithReset sets the value written by Reset. Without it, Reset is a no-op.
func WithReset(v uint32) RegOption {
	return func(cfg *regConfig) {
		cfg.reset = &v
	}
}

// Register is a typed, bounds-checked accessor to one board register,
// with a value cache whenever the hardware allows it.
type Register struct {
	bus  *sbus.Bus
	addr uint16

	readable bool
	writable bool
	volatile bool

	width int
	min   uint32
	max   uint32

	reset *uint32
	cache *uint32
}

// NewRegister binds a register accessor to the register at addr. mode is a
// combination of 'r' (readable), 'w' (writable) and 'v' (volatile: the value
// may change independently of host writes and is never cached).
func NewRegister(bus *sbus.Bus, mode string, addr uint16, opts ...RegOption) (*Register, error) {
	cfg := regConfig{
		width: 1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	for _, c := range mode {
		if !strings.ContainsRune("rwv", c) {
			return nil, xerrors.Errorf("board: invalid register mode %q", mode)
		}
	}
	reg := &Register{
		bus:      bus,
		addr:     addr,
		readable: strings.ContainsRune(mode, 'r'),
		writable: strings.ContainsRune(mode, 'w'),
		volatile: strings.ContainsRune(mode, 'v'),
		width:    cfg.width,
	}

	if cfg.width < 1 || cfg.width > 4 {
		return nil, xerrors.Errorf("board: invalid register width %d", cfg.width)
	}
	if cfg.width > 1 && reg.readable {
		return nil, xerrors.New("board: registers wider than one byte cannot be read")
	}

	lim := uint32(1)<<(8*uint(cfg.width)-1)<<1 - 1 // 2^(8*width) - 1
	reg.max = lim
	if cfg.max != nil {
		if *cfg.max > lim {
			return nil, xerrors.Errorf("board: invalid register maximum value 0x%x", *cfg.max)
		}
		reg.max = *cfg.max
	}
	if cfg.min != nil {
		if *cfg.min > lim {
			return nil, xerrors.Errorf("board: invalid register minimum value 0x%x", *cfg.min)
		}
		reg.min = *cfg.min
	}
	if reg.min > reg.max {
		return nil, xerrors.New("board: register minimum value must be lower or equal to maximum value")
	}
	reg.reset = cfg.reset

	return reg, nil
}

// Addr returns the register address.
func (reg *Register) Addr() uint16 { return reg.addr }

// Min returns the minimum value accepted by Set.
func (reg *Register) Min() uint32 { return reg.min }

// Max returns the maximum value accepted by Set.
func (reg *Register) Max() uint32 { return reg.max }

// Set writes a new value to the register, after checking it against the
// register bounds. The cache is updated to the requested value: a
// non-volatile register cannot change otherwise than through this path.
func (reg *Register) Set(v uint32) error { return reg.SetPoll(v, nil) }

// SetPoll is Set with a device-side polling condition: the board applies
// the write only once the polled register matches.
func (reg *Register) SetPoll(v uint32, poll *sbus.Poll) error {
	if v < reg.min {
		return xerrors.Errorf("board: value 0x%x too low for register 0x%04x", v, reg.addr)
	}
	if v > reg.max {
		return xerrors.Errorf("board: value 0x%x too high for register 0x%04x", v, reg.addr)
	}
	if !reg.writable {
		return xerrors.Errorf("board: register 0x%04x cannot be written", reg.addr)
	}

	buf := make([]byte, reg.width)
	for i := range buf {
		buf[i] = byte(v >> (8 * uint(reg.width-1-i)))
	}
	_, err := reg.bus.Write(reg.addr, buf, poll)
	if err != nil {
		return err
	}

	val := v
	reg.cache = &val
	return nil
}

// Get returns the current register value. Volatile registers are always
// fetched from the board; non-volatile ones are served from the cache when
// possible and fetched (then cached) otherwise.
func (reg *Register) Get() (uint32, error) {
	if reg.volatile {
		if !reg.readable {
			return 0, xerrors.Errorf("board: register 0x%04x cannot be read", reg.addr)
		}
		p, err := reg.bus.Read(reg.addr, 1, nil)
		if err != nil {
			return 0, err
		}
		return uint32(p[0]), nil
	}

	if reg.cache == nil {
		if !reg.readable {
			return 0, xerrors.Errorf("board: register 0x%04x cannot be read", reg.addr)
		}
		p, err := reg.bus.Read(reg.addr, 1, nil)
		if err != nil {
			return 0, err
		}
		v := uint32(p[0])
		reg.cache = &v
	}
	return *reg.cache, nil
}

// OrSet sets the given bits to 1 in the register.
func (reg *Register) OrSet(v uint32) error {
	cur, err := reg.Get()
	if err != nil {
		return err
	}
	return reg.Set(cur | v)
}

// GetBit returns the value of one register bit.
func (reg *Register) GetBit(i uint) (bool, error) {
	cur, err := reg.Get()
	if err != nil {
		return false, err
	}
	return (cur>>i)&1 == 1, nil
}

// SetBit sets the value of one register bit.
func (reg *Register) SetBit(i uint, v bool) error {
	return reg.SetBitPoll(i, v, nil)
}

// SetBitPoll is SetBit with a device-side polling condition.
func (reg *Register) SetBitPoll(i uint, v bool, poll *sbus.Poll) error {
	cur, err := reg.Get()
	if err != nil {
		return err
	}
	var b uint32
	if v {
		b = 1
	}
	return reg.SetPoll(cur&^(1<<i)|b<<i, poll)
}

// SetMask sets the bits selected by mask to the corresponding bits of v.
func (reg *Register) SetMask(v, mask uint32) error {
	return reg.SetMaskPoll(v, mask, nil)
}

// SetMaskPoll is SetMask with a device-side polling condition.
func (reg *Register) SetMaskPoll(v, mask uint32, poll *sbus.Poll) error {
	cur, err := reg.Get()
	if err != nil {
		return err
	}
	return reg.SetPoll(cur&^mask|v&mask, poll)
}

// Write performs a raw write to the register, bypassing bounds checks and
// the cache. The Operation of the last submitted chunk is returned for
// deferred status checks.
func (reg *Register) Write(data []byte, poll *sbus.Poll) (*sbus.Operation, error) {
	if !reg.writable {
		return nil, xerrors.Errorf("board: register 0x%04x cannot be written", reg.addr)
	}
	return reg.bus.Write(reg.addr, data, poll)
}

// Read performs a raw read of n bytes from the register.
func (reg *Register) Read(n int, poll *sbus.Poll) ([]byte, error) {
	if !reg.readable {
		return nil, xerrors.Errorf("board: register 0x%04x cannot be read", reg.addr)
	}
	return reg.bus.Read(reg.addr, n, poll)
}

// Reset writes the configured default value, if any.
func (reg *Register) Reset() error {
	if reg.reset == nil {
		return nil
	}
	return reg.Set(*reg.reset)
}

func mustRegister(bus *sbus.Bus, mode string, addr uint16, opts ...RegOption) *Register {
	reg, err := NewRegister(bus, mode, addr, opts...)
	if err != nil {
		panic(err)
	}
	return reg
}
