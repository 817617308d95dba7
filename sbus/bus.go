// Copyright 2023 The go-scaffold Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sbus

import (
	"io"
	"math"
	"time"

	"golang.org/x/xerrors"
)

type config struct {
	sysFreq float64 // Hz
}

// Option configures a Bus.
type Option func(cfg *config)

// WithSysFreq sets the system clock frequency of the connected board, in Hz.
// It defines the duration of one device timeout unit. Default is 100 MHz.
func WithSysFreq(freq float64) Option {
	return func(cfg *config) {
		cfg.sysFreq = freq
	}
}

// Bus drives a Scaffold board through a blocking duplex byte transport.
//
// Datagrams are submitted eagerly as long as the device input FIFO has room
// for them, and acknowledgements are consumed lazily, oldest first. A Bus is
// not safe for concurrent use: interleaved submissions would desynchronize
// both the FIFO accounting and the response ordering, so a concurrent caller
// must serialize all access (one mutex per Bus).
type Bus struct {
	rw   io.ReadWriter
	caps Caps

	sysFreq float64

	fifo int // shadow of the device input FIFO occupancy
	ops  []*Operation

	bwDepth int // buffer-wait section nesting depth
	bwOps   []*Operation

	// The timeout register cannot be read back from the board, so the last
	// value written is cached to elide redundant reconfiguration.
	timeout    uint32 // device units
	hasTimeout bool
	tstack     []uint32
}

// New returns a Bus communicating over rw. The transport is expected to
// block on reads until the board replies (or its own I/O deadline fires) and
// to preserve byte order; it is not closed by the Bus.
func New(rw io.ReadWriter, opts ...Option) *Bus {
	cfg := config{
		sysFreq: 100e6,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Bus{
		rw:      rw,
		sysFreq: cfg.sysFreq,
	}
}

// SetCaps installs the capability flags of the connected hardware revision.
// Until then only the base operations (read, write, timeout configuration)
// are available.
func (bus *Bus) SetCaps(caps Caps) { bus.caps = caps }

// Caps returns the installed capability flags.
func (bus *Bus) Caps() Caps { return bus.caps }

// Pending returns the number of submitted operations whose acknowledgement
// has not been consumed yet.
func (bus *Bus) Pending() int { return len(bus.ops) }

// Write writes data to the register at addr, splitting it into chunks of at
// most MaxChunk bytes. Chunks are submitted without waiting for their
// acknowledgement; the Operation of the last chunk is returned so callers of
// polled writes can await the outcome. poll may be nil.
func (bus *Bus) Write(addr uint16, data []byte, poll *Poll) (*Operation, error) {
	if len(data) == 0 {
		return nil, xerrors.New("sbus: no data")
	}

	var last *Operation
	for len(data) > 0 {
		n := len(data)
		if n > MaxChunk {
			n = MaxChunk
		}
		op, err := newWrite(addr, data[:n], poll)
		if err != nil {
			return nil, err
		}
		err = bus.submit(op)
		if err != nil {
			return nil, err
		}
		last = op
		data = data[n:]
	}
	return last, nil
}

// Read reads size bytes from the register at addr, splitting the request
// into chunks of at most MaxChunk bytes. Read resolves each chunk before
// returning: a polled read that times out surfaces promptly as a
// *TimeoutError, together with all the bytes received so far. poll may be
// nil.
func (bus *Bus) Read(addr uint16, size int, poll *Poll) ([]byte, error) {
	if size < 1 {
		return nil, xerrors.Errorf("sbus: invalid read size %d", size)
	}

	var out []byte
	for remaining := size; remaining > 0; {
		n := remaining
		if n > MaxChunk {
			n = MaxChunk
		}
		op, err := newRead(addr, n, poll)
		if err != nil {
			return out, err
		}
		err = bus.submit(op)
		if err != nil {
			return out, err
		}
		res, err := op.Result()
		out = append(out, res...)
		if err != nil {
			return out, err
		}
		remaining -= n
	}
	return out, nil
}

// Delay makes the board wait for the given number of system clock cycles
// before processing the next datagram. Requires hardware >= 0.9.
func (bus *Bus) Delay(cycles uint32) error {
	op, err := newDelay(cycles)
	if err != nil {
		return err
	}
	return bus.submit(op)
}

// timeoutUnit is the duration of one device timeout unit, in seconds.
func (bus *Bus) timeoutUnit() float64 { return 3 / bus.sysFreq }

func (bus *Bus) timeoutUnits(d time.Duration) (uint32, error) {
	if d < 0 {
		return 0, xerrors.Errorf("sbus: invalid timeout %v", d)
	}
	if d == 0 {
		return 0, nil
	}
	units := d.Seconds() / bus.timeoutUnit()
	if units > math.MaxUint32 {
		return 0, xerrors.Errorf("sbus: timeout %v out of range", d)
	}
	n := uint32(units)
	if n == 0 {
		n = 1
	}
	return n, nil
}

// SetTimeout reprograms the device polling-timeout unit. A zero duration
// disables the timeout. The value is cached host-side (the register cannot
// be read back) and identical reconfiguration is elided.
func (bus *Bus) SetTimeout(d time.Duration) error {
	n, err := bus.timeoutUnits(d)
	if err != nil {
		return err
	}
	return bus.setRawTimeout(n)
}

func (bus *Bus) setRawTimeout(units uint32) error {
	if bus.hasTimeout && units == bus.timeout {
		return nil
	}
	err := bus.submit(newTimeout(units))
	if err != nil {
		return err
	}
	bus.timeout = units
	bus.hasTimeout = true
	return nil
}

// Timeout returns the effective device timeout, zero when disabled or not
// configured yet.
func (bus *Bus) Timeout() time.Duration {
	if !bus.hasTimeout || bus.timeout == 0 {
		return 0
	}
	return time.Duration(float64(bus.timeout) * bus.timeoutUnit() * float64(time.Second))
}

// PushTimeout saves the current timeout setting on a stack and applies d.
// While nested, the timeout can only tighten: the effective value is the
// minimum of the current setting and d (a disabled timeout never wins).
// d == 0 keeps the current setting. PopTimeout restores the saved value.
func (bus *Bus) PushTimeout(d time.Duration) error {
	n, err := bus.timeoutUnits(d)
	if err != nil {
		return err
	}

	var cur uint32
	if bus.hasTimeout {
		cur = bus.timeout
	}
	eff := n
	switch {
	case n == 0:
		eff = cur
	case cur != 0 && cur < n:
		eff = cur
	}

	bus.tstack = append(bus.tstack, cur)
	err = bus.setRawTimeout(eff)
	if err != nil {
		bus.tstack = bus.tstack[:len(bus.tstack)-1]
		return err
	}
	return nil
}

// PopTimeout restores the timeout setting saved by the matching PushTimeout.
func (bus *Bus) PopTimeout() error {
	if len(bus.tstack) == 0 {
		return ErrTimeoutStackEmpty
	}
	n := bus.tstack[len(bus.tstack)-1]
	bus.tstack = bus.tstack[:len(bus.tstack)-1]
	return bus.setRawTimeout(n)
}

// TimeoutSection runs fn with the timeout tightened to at most d, restoring
// the previous setting afterwards.
func (bus *Bus) TimeoutSection(d time.Duration, fn func() error) error {
	err := bus.PushTimeout(d)
	if err != nil {
		return err
	}
	err = fn()
	if perr := bus.PopTimeout(); err == nil {
		err = perr
	}
	return err
}

// PushBufferWait enters a buffer-wait section. While at least one section is
// open, operations are buffered host-side instead of being written to the
// transport. Requires hardware >= 0.9.
func (bus *Bus) PushBufferWait() error {
	if !bus.caps.BufferWait {
		return ErrUnsupported
	}
	bus.bwDepth++
	return nil
}

// PopBufferWait leaves a buffer-wait section. On the outermost exit the
// buffered operations are flushed: one buffer-wait datagram declaring their
// total footprint goes out first, so the board starts executing the batch
// only once it is fully buffered, back to back.
func (bus *Bus) PopBufferWait() error {
	if bus.bwDepth == 0 {
		return ErrNoBufferWaitSection
	}
	bus.bwDepth--
	if bus.bwDepth > 0 {
		return nil
	}

	ops := bus.bwOps
	bus.bwOps = nil

	var size int
	for _, op := range ops {
		size += len(op.datagram())
	}
	if size+bufferWaitSize > FIFOSize {
		return xerrors.Errorf("sbus: buffer-wait section too large (%d bytes)", size)
	}
	hdr, err := newBufferWait(size)
	if err != nil {
		return err
	}

	// Reserve room for the whole batch at once: the board must receive the
	// header and every operation without intervening resolution stalls.
	err = bus.require(size + bufferWaitSize)
	if err != nil {
		return err
	}
	err = bus.send(hdr)
	if err != nil {
		return err
	}
	var flushed int
	for _, op := range ops {
		err = bus.send(op)
		if err != nil {
			return err
		}
		flushed += len(op.datagram())
	}
	if flushed != size {
		panic("sbus: buffer-wait declared size out of sync")
	}
	return nil
}

// BufferWaitSection runs fn inside a buffer-wait section.
func (bus *Bus) BufferWaitSection(fn func() error) error {
	err := bus.PushBufferWait()
	if err != nil {
		return err
	}
	err = fn()
	if perr := bus.PopBufferWait(); err == nil {
		err = perr
	}
	return err
}

// submit hands an operation over to the Bus: capability check first, then
// either buffering (open buffer-wait section) or transmission.
func (bus *Bus) submit(op *Operation) error {
	if !op.supported(bus.caps) {
		return ErrUnsupported
	}
	if bus.bwDepth > 0 {
		op.bus = bus
		bus.bwOps = append(bus.bwOps, op)
		return nil
	}
	return bus.send(op)
}

// send writes the operation datagram to the transport, blocking on the
// resolution of older operations until the device FIFO has room for it.
func (bus *Bus) send(op *Operation) error {
	dg := op.datagram()
	if len(dg) >= FIFOSize {
		return xerrors.Errorf("sbus: datagram too large (%d bytes)", len(dg))
	}
	err := bus.require(len(dg))
	if err != nil {
		return err
	}
	_, err = bus.rw.Write(dg)
	if err != nil {
		return xerrors.Errorf("sbus: could not write %v datagram: %w", op.kind, err)
	}
	op.bus = bus
	op.status = StatusSent
	bus.ops = append(bus.ops, op)
	bus.fifo += len(dg)
	return nil
}

// require resolves pending operations until n bytes of FIFO headroom are
// available.
func (bus *Bus) require(n int) error {
	for FIFOSize-bus.fifo < n {
		err := bus.ResolveNext()
		if err != nil {
			return err
		}
	}
	return nil
}

// ResolveNext consumes the board acknowledgement of the oldest unresolved
// operation. It blocks until the board replies. Transport and protocol
// errors are returned; an operation timeout is a status, observable on the
// Operation handle.
func (bus *Bus) ResolveNext() error {
	if len(bus.ops) == 0 {
		return xerrors.New("sbus: no operation to resolve")
	}
	op := bus.ops[0]

	resp := make([]byte, op.respSize())
	if len(resp) > 0 {
		_, err := io.ReadFull(bus.rw, resp)
		if err != nil {
			return xerrors.Errorf("sbus: could not read %v acknowledgement: %w", op.kind, err)
		}
	}
	err := op.resolve(resp)
	if err != nil {
		return err
	}

	bus.fifo -= len(op.datagram())
	bus.ops = bus.ops[1:]
	if len(bus.ops) == 0 && bus.fifo != 0 {
		panic("sbus: FIFO accounting out of sync")
	}
	return nil
}

// Drain resolves every outstanding operation.
func (bus *Bus) Drain() error {
	for len(bus.ops) > 0 {
		err := bus.ResolveNext()
		if err != nil {
			return err
		}
	}
	return nil
}
