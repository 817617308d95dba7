// Copyright 2023 The go-scaffold Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sbus

import (
	"golang.org/x/xerrors"
)

// command byte layout of read/write datagrams.
const (
	cmdWrite = 0x01 // write (read otherwise)
	cmdSized = 0x02 // multi-byte size field present
	cmdPoll  = 0x04 // polling fields present

	cmdTimeout    = 0x08
	cmdDelay      = 0x09
	cmdBufferWait = 0x0a
)

// bufferWaitSize is the wire size of a buffer-wait datagram.
const bufferWaitSize = 3

// Operation is one in-flight datagram awaiting board acknowledgement.
// It is owned by the Bus from submission until resolution; callers may keep
// the handle to defer status checks while the pipeline hides the round-trip
// latency.
type Operation struct {
	bus  *Bus
	kind Kind
	addr uint16
	poll *Poll

	data  []byte // write payload
	size  int    // read size, or buffer-wait declared size
	value uint32 // timeout value, or delay cycle count

	status Status
	dgram  []byte
	result []byte
	fail   *TimeoutError
}

func newRead(addr uint16, size int, poll *Poll) (*Operation, error) {
	if size < 1 || size > MaxChunk {
		return nil, xerrors.Errorf("sbus: invalid read size %d", size)
	}
	return &Operation{kind: KindRead, addr: addr, size: size, poll: poll}, nil
}

func newWrite(addr uint16, data []byte, poll *Poll) (*Operation, error) {
	if len(data) == 0 {
		return nil, xerrors.New("sbus: no data")
	}
	if len(data) > MaxChunk {
		return nil, xerrors.Errorf("sbus: data too long (%d bytes)", len(data))
	}
	return &Operation{kind: KindWrite, addr: addr, data: data, poll: poll}, nil
}

func newTimeout(value uint32) *Operation {
	return &Operation{kind: KindTimeout, value: value}
}

func newDelay(cycles uint32) (*Operation, error) {
	if cycles >= 1<<24 {
		return nil, xerrors.Errorf("sbus: delay out of range (%d cycles)", cycles)
	}
	return &Operation{kind: KindDelay, value: cycles}, nil
}

func newBufferWait(size int) (*Operation, error) {
	if size < 0 || size >= FIFOSize {
		return nil, xerrors.Errorf("sbus: buffer size out of range (%d bytes)", size)
	}
	return &Operation{kind: KindBufferWait, size: size}, nil
}

// supported reports whether the hardware revision described by caps can
// execute this operation.
func (op *Operation) supported(caps Caps) bool {
	switch op.kind {
	case KindDelay:
		return caps.Delay
	case KindBufferWait:
		return caps.BufferWait
	default:
		return true
	}
}

// datagram returns the wire encoding of the operation. The encoding is
// computed once and cached: its length is the operation FIFO footprint and
// is consulted by the shadow accounting after submission.
func (op *Operation) datagram() []byte {
	if op.dgram != nil {
		return op.dgram
	}

	var d dgram
	switch op.kind {
	case KindRead, KindWrite:
		var (
			cmd  = uint8(0)
			size = op.size
		)
		if op.kind == KindWrite {
			cmd |= cmdWrite
			size = len(op.data)
		}
		if size > 1 {
			cmd |= cmdSized
		}
		if op.poll != nil {
			cmd |= cmdPoll
		}
		d.writeU8(cmd)
		d.writeU16(op.addr)
		if op.poll != nil {
			d.writeU16(op.poll.Addr)
			d.writeU8(op.poll.Mask)
			d.writeU8(op.poll.Value)
		}
		if size > 1 {
			d.writeU8(uint8(size))
		}
		if op.kind == KindWrite {
			d.write(op.data)
		}

	case KindTimeout:
		d.writeU8(cmdTimeout)
		d.writeU32(op.value)

	case KindDelay:
		d.writeU8(cmdDelay)
		d.writeU24(op.value)

	case KindBufferWait:
		d.writeU8(cmdBufferWait)
		d.writeU16(uint16(op.size))
	}

	op.dgram = d.p
	return op.dgram
}

// respSize returns the exact acknowledgement size the board sends back for
// this operation.
func (op *Operation) respSize() int {
	switch op.kind {
	case KindRead:
		return op.size + 1 // data + completed-count
	case KindWrite, KindDelay, KindBufferWait:
		return 1
	default: // timeout configuration is not acknowledged
		return 0
	}
}

// resolve decodes the board acknowledgement and updates the operation
// status. It returns an error only for protocol violations; an operation
// timeout is a status, reported through Err and Result.
func (op *Operation) resolve(resp []byte) error {
	switch op.kind {
	case KindRead:
		n := int(resp[op.size])
		if n > op.size {
			return xerrors.Errorf("sbus: invalid read acknowledgement (got=%d bytes, want<=%d)", n, op.size)
		}
		op.result = resp[:n:n]
		if n == op.size {
			op.status = StatusCompleted
			break
		}
		op.status = StatusTimeout
		op.fail = &TimeoutError{Data: op.result, Size: n, Expected: op.size}

	case KindWrite:
		n := int(resp[0])
		if n > len(op.data) {
			return xerrors.Errorf("sbus: invalid write acknowledgement (got=%d bytes, want<=%d)", n, len(op.data))
		}
		if n == len(op.data) {
			op.status = StatusCompleted
			break
		}
		op.status = StatusTimeout
		op.fail = &TimeoutError{Size: n, Expected: len(op.data)}

	case KindTimeout:
		op.status = StatusCompleted

	case KindDelay, KindBufferWait:
		if resp[0] != 0 {
			return xerrors.Errorf("sbus: invalid %v acknowledgement (got=0x%02x)", op.kind, resp[0])
		}
		op.status = StatusCompleted
	}
	return nil
}

// Status returns the current life cycle state of the operation.
func (op *Operation) Status() Status { return op.status }

// Wait blocks until the board acknowledgement of this operation has been
// consumed, resolving all strictly older operations first. Waiting on an
// operation that has never been submitted is an error.
func (op *Operation) Wait() error {
	if op.status == StatusPending {
		return xerrors.New("sbus: cannot wait on a pending operation")
	}
	for op.status == StatusSent {
		err := op.bus.ResolveNext()
		if err != nil {
			return err
		}
	}
	return nil
}

// Err waits for the operation outcome and returns nil if it completed, or
// the *TimeoutError describing how far the board got.
func (op *Operation) Err() error {
	err := op.Wait()
	if err != nil {
		return err
	}
	if op.fail != nil {
		return op.fail
	}
	return nil
}

// Result waits for the operation outcome and returns the data the board sent
// back. On timeout the partial data is returned together with the
// *TimeoutError.
func (op *Operation) Result() ([]byte, error) {
	err := op.Wait()
	if err != nil {
		return nil, err
	}
	if op.fail != nil {
		return op.result, op.fail
	}
	return op.result, nil
}

// dgram builds a datagram, big-endian.
type dgram struct {
	p []byte
}

func (d *dgram) write(p []byte) {
	d.p = append(d.p, p...)
}

func (d *dgram) writeU8(v uint8) {
	d.p = append(d.p, v)
}

func (d *dgram) writeU16(v uint16) {
	d.p = append(d.p, byte(v>>8), byte(v))
}

func (d *dgram) writeU24(v uint32) {
	d.p = append(d.p, byte(v>>16), byte(v>>8), byte(v))
}

func (d *dgram) writeU32(v uint32) {
	d.p = append(d.p, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
