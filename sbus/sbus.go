// Copyright 2023 The go-scaffold Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sbus implements the register bus protocol of Scaffold FPGA boards.
//
// The board understands a small command set (register reads and writes with
// optional device-side polling, timeout configuration, delays and buffer
// waits), each encoded as one datagram. Datagrams are pushed eagerly into the
// device input FIFO and acknowledged in strict submission order; the Bus
// mirrors the FIFO occupancy host-side so that submission never overflows it.
package sbus // import "github.com/go-scaffold/scaffold/sbus"

const (
	// MaxChunk is the maximum payload size of a single read or write
	// datagram. The wire size field is one byte.
	MaxChunk = 255

	// FIFOSize is the capacity, in bytes, of the device input FIFO.
	FIFOSize = 512
)

// Kind enumerates the datagram kinds understood by the board.
type Kind uint8

const (
	KindRead Kind = iota
	KindWrite
	KindTimeout
	KindDelay
	KindBufferWait
)

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindTimeout:
		return "timeout"
	case KindDelay:
		return "delay"
	case KindBufferWait:
		return "buffer-wait"
	}
	return "invalid"
}

// Status is the life cycle state of an Operation.
type Status uint8

const (
	// StatusPending means the operation has been created but its datagram
	// has not been written to the transport yet (it may be held in an open
	// buffer-wait section).
	StatusPending Status = iota
	// StatusSent means the datagram has been written to the transport and
	// the board acknowledgement has not been consumed yet.
	StatusSent
	// StatusCompleted means the board fully executed the operation.
	StatusCompleted
	// StatusTimeout means the board gave up before completing the
	// operation: its polling condition was not met within the configured
	// timeout budget.
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusCompleted:
		return "completed"
	case StatusTimeout:
		return "timeout"
	}
	return "invalid"
}

// Poll describes a device-side polling condition attached to a read or write
// operation: the board repeatedly loads the register at Addr, masks it with
// Mask and compares the result with Value; the operation is executed only
// once the comparison holds.
type Poll struct {
	Addr  uint16
	Mask  uint8
	Value uint8
}
