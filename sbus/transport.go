// Copyright 2023 The go-scaffold Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sbus

import (
	"io"

	"github.com/ziutek/ftdi"
	"golang.org/x/xerrors"
)

// Transport is the blocking duplex byte channel a Bus communicates over.
// Reads block until the board replies or the transport's own I/O deadline
// fires; the Bus itself enforces no host-side deadline.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// Default USB identifiers and UART settings of Scaffold boards.
const (
	DefaultVendorID  = 0x0403
	DefaultProductID = 0x6015
	DefaultBaudrate  = 2000000
)

type ftdiDevice interface {
	Reset() error

	SetBitmode(iomask byte, mode ftdi.Mode) error
	SetFlowControl(flowctrl ftdi.FlowCtrl) error
	SetBaudrate(rate int) error
	SetLatencyTimer(lt int) error
	SetWriteChunkSize(cs int) error
	SetReadChunkSize(cs int) error
	PurgeBuffers() error

	io.Writer
	io.Reader
	io.Closer
}

var (
	ftdiOpen = ftdiOpenImpl
)

func ftdiOpenImpl(vid, pid uint16) (ftdiDevice, error) {
	dev, err := ftdi.OpenFirst(int(vid), int(pid), ftdi.ChannelAny)
	return dev, err
}

type ftdiPort struct {
	vid uint16
	pid uint16
	ft  ftdiDevice
}

var _ Transport = (*ftdiPort)(nil)

// OpenFTDI opens the first FTDI device matching the given USB identifiers
// and configures its UART for the Scaffold serial protocol.
func OpenFTDI(vid, pid uint16) (Transport, error) {
	ft, err := ftdiOpen(vid, pid)
	if err != nil {
		return nil, xerrors.Errorf("sbus: could not open FTDI device (vid=0x%x, pid=0x%x): %w", vid, pid, err)
	}

	port := &ftdiPort{vid: vid, pid: pid, ft: ft}
	err = port.init()
	if err != nil {
		ft.Close()
		return nil, xerrors.Errorf("sbus: could not initialize FTDI device (vid=0x%x, pid=0x%x): %w", vid, pid, err)
	}

	return port, nil
}

func (port *ftdiPort) init() error {
	var err error

	err = port.ft.Reset()
	if err != nil {
		return xerrors.Errorf("could not reset USB: %w", err)
	}

	err = port.ft.SetBitmode(0, ftdi.ModeReset)
	if err != nil {
		return xerrors.Errorf("could not reset bit mode: %w", err)
	}

	err = port.ft.SetFlowControl(ftdi.FlowCtrlDisable)
	if err != nil {
		return xerrors.Errorf("could not disable flow control: %w", err)
	}

	err = port.ft.SetBaudrate(DefaultBaudrate)
	if err != nil {
		return xerrors.Errorf("could not set baudrate to %d: %w", DefaultBaudrate, err)
	}

	err = port.ft.SetLatencyTimer(2)
	if err != nil {
		return xerrors.Errorf("could not set latency timer to 2: %w", err)
	}

	err = port.ft.SetWriteChunkSize(0xffff)
	if err != nil {
		return xerrors.Errorf("could not set write chunk-size to 0xffff: %w", err)
	}

	err = port.ft.SetReadChunkSize(0xffff)
	if err != nil {
		return xerrors.Errorf("could not set read chunk-size to 0xffff: %w", err)
	}

	err = port.ft.PurgeBuffers()
	if err != nil {
		return xerrors.Errorf("could not purge USB buffers: %w", err)
	}

	return nil
}

func (port *ftdiPort) Read(p []byte) (int, error)  { return port.ft.Read(p) }
func (port *ftdiPort) Write(p []byte) (int, error) { return port.ft.Write(p) }
func (port *ftdiPort) Close() error                { return port.ft.Close() }
