// Copyright 2023 The go-scaffold Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package board

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-scaffold/scaffold/sbus"
	"golang.org/x/xerrors"
)

const (
	addrVersion = 0x0100

	ioDCount  = 16
	ioPCount  = 16
	uartCount = 2
	pgenCount = 4
	i2cCount  = 1
)

var supportedVersions = []string{"0.2", "0.3", "0.4", "0.5", "0.6", "0.7", "0.8", "0.9"}

type config struct {
	msg     *log.Logger
	sysFreq float64
	initIOs bool
}

// Option configures a Board connection.
type Option func(cfg *config)

// WithLogger sets the logger used by the board connection.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithSysFreq sets the system clock frequency of the board, in Hz.
// Default is 100 MHz.
func WithSysFreq(freq float64) Option {
	return func(cfg *config) {
		cfg.sysFreq = freq
	}
}

// WithInitIOs resets all I/Os to a default state during connection. This may
// generate pulses on the pins; without it, I/O connections set by previous
// sessions are preserved.
func WithInitIOs() Option {
	return func(cfg *config) {
		cfg.initIOs = true
	}
}

// Board is a connection to a Scaffold board. It owns the register bus and
// exposes the board peripherals, I/Os and interconnect.
//
// A Board is not safe for concurrent use.
type Board struct {
	msg *log.Logger
	rw  io.ReadWriter
	bus *sbus.Bus

	version string
	vmaj    int
	vmin    int

	sigs map[string]*Signal

	mtxlIn  []string
	mtxlOut []string
	mtxrIn  []string
	mtxrOut []string

	// Constant logical levels, connectable like any signal.
	Low  *Signal
	High *Signal

	Power *Power
	LEDs  *LEDs

	A0 *IO
	A1 *IO
	A2 *IO // hardware v1.1 (arch >= 0.4)
	A3 *IO // hardware v1.1 (arch >= 0.4)
	B0 *IO // hardware v1 (arch <= 0.3)
	B1 *IO // hardware v1 (arch <= 0.3)
	C0 *IO // hardware v1 (arch <= 0.3)
	C1 *IO // hardware v1 (arch <= 0.3)
	D  []*IO
	P  []*IO // arch >= 0.6

	UARTs   []*UART
	Pgens   []*PulseGen
	I2Cs    []*I2C
	SPIs    []*SPI   // arch >= 0.7
	Chains  []*Chain // arch >= 0.7
	Clocks  []*Clock // arch >= 0.7
	ISO7816 *ISO7816
}

// New connects to the Scaffold board reachable over rw, checks its name and
// hardware version, builds the peripheral map matching that version and
// resets the board configuration.
func New(rw io.ReadWriter, opts ...Option) (*Board, error) {
	cfg := config{
		msg:     log.New(os.Stdout, "scaffold: ", 0),
		sysFreq: 100e6,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	brd := &Board{
		msg:  cfg.msg,
		rw:   rw,
		bus:  sbus.New(rw, sbus.WithSysFreq(cfg.sysFreq)),
		sigs: make(map[string]*Signal),
	}

	err := brd.readVersion()
	if err != nil {
		return nil, err
	}
	brd.msg.Printf("connected to board (version=%s)", brd.version)
	brd.bus.SetCaps(sbus.CapsFor(brd.version))

	brd.build()

	err = brd.resetConfig(cfg.initIOs)
	if err != nil {
		return nil, xerrors.Errorf("board: could not reset configuration: %w", err)
	}
	return brd, nil
}

// readVersion reads and validates the board version register. The register
// replies the NUL-terminated version string in a loop, so reading twice its
// maximum length guarantees one complete copy between two NUL bytes,
// whatever the phase.
func (brd *Board) readVersion() error {
	reg := mustRegister(brd.bus, "r", addrVersion)
	raw, err := reg.Read(66, nil)
	if err != nil {
		return xerrors.Errorf("board: could not read version register: %w", err)
	}

	i := bytes.IndexByte(raw, 0)
	if i < 0 {
		return xerrors.Errorf("board: invalid version register value %q", raw)
	}
	j := bytes.IndexByte(raw[i+1:], 0)
	if j < 0 {
		return xerrors.Errorf("board: invalid version register value %q", raw)
	}
	str := string(raw[i+1 : i+1+j])

	toks := strings.Split(str, "-")
	if len(toks) != 2 {
		return xerrors.Errorf("board: could not parse version string %q", str)
	}
	name, version := toks[0], toks[1]
	if name != "scaffold" {
		return xerrors.Errorf("board: invalid board name %q", name)
	}
	var ok bool
	for _, v := range supportedVersions {
		if v == version {
			ok = true
			break
		}
	}
	if !ok {
		return xerrors.Errorf("board: hardware version %s not supported", version)
	}

	maj, min, err := sbus.ParseVersion(version)
	if err != nil {
		return err
	}
	brd.version = version
	brd.vmaj = maj
	brd.vmin = min
	return nil
}

func (brd *Board) versionAtLeast(maj, min int) bool {
	if brd.vmaj != maj {
		return brd.vmaj > maj
	}
	return brd.vmin >= min
}

// archV02 reports arch 0.2, whose I/O registers are grouped by 8 pins.
func (brd *Board) archV02() bool { return brd.vmaj == 0 && brd.vmin == 2 }

// hwV1 reports Scaffold hardware v1 (arch <= 0.3). Hardware v1.1 runs
// arch >= 0.4 and carries a different I/O set.
func (brd *Board) hwV1() bool { return brd.vmaj == 0 && brd.vmin <= 3 }

func (brd *Board) newSignal(path string) *Signal {
	sig := &Signal{brd: brd, path: path}
	brd.sigs[path] = sig
	return sig
}

// build creates the peripherals and the interconnect tables matching the
// board hardware version.
func (brd *Board) build() {
	brd.Low = brd.newSignal("0")
	brd.High = brd.newSignal("1")

	brd.Power = newPower(brd)
	brd.LEDs = newLEDs(brd)

	brd.A0 = newIO(brd, "/io/a0", 0, false)
	brd.A1 = newIO(brd, "/io/a1", 1, false)
	if brd.hwV1() {
		brd.B0 = newIO(brd, "/io/b0", 2, false)
		brd.B1 = newIO(brd, "/io/b1", 3, false)
		brd.C0 = newIO(brd, "/io/c0", 4, false)
		brd.C1 = newIO(brd, "/io/c1", 5, false)
		for i := 0; i < ioDCount; i++ {
			brd.D = append(brd.D, newIO(brd, ioPath("d", i), i+6, false))
		}
	} else {
		brd.A2 = newIO(brd, "/io/a2", 2, false)
		brd.A3 = newIO(brd, "/io/a3", 3, false)
		for i := 0; i < ioDCount; i++ {
			// Only D0, D1 and D2 carry a pull resistor on hardware v1.1.
			brd.D = append(brd.D, newIO(brd, ioPath("d", i), i+4, i < 3))
		}
		if brd.versionAtLeast(0, 6) {
			for i := 0; i < ioPCount; i++ {
				brd.P = append(brd.P, newIO(brd, ioPath("p", i), i+4+ioDCount, false))
			}
		}
	}

	for i := 0; i < uartCount; i++ {
		brd.UARTs = append(brd.UARTs, newUART(brd, i))
	}
	for i := 0; i < pgenCount; i++ {
		brd.Pgens = append(brd.Pgens, newPulseGen(brd, i))
	}
	for i := 0; i < i2cCount; i++ {
		brd.I2Cs = append(brd.I2Cs, newI2C(brd, i))
	}
	if brd.versionAtLeast(0, 7) {
		brd.SPIs = append(brd.SPIs, newSPI(brd, 0))
		for i := 0; i < 2; i++ {
			brd.Chains = append(brd.Chains, newChain(brd, i, 3))
		}
		brd.Clocks = append(brd.Clocks, newClock(brd, 0))
	}
	brd.ISO7816 = newISO7816(brd)

	// Left matrix input signals.
	brd.addMtxlIn("0")
	brd.addMtxlIn("1")
	brd.addMtxlIn("/io/a0")
	brd.addMtxlIn("/io/a1")
	if brd.hwV1() {
		brd.addMtxlIn("/io/b0")
		brd.addMtxlIn("/io/b1")
		brd.addMtxlIn("/io/c0")
		brd.addMtxlIn("/io/c1")
	} else {
		brd.addMtxlIn("/io/a2")
		brd.addMtxlIn("/io/a3")
	}
	for i := range brd.D {
		brd.addMtxlIn(ioPath("d", i))
	}
	for i := range brd.P {
		brd.addMtxlIn(ioPath("p", i))
	}
	if brd.versionAtLeast(0, 7) {
		// Feedback signals from module outputs, mostly triggers.
		for _, uart := range brd.UARTs {
			brd.addMtxlIn(uart.Trigger.path)
		}
		brd.addMtxlIn(brd.ISO7816.Trigger.path)
		for _, i2c := range brd.I2Cs {
			brd.addMtxlIn(i2c.Trigger.path)
		}
		for _, spi := range brd.SPIs {
			brd.addMtxlIn(spi.Trigger.path)
		}
		for _, pgen := range brd.Pgens {
			brd.addMtxlIn(pgen.Out.path)
		}
		for _, chain := range brd.Chains {
			brd.addMtxlIn(chain.Trigger.path)
		}
	}

	// Left matrix output signals.
	for _, uart := range brd.UARTs {
		brd.addMtxlOut(uart.Rx.path)
	}
	brd.addMtxlOut(brd.ISO7816.IOIn.path)
	for _, pgen := range brd.Pgens {
		brd.addMtxlOut(pgen.Start.path)
	}
	for _, i2c := range brd.I2Cs {
		brd.addMtxlOut(i2c.SDAIn.path)
		brd.addMtxlOut(i2c.SCLIn.path)
	}
	for _, spi := range brd.SPIs {
		brd.addMtxlOut(spi.MISO.path)
	}
	for _, chain := range brd.Chains {
		for _, ev := range chain.Events {
			brd.addMtxlOut(ev.path)
		}
	}
	for _, clock := range brd.Clocks {
		brd.addMtxlOut(clock.Glitch.path)
	}

	// Right matrix input signals.
	brd.addMtxrIn("z")
	brd.addMtxrIn("0")
	brd.addMtxrIn("1")
	brd.addMtxrIn(brd.Power.DUTTrigger.path)
	brd.addMtxrIn(brd.Power.PlatformTrigger.path)
	for _, uart := range brd.UARTs {
		brd.addMtxrIn(uart.Tx.path)
		brd.addMtxrIn(uart.Trigger.path)
	}
	brd.addMtxrIn(brd.ISO7816.IOOut.path)
	brd.addMtxrIn(brd.ISO7816.Clk.path)
	brd.addMtxrIn(brd.ISO7816.Trigger.path)
	for _, pgen := range brd.Pgens {
		brd.addMtxrIn(pgen.Out.path)
	}
	for _, i2c := range brd.I2Cs {
		brd.addMtxrIn(i2c.SDAOut.path)
		brd.addMtxrIn(i2c.SCLOut.path)
		brd.addMtxrIn(i2c.Trigger.path)
	}
	for _, spi := range brd.SPIs {
		brd.addMtxrIn(spi.SCK.path)
		brd.addMtxrIn(spi.MOSI.path)
		brd.addMtxrIn(spi.SS.path)
		brd.addMtxrIn(spi.Trigger.path)
	}
	for _, chain := range brd.Chains {
		brd.addMtxrIn(chain.Trigger.path)
	}
	for _, clock := range brd.Clocks {
		brd.addMtxrIn(clock.Out.path)
	}

	// Right matrix output signals.
	brd.addMtxrOut("/io/a0")
	brd.addMtxrOut("/io/a1")
	if brd.hwV1() {
		brd.addMtxrOut("/io/b0")
		brd.addMtxrOut("/io/b1")
		brd.addMtxrOut("/io/c0")
		brd.addMtxrOut("/io/c1")
	} else {
		brd.addMtxrOut("/io/a2")
		brd.addMtxrOut("/io/a3")
	}
	for i := range brd.D {
		brd.addMtxrOut(ioPath("d", i))
	}
	for i := range brd.P {
		brd.addMtxrOut(ioPath("p", i))
	}
}

func ioPath(group string, i int) string {
	return fmt.Sprintf("/io/%s%d", group, i)
}

// resetConfig resets the board to a default state.
func (brd *Board) resetConfig(initIOs bool) error {
	err := brd.bus.SetTimeout(0)
	if err != nil {
		return err
	}
	if initIOs {
		err = brd.DisconnectAll()
		if err != nil {
			return err
		}
		for _, pin := range brd.ios() {
			err = pin.resetRegisters()
			if err != nil {
				return err
			}
		}
	}
	return brd.LEDs.Reset()
}

// ios returns all I/Os of the board, in index order.
func (brd *Board) ios() []*IO {
	ios := []*IO{brd.A0, brd.A1}
	if brd.hwV1() {
		ios = append(ios, brd.B0, brd.B1, brd.C0, brd.C1)
	} else {
		ios = append(ios, brd.A2, brd.A3)
	}
	ios = append(ios, brd.D...)
	ios = append(ios, brd.P...)
	return ios
}

// Version returns the board hardware version string, for instance "0.7".
func (brd *Board) Version() string { return brd.version }

// Bus returns the underlying register bus, for raw register access.
func (brd *Board) Bus() *sbus.Bus { return brd.bus }

// Signal returns the signal with the given path, or nil if the board
// version does not provide it.
func (brd *Board) Signal(path string) *Signal { return brd.sigs[path] }

// Delay makes the board wait for the given number of system clock cycles
// before processing the next datagram. Requires hardware >= 0.9.
func (brd *Board) Delay(cycles uint32) error { return brd.bus.Delay(cycles) }

// SetTimeout reprograms the polling timeout applied by the board. A zero
// duration disables the timeout.
func (brd *Board) SetTimeout(d time.Duration) error { return brd.bus.SetTimeout(d) }

// Timeout returns the effective polling timeout, zero when disabled.
func (brd *Board) Timeout() time.Duration { return brd.bus.Timeout() }

// PushTimeout saves the current timeout setting and tightens it to at most d.
func (brd *Board) PushTimeout(d time.Duration) error { return brd.bus.PushTimeout(d) }

// PopTimeout restores the timeout setting saved by the matching PushTimeout.
func (brd *Board) PopTimeout() error { return brd.bus.PopTimeout() }

// TimeoutSection runs fn with the timeout tightened to at most d.
func (brd *Board) TimeoutSection(d time.Duration, fn func() error) error {
	return brd.bus.TimeoutSection(d, fn)
}

// BufferWaitSection runs fn with all register operations buffered host-side;
// they are flushed back to back on return. Requires hardware >= 0.9.
func (brd *Board) BufferWaitSection(fn func() error) error {
	return brd.bus.BufferWaitSection(fn)
}

// Close drains the outstanding bus operations and closes the transport when
// it supports closing.
func (brd *Board) Close() error {
	err := brd.bus.Drain()
	if c, ok := brd.rw.(io.Closer); ok {
		cerr := c.Close()
		if err == nil {
			err = cerr
		}
	}
	return err
}
