// Copyright 2023 The go-scaffold Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package board

import (
	"fmt"
	"time"

	"golang.org/x/xerrors"
)

// IOMode selects how an I/O drives its pin.
type IOMode uint8

const (
	IOModeAuto IOMode = iota
	IOModeOpenDrain
	IOModePushOnly
)

// Pull selects the pull resistor of an I/O.
type Pull uint8

const (
	PullNone Pull = 0b00
	PullUp   Pull = 0b11
	PullDown Pull = 0b01
)

// IO is one I/O pin of the board. It is a connectable Signal and also
// exposes the sensing and configuration registers of the pin.
type IO struct {
	*Signal

	value  *Register
	config *Register // arch >= 0.3 only
	event  *Register // arch 0.2 only

	index      int
	group      int // arch 0.2: I/Os are grouped by 8
	groupIndex int
	pullable   bool
}

func newIO(brd *Board, path string, index int, pullable bool) *IO {
	io := &IO{
		Signal:   brd.newSignal(path),
		index:    index,
		pullable: pullable,
	}
	if brd.archV02() {
		// I/O registers are shared per group of 8 pins on 0.2.
		io.group = index / 8
		io.groupIndex = index % 8
		base := uint16(0xe000 + 0x10*io.group)
		io.value = mustRegister(brd.bus, "rv", base)
		io.event = mustRegister(brd.bus, "rwv", base+1, WithReset(0))
	} else {
		base := uint16(0xe000 + 0x10*index)
		io.value = mustRegister(brd.bus, "rwv", base, WithReset(0))
		io.config = mustRegister(brd.bus, "rw", base+1, WithReset(0))
	}
	return io
}

// Value senses the input pin and returns its logical state.
func (io *IO) Value() (bool, error) {
	if io.event != nil {
		v, err := io.value.Get()
		if err != nil {
			return false, err
		}
		return (v>>uint(io.groupIndex))&1 == 1, nil
	}
	return io.value.GetBit(0)
}

// Event reports whether an edge has been detected on the input since the
// last call to ClearEvent.
func (io *IO) Event() (bool, error) {
	if io.event != nil {
		v, err := io.event.Get()
		if err != nil {
			return false, err
		}
		return (v>>uint(io.groupIndex))&1 == 1, nil
	}
	return io.value.GetBit(1)
}

// ClearEvent clears the event flag. An event received during this call may
// be cleared without having been observed.
func (io *IO) ClearEvent() error {
	if io.event != nil {
		return io.event.Set(0xff ^ 1<<uint(io.groupIndex))
	}
	return io.value.Set(0)
}

// Mode returns the I/O drive mode.
func (io *IO) Mode() (IOMode, error) {
	if io.config == nil {
		return 0, xerrors.New("board: I/O modes require hardware >= 0.3")
	}
	v, err := io.config.Get()
	if err != nil {
		return 0, err
	}
	return IOMode(v & 0b11), nil
}

// SetMode sets the I/O drive mode. Default is IOModeAuto; overriding it is
// only needed for special applications.
func (io *IO) SetMode(mode IOMode) error {
	if io.config == nil {
		return xerrors.New("board: I/O modes require hardware >= 0.3")
	}
	if mode > IOModePushOnly {
		return xerrors.Errorf("board: invalid I/O mode %d", mode)
	}
	return io.config.SetMask(uint32(mode), 0b11)
}

// Pull returns the pull resistor mode of the I/O.
func (io *IO) Pull() (Pull, error) {
	if io.config == nil {
		return PullNone, xerrors.New("board: pull resistors require hardware >= 0.3")
	}
	if !io.pullable {
		return PullNone, nil
	}
	v, err := io.config.Get()
	if err != nil {
		return PullNone, err
	}
	return Pull(v >> 2 & 0b11), nil
}

// SetPull sets the pull resistor mode. Only some I/Os carry a pull
// resistor.
func (io *IO) SetPull(pull Pull) error {
	if io.config == nil {
		return xerrors.New("board: pull resistors require hardware >= 0.3")
	}
	if !io.pullable && pull != PullNone {
		return xerrors.Errorf("board: I/O %q does not support pull resistor", io.path)
	}
	return io.config.SetMask(uint32(pull)<<2, 0b1100)
}

func (io *IO) resetRegisters() error {
	for _, reg := range []*Register{io.value, io.config, io.event} {
		if reg == nil {
			continue
		}
		err := reg.Reset()
		if err != nil {
			return err
		}
	}
	return nil
}

// LEDMode selects how a LED is lit.
type LEDMode uint8

const (
	// LEDModeEvent lights the LED for a short period of time when an edge
	// is detected on the monitored signal.
	LEDModeEvent LEDMode = iota
	// LEDModeValue lights the LED when the monitored signal is high.
	LEDModeValue
)

// LEDs drives the board LEDs.
type LEDs struct {
	control    *Register
	brightness *Register
	mode       *Register

	leds map[string]uint // signal-monitor LED name to mode-register bit
}

func newLEDs(brd *Board) *LEDs {
	l := &LEDs{
		control:    mustRegister(brd.bus, "w", 0x0200),
		brightness: mustRegister(brd.bus, "w", 0x0201),
		mode:       mustRegister(brd.bus, "w", 0x0205, WithWidth(3)),
		leds:       make(map[string]uint),
	}
	var (
		names  []string
		offset uint
	)
	if brd.hwV1() {
		names = []string{"a0", "a1", "b0", "b1", "c0", "c1", "d0", "d1", "d2", "d3", "d4", "d5"}
		offset = 6
	} else {
		names = []string{"a0", "a1", "a2", "a3", "d0", "d1", "d2", "d3", "d4", "d5"}
		offset = 8
	}
	for i, name := range names {
		l.leds[name] = offset + uint(i)
	}
	return l
}

// LED returns the handle of the LED monitoring the given I/O (for
// instance "a0").
func (l *LEDs) LED(name string) (*LED, error) {
	i, ok := l.leds[name]
	if !ok {
		return nil, xerrors.Errorf("board: unknown LED %q", name)
	}
	return &LED{leds: l, index: i}, nil
}

// Reset sets the LEDs module registers to their default values.
func (l *LEDs) Reset() error {
	err := l.control.Set(0)
	if err != nil {
		return err
	}
	err = l.brightness.Set(20)
	if err != nil {
		return err
	}
	return l.mode.Set(0)
}

// Brightness returns the LEDs brightness, between 0 and 1.
func (l *LEDs) Brightness() (float64, error) {
	v, err := l.brightness.Get()
	if err != nil {
		return 0, err
	}
	return float64(v) / 127, nil
}

// SetBrightness sets the LEDs brightness. 0 is the minimum, 1 the maximum.
func (l *LEDs) SetBrightness(v float64) error {
	if v < 0 || v > 1 {
		return xerrors.Errorf("board: invalid brightness value %v", v)
	}
	return l.brightness.Set(uint32(v * 127))
}

// Disabled reports whether the LED driver outputs are all disabled.
func (l *LEDs) Disabled() (bool, error) {
	return l.control.GetBit(0)
}

// SetDisabled enables or disables all LED driver outputs.
func (l *LEDs) SetDisabled(v bool) error {
	return l.control.SetBit(0, v)
}

// Override reports whether the LED states are taken from the override
// registers instead of the monitored signals.
func (l *LEDs) Override() (bool, error) {
	return l.control.GetBit(1)
}

// SetOverride selects between monitored-signal and override-register LED
// states.
func (l *LEDs) SetOverride(v bool) error {
	return l.control.SetBit(1, v)
}

// LED is one signal-monitor LED of the board.
type LED struct {
	leds  *LEDs
	index uint
}

// Mode returns the lighting mode of the LED.
func (led *LED) Mode() (LEDMode, error) {
	v, err := led.leds.mode.GetBit(led.index)
	if err != nil {
		return 0, err
	}
	if v {
		return LEDModeValue, nil
	}
	return LEDModeEvent, nil
}

// SetMode sets the lighting mode of the LED. Default is LEDModeEvent.
func (led *LED) SetMode(mode LEDMode) error {
	return led.leds.mode.SetMask(uint32(mode)<<led.index, 1<<led.index)
}

// Power controls the power supplies of the DUT and platform sockets.
type Power struct {
	control *Register

	// Trigger sources raised when the corresponding socket is powered on.
	DUTTrigger      *Signal
	PlatformTrigger *Signal
}

func newPower(brd *Board) *Power {
	return &Power{
		control:         mustRegister(brd.bus, "rwv", 0x0600),
		DUTTrigger:      brd.newSignal("/power/dut_trigger"),
		PlatformTrigger: brd.newSignal("/power/platform_trigger"),
	}
}

// All returns the state of both power supplies: bit 0 is the DUT socket,
// bit 1 the platform socket.
func (p *Power) All() (uint8, error) {
	v, err := p.control.Get()
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}

// SetAll drives both power supplies at once: bit 0 is the DUT socket, bit 1
// the platform socket.
func (p *Power) SetAll(v uint8) error {
	if v&^uint8(0b11) != 0 {
		return xerrors.Errorf("board: invalid power-supply state 0b%b", v)
	}
	return p.control.Set(uint32(v))
}

// DUT returns the DUT socket power-supply state.
func (p *Power) DUT() (bool, error) { return p.control.GetBit(0) }

// SetDUT drives the DUT socket power supply.
func (p *Power) SetDUT(v bool) error { return p.control.SetBit(0, v) }

// Platform returns the platform socket power-supply state.
func (p *Power) Platform() (bool, error) { return p.control.GetBit(1) }

// SetPlatform drives the platform socket power supply.
func (p *Power) SetPlatform(v bool) error { return p.control.SetBit(1, v) }

// RestartDUT power-cycles the DUT socket, waiting toff between power-off
// and power-on and ton after power-on.
func (p *Power) RestartDUT(toff, ton time.Duration) error {
	err := p.SetDUT(false)
	if err != nil {
		return err
	}
	if toff > 0 {
		time.Sleep(toff)
	}
	err = p.SetDUT(true)
	if err != nil {
		return err
	}
	if ton > 0 {
		time.Sleep(ton)
	}
	return nil
}

// UART holds the connectable signals of one UART peripheral. The protocol
// engine itself is driven by a peripheral layer built on registers.
type UART struct {
	Rx      *Signal
	Tx      *Signal
	Trigger *Signal
}

func newUART(brd *Board, i int) *UART {
	return &UART{
		Rx:      brd.newSignal(fmt.Sprintf("/uart%d/rx", i)),
		Tx:      brd.newSignal(fmt.Sprintf("/uart%d/tx", i)),
		Trigger: brd.newSignal(fmt.Sprintf("/uart%d/trigger", i)),
	}
}

// ISO7816 holds the connectable signals of the ISO-7816 peripheral.
type ISO7816 struct {
	IOIn    *Signal
	IOOut   *Signal
	Clk     *Signal
	Trigger *Signal
}

func newISO7816(brd *Board) *ISO7816 {
	return &ISO7816{
		IOIn:    brd.newSignal("/iso7816/io_in"),
		IOOut:   brd.newSignal("/iso7816/io_out"),
		Clk:     brd.newSignal("/iso7816/clk"),
		Trigger: brd.newSignal("/iso7816/trigger"),
	}
}

// PulseGen holds the connectable signals of one pulse generator.
type PulseGen struct {
	Start *Signal
	Out   *Signal
}

func newPulseGen(brd *Board, i int) *PulseGen {
	return &PulseGen{
		Start: brd.newSignal(fmt.Sprintf("/pgen%d/start", i)),
		Out:   brd.newSignal(fmt.Sprintf("/pgen%d/out", i)),
	}
}

// I2C holds the connectable signals of one I2C peripheral.
type I2C struct {
	SDAIn   *Signal
	SCLIn   *Signal
	SDAOut  *Signal
	SCLOut  *Signal
	Trigger *Signal
}

func newI2C(brd *Board, i int) *I2C {
	return &I2C{
		SDAIn:   brd.newSignal(fmt.Sprintf("/i2c%d/sda_in", i)),
		SCLIn:   brd.newSignal(fmt.Sprintf("/i2c%d/scl_in", i)),
		SDAOut:  brd.newSignal(fmt.Sprintf("/i2c%d/sda_out", i)),
		SCLOut:  brd.newSignal(fmt.Sprintf("/i2c%d/scl_out", i)),
		Trigger: brd.newSignal(fmt.Sprintf("/i2c%d/trigger", i)),
	}
}

// SPI holds the connectable signals of one SPI peripheral.
// Requires hardware >= 0.7.
type SPI struct {
	MISO    *Signal
	SCK     *Signal
	MOSI    *Signal
	SS      *Signal
	Trigger *Signal
}

func newSPI(brd *Board, i int) *SPI {
	return &SPI{
		MISO:    brd.newSignal(fmt.Sprintf("/spi%d/miso", i)),
		SCK:     brd.newSignal(fmt.Sprintf("/spi%d/sck", i)),
		MOSI:    brd.newSignal(fmt.Sprintf("/spi%d/mosi", i)),
		SS:      brd.newSignal(fmt.Sprintf("/spi%d/ss", i)),
		Trigger: brd.newSignal(fmt.Sprintf("/spi%d/trigger", i)),
	}
}

// Chain holds the connectable signals of one trigger chain.
// Requires hardware >= 0.7.
type Chain struct {
	Events  []*Signal
	Trigger *Signal
}

func newChain(brd *Board, i, nevents int) *Chain {
	chain := &Chain{
		Trigger: brd.newSignal(fmt.Sprintf("/chain%d/trigger", i)),
	}
	for j := 0; j < nevents; j++ {
		chain.Events = append(chain.Events, brd.newSignal(fmt.Sprintf("/chain%d/event%d", i, j)))
	}
	return chain
}

// Clock holds the connectable signals of one clock generator.
// Requires hardware >= 0.7.
type Clock struct {
	Glitch *Signal
	Out    *Signal
}

func newClock(brd *Board, i int) *Clock {
	return &Clock{
		Glitch: brd.newSignal(fmt.Sprintf("/clock%d/glitch", i)),
		Out:    brd.newSignal(fmt.Sprintf("/clock%d/out", i)),
	}
}
