// Copyright 2023 The go-scaffold Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sbus

import (
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// Caps holds the capability flags of a hardware revision. The flags are
// computed once, when the board version is known, and checked by each
// operation before any datagram is built.
type Caps struct {
	Delay      bool // delay datagrams (hardware >= 0.9)
	BufferWait bool // buffer-wait datagrams (hardware >= 0.9)
}

// CapsFor returns the capability flags of the given hardware version string
// (e.g. "0.7"). Unparseable versions yield the base capability set.
func CapsFor(version string) Caps {
	maj, min, err := ParseVersion(version)
	if err != nil {
		return Caps{}
	}
	v09 := maj > 0 || min >= 9
	return Caps{
		Delay:      v09,
		BufferWait: v09,
	}
}

// ParseVersion parses a "major.minor" hardware version string.
func ParseVersion(version string) (maj, min int, err error) {
	toks := strings.Split(version, ".")
	if len(toks) != 2 {
		return 0, 0, xerrors.Errorf("sbus: invalid hardware version %q", version)
	}
	maj, err = strconv.Atoi(toks[0])
	if err != nil {
		return 0, 0, xerrors.Errorf("sbus: invalid hardware version %q: %w", version, err)
	}
	min, err = strconv.Atoi(toks[1])
	if err != nil {
		return 0, 0, xerrors.Errorf("sbus: invalid hardware version %q: %w", version, err)
	}
	return maj, min, nil
}
