// Copyright 2023 The go-scaffold Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sbus

import (
	"fmt"

	"golang.org/x/xerrors"
)

var (
	// ErrTimeoutStackEmpty is returned by PopTimeout when no timeout
	// setting has been pushed.
	ErrTimeoutStackEmpty = xerrors.New("sbus: timeout stack is empty")

	// ErrNoBufferWaitSection is returned by PopBufferWait when no
	// buffer-wait section has been started.
	ErrNoBufferWaitSection = xerrors.New("sbus: no buffer-wait section has been started")

	// ErrUnsupported is returned when the connected hardware revision does
	// not support the requested operation kind.
	ErrUnsupported = xerrors.New("sbus: operation not supported by hardware version")
)

// TimeoutError reports a read or write operation whose device-side polling
// condition was not met within the configured timeout budget.
//
// For reads, Data holds the bytes received before the board gave up and Size
// is len(Data). For writes, Data is nil and Size is the number of bytes the
// board reported as written. Expected is the requested size in both cases.
type TimeoutError struct {
	Data     []byte
	Size     int
	Expected int
}

func (e *TimeoutError) Error() string {
	if e.Data != nil {
		if len(e.Data) > 0 {
			return fmt.Sprintf("sbus: read timeout: partially received %d bytes (%x)", len(e.Data), e.Data)
		}
		return "sbus: read timeout: no data received"
	}
	return fmt.Sprintf("sbus: write timeout: only %d/%d bytes written", e.Size, e.Expected)
}
