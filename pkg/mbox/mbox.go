// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mbox talks to the VideoCore firmware through the mailbox
// property interface exposed by the kernel as a character device
// (normally /dev/vcio). The wire format is documented at
// https://github.com/raspberrypi/firmware/wiki/Mailbox-property-interface
package mbox

import (
	"fmt"
	"os"
	"sync"
)

const (
	// DefaultDevice is the mailbox character device the kernel
	// creates on Raspberry Pi class hardware.
	DefaultDevice = "/dev/vcio"

	processRequest  = 0x00000000
	responseSuccess = 0x80000000
	responseError   = 0x80000001
	responseBit     = 0x80000000
	endTag          = 0x00000000
)

// Mailbox is a single open property channel to the firmware. The ioctl
// is serialized with a mutex since the device rejects concurrent
// property buffers from one file handle.
type Mailbox struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Probe reports whether the mailbox device node exists without
// opening it.
func Probe(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Open opens the default mailbox device.
func Open() (*Mailbox, error) {
	return OpenDevice(DefaultDevice)
}

// OpenDevice opens the mailbox character device at path.
func OpenDevice(path string) (*Mailbox, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, os.ModePerm)
	if err != nil {
		return nil, fmt.Errorf("open mailbox %s: %w", path, err)
	}
	return &Mailbox{f: f, path: path}, nil
}

// Available reports whether the firmware channel is usable. The
// firmware itself answers no liveness query, so an open device handle
// is the strongest possible probe.
func (m *Mailbox) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.f != nil
}

func (m *Mailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	return err
}

// Property issues a single-tag property call. val holds the value
// words of the tag; the firmware's response value words are copied
// back into val.
func (m *Mailbox) Property(tag uint32, val []uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return fmt.Errorf("mailbox %s is closed", m.path)
	}
	p := propertyBuffer(tag, val)
	if err := ioctlPropertyBuffer(m.f.Fd(), p); err != nil {
		return fmt.Errorf("mailbox property ioctl: %w", err)
	}
	return parseResponse(p, tag, val)
}

// propertyBuffer builds the u32 framing around a single tag: total
// size, process-request code, tag id, value buffer length, the
// request/response word, the value words and the end tag.
func propertyBuffer(tag uint32, val []uint32) []uint32 {
	p := make([]uint32, 6+len(val))
	p[0] = uint32(len(p)) * 4
	p[1] = processRequest
	p[2] = tag
	p[3] = uint32(len(val)) * 4
	p[4] = 0
	copy(p[5:], val)
	p[5+len(val)] = endTag
	return p
}

// parseResponse validates the firmware's in-place rewrite of the
// request buffer and extracts the value words.
func parseResponse(p []uint32, tag uint32, val []uint32) error {
	if p[1] == responseError {
		return fmt.Errorf("firmware rejected property %08x", tag)
	}
	if p[1] != responseSuccess {
		return fmt.Errorf("no firmware response for property %08x (code %08x)", tag, p[1])
	}
	if p[4]&responseBit == 0 {
		return fmt.Errorf("response tag unset for property %08x", tag)
	}
	copy(val, p[5:5+len(val)])
	return nil
}
