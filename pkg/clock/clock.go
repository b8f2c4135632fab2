// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package clock issues typed clock rate get/set requests to the
// VideoCore firmware over the mailbox property channel.
package clock

import (
	"fmt"

	"github.com/u-root/vcfreq/pkg/logger"
	"github.com/u-root/vcfreq/pkg/metric"
)

// Property tags from the firmware mailbox interface.
const (
	TagGetClockRate    = 0x00030002
	TagGetMaxClockRate = 0x00030004
	TagGetMinClockRate = 0x00030007
	TagSetClockRate    = 0x00038002
)

// ClockARM selects the ARM core clock in property requests.
const ClockARM = 0x00000003

var (
	log = logger.LogContainer.GetSimpleLogger()

	propertyCalls = metric.Counter(metric.MetricOpts{
		Namespace: "vcfreq",
		Subsystem: "clock",
		Name:      "property_calls",
	}, nil)
	propertyFailures = metric.Counter(metric.MetricOpts{
		Namespace: "vcfreq",
		Subsystem: "clock",
		Name:      "property_failures",
	}, nil)
	gateBlocked = metric.Counter(metric.MetricOpts{
		Namespace: "vcfreq",
		Subsystem: "clock",
		Name:      "gate_blocked",
	}, nil)
)

// Firmware is the property transport the channel talks through. The
// real implementation is mbox.Mailbox.
type Firmware interface {
	// Property issues a single-tag property call, copying the
	// firmware's response value words back into val.
	Property(tag uint32, val []uint32) error
	// Available reports whether the transport can currently reach
	// the firmware.
	Available() bool
}

// PropertyError is a failed property call, carrying the tag and the
// transport error.
type PropertyError struct {
	Tag uint32
	Err error
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("clock property %08x: %v", e.Tag, e.Err)
}

func (e *PropertyError) Unwrap() error { return e.Err }

// Client is the clock property channel. It keeps no state between
// calls; every request is marshalled fresh.
type Client struct {
	fw   Firmware
	gate Gate
}

// New returns a channel with the default, never-blocking gate.
func New(fw Firmware) *Client {
	return NewWithGate(fw, AlwaysOpen())
}

// NewWithGate returns a channel that consults g before every firmware
// request.
func NewWithGate(fw Firmware, g Gate) *Client {
	return &Client{fw: fw, gate: g}
}

// Available reports whether the firmware transport is reachable.
func (c *Client) Available() bool {
	return c.fw.Available()
}

// clockProperty gets or sets one clock rate in Hz. A blocked gate
// skips the firmware call entirely and leaves *val untouched.
func (c *Client) clockProperty(tag uint32, id uint32, val *uint32) error {
	if c.gate.Blocked() {
		gateBlocked.Inc()
		return nil
	}
	packet := []uint32{id, *val}
	propertyCalls.Inc()
	if err := c.fw.Property(tag, packet); err != nil {
		propertyFailures.Inc()
		return &PropertyError{Tag: tag, Err: err}
	}
	*val = packet[1]
	return nil
}

// GetRate reads the ARM clock rate selected by tag and returns it in
// kHz. Failures are logged and reported as rate 0.
func (c *Client) GetRate(tag uint32) uint32 {
	var rate uint32
	if err := c.clockProperty(tag, ClockARM, &rate); err != nil {
		log.Errorf("Failed to get clock: %v", err)
		return 0
	}
	rate /= 1000
	log.Debugf("%s frequency = %d kHz", tagName(tag), rate)
	return rate
}

// SetRate requests a switch of the ARM clock to newKHz and returns
// the rate the firmware actually applied, in kHz. Failures are logged
// and reported as rate 0.
func (c *Client) SetRate(curKHz, newKHz uint32) uint32 {
	rate := newKHz * 1000
	if err := c.clockProperty(TagSetClockRate, ClockARM, &rate); err != nil {
		log.Errorf("Failed to set clock to %d kHz: %v", newKHz, err)
		return 0
	}
	rate /= 1000
	log.Debugf("Setting new frequency = %d -> %d (actual %d)", curKHz, newKHz, rate)
	return rate
}

func tagName(tag uint32) string {
	switch tag {
	case TagGetClockRate:
		return "Current"
	case TagGetMinClockRate:
		return "Min"
	case TagGetMaxClockRate:
		return "Max"
	}
	return "Unexpected"
}
