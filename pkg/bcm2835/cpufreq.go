// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bcm2835 implements the cpufreq driver for BCM2835 class
// SoCs. The ARM clock on these parts is owned by the VideoCore
// firmware, so every rate change is a mailbox property request; the
// driver only keeps the two operating points the firmware reports.
package bcm2835

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/u-root/vcfreq/pkg/clock"
	"github.com/u-root/vcfreq/pkg/cpufreq"
	"github.com/u-root/vcfreq/pkg/logger"
	"github.com/u-root/vcfreq/pkg/metric"
)

var log = logger.LogContainer.GetSimpleLogger()

// ErrNoDevice means the firmware transport cannot be reached.
var ErrNoDevice = errors.New("firmware is not available")

// ErrInvalidTarget means the firmware refused or failed a rate switch.
var ErrInvalidTarget = errors.New("invalid target")

// transitionLatency is the measured time a frequency change takes on
// this hardware, in nanoseconds.
const transitionLatency = 355000

// Driver holds the operating points discovered at Init. min and max
// are in kHz and are only written by Init; Get and TargetIndex read
// them. Re-running Init must be serialized by the caller.
type Driver struct {
	clk          *clock.Client
	minFrequency uint32
	maxFrequency uint32
	table        [3]cpufreq.TableEntry
	lastFreq     uint32
}

var (
	gaugeInit   sync.Once
	gaugeDriver atomic.Pointer[Driver]
)

// New returns a driver using the given clock property channel. The
// frequency gauge lives in the process-global metrics registry, so it
// is registered once and reads the most recently constructed driver.
func New(clk *clock.Client) *Driver {
	d := &Driver{clk: clk}
	gaugeDriver.Store(d)
	gaugeInit.Do(func() {
		metric.Gauge(metric.MetricOpts{
			Namespace: "vcfreq",
			Subsystem: "cpufreq",
			Name:      "frequency_khz",
		}, nil, func() float64 {
			if d := gaugeDriver.Load(); d != nil {
				return float64(atomic.LoadUint32(&d.lastFreq))
			}
			return 0
		})
	})
	return d
}

func (d *Driver) Name() string {
	return "bcm2835-cpufreq"
}

// buildFreqTable queries the firmware for the hardware rate bounds
// and builds the terminator-delimited operating point table. A failed
// query degrades that bound to 0 rather than failing the build.
func buildFreqTable(clk *clock.Client) (minKHz, maxKHz uint32, table [3]cpufreq.TableEntry) {
	minKHz = clk.GetRate(clock.TagGetMinClockRate)
	maxKHz = clk.GetRate(clock.TagGetMaxClockRate)

	if minKHz > maxKHz {
		// A failed max query reads as 0; keep the bounds ordered
		// so the 0 entry still lands in the table.
		minKHz, maxKHz = maxKHz, minKHz
	}

	if minKHz == maxKHz {
		table[0] = cpufreq.TableEntry{Frequency: minKHz}
		table[1] = cpufreq.TableEntry{Frequency: cpufreq.TableEnd}
	} else {
		table[0] = cpufreq.TableEntry{Frequency: minKHz}
		table[1] = cpufreq.TableEntry{Frequency: maxKHz}
		table[2] = cpufreq.TableEntry{Frequency: cpufreq.TableEnd}
	}
	return minKHz, maxKHz, table
}

// Init discovers the hardware rate bounds and sets up the policy for
// first use.
func (d *Driver) Init(p *cpufreq.Policy) error {
	if !d.clk.Available() {
		log.Errorf("Firmware is not available")
		return ErrNoDevice
	}

	d.minFrequency, d.maxFrequency, d.table = buildFreqTable(d.clk)
	if err := cpufreq.GenericInit(p, d.table[:], transitionLatency); err != nil {
		d.minFrequency, d.maxFrequency, d.table = 0, 0, [3]cpufreq.TableEntry{}
		return err
	}

	log.Infof("min=%d max=%d", d.minFrequency, d.maxFrequency)
	return nil
}

func (d *Driver) Verify(p *cpufreq.Policy) error {
	return cpufreq.GenericTableVerify(p)
}

// TargetIndex switches to the operating point at the given table
// index. Index 0 selects the minimum rate; the table never holds more
// than two real entries, so any other index selects the maximum.
func (d *Driver) TargetIndex(p *cpufreq.Policy, index uint32) error {
	target := d.maxFrequency
	if index == 0 {
		target = d.minFrequency
	}

	cur := d.clk.SetRate(p.Cur, target)
	if cur == 0 {
		log.Errorf("Error occurred setting a new frequency (%d)", target)
		return fmt.Errorf("%w: index %d (%d kHz) for cpu%d", ErrInvalidTarget, index, target, p.CPU)
	}
	atomic.StoreUint32(&d.lastFreq, cur)
	log.Debugf("cpu%d: index %d: freq %d->%d", p.CPU, index, p.Cur, cur)
	return nil
}

// Get returns the current rate in kHz, snapped to one of the two
// operating points: the minimum when the reported rate is at or below
// it, the maximum otherwise.
func (d *Driver) Get(cpu uint32) uint32 {
	actual := d.clk.GetRate(clock.TagGetClockRate)
	log.Debugf("cpu%d: freq=%d", cpu, actual)

	snapped := d.maxFrequency
	if actual <= d.minFrequency {
		snapped = d.minFrequency
	}
	atomic.StoreUint32(&d.lastFreq, snapped)
	return snapped
}
