// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bcm2835

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/VictoriaMetrics/metrics"

	"github.com/u-root/vcfreq/pkg/clock"
	"github.com/u-root/vcfreq/pkg/cpufreq"
)

type op struct {
	tag  uint32
	req  uint32
	resp uint32
	err  error
}

type fakeFirmware struct {
	t         *testing.T
	ops       []op
	available bool
}

func fakeFw(t *testing.T) *fakeFirmware {
	return &fakeFirmware{t: t, available: true}
}

func (f *fakeFirmware) Property(tag uint32, val []uint32) error {
	if len(f.ops) == 0 {
		f.t.Fatalf("unexpected property call %08x", tag)
	}
	o := f.ops[0]
	f.ops = f.ops[1:]
	if o.tag != tag {
		f.t.Errorf("expected property %08x, got %08x", o.tag, tag)
	}
	if val[0] != clock.ClockARM {
		f.t.Errorf("property %08x addressed clock %d, expected the ARM clock", tag, val[0])
	}
	if val[1] != o.req {
		f.t.Errorf("property %08x requested rate %d Hz, expected %d Hz", tag, val[1], o.req)
	}
	if o.err != nil {
		return o.err
	}
	val[1] = o.resp
	return nil
}

func (f *fakeFirmware) Available() bool {
	return f.available
}

func (f *fakeFirmware) expectGet(tag uint32, hz uint32) {
	f.ops = append(f.ops, op{tag, 0, hz, nil})
}

func (f *fakeFirmware) expectGetFail(tag uint32) {
	f.ops = append(f.ops, op{tag, 0, 0, fmt.Errorf("mailbox gone")})
}

func (f *fakeFirmware) expectSet(hz uint32, actual uint32) {
	f.ops = append(f.ops, op{clock.TagSetClockRate, hz, actual, nil})
}

func (f *fakeFirmware) expectSetFail(hz uint32) {
	f.ops = append(f.ops, op{clock.TagSetClockRate, hz, 0, fmt.Errorf("mailbox gone")})
}

func (f *fakeFirmware) finish() {
	if len(f.ops) != 0 {
		f.t.Errorf("%d expected property calls never issued", len(f.ops))
	}
}

func initDriver(t *testing.T, fw *fakeFirmware) (*Driver, *cpufreq.Policy) {
	d := New(clock.New(fw))
	p := &cpufreq.Policy{CPU: 0}
	if err := d.Init(p); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return d, p
}

func TestInitBuildsTable(t *testing.T) {
	fw := fakeFw(t)
	fw.expectGet(clock.TagGetMinClockRate, 200000)
	fw.expectGet(clock.TagGetMaxClockRate, 800000)
	d, p := initDriver(t, fw)
	fw.finish()

	if d.minFrequency != 200 || d.maxFrequency != 800 {
		t.Errorf("bounds are %d/%d kHz, expected 200/800", d.minFrequency, d.maxFrequency)
	}
	if p.Min != 200 || p.Max != 800 {
		t.Errorf("policy bounds are %d/%d kHz, expected 200/800", p.Min, p.Max)
	}
	if p.TransitionLatency != 355000 {
		t.Errorf("transition latency is %d ns, expected 355000", p.TransitionLatency)
	}
	want := []uint32{200, 800, cpufreq.TableEnd}
	for i, e := range p.Table {
		if e.Frequency != want[i] {
			t.Errorf("table slot %d is %d, expected %d", i, e.Frequency, want[i])
		}
	}
}

func TestInitDegenerateTable(t *testing.T) {
	fw := fakeFw(t)
	fw.expectGet(clock.TagGetMinClockRate, 600000000)
	fw.expectGet(clock.TagGetMaxClockRate, 600000000)
	d, p := initDriver(t, fw)
	fw.finish()

	if freqs := cpufreq.Frequencies(p.Table); len(freqs) != 1 || freqs[0] != 600000 {
		t.Errorf("degenerate table frequencies are %v, expected [600000]", freqs)
	}
	if p.Table[1].Frequency != cpufreq.TableEnd {
		t.Error("degenerate table is not terminated after the single entry")
	}
	if d.minFrequency != 600000 || d.maxFrequency != 600000 {
		t.Errorf("bounds are %d/%d kHz, expected 600000/600000", d.minFrequency, d.maxFrequency)
	}
}

func TestDegenerateTargetIndex(t *testing.T) {
	fw := fakeFw(t)
	fw.expectGet(clock.TagGetMinClockRate, 600000000)
	fw.expectGet(clock.TagGetMaxClockRate, 600000000)
	d, p := initDriver(t, fw)

	fw.expectSet(600000000, 600000000)
	if err := d.TargetIndex(p, 1); err != nil {
		t.Fatalf("TargetIndex(1) failed: %v", err)
	}
	fw.expectSet(600000000, 600000000)
	if err := d.TargetIndex(p, 0); err != nil {
		t.Fatalf("TargetIndex(0) failed: %v", err)
	}
	fw.finish()
}

func TestInitFirmwareUnavailable(t *testing.T) {
	fw := fakeFw(t)
	fw.available = false
	d := New(clock.New(fw))
	p := &cpufreq.Policy{CPU: 0}
	if err := d.Init(p); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("Init returned %v, expected ErrNoDevice", err)
	}
	if p.Table != nil {
		t.Error("failed Init registered operating points")
	}
	if d.minFrequency != 0 || d.maxFrequency != 0 {
		t.Errorf("failed Init persisted bounds %d/%d kHz", d.minFrequency, d.maxFrequency)
	}
	fw.finish()
}

func TestInitMaxBoundFailure(t *testing.T) {
	fw := fakeFw(t)
	fw.expectGet(clock.TagGetMinClockRate, 200000)
	fw.expectGetFail(clock.TagGetMaxClockRate)
	d, p := initDriver(t, fw)
	fw.finish()

	// The dead bound reads as 0 and still lands in the table, below
	// the live one.
	if d.minFrequency != 0 || d.maxFrequency != 200 {
		t.Errorf("bounds are %d/%d kHz, expected 0/200", d.minFrequency, d.maxFrequency)
	}
	if freqs := cpufreq.Frequencies(p.Table); len(freqs) != 2 || freqs[0] != 0 || freqs[1] != 200 {
		t.Errorf("table frequencies are %v, expected [0 200]", freqs)
	}
}

func TestInitMinBoundFailure(t *testing.T) {
	fw := fakeFw(t)
	fw.expectGetFail(clock.TagGetMinClockRate)
	fw.expectGet(clock.TagGetMaxClockRate, 800000)
	d, p := initDriver(t, fw)
	fw.finish()

	if d.minFrequency != 0 || d.maxFrequency != 800 {
		t.Errorf("bounds are %d/%d kHz, expected 0/800", d.minFrequency, d.maxFrequency)
	}
	if freqs := cpufreq.Frequencies(p.Table); len(freqs) != 2 || freqs[0] != 0 || freqs[1] != 800 {
		t.Errorf("table frequencies are %v, expected [0 800]", freqs)
	}
}

func TestInitDegradesFailedBoundsToZero(t *testing.T) {
	fw := fakeFw(t)
	fw.expectGetFail(clock.TagGetMinClockRate)
	fw.expectGetFail(clock.TagGetMaxClockRate)
	d, p := initDriver(t, fw)
	fw.finish()

	if d.minFrequency != 0 || d.maxFrequency != 0 {
		t.Errorf("bounds are %d/%d kHz after transport failure, expected 0/0", d.minFrequency, d.maxFrequency)
	}
	if freqs := cpufreq.Frequencies(p.Table); len(freqs) != 1 || freqs[0] != 0 {
		t.Errorf("degraded table frequencies are %v, expected [0]", freqs)
	}
}

func TestTargetIndexMapping(t *testing.T) {
	fw := fakeFw(t)
	fw.expectGet(clock.TagGetMinClockRate, 200000)
	fw.expectGet(clock.TagGetMaxClockRate, 800000)
	d, p := initDriver(t, fw)

	// Index 0 requests the minimum, any other index the maximum.
	fw.expectSet(200000, 200000)
	if err := d.TargetIndex(p, 0); err != nil {
		t.Fatalf("TargetIndex(0) failed: %v", err)
	}
	fw.expectSet(800000, 800000)
	if err := d.TargetIndex(p, 1); err != nil {
		t.Fatalf("TargetIndex(1) failed: %v", err)
	}
	fw.expectSet(800000, 800000)
	if err := d.TargetIndex(p, 5); err != nil {
		t.Fatalf("TargetIndex(5) failed: %v", err)
	}
	fw.finish()
}

func TestTargetIndexFailure(t *testing.T) {
	fw := fakeFw(t)
	fw.expectGet(clock.TagGetMinClockRate, 200000)
	fw.expectGet(clock.TagGetMaxClockRate, 800000)
	d, p := initDriver(t, fw)

	fw.expectSetFail(800000)
	err := d.TargetIndex(p, 1)
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("TargetIndex returned %v, expected ErrInvalidTarget", err)
	}
	if d.minFrequency != 200 || d.maxFrequency != 800 {
		t.Error("driver state changed on a failed target")
	}
	fw.finish()
}

func TestGetSnapsToOperatingPoint(t *testing.T) {
	fw := fakeFw(t)
	fw.expectGet(clock.TagGetMinClockRate, 200000)
	fw.expectGet(clock.TagGetMaxClockRate, 800000)
	d, _ := initDriver(t, fw)

	for _, tc := range []struct {
		hz   uint32
		want uint32
	}{
		{100000, 200},  // below min snaps up to min
		{200000, 200},  // exactly min
		{750000, 800},  // between the points snaps to max
		{800000, 800},  // exactly max
		{1000000, 800}, // above max snaps down to max
	} {
		fw.expectGet(clock.TagGetClockRate, tc.hz)
		if got := d.Get(0); got != tc.want {
			t.Errorf("Get with %d Hz reported %d kHz, expected %d", tc.hz, got, tc.want)
		}
	}
	fw.finish()
}

func TestGetIdempotent(t *testing.T) {
	fw := fakeFw(t)
	fw.expectGet(clock.TagGetMinClockRate, 200000)
	fw.expectGet(clock.TagGetMaxClockRate, 800000)
	d, _ := initDriver(t, fw)

	for i := 0; i < 3; i++ {
		fw.expectGet(clock.TagGetClockRate, 750000)
		if got := d.Get(0); got != 800 {
			t.Errorf("Get call %d reported %d kHz, expected 800", i, got)
		}
	}
	fw.finish()
}

func TestGetAfterTotalFailure(t *testing.T) {
	fw := fakeFw(t)
	fw.expectGet(clock.TagGetMinClockRate, 200000)
	fw.expectGet(clock.TagGetMaxClockRate, 800000)
	d, _ := initDriver(t, fw)

	// A failed current-rate query reads as 0 Hz, which snaps to the
	// minimum operating point.
	fw.expectGetFail(clock.TagGetClockRate)
	if got := d.Get(0); got != 200 {
		t.Errorf("Get after transport failure reported %d kHz, expected 200", got)
	}
	fw.finish()
}

func TestFrequencyGaugeFollowsDriver(t *testing.T) {
	fw := fakeFw(t)
	fw.expectGet(clock.TagGetMinClockRate, 200000)
	fw.expectGet(clock.TagGetMaxClockRate, 800000)
	d, _ := initDriver(t, fw)

	fw.expectGet(clock.TagGetClockRate, 750000)
	d.Get(0)
	var buf bytes.Buffer
	metrics.WritePrometheus(&buf, false)
	if !strings.Contains(buf.String(), "vcfreq_cpufreq_frequency_khz 800") {
		t.Errorf("gauge does not report 800 kHz:\n%s", buf.String())
	}
	fw.finish()

	// A second driver takes over the single gauge registration.
	fw2 := fakeFw(t)
	fw2.expectGet(clock.TagGetMinClockRate, 300000)
	fw2.expectGet(clock.TagGetMaxClockRate, 900000)
	d2, _ := initDriver(t, fw2)

	fw2.expectGet(clock.TagGetClockRate, 900000)
	d2.Get(0)
	buf.Reset()
	metrics.WritePrometheus(&buf, false)
	if !strings.Contains(buf.String(), "vcfreq_cpufreq_frequency_khz 900") {
		t.Errorf("gauge does not follow the newest driver:\n%s", buf.String())
	}
	fw2.finish()
}

func TestVerifyClampsPolicy(t *testing.T) {
	fw := fakeFw(t)
	fw.expectGet(clock.TagGetMinClockRate, 200000)
	fw.expectGet(clock.TagGetMaxClockRate, 800000)
	d, p := initDriver(t, fw)
	fw.finish()

	p.Min = 100
	p.Max = 900
	if err := d.Verify(p); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if p.Min != 200 || p.Max != 800 {
		t.Errorf("Verify clamped to %d/%d kHz, expected 200/800", p.Min, p.Max)
	}
}
