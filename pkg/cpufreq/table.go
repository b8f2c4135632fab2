// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpufreq

import (
	"fmt"
)

// TableEnd terminates a frequency table. Consumers stop iterating at
// the first entry carrying it.
const TableEnd = ^uint32(0)

// TableEntry is one selectable operating point in kHz, or the
// TableEnd terminator.
type TableEntry struct {
	Frequency uint32
}

// Frequencies returns the populated kHz entries of a
// terminator-delimited table.
func Frequencies(table []TableEntry) []uint32 {
	var freqs []uint32
	for _, e := range table {
		if e.Frequency == TableEnd {
			break
		}
		freqs = append(freqs, e.Frequency)
	}
	return freqs
}

// GenericInit populates p from a terminator-delimited frequency table
// and the driver's transition latency. The table stays owned by the
// driver; the policy only references it.
func GenericInit(p *Policy, table []TableEntry, transitionLatency uint32) error {
	freqs := Frequencies(table)
	if len(freqs) == 0 {
		return fmt.Errorf("frequency table for cpu%d is empty", p.CPU)
	}
	for i := 1; i < len(freqs); i++ {
		if freqs[i] < freqs[i-1] {
			return fmt.Errorf("frequency table for cpu%d is not ordered", p.CPU)
		}
	}
	p.Min = freqs[0]
	p.Max = freqs[len(freqs)-1]
	p.Table = table
	p.TransitionLatency = transitionLatency
	return nil
}

// GenericTableVerify is the standard table-driven verify hook: it
// clamps the policy's requested min/max into the range the table can
// serve.
func GenericTableVerify(p *Policy) error {
	freqs := Frequencies(p.Table)
	if len(freqs) == 0 {
		return fmt.Errorf("policy for cpu%d has no frequency table", p.CPU)
	}
	lo, hi := freqs[0], freqs[len(freqs)-1]
	if p.Min < lo {
		p.Min = lo
	}
	if p.Max > hi {
		p.Max = hi
	}
	if p.Min > p.Max {
		p.Min = p.Max
	}
	return nil
}
