// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cpufreq is the boundary between frequency scaling drivers
// and the governor that selects operating points. A driver registers
// its entry points here; the governor drives them through a Policy.
package cpufreq

import (
	"fmt"
	"sync"

	"github.com/u-root/vcfreq/pkg/logger"
)

var log = logger.LogContainer.GetSimpleLogger()

// Policy is the per-CPU policy object the framework owns and passes
// into driver entry points. Drivers populate it during Init and must
// not retain it.
type Policy struct {
	CPU uint32
	// Min, Max and Cur are in kHz.
	Min uint32
	Max uint32
	Cur uint32
	// TransitionLatency is the driver's declared worst case switch
	// time in nanoseconds.
	TransitionLatency uint32
	Table             []TableEntry
}

// Driver is the set of entry points a frequency scaling driver
// registers with the framework.
type Driver interface {
	Name() string
	// Init sets up the policy for first use.
	Init(p *Policy) error
	// Verify checks and clamps a policy change request.
	Verify(p *Policy) error
	// TargetIndex switches to the operating point at the given
	// table index.
	TargetIndex(p *Policy, index uint32) error
	// Get returns the current rate of the given CPU in kHz.
	Get(cpu uint32) uint32
}

var (
	mu         sync.Mutex
	registered Driver
)

// Register installs d as the active frequency scaling driver. Only
// one driver can be registered at a time.
func Register(d Driver) error {
	mu.Lock()
	defer mu.Unlock()
	if registered != nil {
		return fmt.Errorf("cpufreq driver %s already registered", registered.Name())
	}
	registered = d
	log.Infof("Registered cpufreq driver %s", d.Name())
	return nil
}

// Unregister removes d if it is the active driver.
func Unregister(d Driver) {
	mu.Lock()
	defer mu.Unlock()
	if registered == d {
		registered = nil
		log.Infof("Unregistered cpufreq driver %s", d.Name())
	}
}

// Registered returns the active driver, or nil if none is registered.
func Registered() Driver {
	mu.Lock()
	defer mu.Unlock()
	return registered
}
