// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package clock

import (
	"strings"

	"github.com/spf13/afero"
)

// Gate vetoes firmware access while a privileged operation is in
// progress elsewhere. While blocked, clock property calls are silent
// no-ops that echo their input value.
type Gate interface {
	Blocked() bool
}

type alwaysOpen struct{}

func (alwaysOpen) Blocked() bool { return false }

// AlwaysOpen returns the default gate, which never blocks.
func AlwaysOpen() Gate {
	return alwaysOpen{}
}

// FlagGate blocks while any of a set of flag files reads "1". It
// covers setups where a trusted display path owns the mailbox and
// clock requests must stay off it for the duration.
type FlagGate struct {
	fs    afero.Fs
	paths []string
}

// NewFlagGate returns a FlagGate watching the given flag files on the
// host filesystem.
func NewFlagGate(paths ...string) *FlagGate {
	return NewFlagGateFs(afero.NewOsFs(), paths...)
}

// NewFlagGateFs is NewFlagGate on an explicit filesystem.
func NewFlagGateFs(fs afero.Fs, paths ...string) *FlagGate {
	return &FlagGate{fs: fs, paths: paths}
}

func (g *FlagGate) Blocked() bool {
	for _, p := range g.paths {
		b, err := afero.ReadFile(g.fs, p)
		if err != nil {
			// A missing flag cannot block.
			continue
		}
		if strings.TrimSpace(string(b)) == "1" {
			return true
		}
	}
	return false
}
