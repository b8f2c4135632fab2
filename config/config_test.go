// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	if DefaultConfig.MailboxDevice == "" {
		t.Error("DefaultConfig has no mailbox device")
	}
	if DefaultConfig.ListenAddress == "" {
		t.Error("DefaultConfig has no listen address")
	}
	if len(DefaultConfig.TrustedDisplayFlags) != 0 {
		t.Error("DefaultConfig gates firmware access, expected open access")
	}
}
