// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

type Version struct {
	Version string
	GitHash string
}

type Config struct {
	// MailboxDevice is the firmware property channel device node.
	MailboxDevice string
	// ListenAddress serves /metrics and the governor control
	// surface.
	ListenAddress string
	// TrustedDisplayFlags lists flag files that gate firmware
	// access while a privileged display operation is in progress.
	// Empty means firmware access is never gated.
	TrustedDisplayFlags []string
	Version             Version
}

// Set via ldflags at release build time.
var (
	gitVersion = "dev"
	gitHash    = "unknown"
)

var DefaultConfig = &Config{
	MailboxDevice: "/dev/vcio",

	// vcfreq serves metrics and governor control on a local port;
	// anything reachable over the network must sit behind its own
	// policy, the daemon itself does no authentication.
	ListenAddress: "localhost:9371",

	Version: Version{
		Version: gitVersion,
		GitHash: gitHash,
	},
}
