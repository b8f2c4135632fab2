// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// vcfreqd exposes the BCM2835 cpufreq driver to an external governor.
// It registers the driver, initializes the CPU policy against the
// VideoCore firmware and serves a small HTTP control surface next to
// the Prometheus metrics endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/u-root/vcfreq/config"
	"github.com/u-root/vcfreq/pkg/bcm2835"
	"github.com/u-root/vcfreq/pkg/clock"
	"github.com/u-root/vcfreq/pkg/cpufreq"
	"github.com/u-root/vcfreq/pkg/logger"
	"github.com/u-root/vcfreq/pkg/mbox"
	"github.com/u-root/vcfreq/pkg/metric"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	mboxDev = flag.String("mbox", config.DefaultConfig.MailboxDevice, "mailbox property channel device node")
	listen  = flag.String("listen", config.DefaultConfig.ListenAddress, "metrics and governor control listen address")
	cpu     = flag.Uint("cpu", 0, "CPU the policy covers")
)

// waitForMailbox waits for the mailbox device node to appear. The
// node shows up once the kernel has bound the firmware driver, which
// can be well after early boot.
func waitForMailbox(path string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	return backoff.Retry(func() error {
		if !mbox.Probe(path) {
			return fmt.Errorf("mailbox %s not present", path)
		}
		return nil
	}, b)
}

func main() {
	flag.Parse()
	conf := config.DefaultConfig

	log.Infof("vcfreq %s (%s)", conf.Version.Version, conf.Version.GitHash)

	if err := waitForMailbox(*mboxDev); err != nil {
		log.Fatalf("Gave up waiting for firmware: %v", err)
	}
	m, err := mbox.OpenDevice(*mboxDev)
	if err != nil {
		log.Fatalf("Unable to open firmware mailbox: %v", err)
	}
	defer m.Close()

	gate := clock.AlwaysOpen()
	if len(conf.TrustedDisplayFlags) > 0 {
		log.Infof("Gating firmware access on %v", conf.TrustedDisplayFlags)
		gate = clock.NewFlagGate(conf.TrustedDisplayFlags...)
	}

	drv := bcm2835.New(clock.NewWithGate(m, gate))
	if err := cpufreq.Register(drv); err != nil {
		log.Fatalf("Unable to register cpufreq driver: %v", err)
	}
	defer cpufreq.Unregister(drv)

	policy := &cpufreq.Policy{CPU: uint32(*cpu)}
	if err := drv.Init(policy); err != nil {
		log.Fatalf("Unable to initialize cpufreq policy: %v", err)
	}
	log.Infof("Operating points: %v kHz, transition latency %d ns",
		cpufreq.Frequencies(policy.Table), policy.TransitionLatency)

	mux := http.NewServeMux()
	metric.StartMetrics(mux)
	registerControl(mux, drv, policy)

	srv := &http.Server{Addr: *listen, Handler: mux}
	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Serving metrics and governor control on %s", *listen)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("vcfreqd failed: %v", err)
	}
	log.Infof("Shutting down")
}
