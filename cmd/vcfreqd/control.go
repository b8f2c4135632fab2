// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/u-root/vcfreq/pkg/cpufreq"
)

type freqDriver interface {
	Get(cpu uint32) uint32
	TargetIndex(p *cpufreq.Policy, index uint32) error
	Verify(p *cpufreq.Policy) error
}

// controlServer is the HTTP face an external governor drives. The
// mutex upholds the driver contract of at most one in-flight call per
// policy.
type controlServer struct {
	mu     sync.Mutex
	drv    freqDriver
	policy *cpufreq.Policy
}

func registerControl(mux *http.ServeMux, drv freqDriver, policy *cpufreq.Policy) {
	s := &controlServer{drv: drv, policy: policy}
	mux.HandleFunc("/driver", s.driver)
	mux.HandleFunc("/frequency", s.frequency)
	mux.HandleFunc("/table", s.table)
	mux.HandleFunc("/target", s.target)
}

func (s *controlServer) driver(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	d := cpufreq.Registered()
	if d == nil {
		http.Error(w, "no cpufreq driver registered", http.StatusServiceUnavailable)
		return
	}
	fmt.Fprintln(w, d.Name())
}

func (s *controlServer) frequency(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.drv.Get(s.policy.CPU)
	s.policy.Cur = f
	fmt.Fprintf(w, "%d\n", f)
}

func (s *controlServer) table(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var freqs []string
	for _, f := range cpufreq.Frequencies(s.policy.Table) {
		freqs = append(freqs, strconv.FormatUint(uint64(f), 10))
	}
	fmt.Fprintln(w, strings.Join(freqs, " "))
}

func (s *controlServer) target(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	idx, err := strconv.ParseUint(r.FormValue("index"), 10, 32)
	if err != nil {
		http.Error(w, "bad table index", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.drv.TargetIndex(s.policy, uint32(idx)); err != nil {
		log.Errorf("Target index %d rejected: %v", idx, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fmt.Fprintln(w, "ok")
}
