// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// vcfreqctl drives the control surface of a running vcfreqd.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/u-root/vcfreq/config"
	"github.com/u-root/vcfreq/pkg/logger"
)

var (
	log  = logger.LogContainer.GetSimpleLogger()
	addr = flag.String("addr", "http://"+config.DefaultConfig.ListenAddress, "address of vcfreqd")
)

func usage() {
	log.Fatalf("Usage: vcfreqctl [flags] freq|table|driver|target <index>")
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}
	switch args[0] {
	case "freq":
		get("/frequency")
	case "table":
		get("/table")
	case "driver":
		get("/driver")
	case "target":
		if len(args) < 2 {
			usage()
		}
		target(args[1])
	default:
		log.Errorf("Unknown command %s", args[0])
		usage()
	}
}

func printResponse(resp *http.Response) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed reading response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("vcfreqd refused: %s", string(body))
	}
	fmt.Print(string(body))
}

func get(path string) {
	resp, err := http.Get(*addr + path)
	if err != nil {
		log.Fatalf("Could not reach vcfreqd: %v", err)
	}
	printResponse(resp)
}

func target(index string) {
	resp, err := http.PostForm(*addr+"/target", url.Values{"index": {index}})
	if err != nil {
		log.Fatalf("Could not reach vcfreqd: %v", err)
	}
	printResponse(resp)
}
