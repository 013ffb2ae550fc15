// Command gatewayctl is a small operator tool that probes the radio
// device's connection state. It is peripheral to the gateway's core loop.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/angoca/lora-osmnotes-gateway/internal/transport"
)

func main() {
	var flagCheck bool
	flag.BoolVar(&flagCheck, "check", false, "Report whether the radio transport is connected")
	flag.Parse()

	if !flagCheck {
		flag.Usage()
		os.Exit(2)
	}

	// No concrete mesh driver ships in this module; this
	// reports against the same dry-run adapter the gateway process uses
	// when no driver is configured.
	adapter := transport.NewDryRunAdapter()
	if adapter.IsConnected() {
		fmt.Println("connected")
		return
	}
	fmt.Println("disconnected")
	os.Exit(1)
}
