// Command serialctl checks composite USB-serial driver configurations and
// simulates bringing them up on an in-memory bus.
//
// Usage:
//
//	serialctl validate -c usbserial.yaml
//	serialctl simulate -c usbserial.yaml --device 0403:6001 --device 067b:2303
//	serialctl simulate -c usbserial.yaml --device 0403:6001 --fail ft2232 --json
//
// simulate registers every driver set through the registration coordinator,
// plugs the given devices, reports which handle and sub-driver bound each
// interface together with the bus and registry calls made, and tears the
// sets down again in reverse order.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
