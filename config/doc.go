// Package config loads composite USB-serial driver sets from a file.
//
// Files are read through viper, so YAML, TOML and JSON all work; the format
// follows the file extension. Missing settings take defaults (log level
// warn, text log format, one port per sub-driver). Validate checks the
// result with validator struct tags and then checks what tags cannot
// express: unique set and sub-driver names and convertible ID entries.
//
// # Example
//
//	log:
//	  level: info
//	drivers:
//	  - name: ftdi_sio
//	    sub_drivers:
//	      - name: ft232
//	        ids:
//	          - {vendor: "0403", product: "6001"}
//	      - name: ft2232
//	        num_ports: 2
//	        ids:
//	          - {vendor: "0403", product: "6010", interface: "1"}
//
// ID numbers are hexadecimal strings, with or without a 0x prefix, as
// lsusb prints them. A set's match table is the union of its sub-driver
// tables; Descriptors turns a set into the serial.Driver list handed to
// the registration coordinator.
package config
