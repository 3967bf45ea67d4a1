package bus

import "fmt"

// USB class codes relevant to serial adapters (USB-IF defined).
const (
	ClassPerInterface   uint8 = 0x00 // Class defined by each interface
	ClassCommunications uint8 = 0x02 // CDC control
	ClassCDCData        uint8 = 0x0A // CDC data
	ClassVendorSpecific uint8 = 0xFF // Vendor specific
)

// PMMessage identifies the kind of power transition requested of a driver.
type PMMessage uint8

// Power management messages.
const (
	PMSuspend     PMMessage = iota // System suspend
	PMAutoSuspend                  // Runtime autosuspend of an idle device
	PMFreeze                       // Quiesce before hibernation image
)

// String returns a human-readable power message name.
func (m PMMessage) String() string {
	switch m {
	case PMSuspend:
		return "suspend"
	case PMAutoSuspend:
		return "autosuspend"
	case PMFreeze:
		return "freeze"
	default:
		return fmt.Sprintf("pm(%d)", m)
	}
}

// IsAuto reports whether the transition was initiated by runtime power
// management rather than a system-wide sleep.
func (m PMMessage) IsAuto() bool {
	return m == PMAutoSuspend
}
