package training

import (
	"strconv"
	"strings"
)

type DeviceKind int

const (
	// DevicePassthrough is any selector the trainer understands natively,
	// e.g. "0,1" or "mps".
	DevicePassthrough DeviceKind = iota
	DeviceCPU
	DeviceIndex
)

type Device struct {
	Kind  DeviceKind
	Index int
	Raw   string
}

// NormalizeDevice classifies a device token: "cpu" in any case selects the
// CPU, an all-digit token selects that device index, and anything else is
// passed through unchanged. It never fails.
func NormalizeDevice(token string) Device {
	if strings.EqualFold(token, "cpu") {
		return Device{Kind: DeviceCPU, Raw: "cpu"}
	}

	if isDigits(token) {
		if idx, err := strconv.Atoi(token); err == nil {
			return Device{Kind: DeviceIndex, Index: idx, Raw: token}
		}
	}

	return Device{Kind: DevicePassthrough, Raw: token}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (d Device) String() string {
	switch d.Kind {
	case DeviceCPU:
		return "cpu"
	case DeviceIndex:
		return strconv.Itoa(d.Index)
	default:
		return d.Raw
	}
}
