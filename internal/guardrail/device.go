package guardrail

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidDevice is returned by ParseDevice.
var ErrInvalidDevice = errors.New("invalid compute device")

// Device selects where the model runs: a non-negative accelerator index or DeviceCPU.
type Device int

// DeviceCPU runs inference on the CPU.
const DeviceCPU Device = -1

func (d Device) String() string {
	if d.IsCPU() {
		return "cpu"
	}
	return "cuda:" + strconv.Itoa(int(d))
}

// IsCPU reports whether d is the CPU sentinel.
func (d Device) IsCPU() bool { return d < 0 }

// ParseDevice accepts "", "cpu", "-1", an index such as "0", or "cuda:0".
func ParseDevice(s string) (Device, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "cpu", "-1":
		return DeviceCPU, nil
	}

	n, err := strconv.Atoi(strings.TrimPrefix(s, "cuda:"))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDevice, s)
	}
	return Device(n), nil
}
