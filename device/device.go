// Package device resolves the compute device a training run is placed on.
//
// Device selection happens once, at startup, from an explicit selector
// string. Components receive the resolved Device and never query the
// runtime themselves.
package device

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrDeviceUnavailable is returned when a requested accelerator is not present
// or the binary was built without accelerator support.
var ErrDeviceUnavailable = errors.New("device: unavailable")

// Kind identifies a class of compute device.
type Kind string

const (
	CPU  Kind = "cpu"
	CUDA Kind = "cuda"
)

// Device is a resolved placement target.
type Device struct {
	Kind  Kind
	Index int
	Name  string
}

// String renders the device as a selector that Resolve accepts.
func (d Device) String() string {
	if d.Kind == CUDA {
		return fmt.Sprintf("cuda:%d", d.Index)
	}
	return string(CPU)
}

// IsAccelerator reports whether the device is not the host CPU.
func (d Device) IsAccelerator() bool {
	return d.Kind != CPU && d.Kind != ""
}

// Default returns the host CPU.
func Default() Device {
	return Device{Kind: CPU, Name: CPUInfo().Brand}
}

// Resolve turns a selector into a Device.
//
// Accepted selectors are "auto", "cpu", "cuda" and "cuda:N". "auto" picks
// the first CUDA device when one is available and falls back to the CPU.
func Resolve(selector string) (Device, error) {
	s := strings.ToLower(strings.TrimSpace(selector))
	switch {
	case s == "" || s == "auto":
		if n := cudaDeviceCount(); n > 0 {
			return cudaDevice(0)
		}
		return Default(), nil
	case s == "cpu":
		return Default(), nil
	case s == "cuda":
		return cudaDevice(0)
	case strings.HasPrefix(s, "cuda:"):
		idx, err := strconv.Atoi(strings.TrimPrefix(s, "cuda:"))
		if err != nil || idx < 0 {
			return Device{}, fmt.Errorf("device: invalid selector %q", selector)
		}
		return cudaDevice(idx)
	default:
		return Device{}, fmt.Errorf("device: unknown selector %q", selector)
	}
}

func cudaDevice(idx int) (Device, error) {
	n := cudaDeviceCount()
	if idx >= n {
		return Device{}, fmt.Errorf("%w: cuda:%d (%d devices visible)", ErrDeviceUnavailable, idx, n)
	}
	return Device{Kind: CUDA, Index: idx, Name: cudaDeviceName(idx)}, nil
}

// List returns the host CPU followed by every visible CUDA device.
func List() []Device {
	devices := []Device{Default()}
	for i, n := 0, cudaDeviceCount(); i < n; i++ {
		if d, err := cudaDevice(i); err == nil {
			devices = append(devices, d)
		}
	}
	return devices
}
