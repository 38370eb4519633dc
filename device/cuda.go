//go:build cuda

package device

import (
	"log/slog"

	"gorgonia.org/cu"
)

// cudaDeviceCount returns the number of CUDA devices the driver reports.
func cudaDeviceCount() int {
	n, err := cu.NumDevices()
	if err != nil {
		slog.Debug("cuda probe failed", "error", err)
		return 0
	}
	return n
}

func cudaDeviceName(idx int) string {
	name, err := cu.Device(idx).Name()
	if err != nil {
		return "CUDA"
	}
	return name
}

// CUDAMemory returns the total memory of a CUDA device in bytes.
func CUDAMemory(d Device) (int64, error) {
	if d.Kind != CUDA {
		return 0, ErrDeviceUnavailable
	}
	return cu.Device(d.Index).TotalMem()
}
