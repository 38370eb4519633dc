//go:build !cuda

package device

// Built without the cuda tag: no accelerator is ever reported.

func cudaDeviceCount() int {
	return 0
}

func cudaDeviceName(int) string {
	return "CUDA (build with -tags cuda)"
}

// CUDAMemory returns ErrDeviceUnavailable on builds without CUDA support.
func CUDAMemory(Device) (int64, error) {
	return 0, ErrDeviceUnavailable
}
