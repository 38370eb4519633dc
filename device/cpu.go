package device

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// CPUDescription describes the host processor.
type CPUDescription struct {
	Brand         string
	Arch          string
	PhysicalCores int
	LogicalCores  int
	Features      []string
}

// CPUInfo reports the host processor as detected by cpuid.
func CPUInfo() CPUDescription {
	brand := cpuid.CPU.BrandName
	if brand == "" {
		brand = runtime.GOARCH
	}
	return CPUDescription{
		Brand:         brand,
		Arch:          runtime.GOARCH,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		Features:      cpuid.CPU.FeatureSet(),
	}
}

// HasVectorUnits reports whether the CPU offers the wide SIMD extensions the
// BLAS kernels behind gorgonia take advantage of.
func HasVectorUnits() bool {
	return cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3) || cpuid.CPU.Supports(cpuid.ASIMD)
}
