package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCPU(t *testing.T) {
	for _, sel := range []string{"cpu", "CPU", " cpu "} {
		d, err := Resolve(sel)
		require.NoError(t, err)
		assert.Equal(t, CPU, d.Kind)
		assert.False(t, d.IsAccelerator())
		assert.Equal(t, "cpu", d.String())
	}
}

func TestResolveAutoFallsBackToCPU(t *testing.T) {
	if cudaDeviceCount() > 0 {
		t.Skip("cuda devices present")
	}
	d, err := Resolve("auto")
	require.NoError(t, err)
	assert.Equal(t, CPU, d.Kind)

	d, err = Resolve("")
	require.NoError(t, err)
	assert.Equal(t, CPU, d.Kind)
}

func TestResolveUnavailableCUDA(t *testing.T) {
	if cudaDeviceCount() > 0 {
		t.Skip("cuda devices present")
	}
	_, err := Resolve("cuda")
	require.ErrorIs(t, err, ErrDeviceUnavailable)

	_, err = Resolve("cuda:3")
	require.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestResolveInvalid(t *testing.T) {
	for _, sel := range []string{"tpu", "cuda:x", "cuda:-1"} {
		_, err := Resolve(sel)
		assert.Error(t, err, sel)
	}
}

func TestCPUInfo(t *testing.T) {
	info := CPUInfo()
	assert.NotEmpty(t, info.Brand)
	assert.NotEmpty(t, info.Arch)
}

func TestList(t *testing.T) {
	devices := List()
	require.Len(t, devices, 1+cudaDeviceCount())
	assert.Equal(t, CPU, devices[0].Kind)
	for i, d := range devices[1:] {
		assert.Equal(t, CUDA, d.Kind)
		assert.Equal(t, i, d.Index)
	}
}
