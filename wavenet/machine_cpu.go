//go:build !cuda

package wavenet

import (
	"fmt"

	"gorgonia.org/gorgonia"

	"github.com/scttfrdmn/local-wavenet/device"
)

// machineOptions returns the VM options that place programs on d.
// Without the cuda build tag only the CPU is available.
func machineOptions(d device.Device) ([]gorgonia.VMOpt, error) {
	if d.IsAccelerator() {
		return nil, fmt.Errorf("%w: %s (built without cuda tag)", device.ErrDeviceUnavailable, d)
	}
	return nil, nil
}
