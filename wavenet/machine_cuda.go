//go:build cuda

package wavenet

import (
	"gorgonia.org/gorgonia"

	"github.com/scttfrdmn/local-wavenet/device"
)

// cudaOps are the operations offloaded to the GPU.
var cudaOps = []string{"tanh", "sigmoid", "ReLU", "+", "⊙"}

// machineOptions returns the VM options that place programs on d.
func machineOptions(d device.Device) ([]gorgonia.VMOpt, error) {
	if !d.IsAccelerator() {
		return nil, nil
	}
	return []gorgonia.VMOpt{gorgonia.UseCudaFor(cudaOps...)}, nil
}
