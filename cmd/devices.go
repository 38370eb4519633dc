package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scttfrdmn/local-wavenet/device"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List compute devices",
		Args:  cobra.NoArgs,
		RunE:  DevicesHandler,
	}
}

// DevicesHandler prints the host CPU and any CUDA devices.
func DevicesHandler(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	info := device.CPUInfo()

	var data [][]string
	for _, d := range device.List() {
		detail := ""
		switch d.Kind {
		case device.CPU:
			detail = fmt.Sprintf("%s, %d cores / %d threads", info.Arch, info.PhysicalCores, info.LogicalCores)
		case device.CUDA:
			if mem, err := device.CUDAMemory(d); err == nil {
				detail = strconv.FormatInt(mem>>20, 10) + " MiB"
			}
		}
		data = append(data, []string{d.String(), d.Name, detail})
	}

	table := newTable(w, []string{"DEVICE", "NAME", "DETAIL"})
	table.AppendBulk(data)
	table.Render()

	fmt.Fprintf(w, "\nvector units: %v\nfeatures: %s\n", device.HasVectorUnits(), strings.Join(info.Features, " "))
	return nil
}
