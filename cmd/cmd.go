// Package cmd implements the wavenet command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/scttfrdmn/local-wavenet/device"
	"github.com/scttfrdmn/local-wavenet/envconfig"
	"github.com/scttfrdmn/local-wavenet/metrics"
)

// appendEnvDocs lists environment variables in a command's usage.
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

func setupLogging(cmd *cobra.Command, _ []string) {
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: envconfig.LogLevel()})
	slog.SetDefault(slog.New(handler))
}

// NewCLI returns the root command with every subcommand attached.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:              "wavenet",
		Short:            "Train and sample WaveNet audio models",
		SilenceUsage:     true,
		SilenceErrors:    true,
		PersistentPreRun: setupLogging,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	trainCmd := newTrainCmd()
	evaluateCmd := newEvaluateCmd()
	generateCmd := newGenerateCmd()
	runsCmd := newRunsCmd()
	metricsCmd := newMetricsCmd()
	devicesCmd := newDevicesCmd()

	envVars := envconfig.AsMap()
	for _, cmd := range []*cobra.Command{trainCmd, evaluateCmd, generateCmd} {
		appendEnvDocs(cmd, []envconfig.EnvVar{
			envVars["WAVENET_DEBUG"],
			envVars["WAVENET_DEVICE"],
			envVars["WAVENET_HOME"],
			envVars["WAVENET_METRICS"],
			envVars["WAVENET_WORKERS"],
		})
	}
	for _, cmd := range []*cobra.Command{runsCmd, metricsCmd} {
		appendEnvDocs(cmd, []envconfig.EnvVar{envVars["WAVENET_METRICS"]})
	}

	rootCmd.AddCommand(
		trainCmd,
		evaluateCmd,
		generateCmd,
		runsCmd,
		metricsCmd,
		devicesCmd,
	)

	return rootCmd
}

// resolveDevice resolves the --device flag, falling back to WAVENET_DEVICE.
func resolveDevice(cmd *cobra.Command) (device.Device, error) {
	selector := envconfig.Device()
	if cmd.Flags().Changed("device") {
		selector, _ = cmd.Flags().GetString("device")
	}
	d, err := device.Resolve(selector)
	if err != nil {
		return device.Device{}, err
	}
	slog.Debug("resolved device", "selector", selector, "device", d.String(), "name", d.Name)
	return d, nil
}

// openMetrics opens the metrics database, creating its directory.
func openMetrics() (*metrics.Store, error) {
	path := envconfig.Metrics()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return metrics.Open(path)
}
