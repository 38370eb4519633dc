package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scttfrdmn/local-wavenet/trainer"
	"github.com/scttfrdmn/local-wavenet/wavenet"
)

func newGenerateCmd() *cobra.Command {
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate audio from a snapshot at one or more temperatures",
		Args:  cobra.NoArgs,
		RunE:  GenerateHandler,
	}

	flags := generateCmd.Flags()
	flags.String("model", "", "Snapshot to sample from")
	flags.Int("length", 16000, "Samples to generate per temperature")
	flags.Float64Slice("temperatures", trainer.DefaultTemperatures, "Sampling temperatures (0 = arg-max)")
	flags.String("out", ".", "Output directory")
	flags.String("prefix", "generated", "Output file name prefix")
	flags.Int("sample-rate", 16000, "Sample rate written to the WAV header")
	flags.String("device", "auto", "Compute device: auto, cpu, cuda or cuda:N")

	generateCmd.MarkFlagRequired("model")
	return generateCmd
}

// GenerateHandler writes one WAV file per temperature.
func GenerateHandler(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()

	path, _ := flags.GetString("model")
	model, err := wavenet.LoadFile(path)
	if err != nil {
		return err
	}
	defer model.Close()

	d, err := resolveDevice(cmd)
	if err != nil {
		return err
	}
	if err := model.Place(d); err != nil {
		return err
	}
	model.Eval()

	length, _ := flags.GetInt("length")
	temperatures, _ := flags.GetFloat64Slice("temperatures")
	if len(temperatures) == 0 {
		temperatures = trainer.DefaultTemperatures
	}
	samples, err := trainer.GenerateAudio(cmd.Context(), model, length, temperatures...)
	if err != nil {
		return err
	}

	out, _ := flags.GetString("out")
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	prefix, _ := flags.GetString("prefix")
	rate, _ := flags.GetInt("sample-rate")
	paths, err := writeSamples(out, prefix, samples, temperatures, rate)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(paths, "\n"))
	return nil
}
