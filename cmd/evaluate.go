package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scttfrdmn/local-wavenet/audio"
	"github.com/scttfrdmn/local-wavenet/trainer"
	"github.com/scttfrdmn/local-wavenet/wavenet"
)

func newEvaluateCmd() *cobra.Command {
	evaluateCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Report loss and accuracy of a snapshot on held-out data",
		Args:  cobra.NoArgs,
		RunE:  EvaluateHandler,
	}

	flags := evaluateCmd.Flags()
	flags.String("model", "", "Snapshot to evaluate")
	flags.String("data", "", "Directory of WAV files")
	flags.String("config", "", "YAML run configuration for the data section")
	flags.Int("batch-size", 32, "Items per batch")
	flags.Int("sample-rate", 16000, "Sample rate audio is resampled to")
	flags.String("cache", "", "Cache file for the quantized dataset")
	flags.Int("workers", 8, "Prefetch and decoding workers")
	flags.String("device", "auto", "Compute device: auto, cpu, cuda or cuda:N")

	evaluateCmd.MarkFlagRequired("model")
	evaluateCmd.MarkFlagRequired("data")
	return evaluateCmd
}

// EvaluateHandler runs one validation pass over the test view of a dataset.
func EvaluateHandler(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()

	configPath, _ := flags.GetString("config")
	c, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	c.applyEnv()
	if err := c.applyFlags(cmd); err != nil {
		return err
	}
	if c.Train.Device, err = resolveDevice(cmd); err != nil {
		return err
	}

	path, _ := flags.GetString("model")
	model, err := wavenet.LoadFile(path)
	if err != nil {
		return err
	}
	defer model.Close()
	c.bindModel(model.Config())

	dataDir, _ := flags.GetString("data")
	ds, err := audio.LoadDir(ctx, dataDir, c.Data)
	if err != nil {
		return err
	}

	tr, err := trainer.New(model, ds, c.Train)
	if err != nil {
		return err
	}
	res, err := tr.Validate(ctx, ds, c.Train.BatchSize)
	if err != nil {
		return err
	}

	ds.SetTrain(false)
	fmt.Fprintf(cmd.OutOrStdout(), "items:    %d\nloss:     %.6f\naccuracy: %.4f\n", ds.Len(), res.Loss, res.Accuracy)
	return nil
}
