package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded training runs",
		Args:  cobra.NoArgs,
		RunE:  RunsHandler,
	}
	runsCmd.Flags().String("delete", "", "Delete the run with this id")
	return runsCmd
}

func newMetricsCmd() *cobra.Command {
	metricsCmd := &cobra.Command{
		Use:   "metrics RUN_ID",
		Short: "Show the values recorded for a run",
		Args:  cobra.ExactArgs(1),
		RunE:  MetricsHandler,
	}
	metricsCmd.Flags().String("tag", "", "Only show this tag (e.g. \"validation loss\")")
	metricsCmd.Flags().Bool("samples", false, "List generated samples instead of values")
	return metricsCmd
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// RunsHandler lists runs newest first.
func RunsHandler(cmd *cobra.Command, _ []string) error {
	store, err := openMetrics()
	if err != nil {
		return err
	}
	defer store.Close()

	if id, _ := cmd.Flags().GetString("delete"); id != "" {
		if err := store.DeleteRun(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted '%s'\n", id)
		return nil
	}

	runs, err := store.Runs(cmd.Context())
	if err != nil {
		return err
	}

	var data [][]string
	for _, r := range runs {
		scalars, err := store.Scalars(cmd.Context(), r.ID, "loss")
		if err != nil {
			return err
		}
		step, loss := "-", "-"
		if n := len(scalars); n > 0 {
			step = strconv.Itoa(scalars[n-1].Step)
			loss = strconv.FormatFloat(scalars[n-1].Value, 'f', 4, 64)
		}
		data = append(data, []string{r.ID, r.Name, r.CreatedAt.Local().Format(time.DateTime), step, loss})
	}

	table := newTable(cmd.OutOrStdout(), []string{"ID", "NAME", "CREATED", "STEP", "LOSS"})
	table.AppendBulk(data)
	table.Render()
	return nil
}

// MetricsHandler prints the scalars or samples of one run.
func MetricsHandler(cmd *cobra.Command, args []string) error {
	store, err := openMetrics()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	run, err := store.Run(ctx, args[0])
	if err != nil {
		return err
	}

	var data [][]string
	var header []string
	if samples, _ := cmd.Flags().GetBool("samples"); samples {
		list, err := store.Samples(ctx, run.ID)
		if err != nil {
			return err
		}
		header = []string{"STEP", "TEMPERATURE", "PATH"}
		for _, s := range list {
			data = append(data, []string{strconv.Itoa(s.Step), strconv.FormatFloat(s.Temperature, 'g', -1, 64), s.Path})
		}
	} else {
		tag, _ := cmd.Flags().GetString("tag")
		list, err := store.Scalars(ctx, run.ID, tag)
		if err != nil {
			return err
		}
		header = []string{"STEP", "TAG", "VALUE"}
		for _, s := range list {
			data = append(data, []string{strconv.Itoa(s.Step), s.Tag, strconv.FormatFloat(s.Value, 'f', 6, 64)})
		}
	}

	table := newTable(cmd.OutOrStdout(), header)
	table.AppendBulk(data)
	table.Render()
	return nil
}
