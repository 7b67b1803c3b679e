package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewDatasetCmd создаёт группу команд для датасетов.
func NewDatasetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Register datasets and inspect their history",
	}

	cmd.AddCommand(
		newDatasetRegisterCmd(clientFn, outputFn),
		newDatasetShowCmd(clientFn, outputFn),
		newDatasetSummaryCmd(clientFn, outputFn),
		newDatasetCleanCmd(clientFn, outputFn),
	)

	return cmd
}

func newDatasetRegisterCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req RegisterDatasetRequest

	cmd := &cobra.Command{
		Use:   "register DATASET_ID",
		Short: "Register a dataset or update its name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := clientFn().RegisterDataset(args[0], req)
			if err != nil {
				return err
			}
			printDataset(outputFn(), ds)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "Dataset name")
	cmd.Flags().StringVar(&req.Provider, "provider", "", "Providing organization")

	return cmd
}

func newDatasetShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show DATASET_ID",
		Short: "Show dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := clientFn().GetDataset(args[0])
			if err != nil {
				return err
			}
			printDataset(outputFn(), ds)
			return nil
		},
	}
}

func newDatasetSummaryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "summary DATASET_ID",
		Short: "Show last harvest, preview and publish of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := clientFn().GetSummary(args[0])
			if err != nil {
				return err
			}

			step := func(name string, s *SummaryStep, ready string) []string {
				if s == nil {
					return []string{name, "-", "-", "-", ready}
				}
				return []string{name, s.Type, s.FinishedAt, formatProgress(s.Progress), ready}
			}

			rows := [][]string{
				step("last harvest", summary.LastHarvest, "-"),
				step("first publish", summary.FirstPublish, "-"),
				step("last preview", summary.LastPreview, strconv.FormatBool(summary.PreviewReady)),
				step("last publish", summary.LastPublish, strconv.FormatBool(summary.PublishReady)),
			}
			outputFn().Print([]string{"STEP", "TYPE", "FINISHED", "RECORDS", "READY"}, rows, summary)
			return nil
		},
	}
}

func newDatasetCleanCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "clean DATASET_ID",
		Short: "Delete execution history of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := clientFn().DeleteExecutions(args[0])
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Deleted %d executions of dataset %s", res.Deleted, res.DatasetID))
			return nil
		},
	}
}

func printDataset(out *Output, ds *DatasetResponse) {
	out.Print(
		[]string{"ID", "NAME", "PROVIDER", "CREATED"},
		[][]string{{ds.ID, orDash(ds.Name), orDash(ds.Provider), ds.CreatedAt}},
		ds,
	)
}
