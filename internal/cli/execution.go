package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewExecutionCmd создаёт группу команд для управления executions.
func NewExecutionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "execution",
		Aliases: []string{"exec"},
		Short:   "Manage workflow executions",
	}

	cmd.AddCommand(
		newExecutionListCmd(clientFn, outputFn),
		newExecutionStartCmd(clientFn, outputFn),
		newExecutionShowCmd(clientFn, outputFn),
		newExecutionCancelCmd(clientFn, outputFn),
	)

	return cmd
}

// NewOverviewCmd создаёт команду overview.
func NewOverviewCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts OverviewOpts

	cmd := &cobra.Command{
		Use:   "overview",
		Short: "Show executions overview: running first, then queued, then finished",
		RunE: func(cmd *cobra.Command, args []string) error {
			overview, err := clientFn().Overview(opts)
			if err != nil {
				return err
			}

			headers := []string{"EXECUTION_ID", "DATASET", "STATUS", "STEPS", "STARTED"}
			rows := make([][]string, len(overview.Results))
			for i, r := range overview.Results {
				status := r.Status
				if r.Cancelling {
					status += " (cancelling)"
				}
				dataset := r.DatasetID
				if r.DatasetName != "" {
					dataset += " " + r.DatasetName
				}
				rows[i] = []string{r.ExecutionID, dataset, status, stepsLine(r.Plugins), orDash(r.StartedAt)}
			}

			out := outputFn()
			out.Print(headers, rows, overview)
			if overview.MaxResultCountReached {
				out.Success("Result limit reached, narrow the filter to see older executions")
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&opts.DatasetIDs, "dataset", nil, "Filter by dataset ID")
	cmd.Flags().StringSliceVar(&opts.PluginTypes, "plugin-type", nil, "Filter by step type")
	cmd.Flags().StringSliceVar(&opts.PluginStatuses, "plugin-status", nil, "Filter by step status")
	cmd.Flags().IntVar(&opts.FirstPage, "page", 0, "First page")
	cmd.Flags().IntVar(&opts.PageCount, "pages", 1, "Number of pages")

	return cmd
}

func newExecutionListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListExecutionsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			execs, err := clientFn().ListExecutions(opts)
			if err != nil {
				return err
			}

			headers := []string{"ID", "DATASET", "STATUS", "PRIORITY", "CREATED"}
			rows := make([][]string, len(execs))
			for i, e := range execs {
				rows[i] = []string{e.ID, e.DatasetID, e.Status, strconv.Itoa(e.Priority), e.CreatedAt}
			}

			outputFn().Print(headers, rows, execs)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&opts.DatasetIDs, "dataset", nil, "Filter by dataset ID")
	cmd.Flags().StringSliceVar(&opts.Statuses, "status", nil, "Filter by status (INQUEUE, RUNNING, FINISHED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "Maximum number of executions")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of executions to skip")

	return cmd
}

func newExecutionStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req EnqueueExecutionRequest
	var file string

	cmd := &cobra.Command{
		Use:   "start DATASET_ID",
		Short: "Enqueue the dataset workflow, or ad-hoc steps with --file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				wf, err := LoadWorkflowFile(file)
				if err != nil {
					return err
				}
				req.Steps = wf.Steps
			}
			req.EnforcedPredecessor = strings.ToUpper(req.EnforcedPredecessor)

			exec, err := clientFn().EnqueueExecution(args[0], req)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Execution queued: %s", exec.ID))
			printExecution(out, exec)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.EnforcedPredecessor, "enforced-predecessor", "", "Step type to use as predecessor of the first step")
	cmd.Flags().IntVar(&req.Priority, "priority", 0, "Queue priority (higher runs first)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Run ad-hoc steps from a workflow YAML file")

	return cmd
}

func newExecutionShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show execution and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := clientFn().GetExecution(args[0])
			if err != nil {
				return err
			}
			printExecution(outputFn(), exec)
			return nil
		},
	}
}

func newExecutionCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := clientFn().CancelExecution(args[0], actor)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Cancellation requested: %s", exec.ID))
			printExecution(out, exec)
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Who cancels the execution")
	_ = cmd.MarkFlagRequired("actor")

	return cmd
}

func printExecution(out *Output, exec *ExecutionResponse) {
	headers := []string{"TYPE", "STATUS", "RECORDS", "TASK", "MESSAGE"}
	rows := make([][]string, len(exec.Plugins))
	for i, p := range exec.Plugins {
		rows[i] = []string{p.Type, p.Status, formatProgress(p.Progress), orDash(p.ExternalTaskID), orDash(p.FailMessage)}
	}
	out.Print(headers, rows, exec)
}

// stepsLine — цепочка шагов в одну строку: HARVEST:FINISHED > VALIDATE_EXTERNAL:RUNNING.
func stepsLine(plugins []PluginResponse) string {
	parts := make([]string, len(plugins))
	for i, p := range plugins {
		parts[i] = p.Type + ":" + p.Status
	}
	return strings.Join(parts, " > ")
}
