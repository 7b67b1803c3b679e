package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт команду task с подкомандами logs и report.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect backend tasks of execution steps",
	}

	cmd.AddCommand(
		newTaskLogsCmd(clientFn, outputFn),
		newTaskReportCmd(clientFn, outputFn),
	)

	return cmd
}

func newTaskLogsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var from, to int

	cmd := &cobra.Command{
		Use:   "logs TASK_ID",
		Short: "Show processed records of a backend task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logs, err := clientFn().TaskLogs(args[0], from, to)
			if err != nil {
				return err
			}

			headers := []string{"#", "RESOURCE", "STATE", "INFO"}
			rows := make([][]string, len(logs))
			for i, l := range logs {
				rows[i] = []string{strconv.Itoa(l.Number), l.Resource, l.State, orDash(l.Info)}
			}
			outputFn().Print(headers, rows, logs)
			return nil
		},
	}

	cmd.Flags().IntVar(&from, "from", 1, "First line number")
	cmd.Flags().IntVar(&to, "to", 100, "Last line number (inclusive)")

	return cmd
}

func newTaskReportCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "report TASK_ID",
		Short: "Show error report of a backend task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := clientFn().TaskReport(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ERROR_TYPE", "MESSAGE", "COUNT", "SAMPLE_IDS"}
			rows := make([][]string, len(report.Errors))
			for i, e := range report.Errors {
				rows[i] = []string{e.ErrorType, e.Message, strconv.Itoa(e.Occurrences), orDash(strings.Join(e.Identifiers, ","))}
			}
			outputFn().Print(headers, rows, report)
			return nil
		},
	}
}
