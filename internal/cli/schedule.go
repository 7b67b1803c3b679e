package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewScheduleCmd создаёт группу команд для управления расписаниями.
func NewScheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled workflows",
	}

	cmd.AddCommand(
		newScheduleListCmd(clientFn, outputFn),
		newScheduleCreateCmd(clientFn, outputFn),
		newScheduleShowCmd(clientFn, outputFn),
		newScheduleUpdateCmd(clientFn, outputFn),
		newScheduleDeleteCmd(clientFn, outputFn),
		newScheduleEnableCmd(clientFn, outputFn, true),
		newScheduleEnableCmd(clientFn, outputFn, false),
	)

	return cmd
}

func newScheduleListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var datasetID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			schedules, err := clientFn().ListSchedules(datasetID)
			if err != nil {
				return err
			}
			printSchedules(outputFn(), schedules, schedules)
			return nil
		},
	}

	cmd.Flags().StringVar(&datasetID, "dataset", "", "Filter by dataset ID")

	return cmd
}

// scheduleFlags — общие флаги create и update.
type scheduleFlags struct {
	pointer   string
	frequency string
	cronExpr  string
	timezone  string
	priority  int
	disabled  bool
}

func (f *scheduleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.pointer, "pointer-date", "", "First run and time of day, RFC 3339 (required)")
	cmd.Flags().StringVar(&f.frequency, "frequency", "", "ONCE, DAILY, WEEKLY or MONTHLY (required)")
	cmd.Flags().StringVar(&f.cronExpr, "cron", "", "Cron expression overriding frequency for repeats")
	cmd.Flags().StringVar(&f.timezone, "timezone", "", "Timezone (default: UTC)")
	cmd.Flags().IntVar(&f.priority, "priority", 0, "Priority of scheduled executions")
	cmd.Flags().BoolVar(&f.disabled, "disabled", false, "Create the schedule disabled")
	cmd.MarkFlagRequired("pointer-date")
	cmd.MarkFlagRequired("frequency")
}

func (f *scheduleFlags) request() (ScheduleRequest, error) {
	pointer, err := time.Parse(time.RFC3339, f.pointer)
	if err != nil {
		return ScheduleRequest{}, fmt.Errorf("invalid --pointer-date %q: expected RFC 3339 time", f.pointer)
	}
	enabled := !f.disabled
	return ScheduleRequest{
		PointerDate: pointer,
		Frequency:   strings.ToUpper(f.frequency),
		CronExpr:    f.cronExpr,
		Timezone:    f.timezone,
		Priority:    f.priority,
		Enabled:     &enabled,
	}, nil
}

func newScheduleCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var flags scheduleFlags

	cmd := &cobra.Command{
		Use:   "create DATASET_ID",
		Short: "Create a schedule for a dataset workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}

			schedule, err := clientFn().CreateSchedule(args[0], req)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Schedule created: %s", schedule.ID))
			printSchedules(out, []ScheduleResponse{*schedule}, schedule)
			return nil
		},
	}
	flags.register(cmd)

	return cmd
}

func newScheduleShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show schedule details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule, err := clientFn().GetSchedule(args[0])
			if err != nil {
				return err
			}
			printSchedules(outputFn(), []ScheduleResponse{*schedule}, schedule)
			return nil
		},
	}
}

func newScheduleUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var flags scheduleFlags

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Replace schedule parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}

			schedule, err := clientFn().UpdateSchedule(args[0], req)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success("Schedule updated")
			printSchedules(out, []ScheduleResponse{*schedule}, schedule)
			return nil
		},
	}
	flags.register(cmd)

	return cmd
}

func newScheduleDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeleteSchedule(args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Schedule deleted: %s", args[0]))
			return nil
		},
	}
}

func newScheduleEnableCmd(clientFn func() *Client, outputFn func() *Output, enable bool) *cobra.Command {
	use, short, done := "enable ID", "Enable a schedule", "Schedule enabled"
	if !enable {
		use, short, done = "disable ID", "Disable a schedule", "Schedule disabled"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule, err := clientFn().SetScheduleEnabled(args[0], enable)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(done)
			printSchedules(out, []ScheduleResponse{*schedule}, schedule)
			return nil
		},
	}
}

func printSchedules(out *Output, schedules []ScheduleResponse, jsonData any) {
	headers := []string{"ID", "DATASET", "FREQUENCY", "TIMEZONE", "ENABLED", "NEXT_DUE", "LAST_RUN"}
	rows := make([][]string, len(schedules))
	for i, s := range schedules {
		freq := s.Frequency
		if s.CronExpr != "" {
			freq = "cron " + s.CronExpr
		}
		rows[i] = []string{
			s.ID, s.DatasetID, freq, s.Timezone,
			strconv.FormatBool(s.Enabled), orDash(s.NextDueAt), orDash(s.LastRunAt),
		}
	}
	out.Print(headers, rows, jsonData)
}
