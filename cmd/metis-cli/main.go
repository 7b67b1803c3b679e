// Metis CLI — инструмент командной строки для управления датасетами,
// workflows, executions и расписаниями через HTTP API.
//
// Использование:
//
//	metis [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	dataset   Регистрация датасетов и summary
//	workflow  Управление workflows
//	execution Управление executions
//	overview  Сводка по executions
//	schedule  Управление schedules
//	task      Логи и отчёты задач backend
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Metis/internal/cli"
	"github.com/shaiso/Metis/internal/config"
)

// version задаётся через ldflags при сборке.
var version = "dev"

const defaultAPIURL = "http://localhost:8080"

func main() {
	var apiURL string
	var jsonOutput bool

	// METIS_API_URL или metis.yaml задают адрес по умолчанию
	defaultURL := defaultAPIURL
	if cfg, err := config.Load(""); err == nil {
		defaultURL = cfg.APIURL
	}

	rootCmd := &cobra.Command{
		Use:           "metis",
		Short:         "Metis CLI — execution orchestration tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewDatasetCmd(clientFn, outputFn),
		cli.NewWorkflowCmd(clientFn, outputFn),
		cli.NewExecutionCmd(clientFn, outputFn),
		cli.NewOverviewCmd(clientFn, outputFn),
		cli.NewScheduleCmd(clientFn, outputFn),
		cli.NewTaskCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
