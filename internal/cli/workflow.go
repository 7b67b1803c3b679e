package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// LoadWorkflowFile читает шаги workflow из YAML файла.
//
//	steps:
//	  - type: HARVEST
//	    enabled: true
//	    url: https://example.org/oai
//	    metadata_format: edm
//	  - type: VALIDATE_EXTERNAL
//	    enabled: true
//
// Неизвестные поля считаются ошибкой.
func LoadWorkflowFile(path string) (WorkflowRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WorkflowRequest{}, fmt.Errorf("failed to read workflow file: %w", err)
	}

	var req WorkflowRequest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil {
		return WorkflowRequest{}, fmt.Errorf("failed to parse workflow file: %w", err)
	}
	if len(req.Steps) == 0 {
		return WorkflowRequest{}, errors.New("workflow file has no steps")
	}
	for i := range req.Steps {
		req.Steps[i].Type = strings.ToUpper(req.Steps[i].Type)
	}
	return req, nil
}

// NewWorkflowCmd создаёт группу команд для управления workflows.
func NewWorkflowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage dataset workflows",
	}

	cmd.AddCommand(
		newWorkflowCreateCmd(clientFn, outputFn),
		newWorkflowUpdateCmd(clientFn, outputFn),
		newWorkflowShowCmd(clientFn, outputFn),
		newWorkflowDeleteCmd(clientFn, outputFn),
	)

	return cmd
}

func newWorkflowCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "create DATASET_ID",
		Short: "Create a workflow from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req, err := LoadWorkflowFile(file)
			if err != nil {
				return err
			}

			wf, err := client.CreateWorkflow(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow created for dataset %s", wf.DatasetID))
			printWorkflow(out, wf)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to workflow YAML file (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newWorkflowUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "update DATASET_ID",
		Short: "Replace workflow steps from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req, err := LoadWorkflowFile(file)
			if err != nil {
				return err
			}

			wf, err := client.UpdateWorkflow(args[0], req)
			if err != nil {
				return err
			}

			out.Success("Workflow updated")
			printWorkflow(out, wf)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to workflow YAML file (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newWorkflowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show DATASET_ID",
		Short: "Show workflow steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := clientFn().GetWorkflow(args[0])
			if err != nil {
				return err
			}
			printWorkflow(outputFn(), wf)
			return nil
		},
	}
}

func newWorkflowDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete DATASET_ID",
		Short: "Delete a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeleteWorkflow(args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Workflow deleted for dataset %s", args[0]))
			return nil
		},
	}
}

func printWorkflow(out *Output, wf *WorkflowResponse) {
	headers := []string{"#", "TYPE", "ENABLED", "URL"}
	rows := make([][]string, len(wf.Steps))
	for i, s := range wf.Steps {
		rows[i] = []string{strconv.Itoa(i + 1), s.Type, strconv.FormatBool(s.Enabled), orDash(s.URL)}
	}
	out.Print(headers, rows, wf)
}
