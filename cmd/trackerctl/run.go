package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Inspect and finish runs",
}

var runListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List runs in a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunList,
}

var runGetCmd = &cobra.Command{
	Use:   "get <project> <run-id>",
	Short: "Show a run",
	Args:  cobra.ExactArgs(2),
	RunE:  runRunGet,
}

var runFinishCmd = &cobra.Command{
	Use:   "finish <project> <run-id> <COMPLETED|FAILED>",
	Short: "Move a run to a terminal state",
	Args:  cobra.ExactArgs(3),
	RunE:  runRunFinish,
}

func init() {
	runCmd.AddCommand(runListCmd)
	runCmd.AddCommand(runGetCmd)
	runCmd.AddCommand(runFinishCmd)
}

func runRunList(cmd *cobra.Command, args []string) error {
	client := newClient()
	var runs []map[string]any
	if err := client.getJSON("/api/v1/projects/"+args[0]+"/runs", &runs); err != nil {
		return err
	}

	if outputFmt == "json" || outputFmt == "yaml" {
		return printOutput(runs)
	}

	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		id, _ := run["id"].(string)
		name, _ := run["name"].(string)
		status, _ := run["status"].(string)
		number, _ := run["number"].(float64)
		rows = append(rows, []string{fmt.Sprintf("%d", int64(number)), id, name, status})
	}
	printTable([]string{"#", "ID", "Name", "Status"}, rows)
	return nil
}

func runRunGet(cmd *cobra.Command, args []string) error {
	client := newClient()
	var run map[string]any
	if err := client.getJSON("/api/v1/projects/"+args[0]+"/runs/"+args[1], &run); err != nil {
		return err
	}

	if outputFmt == "json" || outputFmt == "yaml" {
		return printOutput(run)
	}

	name, _ := run["name"].(string)
	status, _ := run["status"].(string)
	owner, _ := run["createdBy"].(string)
	printTable([]string{"ID", "Name", "Status", "Created By"},
		[][]string{{args[1], name, status, owner}})
	return nil
}

func runRunFinish(cmd *cobra.Command, args []string) error {
	project, runID, status := args[0], args[1], args[2]

	client := newClient()
	var run map[string]any
	err := client.do(http.MethodPatch, "/api/v1/projects/"+project+"/runs/"+runID,
		map[string]string{"status": status}, &run)
	if err != nil {
		return err
	}

	if outputFmt == "json" || outputFmt == "yaml" {
		return printOutput(run)
	}
	fmt.Printf("Run %s is now %s\n", runID, status)
	return nil
}
