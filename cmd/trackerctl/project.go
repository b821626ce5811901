package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	projectName        string
	projectDescription string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <key>",
	Short: "Create a project (caller becomes owner)",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectCreate,
}

var projectGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectGet,
}

func init() {
	projectCreateCmd.Flags().StringVar(&projectName, "name", "", "Display name (defaults to the key)")
	projectCreateCmd.Flags().StringVar(&projectDescription, "description", "", "Project description")
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectGetCmd)
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	key := args[0]
	name := projectName
	if name == "" {
		name = key
	}

	client := newClient()
	var project map[string]any
	err := client.postJSON("/api/v1/projects", map[string]string{
		"key":         key,
		"name":        name,
		"description": projectDescription,
	}, &project)
	if err != nil {
		return err
	}

	if outputFmt == "json" || outputFmt == "yaml" {
		return printOutput(project)
	}
	fmt.Printf("Project %q created\n", key)
	return nil
}

func runProjectGet(cmd *cobra.Command, args []string) error {
	client := newClient()
	var project map[string]any
	if err := client.getJSON("/api/v1/projects/"+args[0], &project); err != nil {
		return err
	}

	if outputFmt == "json" || outputFmt == "yaml" {
		return printOutput(project)
	}

	name, _ := project["name"].(string)
	desc, _ := project["description"].(string)
	owner, _ := project["createdBy"].(string)
	printTable([]string{"Key", "Name", "Description", "Created By"},
		[][]string{{args[0], name, desc, owner}})
	return nil
}
