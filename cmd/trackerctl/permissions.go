package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Manage project permissions",
}

var permissionsGetCmd = &cobra.Command{
	Use:   "get <project>",
	Short: "List project permissions",
	Args:  cobra.ExactArgs(1),
	RunE:  runPermissionsGet,
}

var permissionsGrantCmd = &cobra.Command{
	Use:   "grant <project> <principal>=<permission> [...]",
	Short: "Grant or replace project permissions (requires OWNER)",
	Long: `Grant project permissions to one or more principals, e.g.:

  trackerctl permissions grant my-project alice=OWNER bob=VIEWER

A grant replaces the principal's existing permission on the project.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runPermissionsGrant,
}

var permissionsRevokeCmd = &cobra.Command{
	Use:   "revoke <project> <principal> [...]",
	Short: "Revoke project permissions (requires OWNER)",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runPermissionsRevoke,
}

func init() {
	permissionsCmd.AddCommand(permissionsGetCmd)
	permissionsCmd.AddCommand(permissionsGrantCmd)
	permissionsCmd.AddCommand(permissionsRevokeCmd)
}

func runPermissionsGet(cmd *cobra.Command, args []string) error {
	client := newClient()
	var perms map[string]string
	if err := client.getJSON("/api/v1/projects/"+args[0]+"/permissions", &perms); err != nil {
		return err
	}

	if outputFmt == "json" || outputFmt == "yaml" {
		return printOutput(perms)
	}

	principals := make([]string, 0, len(perms))
	for p := range perms {
		principals = append(principals, p)
	}
	sort.Strings(principals)

	rows := make([][]string, 0, len(principals))
	for _, p := range principals {
		rows = append(rows, []string{p, perms[p]})
	}
	printTable([]string{"Principal", "Permission"}, rows)
	return nil
}

func runPermissionsGrant(cmd *cobra.Command, args []string) error {
	project := args[0]
	grants := make(map[string]string, len(args)-1)
	for _, pair := range args[1:] {
		principal, perm, ok := splitGrant(pair)
		if !ok {
			return fmt.Errorf("invalid grant %q (expected principal=permission)", pair)
		}
		grants[principal] = perm
	}

	client := newClient()
	if err := client.putJSON("/api/v1/projects/"+project+"/permissions", grants, nil); err != nil {
		return err
	}
	fmt.Printf("Granted %d permission(s) on %q\n", len(grants), project)
	return nil
}

func runPermissionsRevoke(cmd *cobra.Command, args []string) error {
	project := args[0]
	principals := args[1:]

	client := newClient()
	body := map[string]any{"principals": principals}
	if err := client.deleteJSON("/api/v1/projects/"+project+"/permissions", body, nil); err != nil {
		return err
	}
	fmt.Printf("Revoked %d principal(s) from %q\n", len(principals), project)
	return nil
}

func splitGrant(pair string) (principal, permission string, ok bool) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '=' {
			if i == 0 || i == len(pair)-1 {
				return "", "", false
			}
			return pair[:i], pair[i+1:], true
		}
	}
	return "", "", false
}
