package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
	"github.com/spf13/cobra"
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Manage workspaces",
}

var workspaceAddCmd = &cobra.Command{
	Use:   "add [path]",
	Short: "Register a directory as a workspace",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWorkspaceAdd,
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	RunE:  runWorkspaceList,
}

var workspaceName string

func init() {
	workspaceCmd.AddCommand(workspaceAddCmd, workspaceListCmd)
	workspaceAddCmd.Flags().StringVar(&workspaceName, "name", "", "Workspace name (defaults to the directory name)")
}

func runWorkspaceAdd(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) == 1 {
		path = args[0]
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	var ws models.Workspace
	if err := apiPost("/workspaces", map[string]string{"name": workspaceName, "path": abs}, &ws); err != nil {
		return err
	}
	fmt.Printf("Created workspace: %s (%s)\n", ws.ID, ws.Name)
	return nil
}

func runWorkspaceList(cmd *cobra.Command, args []string) error {
	var list []models.Workspace
	if err := apiGet("/workspaces", &list); err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No workspaces found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPATH")
	for _, ws := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", ws.ID, ws.Name, ws.Path)
	}
	return w.Flush()
}
