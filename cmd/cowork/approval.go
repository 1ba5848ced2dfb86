package main

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
	"github.com/spf13/cobra"
)

var approvalCmd = &cobra.Command{
	Use:   "approval",
	Short: "Review tool calls waiting for approval",
}

var approvalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approvals",
	RunE:  runApprovalList,
}

var approvalApproveCmd = &cobra.Command{
	Use:   "approve [approval-id]",
	Short: "Approve a pending tool call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return respondToApproval(args[0], true)
	},
}

var approvalDenyCmd = &cobra.Command{
	Use:   "deny [approval-id]",
	Short: "Deny a pending tool call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return respondToApproval(args[0], false)
	},
}

var approvalStatus string

func init() {
	approvalCmd.AddCommand(approvalListCmd, approvalApproveCmd, approvalDenyCmd)
	approvalListCmd.Flags().StringVar(&approvalStatus, "status", "pending", "Filter by status (pending, approved, denied)")
}

func runApprovalList(cmd *cobra.Command, args []string) error {
	var list []models.Approval
	if err := apiGet("/approvals?status="+url.QueryEscape(approvalStatus), &list); err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No approvals found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTASK\tTYPE\tSTATUS\tDESCRIPTION")
	for _, a := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, truncateID(a.TaskID), a.Type, a.Status, truncate(a.Description, 60))
	}
	return w.Flush()
}

func respondToApproval(id string, approved bool) error {
	var a models.Approval
	if err := apiPost("/approvals/"+url.PathEscape(id)+"/respond", map[string]bool{"approved": approved}, &a); err != nil {
		return err
	}
	fmt.Printf("Approval %s: %s\n", truncateID(a.ID), a.Status)
	return nil
}
