package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

func (a *App) renderApprovals(height int) string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("Pending approvals"))
	b.WriteString("\n")

	if len(a.approvals) == 0 {
		b.WriteString(helpStyle.Render("  Nothing is waiting for approval.") + "\n")
		return b.String()
	}

	for i, ap := range a.approvals {
		if height > 0 && i*2 >= height {
			b.WriteString(fmt.Sprintf("  ... and %d more\n", len(a.approvals)-i))
			break
		}
		line := fmt.Sprintf("[%s] %s  task %s", ap.Type, truncate(ap.Description, 50), shortID(ap.TaskID))
		if i == a.approvalIdx {
			b.WriteString(selectedStyle.Render("▸ "+line) + "\n")
		} else {
			b.WriteString(taskItemStyle.Render("  "+line) + "\n")
		}
		if len(ap.Details) > 0 && string(ap.Details) != "null" {
			b.WriteString(labelStyle.Render("    "+truncate(string(ap.Details), 70)) + "\n")
		}
	}
	return b.String()
}

func (a *App) respondToApproval(approvalID string, approved bool) tea.Cmd {
	return func() tea.Msg {
		if err := a.client.RespondToApproval(approvalID, approved); err != nil {
			return errMsg{err}
		}
		verb := "Denied"
		if approved {
			verb = "Approved"
		}
		return commandResultMsg{fmt.Sprintf("%s %s", verb, shortID(approvalID))}
	}
}
