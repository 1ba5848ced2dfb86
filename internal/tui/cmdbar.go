package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// executeCommand runs a command typed into the input box. Task commands act
// on the selected task unless an ID is given as the first argument.
func (a *App) executeCommand(input string) tea.Cmd {
	input = strings.TrimPrefix(input, "/")
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	cmd := parts[0]
	args := parts[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(input, cmd))

	switch cmd {
	case "quit", "exit":
		return tea.Quit

	case "approvals":
		a.mode = modeApprovals
		return a.fetchApprovals()

	case "ws":
		if len(args) == 0 {
			return a.result(fmt.Sprintf("Workspace: %s (%d registered)", a.workspaceLabel(), len(a.workspaces)))
		}
		for _, ws := range a.workspaces {
			if ws.ID == args[0] || ws.Name == args[0] || strings.HasPrefix(ws.ID, args[0]) {
				a.workspaceID = ws.ID
				return a.result("Workspace set to " + ws.Name)
			}
		}
		return a.result("Error: unknown workspace " + args[0])
	}

	client := a.client
	workspaceID := a.workspaceID
	taskID := a.selectedTaskID()

	return func() tea.Msg {
		switch cmd {
		case "add":
			if rest == "" {
				return commandResultMsg{"Usage: add <prompt>"}
			}
			if workspaceID == "" {
				return commandResultMsg{"Error: no workspace registered, run 'cowork workspace add <path>'"}
			}
			task, err := client.CreateTask(workspaceID, rest)
			if err != nil {
				return commandResultMsg{fmt.Sprintf("Error: %v", err)}
			}
			return commandResultMsg{fmt.Sprintf("Created task: %s", shortID(task.ID))}

		case "send":
			if rest == "" {
				return commandResultMsg{"Usage: send <message>"}
			}
			if taskID == "" {
				return commandResultMsg{"No task selected"}
			}
			if err := client.SendMessage(taskID, rest); err != nil {
				return commandResultMsg{fmt.Sprintf("Error: %v", err)}
			}
			return commandResultMsg{"Message sent"}

		case "start", "cancel", "pause", "resume", "complete":
			if len(args) > 0 {
				taskID = args[0]
			}
			if taskID == "" {
				return commandResultMsg{"No task selected"}
			}
			if err := client.TaskAction(taskID, cmd); err != nil {
				return commandResultMsg{fmt.Sprintf("Error: %v", err)}
			}
			return commandResultMsg{fmt.Sprintf("Task %s: %s", shortID(taskID), cmd)}

		default:
			return commandResultMsg{fmt.Sprintf("Unknown command: %s", cmd)}
		}
	}
}

func (a *App) result(message string) tea.Cmd {
	return func() tea.Msg { return commandResultMsg{message} }
}
