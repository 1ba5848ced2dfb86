package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add [prompt]",
	Short: "Add a new task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskSendCmd = &cobra.Command{
	Use:   "send [task-id] [message]",
	Short: "Send a follow-up message to a task",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runTaskSend,
}

var taskEventsCmd = &cobra.Command{
	Use:   "events [task-id]",
	Short: "Show a task's event timeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskEvents,
}

var (
	taskWorkspace string
	taskTitle     string
	taskStart     bool
	taskStatus    string
	followEvents  bool
)

// taskActions are the lifecycle commands that map one-to-one onto
// POST /tasks/{id}/{action}.
var taskActions = []struct {
	name  string
	short string
}{
	{"start", "Start a pending task"},
	{"cancel", "Cancel a task"},
	{"pause", "Pause a running task"},
	{"resume", "Resume a paused task"},
	{"complete", "Mark a task completed"},
}

func init() {
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskSendCmd, taskEventsCmd)
	for _, a := range taskActions {
		taskCmd.AddCommand(newTaskActionCmd(a.name, a.short))
	}

	taskAddCmd.Flags().StringVar(&taskWorkspace, "workspace", "", "Workspace ID (required)")
	taskAddCmd.Flags().StringVar(&taskTitle, "title", "", "Task title (defaults to the start of the prompt)")
	taskAddCmd.Flags().BoolVar(&taskStart, "start", false, "Start the task immediately")
	taskAddCmd.MarkFlagRequired("workspace")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status (pending, planning, executing, paused, blocked, completed, failed, cancelled)")

	taskEventsCmd.Flags().BoolVarP(&followEvents, "follow", "f", false, "Stream new events as they happen")
}

func newTaskActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " [task-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var task models.Task
			if err := apiPost("/tasks/"+url.PathEscape(args[0])+"/"+action, nil, &task); err != nil {
				return err
			}
			fmt.Printf("Task %s is now %s\n", truncateID(task.ID), task.Status)
			return nil
		},
	}
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	body := map[string]any{
		"workspace_id": taskWorkspace,
		"title":        taskTitle,
		"prompt":       strings.Join(args, " "),
		"start":        taskStart,
	}

	var task models.Task
	if err := apiPost("/tasks", body, &task); err != nil {
		return err
	}

	fmt.Printf("Created task: %s (%s)\n", task.ID, task.Status)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	path := "/tasks"
	if taskStatus != "" {
		path += "?status=" + url.QueryEscape(taskStatus)
	}

	var tasks []models.Task
	if err := apiGet(path, &tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tWORKSPACE")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", truncateID(t.ID), truncate(t.Title, 40), t.Status, truncateID(t.WorkspaceID))
	}
	return w.Flush()
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	var task models.Task
	if err := apiGet("/tasks/"+url.PathEscape(args[0]), &task); err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", task.ID)
	fmt.Printf("Title:       %s\n", task.Title)
	fmt.Printf("Workspace:   %s\n", task.WorkspaceID)
	fmt.Printf("Status:      %s\n", task.Status)
	if task.Error != "" {
		fmt.Printf("Error:       %s\n", task.Error)
	}
	fmt.Printf("Created:     %s\n", task.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:     %s\n", task.UpdatedAt.Format(time.RFC3339))
	if task.CompletedAt != nil {
		fmt.Printf("Finished:    %s\n", task.CompletedAt.Format(time.RFC3339))
	}
	fmt.Printf("\n%s\n", task.Prompt)
	return nil
}

func runTaskSend(cmd *cobra.Command, args []string) error {
	body := map[string]string{"message": strings.Join(args[1:], " ")}
	var task models.Task
	if err := apiPost("/tasks/"+url.PathEscape(args[0])+"/message", body, &task); err != nil {
		return err
	}
	fmt.Printf("Message sent to %s (%s)\n", truncateID(task.ID), task.Status)
	return nil
}

func runTaskEvents(cmd *cobra.Command, args []string) error {
	var events []models.Event
	if err := apiGet("/tasks/"+url.PathEscape(args[0])+"/events", &events); err != nil {
		return err
	}
	for _, ev := range events {
		fmt.Println(formatEvent(ev))
	}
	if !followEvents {
		if len(events) == 0 {
			fmt.Println("No events found")
		}
		return nil
	}
	return streamEvents(args[0], lastSeq(events))
}

func lastSeq(events []models.Event) int64 {
	if len(events) == 0 {
		return 0
	}
	return events[len(events)-1].Seq
}

// streamEvents follows the SSE stream for one task, skipping events already
// printed from the history.
func streamEvents(taskID string, afterSeq int64) error {
	// No client timeout: the stream is long-lived.
	resp, err := http.Get(apiAddr + "/events/stream?task=" + url.QueryEscape(taskID))
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIResponse(resp, nil)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if ev.Seq != 0 && ev.Seq <= afterSeq {
			continue
		}
		fmt.Println(formatEvent(ev))
	}
	return scanner.Err()
}

// formatEvent renders one timeline line: time, type and the payload's most
// useful field.
func formatEvent(ev models.Event) string {
	var p struct {
		Message     string `json:"message"`
		Tool        string `json:"tool"`
		Output      string `json:"output"`
		Reason      string `json:"reason"`
		Description string `json:"description"`
		To          string `json:"to"`
		Prompt      string `json:"prompt"`
		Summary     string `json:"summary"`
	}
	_ = json.Unmarshal(ev.Payload, &p)

	detail := ""
	switch ev.Type {
	case models.EventTaskCreated:
		detail = p.Prompt
	case models.EventTaskStatusChanged:
		detail = "→ " + p.To
	case models.EventUserMessage, models.EventAssistantMessage, models.EventError:
		detail = p.Message
	case models.EventToolCall:
		detail = p.Tool
	case models.EventToolResult:
		detail = p.Tool + ": " + p.Output
	case models.EventToolBlocked:
		detail = p.Tool + ": " + p.Reason
	case models.EventApprovalRequested:
		detail = p.Description
	case models.EventApprovalDenied:
		detail = p.Reason
	case models.EventTaskCompleted:
		detail = p.Summary
	}
	line := fmt.Sprintf("%s  %-20s", ev.Timestamp.Local().Format("15:04:05"), ev.Type)
	if detail != "" {
		line += "  " + truncate(strings.ReplaceAll(detail, "\n", " "), 100)
	}
	return line
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
