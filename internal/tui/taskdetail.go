package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginTop(1)

	userStyle      = lipgloss.NewStyle().Foreground(cyanColor).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(secondaryColor).Bold(true)
	toolStyle      = lipgloss.NewStyle().Foreground(warningColor)
)

// eventPayload holds the union of the fields carried by timeline events.
type eventPayload struct {
	Title       string          `json:"title"`
	Prompt      string          `json:"prompt"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Message     string          `json:"message"`
	Tool        string          `json:"tool"`
	Args        json.RawMessage `json:"args"`
	Output      string          `json:"output"`
	IsError     bool            `json:"is_error"`
	Reason      string          `json:"reason"`
	ApprovalID  string          `json:"approval_id"`
	Description string          `json:"description"`
	Summary     string          `json:"summary"`
}

func (a *App) renderTaskDetail() string {
	if a.currentTask == nil {
		return "  Loading task details...\n"
	}
	t := a.currentTask

	var b strings.Builder
	b.WriteString(headerStyle.Render(t.Title))
	b.WriteString("\n")
	b.WriteString(renderField("ID", t.ID))
	b.WriteString(renderField("Status", formatStatus(t.Status)))
	if t.Error != "" {
		b.WriteString(renderField("Error", statusFailed.Render(t.Error)))
	}
	b.WriteString(renderField("Created", t.CreatedAt.Local().Format("2006-01-02 15:04:05")))
	if t.CompletedAt != nil {
		b.WriteString(renderField("Finished", t.CompletedAt.Local().Format("2006-01-02 15:04:05")))
	}
	b.WriteString(sectionStyle.Render(fmt.Sprintf("Timeline (%d events)", len(a.events))))
	b.WriteString("\n")
	b.WriteString(a.viewport.View())
	b.WriteString("\n")
	return b.String()
}

// refreshViewport re-renders the timeline, following the tail when the
// view was already at the bottom.
func (a *App) refreshViewport() {
	atBottom := a.viewport.AtBottom()
	lines := make([]string, 0, len(a.events))
	for _, ev := range a.events {
		lines = append(lines, formatEvent(ev, a.viewport.Width))
	}
	a.viewport.SetContent(strings.Join(lines, "\n"))
	if atBottom {
		a.viewport.GotoBottom()
	}
}

func formatEvent(ev EventItem, width int) string {
	var p eventPayload
	if len(ev.Payload) > 0 {
		_ = json.Unmarshal(ev.Payload, &p)
	}
	limit := width - 16
	if limit < 20 {
		limit = 60
	}

	ts := labelStyle.Render(ev.Timestamp.Local().Format("15:04:05"))
	var body string
	switch ev.Type {
	case "task_created":
		body = "created: " + truncate(p.Prompt, limit)
	case "task_status_changed":
		body = labelStyle.Render(fmt.Sprintf("status %s → %s", orDash(p.From), p.To))
	case "task_paused", "task_resumed", "task_cancelled":
		body = labelStyle.Render(strings.TrimPrefix(ev.Type, "task_"))
	case "task_completed":
		body = statusCompleted.Render("completed")
		if p.Summary != "" {
			body += " " + truncate(p.Summary, limit)
		}
	case "user_message":
		body = userStyle.Render("you: ") + truncate(p.Message, limit)
	case "assistant_message":
		body = assistantStyle.Render("agent: ") + truncate(p.Message, limit)
	case "tool_call":
		body = toolStyle.Render("→ "+p.Tool) + " " + truncate(string(p.Args), limit)
	case "tool_result":
		mark := statusCompleted.Render("← " + p.Tool)
		if p.IsError {
			mark = statusFailed.Render("← " + p.Tool)
		}
		body = mark + " " + truncate(p.Output, limit)
	case "tool_blocked":
		body = statusMuted.Render("⊘ "+p.Tool) + " " + truncate(p.Reason, limit)
	case "approval_requested":
		body = statusBlocked.Render("? approval") + " " + truncate(p.Description, limit)
	case "approval_granted":
		body = statusCompleted.Render("approved")
	case "approval_denied":
		body = statusFailed.Render("denied") + " " + p.Reason
	case "error":
		body = statusFailed.Render("error: ") + truncate(p.Message, limit)
	default:
		body = ev.Type
	}
	return ts + " " + body
}

func renderField(label, value string) string {
	return fmt.Sprintf("%s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
