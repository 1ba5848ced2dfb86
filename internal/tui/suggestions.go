package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Suggestions provides autocomplete for commands
type Suggestions struct {
	items        []SuggestionItem
	filtered     []SuggestionItem
	selectedIdx  int
	visible      bool
	prefix       string // "/", "@", or "!"
	currentInput string
}

// SuggestionItem represents a single autocomplete suggestion
type SuggestionItem struct {
	Text        string
	Description string
	Type        string // "command", "workspace", "task", "action"
}

var commandSuggestions = []SuggestionItem{
	{Text: "add", Description: "Create and start a task from a prompt", Type: "command"},
	{Text: "send", Description: "Send a follow-up message to the selected task", Type: "command"},
	{Text: "start", Description: "Start the selected pending task", Type: "command"},
	{Text: "cancel", Description: "Cancel the selected task", Type: "command"},
	{Text: "pause", Description: "Pause the selected task", Type: "command"},
	{Text: "resume", Description: "Resume the selected task", Type: "command"},
	{Text: "complete", Description: "Mark the selected task completed", Type: "command"},
	{Text: "ws", Description: "Switch the workspace new tasks go to", Type: "command"},
	{Text: "approvals", Description: "View pending approvals", Type: "command"},
}

// actionSuggestions expand to tool directives sent to the selected task.
var actionSuggestions = []SuggestionItem{
	{Text: "/tool list_directory {}", Description: "List the workspace root", Type: "action"},
	{Text: "/tool read_file {\"path\":\"README.md\"}", Description: "Read the README", Type: "action"},
	{Text: "/tool search_files {\"pattern\":\"TODO\"}", Description: "Search for TODOs", Type: "action"},
	{Text: "/tool run_command {\"command\":\"git\",\"args\":[\"status\"]}", Description: "Run git status", Type: "action"},
}

// NewSuggestions creates a new suggestions handler
func NewSuggestions() *Suggestions {
	return &Suggestions{
		items:   commandSuggestions,
		visible: false,
	}
}

// Update updates suggestions based on current input
func (s *Suggestions) Update(input string) {
	if input == "" {
		s.visible = false
		s.filtered = nil
		s.prefix = ""
		return
	}

	// Check for trigger characters
	firstChar := string(input[0])
	if firstChar == "/" {
		s.prefix = "/"
		s.items = commandSuggestions // Reset to commands
		s.visible = true
		query := strings.ToLower(strings.TrimPrefix(input, "/"))
		s.filter(query)
	} else if firstChar == "@" {
		s.prefix = "@"
		// Filled in by SetWorkspaces and SetTasks.
		if len(s.items) > 0 && s.items[0].Type != "workspace" && s.items[0].Type != "task" {
			s.items = []SuggestionItem{}
		}
		s.visible = true
		query := strings.ToLower(strings.TrimPrefix(input, "@"))
		s.filter(query)
	} else if firstChar == "!" {
		s.prefix = "!"
		s.items = actionSuggestions // Reset to actions
		s.visible = true
		query := strings.ToLower(strings.TrimPrefix(input, "!"))
		s.filter(query)
	} else {
		s.visible = false
		s.filtered = nil
		s.prefix = ""
	}

	s.currentInput = input
}

// SetWorkspaces updates the workspace suggestions
func (s *Suggestions) SetWorkspaces(workspaces []WorkspaceItem) {
	if s.prefix == "@" {
		s.items = make([]SuggestionItem, len(workspaces))
		for i, ws := range workspaces {
			s.items[i] = SuggestionItem{
				Text:        ws.ID,
				Description: ws.Name + " " + ws.Path,
				Type:        "workspace",
			}
		}
		query := strings.ToLower(strings.TrimPrefix(s.currentInput, "@"))
		s.filter(query)
	}
}

// SetTasks updates the task suggestions
func (s *Suggestions) SetTasks(tasks []string) {
	if s.prefix == "@" {
		// Tasks follow the workspaces
		taskItems := make([]SuggestionItem, len(tasks))
		for i, task := range tasks {
			taskItems[i] = SuggestionItem{
				Text:        task,
				Description: "Reference this task",
				Type:        "task",
			}
		}
		s.items = append(s.items, taskItems...)
		query := strings.ToLower(strings.TrimPrefix(s.currentInput, "@"))
		s.filter(query)
	}
}

func (s *Suggestions) filter(query string) {
	if query == "" {
		s.filtered = s.items
		s.selectedIdx = 0
		return
	}

	s.filtered = []SuggestionItem{}
	for _, item := range s.items {
		if strings.Contains(strings.ToLower(item.Text), query) {
			s.filtered = append(s.filtered, item)
		}
	}
	s.selectedIdx = 0
}

// Next moves to the next suggestion
func (s *Suggestions) Next() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx = (s.selectedIdx + 1) % len(s.filtered)
}

// Prev moves to the previous suggestion
func (s *Suggestions) Prev() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx--
	if s.selectedIdx < 0 {
		s.selectedIdx = len(s.filtered) - 1
	}
}

// Selected returns the currently selected suggestion
func (s *Suggestions) Selected() *SuggestionItem {
	if !s.visible || len(s.filtered) == 0 || s.selectedIdx >= len(s.filtered) {
		return nil
	}
	return &s.filtered[s.selectedIdx]
}

// IsVisible returns whether suggestions are currently visible
func (s *Suggestions) IsVisible() bool {
	return s.visible && len(s.filtered) > 0
}

// Render renders the suggestions dropdown
func (s *Suggestions) Render(width int) string {
	if !s.IsVisible() {
		return ""
	}

	var b strings.Builder

	suggestionStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#6366F1")).
		Padding(0, 1).
		Width(width - 4)

	selectedStyle := lipgloss.NewStyle().
		Background(lipgloss.Color("#7C3AED")).
		Foreground(lipgloss.Color("#F9FAFB")).
		Bold(true)

	itemStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#F9FAFB"))

	descStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B7280")).
		Italic(true)

	// Header
	var header string
	switch s.prefix {
	case "/":
		header = "💡 Commands"
	case "@":
		header = "🔗 References"
	case "!":
		header = "⚡ Quick Actions"
	}
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")).Render(header))
	b.WriteString("\n")

	// Show max 5 suggestions
	maxVisible := 5
	for i, item := range s.filtered {
		if i >= maxVisible {
			more := len(s.filtered) - maxVisible
			b.WriteString(descStyle.Render(fmt.Sprintf("  ... and %d more", more)))
			break
		}

		line := ""
		if i == s.selectedIdx {
			line = selectedStyle.Render("▶ " + item.Text)
			if item.Description != "" {
				line += " " + selectedStyle.Render(item.Description)
			}
		} else {
			line = itemStyle.Render("  " + item.Text)
			if item.Description != "" {
				line += " " + descStyle.Render(item.Description)
			}
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return suggestionStyle.Render(b.String())
}
