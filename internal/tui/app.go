// Package tui provides the interactive terminal UI for cowork.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	taskItemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

const (
	modeList      = "list"
	modeDetail    = "detail"
	modeApprovals = "approvals"
)

// pollInterval is how often the open view is refreshed from the daemon.
const pollInterval = 2 * time.Second

// App is the main TUI application model.
type App struct {
	client       *Client
	tasks        []TaskItem
	selectedIdx  int
	input        textinput.Model
	lastInput    string
	viewport     viewport.Model
	width        int
	height       int
	mode         string
	currentTask  *TaskDetail
	events       []EventItem
	approvals    []ApprovalItem
	approvalIdx  int
	workspaces   []WorkspaceItem
	workspaceID  string
	message      string
	filterIdx    int
	loading      bool
	daemonOnline bool
	suggestions  *Suggestions
}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: add <prompt> | send <message> | cancel | pause | resume | / for commands"
	ti.Focus()
	ti.CharLimit = 1024
	ti.Width = 80

	vp := viewport.New(80, 20)

	return &App{
		client:      NewClient(apiAddr),
		input:       ti,
		viewport:    vp,
		mode:        modeList,
		suggestions: NewSuggestions(),
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.fetchTasks(),
		a.fetchApprovals(),
		a.fetchWorkspaces(),
		a.checkDaemon(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if model, cmd, handled := a.handleKey(msg); handled {
			return model, cmd
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 4
		a.viewport.Width = msg.Width - 4
		a.viewport.Height = max(5, msg.Height-16)
		a.refreshViewport()

	case tasksLoadedMsg:
		a.loading = false
		a.tasks = msg.tasks
		if a.selectedIdx >= len(a.tasks) {
			a.selectedIdx = max(0, len(a.tasks)-1)
		}

	case taskDetailLoadedMsg:
		a.currentTask = msg.task
		a.events = msg.events
		a.refreshViewport()

	case approvalsLoadedMsg:
		a.approvals = msg.approvals
		if a.approvalIdx >= len(a.approvals) {
			a.approvalIdx = max(0, len(a.approvals)-1)
		}

	case workspacesLoadedMsg:
		a.workspaces = msg.workspaces
		if a.workspaceID == "" && len(a.workspaces) > 0 {
			a.workspaceID = a.workspaces[0].ID
		}

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case tickMsg:
		cmds = append(cmds, a.tickCmd(), a.checkDaemon(), a.fetchApprovals())
		switch a.mode {
		case modeList:
			cmds = append(cmds, a.fetchTasks())
		case modeDetail:
			if a.currentTask != nil {
				cmds = append(cmds, a.fetchTaskDetail(a.currentTask.ID))
			}
		}

	case commandResultMsg:
		a.message = msg.message
		cmds = append(cmds, a.fetchTasks(), a.fetchApprovals())
		if a.mode == modeDetail && a.currentTask != nil {
			cmds = append(cmds, a.fetchTaskDetail(a.currentTask.ID))
		}
		return a, tea.Batch(cmds...)

	case errMsg:
		a.loading = false
		a.message = "Error: " + msg.err.Error()
	}

	// Update input
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	// Typed text must not scroll the timeline.
	if _, isKey := msg.(tea.KeyMsg); !isKey && a.mode == modeDetail {
		a.viewport, cmd = a.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	// Refilter only on edits so the dropdown selection survives polling.
	if v := a.input.Value(); v != a.lastInput {
		a.lastInput = v
		a.suggestions.Update(v)

		// Populate dynamic suggestions for @
		if strings.HasPrefix(v, "@") {
			a.suggestions.SetWorkspaces(a.workspaces)
			var taskIDs []string
			for _, t := range a.tasks {
				taskIDs = append(taskIDs, t.ID)
			}
			a.suggestions.SetTasks(taskIDs)
		}
	}

	return a, tea.Batch(cmds...)
}

// handleKey processes navigation keys. Single-letter shortcuts only apply
// while the input is empty so they never swallow typed text.
func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	typing := a.input.Value() != ""

	switch msg.String() {
	case "ctrl+c":
		return a, tea.Quit, true

	case "esc":
		if a.mode != modeList {
			a.mode = modeList
			a.currentTask = nil
			a.events = nil
			return a, a.fetchTasks(), true
		}

	case "up":
		switch {
		case a.suggestions.IsVisible():
			a.suggestions.Prev()
		case a.mode == modeList && a.selectedIdx > 0:
			a.selectedIdx--
		case a.mode == modeApprovals && a.approvalIdx > 0:
			a.approvalIdx--
		case a.mode == modeDetail:
			a.viewport.LineUp(1)
		}
		return a, nil, true

	case "down":
		switch {
		case a.suggestions.IsVisible():
			a.suggestions.Next()
		case a.mode == modeList && a.selectedIdx < len(a.tasks)-1:
			a.selectedIdx++
		case a.mode == modeApprovals && a.approvalIdx < len(a.approvals)-1:
			a.approvalIdx++
		case a.mode == modeDetail:
			a.viewport.LineDown(1)
		}
		return a, nil, true

	case "pgup":
		if a.mode == modeDetail {
			a.viewport.HalfViewUp()
			return a, nil, true
		}

	case "pgdown":
		if a.mode == modeDetail {
			a.viewport.HalfViewDown()
			return a, nil, true
		}

	case "tab":
		// If suggestions visible, accept selection
		if a.suggestions.IsVisible() {
			if selected := a.suggestions.Selected(); selected != nil {
				a.acceptSuggestion(*selected)
			}
			return a, nil, true
		}
		if a.mode == modeList {
			a.filterIdx = (a.filterIdx + 1) % len(filters)
			return a, a.fetchTasks(), true
		}

	case "enter":
		if a.suggestions.IsVisible() {
			if selected := a.suggestions.Selected(); selected != nil {
				a.acceptSuggestion(*selected)
			}
			return a, nil, true
		}
		cmd := strings.TrimSpace(a.input.Value())
		if cmd != "" {
			a.input.SetValue("")
			return a, a.executeCommand(cmd), true
		}
		if a.mode == modeList && len(a.tasks) > 0 {
			task := a.tasks[a.selectedIdx]
			a.mode = modeDetail
			a.viewport.GotoTop()
			return a, a.fetchTaskDetail(task.ID), true
		}
		return a, nil, true

	case "y", "n":
		if !typing && a.mode == modeApprovals && len(a.approvals) > 0 {
			approval := a.approvals[a.approvalIdx]
			return a, a.respondToApproval(approval.ID, msg.String() == "y"), true
		}

	case "a":
		if !typing {
			a.mode = modeApprovals
			return a, a.fetchApprovals(), true
		}

	case "r":
		if !typing {
			return a, tea.Batch(a.fetchTasks(), a.fetchApprovals(), a.fetchWorkspaces()), true
		}
	}
	return a, nil, false
}

func (a *App) acceptSuggestion(item SuggestionItem) {
	switch item.Type {
	case "workspace":
		a.workspaceID = item.Text
		a.input.SetValue("")
		a.message = "Workspace set to " + shortID(item.Text)
	case "task":
		for i, t := range a.tasks {
			if t.ID == item.Text {
				a.selectedIdx = i
			}
		}
		a.input.SetValue("")
	case "action":
		a.input.SetValue("send " + item.Text)
	default:
		a.input.SetValue(item.Text + " ")
	}
	a.input.CursorEnd()
	a.suggestions.Update("")
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	// Header with daemon status
	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}

	header := titleStyle.Render("cowork")
	header += "  " + daemonStatus
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(fmt.Sprintf("[workspace %s]", a.workspaceLabel()))
	if n := len(a.approvals); n > 0 {
		header += "  " + lipgloss.NewStyle().Foreground(warningColor).Bold(true).Render(fmt.Sprintf("[%d awaiting approval]", n))
	}

	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 10)) + "\n")

	// Main content area
	contentHeight := a.height - 8
	if contentHeight < 5 {
		contentHeight = 5
	}

	switch a.mode {
	case modeList:
		filterLabel := fmt.Sprintf(" Filter: [%s]", filterNames[a.filterIdx])
		b.WriteString(lipgloss.NewStyle().Foreground(mutedColor).Render(filterLabel) + "\n")
		b.WriteString(a.renderTaskList(contentHeight - 1))
	case modeDetail:
		b.WriteString(a.renderTaskDetail())
	case modeApprovals:
		b.WriteString(a.renderApprovals(contentHeight))
	}

	// Message bar
	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	// Input box
	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))

	// Suggestions dropdown (if visible) - renders BELOW input
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case modeList:
		status = fmt.Sprintf(" Tasks: %d | ↑↓:nav | Enter:open | Tab:filter | a:approvals | r:refresh | Ctrl+C:quit", len(a.tasks))
	case modeApprovals:
		status = fmt.Sprintf(" Approvals: %d | ↑↓:nav | y:approve | n:deny | Esc:back", len(a.approvals))
	default:
		status = " ↑↓:scroll | send <message> | cancel | pause | resume | Esc:back"
	}
	b.WriteString(statusBarStyle.Width(max(a.width, 10)).Render(status))

	return b.String()
}

func (a *App) workspaceLabel() string {
	for _, ws := range a.workspaces {
		if ws.ID == a.workspaceID {
			return ws.Name
		}
	}
	if a.workspaceID == "" {
		return "none"
	}
	return shortID(a.workspaceID)
}

// selectedTaskID is the task commands act on: the open task in the detail
// view, otherwise the highlighted row.
func (a *App) selectedTaskID() string {
	if a.mode == modeDetail && a.currentTask != nil {
		return a.currentTask.ID
	}
	if len(a.tasks) == 0 {
		return ""
	}
	return a.tasks[a.selectedIdx].ID
}

func (a *App) fetchTasks() tea.Cmd {
	a.loading = true
	filter := filters[a.filterIdx]
	return func() tea.Msg {
		tasks, err := a.client.ListTasks(filter)
		if err != nil {
			return errMsg{err}
		}
		return tasksLoadedMsg{tasks}
	}
}

func (a *App) fetchTaskDetail(taskID string) tea.Cmd {
	return func() tea.Msg {
		task, err := a.client.GetTask(taskID)
		if err != nil {
			return errMsg{err}
		}
		events, err := a.client.ListEvents(taskID)
		if err != nil {
			return errMsg{err}
		}
		return taskDetailLoadedMsg{task, events}
	}
}

func (a *App) fetchApprovals() tea.Cmd {
	return func() tea.Msg {
		approvals, err := a.client.ListApprovals()
		if err != nil {
			return errMsg{err}
		}
		return approvalsLoadedMsg{approvals}
	}
}

func (a *App) fetchWorkspaces() tea.Cmd {
	return func() tea.Msg {
		list, err := a.client.ListWorkspaces()
		if err != nil {
			return errMsg{err}
		}
		return workspacesLoadedMsg{list}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ok, err := a.client.CheckHealth()
		return daemonStatusMsg{online: err == nil && ok}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err error
}

type tasksLoadedMsg struct {
	tasks []TaskItem
}

type taskDetailLoadedMsg struct {
	task   *TaskDetail
	events []EventItem
}

type approvalsLoadedMsg struct {
	approvals []ApprovalItem
}

type workspacesLoadedMsg struct {
	workspaces []WorkspaceItem
}

type daemonStatusMsg struct {
	online bool
}

type tickMsg time.Time
