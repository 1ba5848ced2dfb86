// Package tools provides the tool registry and the built-in workspace tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/mesutfelat/cowork-oss-sub009/internal/connectors"
)

// Env is what a tool runs against.
type Env struct {
	// Root is the absolute workspace directory; all paths are confined to it.
	Root string
	// Exec runs external commands.
	Exec connectors.Connector
}

// Result is the output of a tool run.
type Result struct {
	Output  string `json:"output"`
	IsError bool   `json:"is_error,omitempty"`

	// Path is the resolved target of read_file or list_directory.
	Path string `json:"-"`
	// Entries is the listing returned by list_directory.
	Entries []string `json:"-"`
	// Affected lists resolved paths a mutating tool changed.
	Affected []string `json:"-"`
}

// JSON returns the serialized result used for dedup fingerprints and events.
func (r Result) JSON() string {
	b, _ := json.Marshal(r)
	return string(b)
}

// RunFunc executes a tool.
type RunFunc func(ctx context.Context, env Env, args json.RawMessage) (Result, error)

// Tool describes a callable tool.
type Tool struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	RequiresApproval bool   `json:"requires_approval"`
	Run              RunFunc `json:"-"`
}

// ReadOnly reports whether the tool is on the read-only allow-list.
func (t Tool) ReadOnly() bool {
	return IsReadOnly(t.Name)
}

// Registry manages registered tools.
type Registry struct {
	tools map[string]*Tool
	mu    sync.RWMutex
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if tool.Run == nil {
		return fmt.Errorf("tool %q has no run function", tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = &tool
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return *tool, true
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, *t)
	}
	sort.Slice(tools, func(i, j int) bool {
		return tools[i].Name < tools[j].Name
	})
	return tools
}

// SetRequiresApproval toggles the approval gate for a tool.
func (r *Registry) SetRequiresApproval(name string, required bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tool, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	tool.RequiresApproval = required
	return nil
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Run executes the named tool.
func (r *Registry) Run(ctx context.Context, env Env, name string, args json.RawMessage) (Result, error) {
	tool, ok := r.Get(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool.Run(ctx, env, args)
}

// NewDefaultRegistry returns a registry holding the built-in tools.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range Builtins() {
		// Built-ins always carry a name and a run function.
		_ = r.Register(t)
	}
	return r
}

// Builtins returns the built-in workspace tools.
func Builtins() []Tool {
	return []Tool{
		{Name: ReadFile, Description: "Read a text file. Args: {path}", Run: readFile},
		{Name: ListDirectory, Description: "List directory entries. Args: {path}", Run: listDirectory},
		{Name: SearchFiles, Description: "Search file contents for a substring. Args: {pattern, path?, max_results?}", Run: searchFiles},
		{Name: GetFileInfo, Description: "Stat a path. Args: {path}", Run: getFileInfo},
		{Name: WriteFile, Description: "Write a file, creating parent directories. Args: {path, content, append?}", Run: writeFile},
		{Name: DeleteFile, Description: "Delete a file or empty directory. Args: {path}", RequiresApproval: true, Run: deleteFile},
		{Name: MoveFile, Description: "Move or rename a path. Args: {source, destination}", Run: moveFile},
		{Name: RunCommand, Description: "Run an allowlisted command in the workspace. Args: {command, args?}", RequiresApproval: true, Run: runCommand},
	}
}
