package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Step is a planner decision: run Call, or finish with Reply when Call is nil.
type Step struct {
	Call  *ToolCall
	Reply string
}

// Planner decides the next step of a run from the conversation so far.
type Planner interface {
	Next(ctx context.Context, conv []Message) (Step, error)
}

// directivePrefix starts a tool directive line in a user message.
const directivePrefix = "/tool "

// DirectivePlanner runs the tool directives of the newest user message in
// order, one line each:
//
//	/tool read_file {"path":"README.md"}
//
// and then replies with a summary. It keeps no state of its own, so it
// continues correctly on a rebuilt conversation.
type DirectivePlanner struct{}

// Next implements Planner.
func (DirectivePlanner) Next(_ context.Context, conv []Message) (Step, error) {
	idx := lastUserIndex(conv)
	if idx < 0 {
		return Step{Reply: "Nothing to do."}, nil
	}

	directives, err := ParseDirectives(conv[idx].Content)
	if err != nil {
		return Step{}, err
	}

	var results []Message
	issued := 0
	for _, m := range conv[idx+1:] {
		switch m.Role {
		case RoleToolCall:
			issued++
		case RoleToolResult:
			results = append(results, m)
		}
	}

	if issued < len(directives) {
		call := directives[issued]
		return Step{Call: &call}, nil
	}
	return Step{Reply: summarize(conv[idx].Content, results)}, nil
}

// ParseDirectives extracts /tool lines from a message.
func ParseDirectives(message string) ([]ToolCall, error) {
	var calls []ToolCall
	scanner := bufio.NewScanner(strings.NewReader(message))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, directivePrefix) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, directivePrefix))
		name, args, _ := strings.Cut(rest, " ")
		if name == "" {
			return nil, fmt.Errorf("tool directive without a tool name: %q", line)
		}

		raw := json.RawMessage("{}")
		if args = strings.TrimSpace(args); args != "" {
			if !json.Valid([]byte(args)) {
				return nil, fmt.Errorf("tool directive %s has invalid JSON arguments", name)
			}
			raw = json.RawMessage(args)
		}
		calls = append(calls, ToolCall{Tool: name, Args: raw})
	}
	return calls, scanner.Err()
}

func summarize(request string, results []Message) string {
	if len(results) == 0 {
		return fmt.Sprintf("Received: %s", strings.TrimSpace(request))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Ran %d tool call(s):", len(results))
	for _, r := range results {
		status := "ok"
		switch {
		case strings.HasPrefix(r.Content, blockedOutput("")):
			status = "skipped"
		case r.IsError:
			status = "error"
		}
		tool := ""
		if r.Call != nil {
			tool = r.Call.Tool
		}
		fmt.Fprintf(&b, "\n- %s: %s", tool, status)
	}
	return b.String()
}

// ScriptedPlanner replays a fixed list of steps, then replies "done".
type ScriptedPlanner struct {
	mu    sync.Mutex
	steps []Step
	next  int
}

// NewScriptedPlanner creates a planner that returns steps in order.
func NewScriptedPlanner(steps ...Step) *ScriptedPlanner {
	return &ScriptedPlanner{steps: steps}
}

// Next implements Planner.
func (p *ScriptedPlanner) Next(ctx context.Context, _ []Message) (Step, error) {
	if err := ctx.Err(); err != nil {
		return Step{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next >= len(p.steps) {
		return Step{Reply: "done"}, nil
	}
	s := p.steps[p.next]
	p.next++
	return s, nil
}
