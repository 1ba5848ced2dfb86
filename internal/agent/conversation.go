package agent

import (
	"encoding/json"
	"fmt"

	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
)

// Role identifies who produced a conversation message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolCall   Role = "tool_call"
	RoleToolResult Role = "tool_result"
)

// ToolCall is a request to run one tool.
type ToolCall struct {
	ID   string          `json:"id"`
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// Message is one entry of a task's conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	// Call is set for RoleToolCall and identifies the call for RoleToolResult.
	Call    *ToolCall `json:"call,omitempty"`
	IsError bool      `json:"is_error,omitempty"`
}

func blockedOutput(reason string) string {
	return "blocked: " + reason
}

// Rebuild reduces a task's event log into its conversation.
func Rebuild(events []models.Event) ([]Message, error) {
	var conv []Message
	for _, ev := range events {
		var err error
		conv, err = apply(conv, ev)
		if err != nil {
			return nil, fmt.Errorf("apply %s event %d: %w", ev.Type, ev.Seq, err)
		}
	}
	return conv, nil
}

func apply(conv []Message, ev models.Event) ([]Message, error) {
	switch ev.Type {
	case models.EventTaskCreated:
		var p models.TaskCreatedPayload
		if err := ev.DecodePayload(&p); err != nil {
			return nil, err
		}
		// A task starts its conversation over from the prompt.
		return []Message{{Role: RoleUser, Content: p.Prompt}}, nil

	case models.EventUserMessage, models.EventAssistantMessage:
		var p models.MessagePayload
		if err := ev.DecodePayload(&p); err != nil {
			return nil, err
		}
		role := RoleUser
		if ev.Type == models.EventAssistantMessage {
			role = RoleAssistant
		}
		return append(conv, Message{Role: role, Content: p.Message}), nil

	case models.EventToolCall:
		var p models.ToolCallPayload
		if err := ev.DecodePayload(&p); err != nil {
			return nil, err
		}
		return append(conv, Message{
			Role: RoleToolCall,
			Call: &ToolCall{ID: p.CallID, Tool: p.Tool, Args: p.Args},
		}), nil

	case models.EventToolResult:
		var p models.ToolResultPayload
		if err := ev.DecodePayload(&p); err != nil {
			return nil, err
		}
		return append(conv, Message{
			Role:    RoleToolResult,
			Content: p.Output,
			Call:    &ToolCall{ID: p.CallID, Tool: p.Tool},
			IsError: p.IsError,
		}), nil

	case models.EventToolBlocked:
		var p models.ToolBlockedPayload
		if err := ev.DecodePayload(&p); err != nil {
			return nil, err
		}
		return append(conv, Message{
			Role:    RoleToolResult,
			Content: blockedOutput(p.Reason),
			Call:    &ToolCall{ID: p.CallID, Tool: p.Tool},
			IsError: true,
		}), nil
	}
	return conv, nil
}

// lastUserIndex returns the index of the newest user message, or -1.
func lastUserIndex(conv []Message) int {
	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].Role == RoleUser {
			return i
		}
	}
	return -1
}
