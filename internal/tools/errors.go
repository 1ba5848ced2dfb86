package tools

import "errors"

var (
	// ErrToolNotFound is returned when a tool name is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrPathEscape is returned when a path resolves outside the workspace root.
	ErrPathEscape = errors.New("path escapes workspace")

	// ErrInvalidArgs is returned when tool arguments cannot be decoded or are incomplete.
	ErrInvalidArgs = errors.New("invalid tool arguments")
)
