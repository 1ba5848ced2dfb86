package tools

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// ResolvePath resolves p against root and rejects results outside root.
// An empty p resolves to root itself.
func ResolvePath(root, p string) (string, error) {
	root = filepath.Clean(root)
	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Join(root, p)
	}

	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, p)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, p)
	}
	return abs, nil
}

// PathArg extracts and resolves the "path" argument of a tool call.
func PathArg(root string, args json.RawMessage) (string, error) {
	var a struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return "", err
	}
	return ResolvePath(root, a.Path)
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}
