// Package fingerprint computes deterministic keys for tool calls, results and file content.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize serializes v as JSON with object keys sorted at every depth.
// v may be a Go value, a json.RawMessage, or raw JSON bytes. nil and empty input
// canonicalize to "{}" so that a call without arguments has a stable key.
func Canonicalize(v any) ([]byte, error) {
	var raw []byte
	switch x := v.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		raw = x
	case []byte:
		raw = x
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal args: %w", err)
		}
		raw = b
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("{}"), nil
	}

	// Round-trip through interface{} so maps are re-emitted with sorted keys
	// and struct values become indistinguishable from equivalent maps.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ToolCall returns the fingerprint of a tool name plus its arguments.
// Argument key order never affects the result.
func ToolCall(toolName string, args any) (string, error) {
	canon, err := Canonicalize(args)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MustToolCall is ToolCall for arguments that are known to be valid JSON values.
// Unencodable arguments fall back to hashing their %v rendering.
func MustToolCall(toolName string, args any) string {
	fp, err := ToolCall(toolName, args)
	if err != nil {
		return String(toolName + "\x00" + fmt.Sprintf("%v", args))
	}
	return fp
}

// String returns the sha256 hex digest of s.
func String(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Result returns the fingerprint of a serialized tool result.
func Result(resultJSON string) string {
	return String(resultJSON)
}

// Content returns the fingerprint of file content.
func Content(content string) string {
	return String(content)
}

// Listing returns the fingerprint of a directory listing. Entry order does not matter.
func Listing(entries []string) string {
	sorted := append([]string(nil), entries...)
	sort.Strings(sorted)
	b, _ := json.Marshal(sorted)
	return String(string(b))
}
