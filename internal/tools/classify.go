package tools

// Tool names used by the built-in tool set.
const (
	ReadFile      = "read_file"
	ListDirectory = "list_directory"
	SearchFiles   = "search_files"
	GetFileInfo   = "get_file_info"
	WriteFile     = "write_file"
	DeleteFile    = "delete_file"
	MoveFile      = "move_file"
	RunCommand    = "run_command"
)

// ReadOnlyTools is the allow-list of tools that cannot mutate workspace state.
// Membership is explicit: a tool missing from this set is treated as mutating,
// no matter what its name looks like.
var ReadOnlyTools = map[string]bool{
	ReadFile:      true,
	ListDirectory: true,
	SearchFiles:   true,
	GetFileInfo:   true,
	"glob":        true,
	"grep":        true,
	"web_search":  true,
	"web_fetch":   true,
}

// IsReadOnly reports whether toolName is on the read-only allow-list.
func IsReadOnly(toolName string) bool {
	return ReadOnlyTools[toolName]
}
