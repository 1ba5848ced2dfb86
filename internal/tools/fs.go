package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	maxReadBytes      = 1 << 20
	defaultMaxResults = 100
)

var errStopWalk = errors.New("stop walk")

func readFile(_ context.Context, env Env, args json.RawMessage) (Result, error) {
	path, err := PathArg(env.Root, args)
	if err != nil {
		return Result{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > maxReadBytes {
		return Result{}, fmt.Errorf("%s is too large (%d bytes)", path, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read file: %w", err)
	}
	return Result{Output: string(data), Path: path}, nil
}

func listDirectory(_ context.Context, env Env, args json.RawMessage) (Result, error) {
	path, err := PathArg(env.Root, args)
	if err != nil {
		return Result{}, err
	}

	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return Result{}, fmt.Errorf("read dir: %w", err)
	}

	entries := make([]string, 0, len(dirEntries))
	for _, e := range dirEntries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		entries = append(entries, name)
	}
	sort.Strings(entries)
	return Result{Output: strings.Join(entries, "\n"), Path: path, Entries: entries}, nil
}

func getFileInfo(_ context.Context, env Env, args json.RawMessage) (Result, error) {
	path, err := PathArg(env.Root, args)
	if err != nil {
		return Result{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stat file: %w", err)
	}

	out, _ := json.Marshal(map[string]any{
		"name":     info.Name(),
		"size":     info.Size(),
		"mode":     info.Mode().String(),
		"is_dir":   info.IsDir(),
		"modified": info.ModTime().UTC().Format(time.RFC3339),
	})
	return Result{Output: string(out), Path: path}, nil
}

func searchFiles(ctx context.Context, env Env, args json.RawMessage) (Result, error) {
	var a struct {
		Pattern    string `json:"pattern"`
		Path       string `json:"path"`
		MaxResults int    `json:"max_results"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return Result{}, err
	}
	if a.Pattern == "" {
		return Result{}, fmt.Errorf("%w: pattern is required", ErrInvalidArgs)
	}
	if a.MaxResults <= 0 {
		a.MaxResults = defaultMaxResults
	}
	base, err := ResolvePath(env.Root, a.Path)
	if err != nil {
		return Result{}, err
	}

	var matches []string
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxReadBytes {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return nil
		}
		defer f.Close()

		rel, _ := filepath.Rel(env.Root, p)
		scanner := bufio.NewScanner(f)
		line := 0
		for scanner.Scan() {
			line++
			if strings.Contains(scanner.Text(), a.Pattern) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, line, strings.TrimSpace(scanner.Text())))
				if len(matches) >= a.MaxResults {
					return errStopWalk
				}
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return Result{}, fmt.Errorf("search files: %w", err)
	}

	if len(matches) == 0 {
		return Result{Output: "no matches", Path: base}, nil
	}
	return Result{Output: strings.Join(matches, "\n"), Path: base}, nil
}

func writeFile(_ context.Context, env Env, args json.RawMessage) (Result, error) {
	var a struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return Result{}, err
	}
	if a.Path == "" {
		return Result{}, fmt.Errorf("%w: path is required", ErrInvalidArgs)
	}
	path, err := ResolvePath(env.Root, a.Path)
	if err != nil {
		return Result{}, err
	}

	created, err := mkdirParents(path)
	if err != nil {
		return Result{}, err
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if a.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return Result{}, fmt.Errorf("open file: %w", err)
	}
	if _, err := f.WriteString(a.Content); err != nil {
		f.Close()
		return Result{}, fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("close file: %w", err)
	}

	return Result{
		Output:   fmt.Sprintf("wrote %d bytes to %s", len(a.Content), a.Path),
		Affected: append([]string{path}, created...),
	}, nil
}

func deleteFile(_ context.Context, env Env, args json.RawMessage) (Result, error) {
	path, err := PathArg(env.Root, args)
	if err != nil {
		return Result{}, err
	}
	if path == filepath.Clean(env.Root) {
		return Result{}, fmt.Errorf("%w: refusing to delete workspace root", ErrInvalidArgs)
	}
	if err := os.Remove(path); err != nil {
		return Result{}, fmt.Errorf("delete file: %w", err)
	}
	return Result{Output: "deleted " + path, Affected: []string{path}}, nil
}

func moveFile(_ context.Context, env Env, args json.RawMessage) (Result, error) {
	var a struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return Result{}, err
	}
	if a.Source == "" || a.Destination == "" {
		return Result{}, fmt.Errorf("%w: source and destination are required", ErrInvalidArgs)
	}
	src, err := ResolvePath(env.Root, a.Source)
	if err != nil {
		return Result{}, err
	}
	dst, err := ResolvePath(env.Root, a.Destination)
	if err != nil {
		return Result{}, err
	}

	created, err := mkdirParents(dst)
	if err != nil {
		return Result{}, err
	}
	if err := os.Rename(src, dst); err != nil {
		return Result{}, fmt.Errorf("move file: %w", err)
	}
	return Result{
		Output:   fmt.Sprintf("moved %s to %s", a.Source, a.Destination),
		Affected: append([]string{src, dst}, created...),
	}, nil
}

// mkdirParents creates the missing parent directories of path and returns
// the ones it created, outermost first.
func mkdirParents(path string) ([]string, error) {
	var missing []string
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(dir); !errors.Is(err, fs.ErrNotExist) {
			break
		}
		missing = append(missing, dir)
		if filepath.Dir(dir) == dir {
			break
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create parent dir: %w", err)
	}
	for i, j := 0, len(missing)-1; i < j; i, j = i+1, j-1 {
		missing[i], missing[j] = missing[j], missing[i]
	}
	return missing, nil
}
