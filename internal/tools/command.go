package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

func runCommand(ctx context.Context, env Env, args json.RawMessage) (Result, error) {
	var a struct {
		Command string   `json:"command"`
		Args    []string `json:"args"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return Result{}, err
	}
	if a.Command == "" {
		return Result{}, fmt.Errorf("%w: command is required", ErrInvalidArgs)
	}
	if env.Exec == nil {
		return Result{}, fmt.Errorf("no command connector configured")
	}

	res, err := env.Exec.Execute(ctx, env.Root, a.Command, a.Args)
	if err != nil {
		return Result{}, err
	}

	out, err := json.Marshal(res)
	if err != nil {
		return Result{}, fmt.Errorf("marshal exec result: %w", err)
	}
	return Result{Output: string(out), IsError: res.ExitCode != 0}, nil
}
