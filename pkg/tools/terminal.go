package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/woodwosj/OdooDevMCP/pkg/audit"
	"github.com/woodwosj/OdooDevMCP/pkg/settings"
)

const terminalLogPrefix = "tools:terminal"

// ExecuteCommandInput holds execute_command arguments. Timeout is a
// pointer so an explicit 0 (no timeout) is distinguishable from unset
// (default 30 seconds).
type ExecuteCommandInput struct {
	Command          string            `json:"command"`
	WorkingDirectory string            `json:"working_directory"`
	Timeout          *int              `json:"timeout"`
	EnvVars          map[string]string `json:"env_vars"`
}

// ExecuteCommandOutput is the execute_command result payload.
type ExecuteCommandOutput struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int    `json:"duration_ms"`
}

// ExecuteCommand runs a shell command on the host. A timeout is a
// result (exit_code -1, timed_out true), never a protocol error, so
// callers can tell "killed" from "might still be running" elsewhere.
func (s *Service) ExecuteCommand(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in ExecuteCommandInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Command) == "" {
		return nil, Validationf("command is required")
	}

	maxTimeout := s.settings.Seconds(ctx, settings.KeyCommandMaxTimeout, 600*time.Second)

	timeout := 30 * time.Second
	if in.Timeout != nil {
		if *in.Timeout <= 0 {
			timeout = 0 // no timeout
		} else {
			timeout = time.Duration(*in.Timeout) * time.Second
		}
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}

	workdir := in.WorkingDirectory
	if workdir == "" {
		workdir = s.defaultWorkdir
	}

	outcome := runCommand(ctx, commandSpec{
		Shell:   in.Command,
		Dir:     workdir,
		Env:     in.EnvVars,
		Timeout: timeout,
	})

	if outcome.TimedOut {
		slog.Warn(fmt.Sprintf("%s - Command timed out after %s: %.50s", terminalLogPrefix, timeout, in.Command))
	}

	return &Result{
		Data: ExecuteCommandOutput{
			Stdout:     outcome.Stdout,
			Stderr:     outcome.Stderr,
			ExitCode:   outcome.ExitCode,
			TimedOut:   outcome.TimedOut,
			DurationMs: durationMillis(outcome.Duration),
		},
		Audit: []audit.Field{
			audit.F("cmd", in.Command),
			audit.F("exit_code", strconv.Itoa(outcome.ExitCode)),
		},
	}, nil
}
