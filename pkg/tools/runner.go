package tools

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
)

// commandSpec describes one subprocess invocation. Shell runs through
// /bin/sh -c; Argv runs the program directly. Timeout 0 means no limit.
type commandSpec struct {
	Shell   string
	Argv    []string
	Dir     string
	Env     map[string]string
	Stdin   string
	Timeout time.Duration
}

// commandOutcome is the uniform result shape for every subprocess the
// tools spawn. A timeout is an outcome (ExitCode -1, TimedOut), not an
// error; a spawn failure is ExitCode -2 with the reason in Stderr.
type commandOutcome struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// runCommand executes the spec and always returns an outcome. Partial
// output captured before a timeout kill is preserved.
func runCommand(ctx context.Context, spec commandSpec) *commandOutcome {
	start := time.Now()

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if spec.Shell != "" {
		cmd = exec.CommandContext(runCtx, "/bin/sh", "-c", spec.Shell)
	} else {
		cmd = exec.CommandContext(runCtx, spec.Argv[0], spec.Argv[1:]...)
	}
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		env := os.Environ()
		for k, v := range spec.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	outcome := &commandOutcome{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case err == nil:
		outcome.ExitCode = 0
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		outcome.TimedOut = true
		outcome.ExitCode = -1
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			outcome.ExitCode = exitErr.ExitCode()
		} else {
			outcome.ExitCode = -2
			if outcome.Stderr == "" {
				outcome.Stderr = err.Error()
			}
		}
	}

	return outcome
}
