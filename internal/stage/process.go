package stage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// waitDelay bounds how long Run waits for output pipes after the process has
// been killed, in case a grandchild still holds them open.
const waitDelay = 5 * time.Second

// ProcessRunner executes stages as local child processes.
type ProcessRunner struct {
	// Env is appended to the parent environment for every command.
	Env []string
}

// NewProcessRunner creates a runner that spawns commands on the host.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{}
}

// Run starts cmd, streams its output and waits for it to exit.
func (p *ProcessRunner) Run(ctx context.Context, cmd Command) error {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.WaitDelay = waitDelay
	if len(p.Env) > 0 {
		c.Env = append(os.Environ(), p.Env...)
	}

	out := NewOutput(cmd.LogWriter)
	stdout, stderr := out.Writer(), out.Writer()
	c.Stdout = stdout
	c.Stderr = stderr

	err := c.Run()
	stdout.Flush()
	stderr.Flush()

	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", cmd.Name, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode(), Tail: out.Tail()}
	}
	return fmt.Errorf("start %s: %w", cmd.Name, err)
}

// Capabilities reports the process runner.
func (p *ProcessRunner) Capabilities() Capabilities {
	return Capabilities{
		Name:      "process",
		Isolation: IsolationProcess,
	}
}
