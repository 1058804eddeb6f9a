package stage

import (
	"context"
	"fmt"
	"strings"
)

// Runner is the interface implemented by every stage executor.
type Runner interface {
	// Run executes cmd and blocks until it exits. A non-zero exit is reported
	// as *ExitError; cancellation of ctx kills the command and returns an error
	// wrapping ctx.Err().
	Run(ctx context.Context, cmd Command) error

	// Capabilities describes the runner for the runners listing.
	Capabilities() Capabilities
}

// Command describes one external program invocation.
type Command struct {
	Name string   `json:"name"`
	Args []string `json:"args"`

	// Dir is the working directory. Every artifact path in Args lives under it.
	Dir string `json:"dir"`

	// LogWriter, when set, receives each line the command writes to stdout or
	// stderr as it is produced.
	LogWriter func(line string) `json:"-"`
}

// String renders the command line for logs and diagnostics.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Capabilities describes a runner.
type Capabilities struct {
	Name      string `json:"name"`
	Isolation string `json:"isolation"`
	Image     string `json:"image,omitempty"`
}

// Isolation modes reported by runners.
const (
	IsolationProcess   = "process"
	IsolationContainer = "container"
)

// ExitError reports a command that ran but exited with a non-zero status.
// Tail holds the last lines of its combined output.
type ExitError struct {
	Code int
	Tail string
}

func (e *ExitError) Error() string {
	if e.Tail == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Tail)
}
