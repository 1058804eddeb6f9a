package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrSerialization means the program or its input could not be converted
	// into the artifact files. No stage runs.
	ErrSerialization = errors.New("input serialization failed")

	// ErrConfigMissing means a fixed configuration file, or an artifact that
	// parameter derivation depends on, is unavailable.
	ErrConfigMissing = errors.New("configuration missing")

	// ErrParams means the public input could not be turned into prover parameters.
	ErrParams = errors.New("parameter derivation failed")
)

// Stage names used in errors, logs and metrics.
const (
	StageTrace  = "trace"
	StageProve  = "prove"
	StageVerify = "verify"
)

// StageError reports that an external stage could not be spawned or exited
// unsuccessfully. Err is a *stage.ExitError for non-zero exits.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
