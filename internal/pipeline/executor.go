// Package pipeline drives the external proving programs for one job: it writes
// the input artifacts, generates the execution trace, derives the prover
// parameters and generates the proof, all inside the job's working directory.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/seantiz/cairoprove/internal/model"
	"github.com/seantiz/cairoprove/internal/stage"
	"github.com/seantiz/cairoprove/internal/workdir"
)

// Config holds the executor settings.
type Config struct {
	Binaries Binaries

	// ProverConfig is the fixed prover configuration file passed to every
	// proof generation.
	ProverConfig string

	// StageTimeout bounds each external stage. Zero disables the limit.
	StageTimeout time.Duration

	Params Template
}

// Executor runs the proving pipeline through a stage runner.
type Executor struct {
	cfg    Config
	runner stage.Runner
	logger *slog.Logger
}

// New creates an executor that invokes stages through runner.
func New(cfg Config, runner stage.Runner, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:    cfg,
		runner: runner,
		logger: logger,
	}
}

// Runner returns the stage runner the executor uses.
func (e *Executor) Runner() stage.Runner {
	return e.runner
}

// Prove runs the full pipeline for input inside dir. Stages run strictly in
// order and the first failure aborts the rest. On success it returns the
// completion message naming the proof artifact. logf receives every line of
// stage output and may be nil.
func (e *Executor) Prove(ctx context.Context, dir *workdir.Dir, input model.ProverInput, logf func(string)) (string, error) {
	if err := writeInputs(dir, input); err != nil {
		return "", err
	}
	if err := e.checkProverConfig(); err != nil {
		return "", err
	}

	if err := e.runStage(ctx, StageTrace, traceCommand(e.cfg.Binaries, dir, input), logf); err != nil {
		return "", err
	}

	if err := writeParams(dir, e.cfg.Params); err != nil {
		return "", err
	}

	if err := e.runStage(ctx, StageProve, proveCommand(e.cfg.Binaries, dir, e.cfg.ProverConfig), logf); err != nil {
		return "", err
	}

	return fmt.Sprintf("proof generated at %s", dir.Artifact(workdir.ArtifactProof)), nil
}

// Verify writes proof into dir and runs the verifier on it. A verifier that
// runs and rejects the proof yields (false, nil); an error means verification
// could not be carried out.
func (e *Executor) Verify(ctx context.Context, dir *workdir.Dir, proof json.RawMessage) (bool, error) {
	proof = bytes.TrimSpace(proof)
	if len(proof) == 0 || !json.Valid(proof) {
		return false, fmt.Errorf("%w: proof is not a JSON document", ErrSerialization)
	}
	if err := os.WriteFile(dir.Artifact(workdir.ArtifactProof), proof, 0o644); err != nil {
		return false, fmt.Errorf("%w: write proof: %v", ErrSerialization, err)
	}

	err := e.runStage(ctx, StageVerify, verifyCommand(e.cfg.Binaries, dir), nil)
	if err == nil {
		return true, nil
	}
	var exitErr *stage.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

func (e *Executor) checkProverConfig() error {
	if e.cfg.ProverConfig == "" {
		return fmt.Errorf("%w: no prover config file configured", ErrConfigMissing)
	}
	info, err := os.Stat(e.cfg.ProverConfig)
	if err != nil {
		return fmt.Errorf("%w: prover config: %v", ErrConfigMissing, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: prover config %s is a directory", ErrConfigMissing, e.cfg.ProverConfig)
	}
	return nil
}

// runStage executes one external stage under the per-stage timeout.
func (e *Executor) runStage(ctx context.Context, name string, cmd stage.Command, logf func(string)) error {
	if e.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.StageTimeout)
		defer cancel()
	}
	cmd.LogWriter = logf

	e.logger.Debug("stage starting", "stage", name, "command", cmd.String())
	start := time.Now()
	err := e.runner.Run(ctx, cmd)
	elapsed := time.Since(start)
	stageDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		if e.cfg.StageTimeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", e.cfg.StageTimeout, err)
		}
		e.logger.Warn("stage failed", "stage", name, "duration_ms", elapsed.Milliseconds(), "error", err)
		return &StageError{Stage: name, Err: err}
	}

	e.logger.Info("stage completed", "stage", name, "duration_ms", elapsed.Milliseconds())
	return nil
}
