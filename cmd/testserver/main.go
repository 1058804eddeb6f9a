// testserver starts a cairoprove API server whose stages are simulated, so the
// HTTP surface can be exercised without the Cairo toolchain installed.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/seantiz/cairoprove/internal/api"
	"github.com/seantiz/cairoprove/internal/engine"
	"github.com/seantiz/cairoprove/internal/pipeline"
	"github.com/seantiz/cairoprove/internal/stage"
	"github.com/seantiz/cairoprove/internal/store"
	"github.com/seantiz/cairoprove/internal/workdir"
)

// stubRunner writes plausible artifacts for each stage after a short delay.
type stubRunner struct {
	delay  time.Duration
	nSteps int
}

func (s *stubRunner) Run(ctx context.Context, cmd stage.Command) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", cmd.Name, ctx.Err())
	}
	logf := cmd.LogWriter
	if logf == nil {
		logf = func(string) {}
	}

	switch cmd.Name {
	case "cairo1-run", "cairo-run":
		logf("[trace] executing program")
		pub := fmt.Sprintf(`{"layout":%q,"n_steps":%d}`, flagValue(cmd, "--layout"), s.nSteps)
		if err := writeAll(map[string]string{
			flagValue(cmd, "--air_public_input"):  pub,
			flagValue(cmd, "--air_private_input"): `{}`,
			flagValue(cmd, "--trace_file"):        "trace",
			flagValue(cmd, "--memory_file"):       "memory",
		}); err != nil {
			return &stage.ExitError{Code: 1, Tail: err.Error()}
		}
		logf("[trace] done")
	case "cpu_air_prover":
		logf("[prover] generating proof")
		if err := writeAll(map[string]string{flagValue(cmd, "--out_file"): `{"proof_hex":"0x00"}`}); err != nil {
			return &stage.ExitError{Code: 1, Tail: err.Error()}
		}
		logf("[prover] done")
	case "cpu_air_verifier":
		logf("[verifier] proof accepted")
	}
	return nil
}

func (s *stubRunner) Capabilities() stage.Capabilities {
	return stage.Capabilities{Name: "stub", Isolation: stage.IsolationProcess}
}

func flagValue(cmd stage.Command, flag string) string {
	i := slices.Index(cmd.Args, flag)
	if i < 0 || i+1 >= len(cmd.Args) {
		return ""
	}
	return cmd.Args[i+1]
}

func writeAll(files map[string]string) error {
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	addr := ":8080"
	if v := os.Getenv("CAIROPROVE_LISTEN_ADDR"); v != "" {
		addr = v
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root, err := os.MkdirTemp("", "cairoprove-testserver-")
	if err != nil {
		log.Fatalf("create temp root: %v", err)
	}
	defer os.RemoveAll(root)

	proverConfig := filepath.Join(root, "cpu_air_prover_config.json")
	if err := os.WriteFile(proverConfig, []byte(`{}`), 0o644); err != nil {
		log.Fatalf("write prover config: %v", err)
	}
	dirs, err := workdir.NewManager(filepath.Join(root, "jobs"), logger)
	if err != nil {
		log.Fatalf("workdir manager: %v", err)
	}

	runner := &stubRunner{delay: 500 * time.Millisecond, nSteps: 32768}
	reg := stage.NewRegistry()
	reg.Register("stub", runner)

	db := store.NewMemoryStore()
	exec := pipeline.New(pipeline.Config{
		Binaries:     pipeline.DefaultBinaries(),
		ProverConfig: proverConfig,
		StageTimeout: time.Minute,
		Params:       pipeline.DefaultTemplate(),
	}, runner, logger)
	eng := engine.NewEngine(db, exec, nil, engine.Config{MaxConcurrent: 2, KeepFailed: true}, logger)
	defer eng.Close()

	srv := api.NewServer(api.Options{Addr: addr}, api.Deps{
		Store:    db,
		Engine:   eng,
		Workdirs: dirs,
		Verifier: exec,
		Runners:  reg,
		Logger:   logger,
	})

	logger.Info("testserver: starting", "addr", addr, "root", root)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
