// Package docker runs pipeline stages inside containers through the Docker
// Engine API. The job's working directory is bind-mounted at the same path so
// artifact arguments are identical to a local run.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/seantiz/cairoprove/internal/stage"
)

const (
	defaultMemoryMB = 8192
	removeTimeout   = 30 * time.Second
)

// engine is the subset of the Docker API the runner needs.
type engine interface {
	Create(ctx context.Context, cfg *container.Config, host *container.HostConfig) (string, error)
	Start(ctx context.Context, id string) error
	Logs(ctx context.Context, id string) (io.ReadCloser, error)
	Wait(ctx context.Context, id string) (<-chan container.WaitResponse, <-chan error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// clientEngine adapts *client.Client to engine.
type clientEngine struct {
	cli *client.Client
}

func (e clientEngine) Create(ctx context.Context, cfg *container.Config, host *container.HostConfig) (string, error) {
	resp, err := e.cli.ContainerCreate(ctx, cfg, host, nil, nil, "")
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (e clientEngine) Start(ctx context.Context, id string) error {
	return e.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (e clientEngine) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	return e.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
}

func (e clientEngine) Wait(ctx context.Context, id string) (<-chan container.WaitResponse, <-chan error) {
	return e.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
}

func (e clientEngine) Remove(ctx context.Context, id string) error {
	return e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (e clientEngine) Close() error {
	return e.cli.Close()
}

// Config holds container runner settings.
type Config struct {
	// Image must contain the stage binaries on its PATH.
	Image    string
	MemoryMB int

	// ReadOnlyPaths are host files or directories the stages read outside the
	// job directory, such as the prover configuration. Each is bind-mounted
	// read-only at the same path.
	ReadOnlyPaths []string
}

// Runner executes each stage command in a fresh container.
type Runner struct {
	api    engine
	cfg    Config
	logger *slog.Logger
}

// New connects to the Docker daemon configured by the environment.
func New(cfg Config, logger *slog.Logger) (*Runner, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("docker runner: image is required")
	}
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newRunner(clientEngine{cli: cli}, cfg, logger), nil
}

func newRunner(api engine, cfg Config, logger *slog.Logger) *Runner {
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = defaultMemoryMB
	}
	return &Runner{api: api, cfg: cfg, logger: logger}
}

// Close releases the Docker client.
func (r *Runner) Close() error {
	return r.api.Close()
}

// Run creates a container for cmd, streams its logs and waits for it to exit.
// The container is always removed afterwards.
func (r *Runner) Run(ctx context.Context, cmd stage.Command) error {
	containerConfig := &container.Config{
		Image:      r.cfg.Image,
		Entrypoint: []string{cmd.Name},
		Cmd:        cmd.Args,
		WorkingDir: cmd.Dir,
		User:       fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
	}
	mounts := []mount.Mount{{
		Type:   mount.TypeBind,
		Source: cmd.Dir,
		Target: cmd.Dir,
	}}
	for _, p := range r.cfg.ReadOnlyPaths {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   p,
			Target:   p,
			ReadOnly: true,
		})
	}
	hostConfig := &container.HostConfig{
		Mounts: mounts,
		Resources: container.Resources{
			Memory:     int64(r.cfg.MemoryMB) * 1024 * 1024,
			MemorySwap: -1,
		},
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
	}

	id, err := r.api.Create(ctx, containerConfig, hostConfig)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	activeContainers.Inc()
	defer func() {
		activeContainers.Dec()
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
		defer cancel()
		if err := r.api.Remove(rmCtx, id); err != nil {
			r.logger.Warn("failed to remove stage container", "container_id", id, "error", err)
		}
	}()

	statusCh, errCh := r.api.Wait(ctx, id)

	if err := r.api.Start(ctx, id); err != nil {
		containersTotal.WithLabelValues(resultError).Inc()
		return fmt.Errorf("start container: %w", err)
	}

	out := stage.NewOutput(cmd.LogWriter)
	logsDone := make(chan struct{})
	go func() {
		defer close(logsDone)
		rc, err := r.api.Logs(ctx, id)
		if err != nil {
			r.logger.Warn("failed to attach to container logs", "container_id", id, "error", err)
			return
		}
		defer rc.Close()
		stdout, stderr := out.Writer(), out.Writer()
		if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil && ctx.Err() == nil {
			r.logger.Warn("container log stream ended with error", "container_id", id, "error", err)
		}
		stdout.Flush()
		stderr.Flush()
	}()

	var status container.WaitResponse
	select {
	case status = <-statusCh:
	case err := <-errCh:
		if ctxErr := ctx.Err(); ctxErr != nil {
			containersTotal.WithLabelValues(resultKilled).Inc()
			return fmt.Errorf("%s: %w", cmd.Name, ctxErr)
		}
		containersTotal.WithLabelValues(resultError).Inc()
		return fmt.Errorf("wait container: %w", err)
	case <-ctx.Done():
		containersTotal.WithLabelValues(resultKilled).Inc()
		return fmt.Errorf("%s: %w", cmd.Name, ctx.Err())
	}
	<-logsDone

	if status.Error != nil && status.Error.Message != "" {
		containersTotal.WithLabelValues(resultError).Inc()
		return fmt.Errorf("container %s: %s", id, status.Error.Message)
	}
	if status.StatusCode != 0 {
		containersTotal.WithLabelValues(resultFailed).Inc()
		return &stage.ExitError{Code: int(status.StatusCode), Tail: out.Tail()}
	}
	containersTotal.WithLabelValues(resultSucceeded).Inc()
	return nil
}

// Capabilities reports the container runner and its image.
func (r *Runner) Capabilities() stage.Capabilities {
	return stage.Capabilities{
		Name:      "docker",
		Isolation: stage.IsolationContainer,
		Image:     r.cfg.Image,
	}
}
