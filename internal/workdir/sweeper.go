package workdir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var workdirsSwept = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "cairoprove_workdirs_swept_total",
		Help: "Total number of job working directories removed by retention.",
	},
)

func init() {
	prometheus.MustRegister(workdirsSwept)
}

// Sweep removes job directories whose last modification is older than ttl.
// Directories still owned by an in-flight job are skipped, so only promoted
// directories and leftovers from earlier processes are reclaimed.
func (m *Manager) Sweep(ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("read workdir root: %w", err)
	}

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		path := filepath.Join(m.root, e.Name())
		if m.isActive(path) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("failed to remove expired workdir", "path", path, "error", err)
			continue
		}
		removed++
	}

	workdirsSwept.Add(float64(removed))
	return removed, nil
}

// RunSweeper calls Sweep every interval until ctx is cancelled. A non-positive
// ttl disables retention entirely.
func (m *Manager) RunSweeper(ctx context.Context, interval, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := m.Sweep(ttl)
		if err != nil {
			m.logger.Error("workdir sweep failed", "error", err)
			continue
		}
		if n > 0 {
			m.logger.Info("swept expired workdirs", "removed", n, "ttl", ttl.String())
		}
	}
}
