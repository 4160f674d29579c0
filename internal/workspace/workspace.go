// Package workspace owns the per-job scratch directories used while a job
// is encoding. Every job gets its own directory named after the job id.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const inputName = "input.tmp"

// Paths are the local file locations reserved for one job.
type Paths struct {
	Dir        string
	InputPath  string
	OutputDir  string
	OutputPath string
}

// All returns every path owned by the job, deepest first.
func (p *Paths) All() []string {
	return []string{p.InputPath, p.OutputPath, p.OutputDir, p.Dir}
}

// Manager hands out and reclaims job scratch directories under Root.
type Manager struct {
	Root   string
	logger *slog.Logger
}

// NewManager returns a Manager rooted at root. A nil logger uses slog.Default.
func NewManager(root string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{Root: root, logger: logger}
}

// Acquire creates the scratch directory for jobID. The output file is named
// <jobID>.<ext> so that segment files written beside it share its base name.
func (m *Manager) Acquire(jobID uuid.UUID, ext string) (*Paths, error) {
	dir := filepath.Join(m.Root, jobID.String())
	outDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return &Paths{
		Dir:        dir,
		InputPath:  filepath.Join(dir, inputName),
		OutputDir:  outDir,
		OutputPath: filepath.Join(outDir, jobID.String()+"."+strings.TrimPrefix(ext, ".")),
	}, nil
}

// Release removes each named path that exists. Missing paths are ignored and
// removal failures are logged, never returned.
func (m *Manager) Release(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.RemoveAll(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("failed to remove workspace path",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ReleaseJob removes the whole scratch directory of jobID, whatever is in it.
func (m *Manager) ReleaseJob(jobID uuid.UUID) {
	m.Release(filepath.Join(m.Root, jobID.String()))
}

// CleanStale removes job directories under Root whose modification time is
// older than maxAge. Only directories named like a job id are considered.
// It returns the removed directories.
func (m *Manager) CleanStale(maxAge time.Duration) []string {
	entries, err := os.ReadDir(m.Root)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("failed to read workspace root",
				slog.String("path", m.Root),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	cutoff := time.Now().Add(-maxAge)
	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		dirPath := filepath.Join(m.Root, entry.Name())
		if err := os.RemoveAll(dirPath); err != nil {
			m.logger.Warn("failed to remove stale workspace",
				slog.String("path", dirPath),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.logger.Info("removed stale workspace",
			slog.String("path", dirPath),
			slog.Duration("age", time.Since(info.ModTime())),
		)
		removed = append(removed, dirPath)
	}
	return removed
}
