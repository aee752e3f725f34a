// Package gen runs producer commands as detached OS processes, tees
// their output into temporary files, publishes completed files into
// the cache by atomic rename, and gives readers a polling handle over
// files whose generation is still in flight.
package gen

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// DefaultShell executes producer command lines.
const DefaultShell = "/bin/sh"

// Engine starts generation jobs. A job runs a shell command whose
// standard output is the desired file content. The command runs in its
// own session so a hung or crashing producer never takes the serving
// process with it, and the engine never blocks a caller on completion:
// progress is observed on disk, at the temporary path while running
// and at the final path once published.
type Engine struct {
	shell  string
	logger *slog.Logger

	// group collapses concurrent Start calls for the same final path
	// into a single spawn.
	group singleflight.Group
}

// NewEngine returns an Engine running commands under shell.
func NewEngine(shell string, logger *slog.Logger) *Engine {
	if shell == "" {
		shell = DefaultShell
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		shell:  shell,
		logger: logger.With("component", "gen"),
	}
}

// Start launches generation of finalPath and returns the temporary
// path the producer is writing to. The final path is only ever created
// by renaming a fully written temporary file, so it never holds
// partial output; on any failure the temporary file is removed and the
// final path is left absent.
func (e *Engine) Start(command, finalPath string) (string, error) {
	temp, err, _ := e.group.Do(finalPath, func() (any, error) {
		return e.spawn(command, finalPath)
	})
	if err != nil {
		return "", err
	}
	return temp.(string), nil
}

func (e *Engine) spawn(command, finalPath string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", fmt.Errorf("creating cache directory: %w", err)
	}

	// A fresh suffix per job so a restarted job never collides with
	// the leftovers of an evicted or failed one.
	tempPath := fmt.Sprintf("%s.partial.%s", finalPath, uuid.NewString()[:8])

	out, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	cmd := exec.Command(e.shell, "-c", command)
	cmd.Stdout = out
	cmd.Dir = "/"
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		out.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("starting producer: %w", err)
	}
	out.Close()

	e.logger.Debug("generation started",
		"command", command,
		"temp", tempPath,
		"final", finalPath,
		"pid", cmd.Process.Pid,
	)

	go e.supervise(cmd, command, tempPath, finalPath)
	return tempPath, nil
}

// supervise reaps the producer and publishes or discards its output.
// It runs detached from any caller.
func (e *Engine) supervise(cmd *exec.Cmd, command, tempPath, finalPath string) {
	if err := cmd.Wait(); err != nil {
		e.logger.Warn("producer command failed, discarding output",
			"command", command,
			"final", finalPath,
			"error", err,
		)
		os.Remove(tempPath)
		return
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		e.logger.Warn("publishing generated file failed",
			"temp", tempPath,
			"final", finalPath,
			"error", err,
		)
		os.Remove(tempPath)
		return
	}

	e.logger.Debug("generation complete", "final", finalPath)
}
