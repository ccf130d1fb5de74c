// Package lock provides single-instance execution protection for a change's
// checkpoint directory, so only one engine instance can hold status.json at
// a time (spec.md §4.6, §5).
//
// Design Philosophy (carried from the PID-guard this is adapted from):
// - Lightweight PID file, not a cross-host lock manager.
// - No heartbeats or TTL: a stale lock is detected by checking whether its
//   owning PID is still alive.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// FileName is the name of the lock file inside a change's checkpoint
// directory.
const FileName = ".engine.lock"

// Lock guards a single change's checkpoint directory against concurrent
// engine instances.
type Lock struct {
	dir string
}

// New creates a Lock for the given checkpoint directory
// (".checkpoints/<change_id>/").
func New(checkpointDir string) *Lock {
	return &Lock{dir: checkpointDir}
}

func (l *Lock) path() string {
	return filepath.Join(l.dir, FileName)
}

// Acquire checks for a live holder and, if none, writes the current PID.
// Returns *AlreadyRunningError if another live process holds the lock.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	if err := l.check(); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := os.WriteFile(l.path(), []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

// check returns an error if a live process already holds the lock, cleaning
// up a stale lock file in place.
func (l *Lock) check() error {
	data, err := os.ReadFile(l.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		_ = os.Remove(l.path())
		return nil
	}

	if pid == os.Getpid() {
		return nil
	}

	if processAlive(pid) {
		return &AlreadyRunningError{PID: pid}
	}

	_ = os.Remove(l.path())
	return nil
}

// Release removes the lock file. Safe to call even if it doesn't exist.
func (l *Lock) Release() {
	_ = os.Remove(l.path())
}

// AlreadyRunningError indicates another live engine instance holds the lock.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("another engine instance holds the lock (pid %d)", e.PID)
}

// processAlive reports whether a process with the given PID is still
// running, by sending it signal 0 (no-op on Unix, always succeeds in
// FindProcess).
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
