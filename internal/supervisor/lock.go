// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package supervisor implements the Scheduler/Supervisor (C11): the
// single-threaded event loop that drives each WAN Controller sequentially,
// a systemd-style watchdog notifier, signal handling, and lock-file mutual
// exclusion.
//
// The signal-driven shutdown loop is grounded on the teacher's RunDaemon
// (internal/agent/daemon.go): a select over SIGTERM/SIGINT/SIGHUP with
// context.WithTimeout-bounded graceful stop and a reload-keeps-old-config-
// on-failure discipline.
package supervisor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Lock is a PID lock file guarding one controller name against concurrent
// instances.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock creates path exclusively, containing this process's PID. If
// path already exists, it is read: a stale lock (PID no longer alive) is
// cleaned up and acquisition retried once; a live lock causes an error
// naming the conflicting PID.
func AcquireLock(path string) (*Lock, error) {
	if err := tryCleanStale(path); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			pid, readErr := readLockPID(path)
			if readErr == nil {
				return nil, fmt.Errorf("lock file %s held by running process (pid %d)", path, pid)
			}
			return nil, fmt.Errorf("lock file %s exists and is unreadable: %w", path, readErr)
		}
		return nil, fmt.Errorf("creating lock file %s: %w", path, err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing pid to lock file %s: %w", path, err)
	}

	return &Lock{path: path, file: f}, nil
}

// Release closes and removes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.file.Close()
	return os.Remove(l.path)
}

func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("lock file contents %q not a pid: %w", strings.TrimSpace(string(data)), err)
	}
	return pid, nil
}

// tryCleanStale removes path if it names a PID that is no longer alive.
// A missing or malformed lock file is left for the caller to report.
func tryCleanStale(path string) error {
	pid, err := readLockPID(path)
	if err != nil {
		return nil
	}
	if processAlive(pid) {
		return nil
	}
	return os.Remove(path)
}

// processAlive reports whether pid names a live process, using the
// signal-0 probe (no-op but existence-checking) convention.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
