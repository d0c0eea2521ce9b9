// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup spawns subprocesses in their own process group and
// tears them down with a graceful-then-forced escalation, so a transcoder's
// own child processes (e.g. ffmpeg's helper threads) never outlive it.
package procgroup

import (
	"errors"
	"os/exec"
	"time"
)

var (
	ErrProcessNotFound = errors.New("process not found")
	ErrKillFailed      = errors.New("kill operation failed")
)

// Set configures cmd to start in a new process group. Must be called
// before cmd.Start() for Terminate to reach the whole group.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Terminate sends a soft-terminate signal to cmd's process group, waits up
// to grace for done to close, and escalates to a hard kill if it doesn't.
// done must be closed by the caller's own cmd.Wait() reaper exactly once;
// Terminate never reads cmd.Wait() itself, since only one goroutine may
// ever consume it. Safe to call with a nil command.
func Terminate(cmd *exec.Cmd, done <-chan struct{}, grace time.Duration) {
	if cmd == nil || cmd.Process == nil {
		return
	}

	_ = softTerminate(cmd)

	select {
	case <-done:
		return
	case <-time.After(grace):
		_ = hardKill(cmd)
		<-done
	}
}
