// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build windows

package procgroup

import "os/exec"

func set(cmd *exec.Cmd) {
	// No-op: process groups are not used on Windows in this code path.
}

func softTerminate(cmd *exec.Cmd) error {
	// Windows has no SIGTERM equivalent reachable here; escalate straight
	// to hard kill on grace timeout.
	return nil
}

func hardKill(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
