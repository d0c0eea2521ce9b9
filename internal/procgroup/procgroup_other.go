// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !unix && !windows

package procgroup

import "os/exec"

func set(cmd *exec.Cmd) {
	// No-op: process groups unsupported on this platform.
}

func softTerminate(cmd *exec.Cmd) error {
	return nil
}

func hardKill(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
