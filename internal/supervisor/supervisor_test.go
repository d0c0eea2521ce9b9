// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstitute(t *testing.T) {
	template := []string{"-i", "[URL]", "-f", "mpegts", "pipe:1"}
	got := Substitute(template, "http://example/live.m3u8")
	assert.Equal(t, []string{"-i", "http://example/live.m3u8", "-f", "mpegts", "pipe:1"}, got)
}

func TestStart_EmitsStartedThenExited(t *testing.T) {
	logger := zerolog.New(io.Discard)

	h, err := Start(context.Background(), logger, "sh", []string{"-c", "echo hello; exit 0"}, "ignored")
	require.NoError(t, err)

	var sawStarted, sawExited bool
	var exitCode int
	for ev := range h.Events {
		switch ev.Kind {
		case EventStarted:
			sawStarted = true
			assert.NotZero(t, ev.PID)
		case EventExited:
			sawExited = true
			exitCode = ev.ExitCode
		}
	}

	assert.True(t, sawStarted, "expected a Started event")
	assert.True(t, sawExited, "expected an Exited event")
	assert.Equal(t, 0, exitCode)
}

func TestStart_NonzeroExit(t *testing.T) {
	logger := zerolog.New(io.Discard)

	h, err := Start(context.Background(), logger, "sh", []string{"-c", "exit 7"}, "ignored")
	require.NoError(t, err)

	var exitCode int
	for ev := range h.Events {
		if ev.Kind == EventExited {
			exitCode = ev.ExitCode
		}
	}
	assert.Equal(t, 7, exitCode)
}

func TestStop_GracefulThenForced(t *testing.T) {
	logger := zerolog.New(io.Discard)

	h, err := Start(context.Background(), logger, "sh", []string{"-c", "trap '' TERM; sleep 30"}, "ignored")
	require.NoError(t, err)

	// Drain events concurrently so the Exited-emission goroutine is not
	// blocked trying to send on a channel no one reads.
	done := make(chan struct{})
	go func() {
		for range h.Events {
		}
		close(done)
	}()

	start := time.Now()
	_ = h.Stop(200 * time.Millisecond)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 5*time.Second, "Stop should escalate to SIGKILL well before this")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("events channel never closed after Stop")
	}
}
