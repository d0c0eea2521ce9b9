// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package supervisor runs one transcoder/demuxer subprocess per invocation
// and exposes its stdout as a byte source plus a typed event stream. It
// makes no policy decisions: it never retries and never chooses a new
// upstream URL — that belongs to the Resilience Controller.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gatewayd/internal/metrics"
	"gatewayd/internal/procgroup"
)

// urlPlaceholder is substituted with the resolved upstream URL in an arg
// template, e.g. {"-i", "[URL]", ...}.
const urlPlaceholder = "[URL]"

// Substitute returns a copy of template with urlPlaceholder replaced by url.
func Substitute(template []string, url string) []string {
	out := make([]string, len(template))
	for i, arg := range template {
		out[i] = strings.ReplaceAll(arg, urlPlaceholder, url)
	}
	return out
}

// Handle is a running (or just-exited) subprocess invocation. Stdout
// becomes safe to read once the caller has observed EventStarted on
// Events — the happens-before relation of that channel receive is what
// makes the field access race-free.
type Handle struct {
	Events <-chan Event

	stdoutPipe io.Reader

	cmd    *exec.Cmd
	logger zerolog.Logger

	stopOnce sync.Once
	waitCh   chan error

	// done is closed exactly once, by the exit goroutine, immediately
	// after cmd.Wait() returns (the point the OS has reaped the pid).
	// Stop/Terminate wait on this instead of racing the exit goroutine
	// for waitCh's single value.
	done    chan struct{}
	exitErr error
	mu      sync.Mutex
}

// StdoutReader returns the subprocess's stdout pipe. Valid once EventStarted
// has been observed on Events.
func (h *Handle) StdoutReader() io.Reader {
	return h.stdoutPipe
}

// Start spawns binaryPath with argTemplate (URL-substituted) in its own
// process group and begins reading stdout/stderr in background goroutines.
// EventStarted is emitted as soon as the OS has confirmed the process is
// running; EventExited (with a failure-to-start signal) is emitted instead
// if cmd.Start itself fails before a pid exists.
func Start(ctx context.Context, logger zerolog.Logger, binaryPath string, argTemplate []string, url string) (*Handle, error) {
	args := Substitute(argTemplate, url)

	cmd := exec.CommandContext(ctx, binaryPath, args...) // #nosec G204 -- args are operator-configured templates
	procgroup.Set(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	events := make(chan Event, 32)
	waitCh := make(chan error, 1)

	h := &Handle{
		Events:     events,
		stdoutPipe: stdout,
		cmd:        cmd,
		logger:     logger,
		waitCh:     waitCh,
		done:       make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		events <- Event{Kind: EventExited, ExitCode: -1, Signal: "failed_to_start"}
		close(events)
		return h, fmt.Errorf("start subprocess: %w", err)
	}

	pid := cmd.Process.Pid
	h.logger = logger.With().Int("pid", pid).Logger()

	go func() { waitCh <- cmd.Wait() }()

	events <- Event{Kind: EventStarted, PID: pid}

	var stderrWG sync.WaitGroup
	stderrWG.Add(1)
	go func() {
		defer stderrWG.Done()
		scanner := bufio.NewScanner(stderr)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if kind := Classify(line); kind != Unknown {
				metrics.ClassifiedErrors.WithLabelValues(string(kind)).Inc()
				events <- Event{Kind: EventClassifiedError, Text: line, ErrKind: kind}
				continue
			}
			ev := Event{Kind: EventStderrLine, Text: line}
			if stats := ParseStats(line); stats != nil {
				ev.Stats = stats
			}
			events <- ev
		}
	}()

	go func() {
		// waitCh has exactly one reader, this goroutine; Stop/Terminate
		// wait on h.done instead so they never race this receive.
		waitErr := <-waitCh
		h.mu.Lock()
		h.exitErr = waitErr
		h.mu.Unlock()
		close(h.done)

		// Contract: drain stdout fully before emitting Exited. The Fan-out
		// Hub (the actual stdout reader) races this goroutine, but it also
		// observes EOF on the pipe exactly when the process has exited and
		// closed its end, so no bytes are lost by waiting here too.
		stderrWG.Wait()

		code, signal := exitDetails(waitErr)
		events <- Event{Kind: EventExited, ExitCode: code, Signal: signal}
		close(events)
	}()

	return h, nil
}

// Stop requests graceful termination, escalating to a forced kill if the
// process has not exited within grace. Returns only after the OS has
// reaped the pid.
func (h *Handle) Stop(grace time.Duration) error {
	h.stopOnce.Do(func() {
		procgroup.Terminate(h.cmd, h.done, grace)
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// PID returns the subprocess's process id, or 0 if it never started.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func exitDetails(err error) (code int, signal string) {
	if err == nil {
		return 0, ""
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if exitErr.ProcessState != nil {
			code = exitErr.ExitCode()
		}
		return code, exitErr.Error()
	}
	return -1, err.Error()
}
