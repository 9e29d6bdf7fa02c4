// Copyright 2025 Consentry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/models"
	"github.com/consentry/consentry/pkg/scan"
)

const (
	// ProgressPollInterval is how often buffered status lines are
	// drained to the caller's progress callback.
	ProgressPollInterval = 200 * time.Millisecond

	// ResultGrace is how long after worker exit to wait for the result
	// line before synthesizing an unknown verdict.
	ResultGrace = 5 * time.Second

	// statusBuffer bounds the progress channel. A 20-step scan never
	// comes close; overflow lines are dropped, not blocked on.
	statusBuffer = 64

	// maxResultLine caps one stdout line. Results carry full request
	// logs and cookie dumps, so the cap is generous.
	maxResultLine = 16 * 1024 * 1024
)

// ErrStopped reports a batch run ended early by a stop request.
var ErrStopped = errors.New("batch stopped by request")

// Supervisor spawns one worker process per scan and enforces the
// wall-clock deadline with SIGKILL on the whole process group. The
// worker cannot opt out: a hung browser dies with it.
type Supervisor struct {
	log logger.Logger

	command  func(scanID, targetURL string) *exec.Cmd
	deadline time.Duration
	grace    time.Duration
}

// New builds a supervisor that re-executes the current binary with the
// hidden worker subcommand. configPath is forwarded so the worker loads
// the same configuration.
func New(configPath string) *Supervisor {
	return &Supervisor{
		log:      logger.GetLogger().WithField("component", "supervisor"),
		command:  selfExecCommand(configPath),
		deadline: scan.MaxScanTime,
		grace:    ResultGrace,
	}
}

// NewWithCommand builds a supervisor around a custom worker command.
// Embedders and tests substitute the self-exec worker this way.
func NewWithCommand(command func(scanID, targetURL string) *exec.Cmd, deadline, grace time.Duration) *Supervisor {
	return &Supervisor{
		log:      logger.GetLogger().WithField("component", "supervisor"),
		command:  command,
		deadline: deadline,
		grace:    grace,
	}
}

func selfExecCommand(configPath string) func(string, string) *exec.Cmd {
	return func(scanID, targetURL string) *exec.Cmd {
		exe, err := os.Executable()
		if err != nil {
			exe = os.Args[0]
		}
		args := []string{"worker", "--scan-id", scanID, "--url", targetURL}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		return exec.Command(exe, args...)
	}
}

// Run executes one supervised scan and always returns a result: the
// worker's own, or a synthesized timeout/unknown when the worker was
// killed or died silently. Context cancellation kills the worker too.
func (s *Supervisor) Run(ctx context.Context, scanID, targetURL string, progress func(models.ProgressEvent)) *models.ScanResult {
	started := time.Now()
	ctx = logger.ContextWithScanID(ctx, scanID)
	log := s.log.WithContext(ctx)

	cmd := s.command(scanID, targetURL)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.synthesize(scanID, targetURL, started, models.VerdictUnknown,
			"Failed to open worker pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		return s.synthesize(scanID, targetURL, started, models.VerdictUnknown,
			"Failed to start scan worker: %v", err)
	}
	log.Info("Worker started", logger.Fields{
		"url": targetURL,
		"pid": cmd.Process.Pid,
	})

	statusCh := make(chan models.ProgressEvent, statusBuffer)
	resultCh := make(chan *models.ScanResult, 1)
	pumpDone := make(chan struct{})

	// The pump must reach EOF before Wait may run, otherwise Wait
	// closes the pipe under the reader.
	var g errgroup.Group
	g.Go(func() error {
		defer close(pumpDone)
		return s.pump(stdout, statusCh, resultCh)
	})
	g.Go(func() error {
		<-pumpDone
		return cmd.Wait()
	})

	groupDone := make(chan error, 1)
	go func() { groupDone <- g.Wait() }()

	deadline := time.NewTimer(s.deadline)
	defer deadline.Stop()
	ticker := time.NewTicker(ProgressPollInterval)
	defer ticker.Stop()

	var (
		killed   bool
		canceled bool
		exitErr  error
	)
	for exited := false; !exited; {
		select {
		case <-ticker.C:
			s.drain(statusCh, progress)
		case <-deadline.C:
			if killed {
				continue
			}
			killed = true
			log.Error("Scan exceeded time limit, killing worker process group", logger.Fields{
				"limit": s.deadline.Seconds(),
			})
			s.killGroup(cmd)
		case <-ctx.Done():
			if killed {
				continue
			}
			killed = true
			canceled = true
			log.Warn("Scan canceled, killing worker process group")
			s.killGroup(cmd)
		case exitErr = <-groupDone:
			exited = true
		}
	}
	s.drain(statusCh, progress)

	if killed {
		if canceled {
			return s.synthesize(scanID, targetURL, started, models.VerdictUnknown,
				"Scan canceled before completion")
		}
		return s.synthesize(scanID, targetURL, started, models.VerdictTimeout,
			"Scan timed out after %.0fs", s.deadline.Seconds())
	}

	select {
	case result := <-resultCh:
		if result.ScanID == "" {
			result.ScanID = scanID
		}
		return result
	case <-time.After(s.grace):
	}

	if exitErr != nil {
		return s.synthesize(scanID, targetURL, started, models.VerdictUnknown,
			"Scan process ended without returning results: %v", exitErr)
	}
	return s.synthesize(scanID, targetURL, started, models.VerdictUnknown,
		"Scan process ended without returning results")
}

// pump reads stdout lines to EOF, routing envelopes to the channels.
// Unparseable lines are logged and skipped.
func (s *Supervisor) pump(r io.Reader, statusCh chan<- models.ProgressEvent, resultCh chan<- *models.ScanResult) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxResultLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		env, err := DecodeLine(line)
		if err != nil {
			s.log.Debug("Skipping unparseable worker output", logger.Fields{
				"error": err.Error(),
			})
			continue
		}
		switch env.Type {
		case TypeStatus:
			select {
			case statusCh <- env.Progress():
			default:
			}
		case TypeResult:
			if env.Result != nil {
				select {
				case resultCh <- env.Result:
				default:
				}
			}
		}
	}
	return scanner.Err()
}

func (s *Supervisor) drain(statusCh <-chan models.ProgressEvent, progress func(models.ProgressEvent)) {
	for {
		select {
		case ev := <-statusCh:
			if progress != nil {
				progress(ev)
			}
		default:
			return
		}
	}
}

// killGroup SIGKILLs the worker's process group so the browser and any
// helper processes die with it.
func (s *Supervisor) killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		s.log.Warn("Process group kill failed, killing process directly", logger.Fields{
			"pid":   cmd.Process.Pid,
			"error": err.Error(),
		})
		_ = cmd.Process.Kill()
	}
}

func (s *Supervisor) synthesize(scanID, targetURL string, started time.Time, verdict models.Verdict, format string, args ...any) *models.ScanResult {
	result := &models.ScanResult{
		ScanID:              scanID,
		URL:                 targetURL,
		Domain:              models.Hostname(targetURL),
		StartedAt:           started,
		Verdict:             verdict,
		TrackersBefore:      []string{},
		TrackersAfter:       []string{},
		TikTokTrackersAfter: []string{},
		Duration:            time.Since(started).Seconds(),
	}
	result.AddNote(format, args...)
	return result
}
