// Package asmgen runs the compiler for an inference and captures the
// assembly it emits.
//
// Each invocation writes to a unique temp file named by the caller
// (session id + token + counter), reads it back and removes it. The
// temp path is appended to the canonical argv as `-o <path>` at the
// last moment so it never participates in cache keys.
package asmgen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/xpto/blot/internal/command"
)

// DefaultTimeout is the wall-clock limit for one compiler run.
const DefaultTimeout = 60 * time.Second

// Artifact is the raw assembly produced for an inference, together
// with the argv that actually ran (temp output path included).
type Artifact struct {
	Raw              []byte
	EffectiveCommand []string
}

// CompileError reports a compiler run that failed: non-zero exit,
// timeout, or a compiler binary that could not be started.
type CompileError struct {
	Command  []string
	ExitCode int
	Stderr   string
	TimedOut bool
}

func (e *CompileError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("compiler timed out: %s", strings.Join(e.Command, " "))
	}
	return fmt.Sprintf("compiler failed with exit code %d", e.ExitCode)
}

// Producer runs compilers. The zero value is not usable; use New.
type Producer struct {
	timeout time.Duration
	tempDir string
	log     *slog.Logger
}

// Option configures a Producer.
type Option func(*Producer)

// WithTimeout overrides the wall-clock limit for compiler runs.
func WithTimeout(d time.Duration) Option {
	return func(p *Producer) { p.timeout = d }
}

// WithTempDir overrides the directory temp assembly files are created
// in (defaults to os.TempDir).
func WithTempDir(dir string) Option {
	return func(p *Producer) { p.tempDir = dir }
}

// New creates a Producer.
func New(opts ...Option) *Producer {
	p := &Producer{
		timeout: DefaultTimeout,
		tempDir: os.TempDir(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Produce runs the inference's compiler and returns the assembly it
// wrote. tempName must be unique across all live sessions; the session
// derives it from its id, the token and a per-session counter.
//
// The supplied context bounds the run together with the producer's
// timeout; cancellation kills the compiler process and removes the
// temp file.
func (p *Producer) Produce(ctx context.Context, inf command.Inference, tempName string) (*Artifact, error) {
	if len(inf.CompilationCommand) == 0 {
		return nil, &command.InvalidCommandError{Reason: "empty argv"}
	}

	tempPath := filepath.Join(p.tempDir, tempName)
	argv := append(append([]string{}, inf.CompilationCommand...), "-o", tempPath)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	defer os.Remove(tempPath)

	p.log.Debug("running compiler",
		"argv", strings.Join(argv, " "),
		"dir", inf.CompilationDirectory)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = inf.CompilationDirectory
	// Don't let a killed compiler's children keep Wait hanging on the
	// output pipes.
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &CompileError{Command: argv, ExitCode: -1, Stderr: stderr.String(), TimedOut: true}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &CompileError{Command: argv, ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		// Compiler missing or not executable.
		return nil, &CompileError{Command: argv, ExitCode: -1, Stderr: err.Error()}
	}

	raw, err := os.ReadFile(tempPath)
	if err != nil {
		return nil, fmt.Errorf("read compiler output %s: %w", tempPath, err)
	}

	p.log.Debug("compiler produced assembly", "bytes", len(raw))
	return &Artifact{Raw: raw, EffectiveCommand: argv}, nil
}
