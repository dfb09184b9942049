package asmgen

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpto/blot/internal/ccj"
	"github.com/xpto/blot/internal/command"
	"github.com/xpto/blot/internal/infer"
	"github.com/xpto/blot/internal/testutil"
)

func TestProduce_Success(t *testing.T) {
	f := testutil.NewFixture(t)
	db, err := ccj.Load(f.CCJPath)
	require.NoError(t, err)

	inf, err := infer.Infer(db, f.Source)
	require.NoError(t, err)

	tempDir := t.TempDir()
	p := New(WithTempDir(tempDir))
	artifact, err := p.Produce(context.Background(), inf, "blot-test-1-1.s")
	require.NoError(t, err)

	assert.Equal(t, testutil.CannedAssembly(f.Dir), string(artifact.Raw))

	// The effective command is the canonical argv plus the temp output.
	require.GreaterOrEqual(t, len(artifact.EffectiveCommand), 2)
	assert.Equal(t, "-o", artifact.EffectiveCommand[len(artifact.EffectiveCommand)-2])

	// Temp file is gone after a successful read.
	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProduce_CompileFailure(t *testing.T) {
	f := testutil.NewFixture(t)
	db, err := ccj.Load(f.CCJPath)
	require.NoError(t, err)

	inf, err := infer.Infer(db, f.Broken)
	require.NoError(t, err)

	p := New(WithTempDir(t.TempDir()))
	_, err = p.Produce(context.Background(), inf, "blot-test-1-2.s")

	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, 1, compileErr.ExitCode)
	assert.Contains(t, compileErr.Stderr, "error: expected parameter declarator")
}

func TestProduce_MissingCompiler(t *testing.T) {
	inf, err := inferenceFor(t, filepath.Join(t.TempDir(), "no-such-cc"), "source.cpp")
	require.NoError(t, err)

	p := New(WithTempDir(t.TempDir()))
	_, err = p.Produce(context.Background(), inf, "blot-test-1-3.s")

	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, -1, compileErr.ExitCode)
}

func TestProduce_Timeout(t *testing.T) {
	dir := t.TempDir()
	slowCC := filepath.Join(dir, "slowcc")
	require.NoError(t, os.WriteFile(slowCC, []byte("#!/bin/sh\nsleep 10\n"), 0o755))

	inf, err := inferenceFor(t, slowCC, "source.cpp")
	require.NoError(t, err)

	p := New(WithTempDir(dir), WithTimeout(100*time.Millisecond))
	start := time.Now()
	_, err = p.Produce(context.Background(), inf, "blot-test-1-4.s")

	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.True(t, compileErr.TimedOut)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func inferenceFor(t *testing.T, compiler, file string) (command.Inference, error) {
	t.Helper()
	return command.Inference{
		CompilationCommand:   []string{compiler, file, "-g1", "-S"},
		CompilationDirectory: filepath.Dir(compiler),
		AnnotationTarget:     file,
	}, nil
}
