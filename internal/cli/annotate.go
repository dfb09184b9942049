package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/xpto/blot/internal/annotate"
	"github.com/xpto/blot/internal/asmgen"
	"github.com/xpto/blot/internal/infer"
)

// runAnnotate is the one-shot workflow: obtain assembly (from a file,
// from piped stdin, or by compiling a source file through the
// compilation database) and print the annotated listing.
func runAnnotate(cmd *cobra.Command, opts *Options, args []string) error {
	raw, target, err := obtainAssembly(opts, args)
	if err != nil {
		return err
	}

	slog.Info("annotating", "bytes", len(raw))
	result, err := annotate.Annotate(raw, opts.AnnotateOptions(), target)
	if err != nil {
		return WrapExitError(ExitIO, "annotate", err)
	}

	return printResult(cmd.OutOrStdout(), opts, result)
}

func obtainAssembly(opts *Options, args []string) (raw []byte, target string, err error) {
	if opts.AsmFile != "" {
		raw, err := os.ReadFile(opts.AsmFile)
		if err != nil {
			return nil, "", WrapExitError(ExitIO, "read assembly file", err)
		}
		return raw, "", nil
	}

	if stdinIsPiped() {
		slog.Info("piped input detected")
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, "", WrapExitError(ExitIO, "read stdin", err)
		}
		return raw, "", nil
	}

	if len(args) == 0 {
		return nil, "", NewExitError(ExitUsage,
			"nothing to annotate: give a source file, --asm-file, or pipe assembly on stdin")
	}
	return compileSource(opts, args[0])
}

func stdinIsPiped() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice == 0
}

func compileSource(opts *Options, sourceFile string) ([]byte, string, error) {
	shared, err := loadShared(opts)
	if err != nil {
		return nil, "", err
	}

	absTarget, err := filepath.Abs(sourceFile)
	if err != nil {
		return nil, "", WrapExitError(ExitIO, "resolve source path", err)
	}

	inf, err := infer.Infer(shared.DB, absTarget)
	if err != nil {
		var notFound *infer.NotFoundError
		if errors.As(err, &notFound) {
			return nil, "", WrapExitError(ExitUsage, "infer", err)
		}
		return nil, "", WrapExitError(ExitUsage, "canonicalize command", err)
	}
	slog.Info("compiling", "file", sourceFile, "dir", inf.CompilationDirectory)

	tempName := fmt.Sprintf("blot-cli-%s.s", uuid.NewString())
	artifact, err := shared.Producer.Produce(context.Background(), inf, tempName)
	if err != nil {
		var compileErr *asmgen.CompileError
		if errors.As(err, &compileErr) {
			fmt.Fprint(os.Stderr, compileErr.Stderr)
			return nil, "", WrapExitError(ExitCompileFailure, "compile", err)
		}
		return nil, "", WrapExitError(ExitIO, "compile", err)
	}
	return artifact.Raw, absTarget, nil
}

type jsonOutput struct {
	Assembly     []string           `json:"assembly"`
	LineMappings []annotate.Mapping `json:"line_mappings"`
}

func printResult(w io.Writer, opts *Options, result *annotate.Result) error {
	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonOutput{Assembly: result.Lines, LineMappings: result.Mappings})
	}
	for _, line := range result.Lines {
		fmt.Fprintln(w, line)
	}
	return nil
}
