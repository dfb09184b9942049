// Package cli implements the blot command line: the web and stdio
// servers plus the one-shot annotate workflow.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/xpto/blot/internal/annotate"
	"github.com/xpto/blot/internal/ccj"
	"github.com/xpto/blot/internal/session"
)

// Version reported by initialize and --version.
const Version = "0.1.0"

// DefaultPort for --web mode.
const DefaultPort = 4242

// Options holds every flag of the single blot command.
type Options struct {
	Verbose bool
	JSON    bool

	Web     bool
	Stdio   bool
	Port    int
	CCJ     string
	WebRoot string

	AsmFile string

	Demangle                 bool
	NoDemangle               bool
	PreserveDirectives       bool
	PreserveComments         bool
	PreserveLibraryFunctions bool
	PreserveUnused           bool
}

// AnnotateOptions converts the flag set into filter options.
func (o *Options) AnnotateOptions() annotate.Options {
	opts := annotate.Options{
		Demangle:                 o.Demangle && !o.NoDemangle,
		PreserveDirectives:       o.PreserveDirectives,
		PreserveComments:         o.PreserveComments,
		PreserveLibraryFunctions: o.PreserveLibraryFunctions,
		PreserveUnusedLabels:     o.PreserveUnused,
	}
	return opts
}

// NewRootCommand creates the blot command.
func NewRootCommand() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "blot [source-file]",
		Short: "Compiler-explorer-style assembly annotation",
		Long: `blot produces cleaned, source-annotated assembly listings for the
translation units of a project, using the project's own compilation
database (compile_commands.json).

Modes:
  blot --web --port N --ccj PATH    HTTP server with WebSocket JSONRPC
  blot --stdio --ccj PATH           JSONRPC over stdin/stdout
  blot FILE [options] --ccj PATH    one-shot: annotate one source file
  blot --asm-file FILE.s            annotate existing assembly
  ... | blot                        annotate assembly piped on stdin`,
		Args:          cobra.MaximumNArgs(1),
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "output results in JSON format")

	cmd.Flags().BoolVar(&opts.Web, "web", false, "start HTTP server with browser UI")
	cmd.Flags().BoolVar(&opts.Stdio, "stdio", false, "serve JSONRPC over stdin/stdout")
	cmd.Flags().IntVar(&opts.Port, "port", DefaultPort, "port for --web mode")
	cmd.Flags().StringVar(&opts.CCJ, "ccj", "", "path to compile_commands.json")
	cmd.Flags().StringVar(&opts.WebRoot, "web-root", "", "serve static files from DIR instead of the embedded page")

	cmd.Flags().StringVar(&opts.AsmFile, "asm-file", "", "read assembly directly from file")

	cmd.Flags().BoolVar(&opts.Demangle, "demangle", true, "demangle C++ symbols")
	cmd.Flags().BoolVar(&opts.NoDemangle, "no-demangle", false, "disable symbol demangling")
	cmd.Flags().BoolVar(&opts.PreserveDirectives, "preserve-directives", false, "preserve all non-comment assembly directives")
	cmd.Flags().BoolVar(&opts.PreserveComments, "preserve-comments", false, "preserve comments")
	cmd.Flags().BoolVar(&opts.PreserveLibraryFunctions, "preserve-library-functions", false, "preserve library functions")
	cmd.Flags().BoolVar(&opts.PreserveUnused, "preserve-unused", false, "preserve unused labels")

	return cmd
}

func run(cmd *cobra.Command, opts *Options, args []string) error {
	configureLogging(opts.Verbose)

	cwd, err := os.Getwd()
	if err != nil {
		return WrapExitError(ExitIO, "working directory", err)
	}
	if err := applyConfig(cmd, opts, cwd); err != nil {
		return err
	}

	if opts.Web && opts.Stdio {
		return NewExitError(ExitUsage, "--web and --stdio are mutually exclusive")
	}

	switch {
	case opts.Web:
		return runWeb(opts)
	case opts.Stdio:
		return runStdio(opts)
	default:
		return runAnnotate(cmd, opts, args)
	}
}

func configureLogging(verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// applyConfig folds .blot.yaml into any flag the user did not set
// explicitly.
func applyConfig(cmd *cobra.Command, opts *Options, cwd string) error {
	cfg, err := LoadConfig(cwd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if cfg.Port != 0 && !flags.Changed("port") {
		opts.Port = cfg.Port
	}
	if cfg.CCJ != "" && !flags.Changed("ccj") {
		opts.CCJ = cfg.CCJ
	}
	if cfg.WebRoot != "" && !flags.Changed("web-root") {
		opts.WebRoot = cfg.WebRoot
	}
	applyConfigBool(flags, "demangle", cfg.Options.Demangle, &opts.Demangle)
	applyConfigBool(flags, "preserve-directives", cfg.Options.PreserveDirectives, &opts.PreserveDirectives)
	applyConfigBool(flags, "preserve-comments", cfg.Options.PreserveComments, &opts.PreserveComments)
	applyConfigBool(flags, "preserve-library-functions", cfg.Options.PreserveLibraryFunctions, &opts.PreserveLibraryFunctions)
	applyConfigBool(flags, "preserve-unused", cfg.Options.PreserveUnusedLabels, &opts.PreserveUnused)
	return nil
}

func applyConfigBool(flags interface{ Changed(string) bool }, name string, src *bool, dst *bool) {
	if src != nil && !flags.Changed(name) {
		*dst = *src
	}
}

// locateCCJ resolves the compilation database path: the flag/config
// value, or compile_commands.json in the working directory.
func locateCCJ(opts *Options) (string, error) {
	if opts.CCJ != "" {
		return opts.CCJ, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", WrapExitError(ExitIO, "working directory", err)
	}
	if path, ok := ccj.Find(cwd); ok {
		return path, nil
	}
	return "", NewExitError(ExitUsage,
		fmt.Sprintf("no --ccj given and no %s in the working directory", ccj.DefaultName))
}

func loadShared(opts *Options) (*session.Shared, error) {
	path, err := locateCCJ(opts)
	if err != nil {
		return nil, err
	}
	db, err := ccj.Load(path)
	if err != nil {
		return nil, WrapExitError(ExitIO, "load compilation database", err)
	}
	slog.Info("compilation database loaded", "path", db.Path(), "tu_count", db.Len())
	return session.NewShared(db, Version), nil
}
