// Package command converts raw compilation-database commands into
// canonical inferences: argv rewritten to emit annotatable assembly,
// plus a content-addressed key for the session asm cache.
package command

import (
	"fmt"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// Inference is the canonical description of what to compile. The three
// fields together form the canonical key: argv order, the exact
// directory string and the exact target all matter.
//
// CompilationCommand deliberately excludes the trailing `-o <path>`
// pair; the assembly producer appends it with a per-invocation temp
// path. Keeping it out of the argv keeps it out of the key, so two
// compiles of the same logical command collide in the asm cache no
// matter which temp files they used.
type Inference struct {
	CompilationCommand   []string `json:"compilation_command"`
	CompilationDirectory string   `json:"compilation_directory"`
	AnnotationTarget     string   `json:"annotation_target"`
}

// InvalidCommandError reports a compilation-database command that could
// not be turned into an inference.
type InvalidCommandError struct {
	Command string
	Reason  string
}

func (e *InvalidCommandError) Error() string {
	return fmt.Sprintf("invalid compilation command %q: %s", e.Command, e.Reason)
}

// Flags stripped from the database command before assembly generation.
// flagsNoArg are removed alone and only on an exact match; flagsWithArg
// also swallow a separate following argument, and accept the attached
// `-XY` / `-X=Y` spellings.
var (
	flagsNoArg   = []string{"-c", "-S", "-E", "-MMD", "-MD", "-MP"}
	flagsWithArg = []string{"-o", "-MF", "-MT", "-MQ"}
)

// Canonicalize tokenizes a raw database command with POSIX shell
// quoting and rewrites it to emit assembly: output and dependency
// flags are stripped, `-g1` is added so the compiler emits the
// `.file`/`.loc` line tables annotation depends on, and `-S` is
// appended. The source-file argument is left in place.
func Canonicalize(rawCommand, directory, target string) (Inference, error) {
	argv, err := Split(rawCommand)
	if err != nil {
		return Inference{}, err
	}

	rewritten := make([]string, 0, len(argv)+2)
	skipNext := false
	for _, arg := range argv {
		if skipNext {
			skipNext = false
			continue
		}
		if isNoArgFlag(arg) {
			continue
		}
		if takesArg, separate := matchArgFlag(arg); takesArg {
			skipNext = separate
			continue
		}
		rewritten = append(rewritten, arg)
	}

	rewritten = append(rewritten, "-g1", "-S")

	return Inference{
		CompilationCommand:   rewritten,
		CompilationDirectory: directory,
		AnnotationTarget:     target,
	}, nil
}

// Split tokenizes a command line honoring POSIX shell quoting: single
// quotes, double quotes and backslash escapes, with unquoted whitespace
// as the only separator.
func Split(rawCommand string) ([]string, error) {
	argv, err := shellwords.Parse(rawCommand)
	if err != nil {
		return nil, &InvalidCommandError{Command: rawCommand, Reason: err.Error()}
	}
	if len(argv) == 0 {
		return nil, &InvalidCommandError{Command: rawCommand, Reason: "empty argv"}
	}
	return argv, nil
}

func isNoArgFlag(arg string) bool {
	for _, f := range flagsNoArg {
		if arg == f {
			return true
		}
	}
	return false
}

// matchArgFlag reports whether arg is one of the argument-taking flags,
// and if so whether its value arrives as a separate argv element
// (`-o path`) rather than attached (`-opath`, `-o=path`).
func matchArgFlag(arg string) (takesArg, separate bool) {
	for _, f := range flagsWithArg {
		if arg == f {
			return true, true
		}
		if strings.HasPrefix(arg, f) {
			return true, false
		}
	}
	return false, false
}
