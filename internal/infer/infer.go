// Package infer maps a source file to its canonical inference: the
// compilation-database entry for the file, rewritten by the command
// canonicalizer to emit assembly.
//
// The session layer owns the caching protocol (token reuse,
// file→token memoization); this package is the stateless miss path.
package infer

import (
	"fmt"
	"path/filepath"

	"github.com/xpto/blot/internal/ccj"
	"github.com/xpto/blot/internal/command"
)

// NotFoundError reports a file with no compilation-database entry.
type NotFoundError struct {
	File string
	CCJ  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no compilation database entry for %q in %s", e.File, e.CCJ)
}

// Infer looks up absTarget in the database and canonicalizes its
// command. The annotation target in the returned inference is made
// relative to the compilation directory when possible, since that is
// how the compiler's own `.file` directives will refer to it.
func Infer(db *ccj.Database, absTarget string) (command.Inference, error) {
	entry, ok := db.Lookup(absTarget)
	if !ok {
		return command.Inference{}, &NotFoundError{File: absTarget, CCJ: db.Path()}
	}

	target := entry.File
	if rel, err := filepath.Rel(entry.Directory, entry.File); err == nil {
		target = rel
	}

	inf, err := command.Canonicalize(entry.Command, entry.Directory, target)
	if err != nil {
		return command.Inference{}, err
	}
	return inf, nil
}
