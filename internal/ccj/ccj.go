// Package ccj reads compilation databases (compile_commands.json).
//
// The database is loaded once at startup and is read-only afterwards,
// so a single *Database is safely shared across sessions.
package ccj

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/text/unicode/norm"
)

// DefaultName is the conventional compilation-database file name used
// for auto-discovery.
const DefaultName = "compile_commands.json"

// Entry is one translation unit: a source file, the directory the
// compiler was invoked in, and the full command line.
type Entry struct {
	File      string `json:"file"`
	Directory string `json:"directory"`
	Command   string `json:"command"`
}

// Database is a loaded compilation database.
type Database struct {
	path    string
	entries []Entry
}

// Find locates a compilation database by probing dir for DefaultName.
func Find(dir string) (string, bool) {
	probe := filepath.Join(dir, DefaultName)
	if fi, err := os.Stat(probe); err == nil && fi.Mode().IsRegular() {
		return probe, true
	}
	return "", false
}

// Load reads and validates the compilation database at path.
//
// The file must be a JSON array. Each element is validated against the
// entry schema (see schema.go); entries that fail validation are
// skipped with a warning rather than failing the whole load, matching
// the tolerance compilers' tooling shows for partially broken
// databases.
func Load(path string) (*Database, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compilation database: %w", err)
	}

	var rawEntries []json.RawMessage
	if err := json.Unmarshal(raw, &rawEntries); err != nil {
		return nil, fmt.Errorf("parse compilation database %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve compilation database path: %w", err)
	}

	entries := make([]Entry, 0, len(rawEntries))
	for i, rawEntry := range rawEntries {
		var e Entry
		if err := json.Unmarshal(rawEntry, &e); err != nil {
			slog.Warn("skipping unreadable ccj entry", "index", i, "error", err)
			continue
		}
		if err := validateEntry(rawEntry); err != nil {
			slog.Warn("skipping invalid ccj entry", "index", i, "file", e.File, "error", err)
			continue
		}
		entries = append(entries, e)
	}

	return &Database{path: abs, entries: entries}, nil
}

// Path returns the absolute path the database was loaded from.
func (db *Database) Path() string { return db.path }

// Len returns the number of valid translation units.
func (db *Database) Len() int { return len(db.entries) }

// ProjectRoot returns the directory containing the database file. All
// project-relative request paths are resolved against it.
func (db *Database) ProjectRoot() string { return filepath.Dir(db.path) }

// Lookup finds the entry for the given absolute source path.
//
// Absolute entry files are compared against the absolute target;
// relative entry files are compared against the target made relative
// to the entry's directory (itself resolved against the database's
// directory when relative). Both sides are NFC normalized first so
// that databases written on NFD filesystems still match. When a file
// has several entries the first one wins.
//
// The returned entry has File and Directory made absolute.
func (db *Database) Lookup(absTarget string) (Entry, bool) {
	ccjDir := db.ProjectRoot()
	for _, e := range db.entries {
		entryDir := absJoin(ccjDir, e.Directory)
		var forComp string
		if filepath.IsAbs(e.File) {
			forComp = absTarget
		} else {
			rel, err := filepath.Rel(entryDir, absTarget)
			if err != nil {
				continue
			}
			forComp = rel
		}
		if !samePath(e.File, forComp) {
			continue
		}
		resolved := e
		resolved.File = absJoin(entryDir, e.File)
		resolved.Directory = entryDir
		return resolved, true
	}
	return Entry{}, false
}

func samePath(a, b string) bool {
	return norm.NFC.String(filepath.Clean(a)) == norm.NFC.String(filepath.Clean(b))
}

func absJoin(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}
