package ccj

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDB(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, DefaultName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Valid(t *testing.T) {
	dir := t.TempDir()
	path := writeDB(t, dir, `[
		{"directory": "`+dir+`", "command": "g++ -c source.cpp", "file": "source.cpp"},
		{"directory": "`+dir+`", "command": "g++ -c other.cpp", "file": "other.cpp"}
	]`)

	db, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, db.Len())
	assert.Equal(t, dir, db.ProjectRoot())
}

func TestLoad_SkipsInvalidEntries(t *testing.T) {
	dir := t.TempDir()
	path := writeDB(t, dir, `[
		{"directory": "`+dir+`", "command": "g++ -c source.cpp", "file": "source.cpp"},
		{"directory": "`+dir+`", "command": ""},
		{"file": 42, "directory": "x", "command": "y"}
	]`)

	db, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, db.Len(), "entries failing schema validation are skipped")
}

func TestLoad_NotAnArray(t *testing.T) {
	dir := t.TempDir()
	path := writeDB(t, dir, `{"file": "source.cpp"}`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLookup_RelativeEntry(t *testing.T) {
	dir := t.TempDir()
	path := writeDB(t, dir, `[
		{"directory": ".", "command": "g++ -c source.cpp", "file": "source.cpp"}
	]`)
	db, err := Load(path)
	require.NoError(t, err)

	entry, ok := db.Lookup(filepath.Join(dir, "source.cpp"))
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "source.cpp"), entry.File)
	assert.Equal(t, filepath.Clean(dir), entry.Directory)
}

func TestLookup_AbsoluteEntry(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "src", "deep.cpp")
	path := writeDB(t, dir, `[
		{"directory": "`+dir+`", "command": "g++ -c src/deep.cpp", "file": "`+abs+`"}
	]`)
	db, err := Load(path)
	require.NoError(t, err)

	entry, ok := db.Lookup(abs)
	require.True(t, ok)
	assert.Equal(t, abs, entry.File)
}

func TestLookup_FirstMatchWins(t *testing.T) {
	dir := t.TempDir()
	path := writeDB(t, dir, `[
		{"directory": "`+dir+`", "command": "g++ -DFIRST -c source.cpp", "file": "source.cpp"},
		{"directory": "`+dir+`", "command": "g++ -DSECOND -c source.cpp", "file": "source.cpp"}
	]`)
	db, err := Load(path)
	require.NoError(t, err)

	entry, ok := db.Lookup(filepath.Join(dir, "source.cpp"))
	require.True(t, ok)
	assert.Contains(t, entry.Command, "-DFIRST")
}

func TestLookup_Miss(t *testing.T) {
	dir := t.TempDir()
	path := writeDB(t, dir, `[
		{"directory": "`+dir+`", "command": "g++ -c source.cpp", "file": "source.cpp"}
	]`)
	db, err := Load(path)
	require.NoError(t, err)

	_, ok := db.Lookup(filepath.Join(dir, "absent.cpp"))
	assert.False(t, ok)
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	_, ok := Find(dir)
	assert.False(t, ok)

	writeDB(t, dir, `[]`)
	path, ok := Find(dir)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, DefaultName), path)
}

func TestResolveWithin(t *testing.T) {
	root := "/proj"
	tests := []struct {
		name    string
		rel     string
		want    string
		wantErr bool
	}{
		{"plain file", "source.cpp", "/proj/source.cpp", false},
		{"subdirectory", "src/inner.cpp", "/proj/src/inner.cpp", false},
		{"dot segments that stay inside", "src/../source.cpp", "/proj/source.cpp", false},
		{"empty", "", "", true},
		{"absolute", "/etc/passwd", "", true},
		{"parent escape", "../../etc/passwd", "", true},
		{"sneaky escape", "src/../../outside", "", true},
		{"bare dotdot", "..", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveWithin(root, tt.rel)
			if tt.wantErr {
				var traversal *TraversalError
				require.ErrorAs(t, err, &traversal)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
