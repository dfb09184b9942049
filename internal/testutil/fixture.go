// Package testutil builds throwaway project fixtures for tests: a
// fake compiler script that emits canned assembly, source files, and a
// compile_commands.json tying them together.
//
// The fake compiler keeps pipeline tests hermetic: no real toolchain
// is needed, and its output is deterministic byte-for-byte.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// Fixture is a generated project directory.
type Fixture struct {
	// Dir is the project root (where compile_commands.json lives).
	Dir string
	// CCJPath is the compilation database path.
	CCJPath string
	// Source is the absolute path of the good translation unit.
	Source string
	// Broken is the absolute path of the translation unit whose
	// compile always fails.
	Broken string
}

// CannedAssembly returns the gcc-style listing the fake compiler
// emits, with its DWARF `.file 0` entry pointing at dir.
func CannedAssembly(dir string) string {
	return fmt.Sprintf("\t.file\t\"source.cpp\"\n"+
		"\t.text\n"+
		"\t.file 0 %q \"source.cpp\"\n"+
		"\t.globl\tmain\n"+
		"\t.type\tmain, @function\n"+
		"main:\n"+
		"\t.loc 0 3 0\n"+
		"\tpushq\t%%rbp\n"+
		"\tmovq\t%%rsp, %%rbp\n"+
		"\t.loc 0 4 9\n"+
		"\tcall\t_Z3foov\n"+
		"\t.loc 0 5 1\n"+
		"\tpopq\t%%rbp\n"+
		"\tret\n"+
		"\t.cfi_endproc\n"+
		"\t.globl\t_Z3foov\n"+
		"\t.type\t_Z3foov, @function\n"+
		"_Z3foov:\n"+
		"\t.loc 0 1 0\n"+
		"\tmovl\t$42, %%eax\n"+
		"\tret\n"+
		"\t.cfi_endproc\n"+
		"\t.section\t.note.GNU-stack,\"\",@progbits\n", dir)
}

const sourceCpp = `int foo() { return 42; }

int main() {
    return foo();
}
`

// NewFixture generates a project under a temp directory (or under
// BLOT_FIXTURE_DIR when set) with two translation units: source.cpp,
// whose fake compiler run succeeds, and broken.cpp, whose run exits 1.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fixture compiler is a POSIX shell script")
	}

	dir := t.TempDir()
	if base := os.Getenv("BLOT_FIXTURE_DIR"); base != "" {
		var err error
		dir, err = os.MkdirTemp(base, "blot-fixture-")
		if err != nil {
			t.Fatalf("create fixture dir: %v", err)
		}
		t.Cleanup(func() { os.RemoveAll(dir) })
	}

	f := &Fixture{
		Dir:     dir,
		CCJPath: filepath.Join(dir, "compile_commands.json"),
		Source:  filepath.Join(dir, "source.cpp"),
		Broken:  filepath.Join(dir, "broken.cpp"),
	}

	writeFile(t, f.Source, sourceCpp)
	writeFile(t, f.Broken, "int broken( {\n")

	goodCC := filepath.Join(dir, "fakecc")
	writeScript(t, goodCC, fmt.Sprintf(`#!/bin/sh
# fake compiler: writes canned assembly to the -o argument
out=""
while [ $# -gt 0 ]; do
	if [ "$1" = "-o" ]; then
		out="$2"
		shift
	fi
	shift
done
if [ -z "$out" ]; then
	echo "fakecc: no -o argument" >&2
	exit 1
fi
cat >"$out" <<'ASM_EOF'
%sASM_EOF
`, CannedAssembly(dir)))

	failCC := filepath.Join(dir, "failcc")
	writeScript(t, failCC, `#!/bin/sh
echo "broken.cpp:1:12: error: expected parameter declarator" >&2
exit 1
`)

	ccj := fmt.Sprintf(`[
  {
    "directory": %q,
    "command": "%s -c source.cpp -o source.o",
    "file": "source.cpp"
  },
  {
    "directory": %q,
    "command": "%s -c broken.cpp -o broken.o",
    "file": "broken.cpp"
  }
]
`, dir, goodCC, dir, failCC)
	writeFile(t, f.CCJPath, ccj)

	return f
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeScript(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
