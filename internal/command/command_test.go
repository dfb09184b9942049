package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_PosixQuoting(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []string
	}{
		{
			name:    "plain words",
			command: "g++ -O2 -c source.cpp",
			want:    []string{"g++", "-O2", "-c", "source.cpp"},
		},
		{
			name:    "double quotes keep spaces",
			command: `g++ -I"/opt/my include" source.cpp`,
			want:    []string{"g++", "-I/opt/my include", "source.cpp"},
		},
		{
			name:    "single quotes",
			command: `g++ '-DNAME=a b' source.cpp`,
			want:    []string{"g++", "-DNAME=a b", "source.cpp"},
		},
		{
			name:    "backslash escape",
			command: `g++ -DPATH=a\ b source.cpp`,
			want:    []string{"g++", "-DPATH=a b", "source.cpp"},
		},
		{
			name:    "collapsed whitespace",
			command: "g++    -O2\tsource.cpp",
			want:    []string{"g++", "-O2", "source.cpp"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Split(tt.command)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplit_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		command string
	}{
		{"unclosed double quote", `g++ "oops source.cpp`},
		{"unclosed single quote", `g++ 'oops source.cpp`},
		{"empty command", ""},
		{"only whitespace", "   \t  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split(tt.command)
			var invalid *InvalidCommandError
			require.ErrorAs(t, err, &invalid)
		})
	}
}

func TestCanonicalize_RewritesArgv(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []string
	}{
		{
			name:    "strips separate -o and -c",
			command: "g++ -O2 -c source.cpp -o source.o",
			want:    []string{"g++", "-O2", "source.cpp", "-g1", "-S"},
		},
		{
			name:    "strips attached -o",
			command: "g++ -osource.o -c source.cpp",
			want:    []string{"g++", "source.cpp", "-g1", "-S"},
		},
		{
			name:    "strips equals form",
			command: "g++ -o=source.o source.cpp",
			want:    []string{"g++", "source.cpp", "-g1", "-S"},
		},
		{
			name:    "strips dependency flags",
			command: "cc -MMD -MD -MP -MF deps.d -MT target -MQ quoted -c source.c",
			want:    []string{"cc", "source.c", "-g1", "-S"},
		},
		{
			name:    "strips existing -S and -E",
			command: "g++ -S -E source.cpp",
			want:    []string{"g++", "source.cpp", "-g1", "-S"},
		},
		{
			name:    "leaves -O2 alone despite -o prefix confusion",
			command: "g++ -O2 -c source.cpp",
			want:    []string{"g++", "-O2", "source.cpp", "-g1", "-S"},
		},
		{
			name:    "keeps include and define flags",
			command: "g++ -Iinclude -DFOO=1 -c source.cpp -o out.o",
			want:    []string{"g++", "-Iinclude", "-DFOO=1", "source.cpp", "-g1", "-S"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inf, err := Canonicalize(tt.command, "/proj", "source.cpp")
			require.NoError(t, err)
			assert.Equal(t, tt.want, inf.CompilationCommand)
			assert.Equal(t, "/proj", inf.CompilationDirectory)
			assert.Equal(t, "source.cpp", inf.AnnotationTarget)
		})
	}
}

func TestCanonicalize_MalformedQuoting(t *testing.T) {
	_, err := Canonicalize(`g++ "unterminated`, "/proj", "source.cpp")
	var invalid *InvalidCommandError
	require.ErrorAs(t, err, &invalid)
}

func TestKey_StableAcrossOutputPaths(t *testing.T) {
	// The canonical argv excludes -o entirely, so two canonicalizations
	// of commands differing only in their original output path agree.
	a, err := Canonicalize("g++ -c source.cpp -o /tmp/one.o", "/proj", "source.cpp")
	require.NoError(t, err)
	b, err := Canonicalize("g++ -c source.cpp -o /tmp/two.o", "/proj", "source.cpp")
	require.NoError(t, err)

	assert.Equal(t, a.Key(), b.Key())
}

func TestKey_SensitiveToEveryField(t *testing.T) {
	base := Inference{
		CompilationCommand:   []string{"g++", "source.cpp", "-g1", "-S"},
		CompilationDirectory: "/proj",
		AnnotationTarget:     "source.cpp",
	}

	differentArgv := base
	differentArgv.CompilationCommand = []string{"g++", "-O2", "source.cpp", "-g1", "-S"}
	assert.NotEqual(t, base.Key(), differentArgv.Key())

	differentDir := base
	differentDir.CompilationDirectory = "/proj2"
	assert.NotEqual(t, base.Key(), differentDir.Key())

	differentTarget := base
	differentTarget.AnnotationTarget = "other.cpp"
	assert.NotEqual(t, base.Key(), differentTarget.Key())
}

func TestKey_ArgvBoundariesAreUnambiguous(t *testing.T) {
	// Length prefixes keep ["ab","c"] distinct from ["a","bc"].
	a := Inference{CompilationCommand: []string{"ab", "c"}, CompilationDirectory: "/p", AnnotationTarget: "t"}
	b := Inference{CompilationCommand: []string{"a", "bc"}, CompilationDirectory: "/p", AnnotationTarget: "t"}
	assert.NotEqual(t, a.Key(), b.Key())
}
