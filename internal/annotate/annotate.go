// Package annotate filters raw compiler assembly down to the lines
// relevant to one source file and maps them back to source lines.
//
// The filter makes two passes. The first scans labels, `.globl`/`.type`
// definitions, `.file` tables and `.loc` tags to build a routine→callee
// graph and to identify which routines belong to the annotation
// target. The second emits only the reachable lines, records
// source-line mappings and collects mangled symbols for demangling.
package annotate

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Line-classification patterns, shared by both passes.
var (
	reLabelStart     = regexp.MustCompile(`^([^:]+): *(?:#|$)`)
	reHasOpcode      = regexp.MustCompile(`^[[:space:]]+[A-Za-z]+[[:space:]]*`)
	reCommentOnly    = regexp.MustCompile(`^[[:space:]]*(?:[#;@]|//|/\*.*\*/).*$`)
	reLabelReference = regexp.MustCompile(`\.[A-Z_a-z][$.0-9A-Z_a-z]*`)
	reDefinesGlobal  = regexp.MustCompile(`^[[:space:]]*\.globa?l[[:space:]]*([.A-Z_a-z][$.0-9A-Z_a-z]*)`)
	reDefinesFunc    = regexp.MustCompile(`^[[:space:]]*\.type[[:space:]]*(.*),[[:space:]]*[%@]`)
	reFileDirective  = regexp.MustCompile(`^[[:space:]]*\.file[[:space:]]+([[:digit:]]+)(?:[[:space:]]+"([^"]+)")?[[:space:]]+"([^"]+)"(?:[[:space:]]+md5[[:space:]]+(0x[[:xdigit:]]+))?`)
	reSourceTag      = regexp.MustCompile(`^[[:space:]]*\.loc[[:space:]]+([[:digit:]]+)[[:space:]]+([[:digit:]]+)`)
	reSourceStab     = regexp.MustCompile(`\.stabn[[:space:]]+([[:digit:]]+),0,([[:digit:]]+),`)
	reEndblock       = regexp.MustCompile(`\.(?:cfi_endproc|data|section|text)`)
	reDataDefn       = regexp.MustCompile(`^[[:space:]]*\.(string|asciz|ascii|[1248]?byte|short|word|long|quad|value|zero)`)
	reMangledSymbol  = regexp.MustCompile(`_Z[A-Za-z0-9_]+`)
)

// Mapping relates a run of output assembly lines (1-based, inclusive)
// to one line of the annotation target.
type Mapping struct {
	SourceLine int `json:"source_line"`
	AsmStart   int `json:"asm_start"`
	AsmEnd     int `json:"asm_end"`
}

// Result is a filtered, demangled assembly listing.
type Result struct {
	Lines    []string
	Mappings []Mapping
	// SourceFile is the resolved annotation target: the caller's, or
	// the one guessed from the DWARF `.file 0` entry.
	SourceFile string
}

// ParseError reports assembly the filter could not orient itself in,
// typically output compiled without line-table debug info.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string { return e.Message }

// stab type codes, per the stabs debug format.
const (
	stabSLine = 68  // N_SLINE: line number in text segment
	stabSO    = 100 // N_SO: main source file
	stabSOL   = 132 // N_SOL: included source file
)

type fileInfo struct {
	tags      map[int]struct{}
	directory string
	filename  string
	md5       string
}

type parserState struct {
	routines       map[string][]string
	globals        map[string]struct{}
	currentGlobal  string
	compileDir     string
	target         string
	targetInfo     *fileInfo
	targetRoutines map[string]struct{}
	usedLabels     map[string]struct{}

	// source line → output asm line numbers, merged into ranges at the end
	linemap map[int][]int
}

func newParserState(target string) *parserState {
	return &parserState{
		routines:       make(map[string][]string),
		globals:        make(map[string]struct{}),
		target:         target,
		targetRoutines: make(map[string]struct{}),
		usedLabels:     make(map[string]struct{}),
		linemap:        make(map[int][]int),
	}
}

// Annotate filters the raw assembly according to opts. target is the
// absolute path of the source file being annotated; pass "" to have it
// guessed from the assembly's own `.file 0` entry (the asm-blob path).
func Annotate(input []byte, opts Options, target string) (*Result, error) {
	lines := splitLines(input)
	s := newParserState(target)

	intermediateLines, err := firstPass(lines, s, opts)
	if err != nil {
		return nil, err
	}
	collectUsedLabels(s, opts)
	return secondPass(intermediateLines, s, opts)
}

func splitLines(input []byte) []string {
	lines := strings.Split(string(input), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// keepByDefault is the disposition for lines no rule claimed:
// directives survive only when requested.
func keepByDefault(opts Options) bool { return opts.PreserveDirectives }

func firstPass(lines []string, s *parserState, opts Options) ([]string, error) {
	var out []string
	for _, line := range lines {
		if line == "" {
			continue
		}
		if line[0] != '\t' {
			if m := reLabelStart.FindStringSubmatch(line); m != nil {
				if _, ok := s.globals[m[1]]; ok {
					s.currentGlobal = m[1]
				}
				out = append(out, line)
			}
			continue
		}

		switch {
		case s.currentGlobal != "" && reHasOpcode.MatchString(line):
			opcode := reHasOpcode.FindString(line)
			if _, ok := s.routines[s.currentGlobal]; !ok {
				s.routines[s.currentGlobal] = nil
			}
			for _, ref := range reLabelReference.FindAllString(line[len(opcode):], -1) {
				s.routines[s.currentGlobal] = append(s.routines[s.currentGlobal], ref)
			}
			out = append(out, line)

		case !opts.PreserveComments && reCommentOnly.MatchString(line):
			// dropped

		case reDefinesGlobal.MatchString(line):
			s.globals[reDefinesGlobal.FindStringSubmatch(line)[1]] = struct{}{}
			if keepByDefault(opts) {
				out = append(out, line)
			}

		case reDefinesFunc.MatchString(line):
			s.globals[reDefinesFunc.FindStringSubmatch(line)[1]] = struct{}{}
			if keepByDefault(opts) {
				out = append(out, line)
			}

		case reFileDirective.MatchString(line):
			if err := s.recordFileDirective(reFileDirective.FindStringSubmatch(line)); err != nil {
				return nil, err
			}
			if keepByDefault(opts) {
				out = append(out, line)
			}

		case reSourceTag.MatchString(line):
			m := reSourceTag.FindStringSubmatch(line)
			if s.currentGlobal != "" && s.targetInfo != nil {
				if _, ok := s.targetInfo.tags[atoi(m[1])]; ok {
					s.targetRoutines[s.currentGlobal] = struct{}{}
				}
			}
			out = append(out, line)

		case reEndblock.MatchString(line):
			s.currentGlobal = ""
			out = append(out, line)

		default:
			out = append(out, line)
		}
	}

	if s.targetInfo == nil {
		return nil, &ParseError{Message: fmt.Sprintf(
			"no debug file table entry matches annotation target %q", s.target)}
	}
	return out, nil
}

// recordFileDirective tracks the DWARF `.file` table. Entry 0 carries
// the compilation directory; every entry whose reconstructed path
// equals the annotation target contributes its file number to the
// target's tag set. GCC and Clang disagree on how they spell
// directories here (absolute, ".", "./inner"), which is why the path
// is reassembled before comparison.
func (s *parserState) recordFileDirective(m []string) error {
	fileno := atoi(m[1])
	info := fileInfo{
		tags:      map[int]struct{}{fileno: {}},
		directory: m[2],
		filename:  m[3],
		md5:       m[4],
	}
	if info.filename == "-" {
		info.filename = "<stdin>"
	}

	if fileno == 0 {
		s.compileDir = filepath.Clean(info.directory)
		if s.target == "" {
			s.target = filepath.Join(s.compileDir, info.filename)
		} else {
			s.target = filepath.Clean(s.target)
		}
	}
	if s.compileDir == "" {
		return &ParseError{Message: "no compilation directory in assembly directives"}
	}

	var entryPath string
	if info.directory != "" {
		d := info.directory
		if !filepath.IsAbs(d) {
			d = filepath.Join(s.compileDir, d)
		}
		entryPath = filepath.Join(d, info.filename)
	} else {
		entryPath = filepath.Join(s.compileDir, info.filename)
	}

	if entryPath == s.target {
		if s.targetInfo == nil {
			targetInfo := info
			s.targetInfo = &targetInfo
		}
		s.targetInfo.tags[fileno] = struct{}{}
	}
	return nil
}

// collectUsedLabels closes the routine graph over the labels worth
// keeping: every routine when library functions are preserved,
// otherwise only the target file's routines and their callees.
func collectUsedLabels(s *parserState, opts Options) {
	if opts.PreserveLibraryFunctions {
		for label, callees := range s.routines {
			s.usedLabels[label] = struct{}{}
			for _, callee := range callees {
				s.usedLabels[callee] = struct{}{}
			}
		}
		return
	}
	for label := range s.targetRoutines {
		s.usedLabels[label] = struct{}{}
		for _, callee := range s.routines[label] {
			s.usedLabels[callee] = struct{}{}
		}
	}
}

func secondPass(lines []string, s *parserState, opts Options) (*Result, error) {
	var out []string
	mangled := make(map[string]struct{})
	reachable := ""
	sourceLine := 0
	haveSource := false

	preserve := func(line string) {
		if opts.Demangle {
			for _, sym := range reMangledSymbol.FindAllString(line, -1) {
				mangled[sym] = struct{}{}
			}
		}
		out = append(out, line)
	}

	for _, line := range lines {
		if line == "" {
			continue
		}
		if line[0] != '\t' {
			if m := reLabelStart.FindStringSubmatch(line); m != nil {
				label := m[1]
				switch {
				case contains(s.usedLabels, label):
					reachable = label
					preserve(line)
				case opts.PreserveUnusedLabels:
					preserve(line)
				}
			} else if keepByDefault(opts) {
				preserve(line)
			}
			continue
		}

		switch {
		case reachable != "" && reDataDefn.MatchString(line):
			preserve(line)

		case reachable != "" && reHasOpcode.MatchString(line):
			if haveSource {
				s.registerMapping(sourceLine, len(out)+1)
			}
			preserve(line)

		case reSourceTag.MatchString(line):
			m := reSourceTag.FindStringSubmatch(line)
			haveSource = false
			if s.targetInfo != nil {
				if _, ok := s.targetInfo.tags[atoi(m[1])]; ok {
					sourceLine = atoi(m[2])
					haveSource = true
				}
			}
			if keepByDefault(opts) {
				preserve(line)
			}

		case reSourceStab.MatchString(line):
			m := reSourceStab.FindStringSubmatch(line)
			switch atoi(m[1]) {
			case stabSLine:
				sourceLine = atoi(m[2])
				haveSource = true
			case stabSO, stabSOL:
				haveSource = false
			}
			if keepByDefault(opts) {
				preserve(line)
			}

		case reEndblock.MatchString(line):
			reachable = ""
			if keepByDefault(opts) {
				preserve(line)
			}

		default:
			if keepByDefault(opts) {
				preserve(line)
			}
		}
	}

	result := &Result{
		Lines:      applyDemanglings(out, demangleAll(mangled)),
		Mappings:   s.mergedMappings(),
		SourceFile: s.target,
	}
	return result, nil
}

func (s *parserState) registerMapping(sourceLine, asmLine int) {
	s.linemap[sourceLine] = append(s.linemap[sourceLine], asmLine)
}

// mergedMappings turns the collected (source line, asm line) pairs into
// ranges: consecutive asm lines for the same source line coalesce.
// Output is ordered by source line, then asm start.
func (s *parserState) mergedMappings() []Mapping {
	sourceLines := make([]int, 0, len(s.linemap))
	for src := range s.linemap {
		sourceLines = append(sourceLines, src)
	}
	sort.Ints(sourceLines)

	var result []Mapping
	for _, src := range sourceLines {
		asmLines := append([]int{}, s.linemap[src]...)
		sort.Ints(asmLines)
		start, end := -1, -1
		for _, n := range asmLines {
			switch {
			case start < 0:
				start, end = n, n
			case n == end || n == end+1:
				end = n
			default:
				result = append(result, Mapping{SourceLine: src, AsmStart: start, AsmEnd: end})
				start, end = n, n
			}
		}
		if start >= 0 {
			result = append(result, Mapping{SourceLine: src, AsmStart: start, AsmEnd: end})
		}
	}
	return result
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
