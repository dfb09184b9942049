package annotate

import (
	"sort"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// demangleAll bulk-translates the distinct mangled symbols into
// readable form. Symbols the demangler cannot improve are omitted from
// the result.
func demangleAll(symbols map[string]struct{}) map[string]string {
	out := make(map[string]string, len(symbols))
	for sym := range symbols {
		if d := demangle.Filter(sym); d != sym {
			out[sym] = d
		}
	}
	return out
}

// applyDemanglings substitutes demangled names into every output line.
// Longer symbols are replaced first so that a symbol that is a prefix
// of another is never clobbered mid-replacement.
func applyDemanglings(lines []string, demanglings map[string]string) []string {
	if len(demanglings) == 0 {
		return lines
	}

	symbols := make([]string, 0, len(demanglings))
	for sym := range demanglings {
		symbols = append(symbols, sym)
	}
	sort.Slice(symbols, func(i, j int) bool {
		if len(symbols[i]) != len(symbols[j]) {
			return len(symbols[i]) > len(symbols[j])
		}
		return symbols[i] < symbols[j]
	})

	out := make([]string, len(lines))
	for i, line := range lines {
		for _, sym := range symbols {
			line = strings.ReplaceAll(line, sym, demanglings[sym])
		}
		out[i] = line
	}
	return out
}
