package ccj

import (
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// entrySchema constrains one compilation-database element. file and
// command must be non-empty; directory may be empty (resolved against
// the database's own directory). Extra fields such as "output" or
// "arguments" are tolerated.
const entrySchema = `
{
	file:      string & !=""
	directory: string
	command:   string & !=""
	...
}
`

var (
	schemaOnce  sync.Once
	schemaValue cue.Value
	schemaCtx   *cue.Context
)

func compiledSchema() (*cue.Context, cue.Value) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		schemaValue = schemaCtx.CompileString(entrySchema)
	})
	return schemaCtx, schemaValue
}

// validateEntry checks one raw JSON entry against entrySchema.
// JSON is a subset of CUE, so the raw bytes compile directly.
func validateEntry(rawEntry []byte) error {
	ctx, schema := compiledSchema()
	v := ctx.CompileBytes(rawEntry)
	if err := v.Err(); err != nil {
		return err
	}
	unified := schema.Unify(v)
	return unified.Validate(cue.Concrete(true))
}
