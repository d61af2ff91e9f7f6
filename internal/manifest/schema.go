package manifest

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource string

// SchemaError is a schema violation with its position in the manifest.
type SchemaError struct {
	Message string
	Pos     token.Pos
}

func (e *SchemaError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile manifest schema: %w", err)
			return
		}
		schemaDef = v.LookupPath(cue.ParsePath("#Manifest"))
	})
	return schemaCtx, schemaDef, schemaErr
}

// Schema returns the embedded CUE schema source.
func Schema() string {
	return schemaSource
}

// checkSchema validates raw YAML against the #Manifest definition.
func checkSchema(filename string, data []byte) error {
	ctx, def, err := loadSchema()
	if err != nil {
		return err
	}

	// cue.Context is not safe for concurrent use.
	schemaMu.Lock()
	defer schemaMu.Unlock()

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return formatCUEError(err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return formatCUEError(err)
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

var schemaMu sync.Mutex

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	se := &SchemaError{Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		se.Pos = positions[0]
	}
	return se
}
