package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// CUEParser loads pipeline descriptions written in CUE. Documents are
// unified with the #Pipeline definition, so CUE defaults and constraints
// apply before the Go-side validation runs.
type CUEParser struct {
	ctx     *cue.Context
	schemas *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:     ctx,
		schemas: newSchemaRegistry(ctx),
	}
}

// Schemas returns the schema registry the parser unifies with.
func (cp *CUEParser) Schemas() *SchemaRegistry {
	return cp.schemas
}

// Parse loads a description from a .cue file or a directory holding one
// CUE package.
func (cp *CUEParser) Parse(ctx context.Context, path string) (*Description, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source %s: %w", path, err)
	}

	var val cue.Value
	var errs ValidationErrors
	if info.IsDir() {
		val, errs = cp.loadDirectory(path)
	} else {
		val, errs = cp.loadFile(path)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return cp.extract(val, path)
}

// ParseInline parses CUE content held in memory.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*Description, error) {
	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return nil, cp.convertCUEErrors(err)
	}
	return cp.extract(val, "inline")
}

func (cp *CUEParser) loadDirectory(dir string) (cue.Value, ValidationErrors) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, ValidationErrors{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, cp.convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}
	return val, nil
}

func (cp *CUEParser) loadFile(path string) (cue.Value, ValidationErrors) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, ValidationErrors{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := cp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}
	return val, nil
}

// extract unifies val with #Pipeline and decodes the result.
func (cp *CUEParser) extract(val cue.Value, source string) (*Description, error) {
	schema, ok := cp.schemas.GetSchema("pipeline")
	if !ok {
		return nil, fmt.Errorf("pipeline schema not registered")
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, cp.convertCUEErrors(err)
	}

	var d Description
	if err := unified.Decode(&d); err != nil {
		return nil, fmt.Errorf("failed to decode description: %w", err)
	}
	d.Source = source
	d.LoadedAt = time.Now()

	if err := Validate(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func (cp *CUEParser) convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int

		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		out = append(out, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}
	return out
}
