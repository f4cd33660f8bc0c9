package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry holds named CUE definitions that documents are unified
// with.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry with the built-in pipeline schema
// registered as "pipeline".
func NewSchemaRegistry() *SchemaRegistry {
	return newSchemaRegistry(cuecontext.New())
}

func newSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema("pipeline", pipelineSchema, "Pipeline"); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema compiles source and registers its definition #def under
// name.
func (sr *SchemaRegistry) RegisterSchema(name, source, def string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	schema := val.LookupPath(cue.MakePath(cue.Def(def)))
	if !schema.Exists() {
		return fmt.Errorf("schema %s does not define #%s", name, def)
	}

	sr.schemas[name] = schema
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema encodes data and checks it against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data any) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names in sorted order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const pipelineSchema = `
#Pipeline: {
	// Name identifies the pipeline in history and telemetry
	name: string & !=""

	// Nodes are created and connected in order
	nodes: [#Node, ...#Node]

	// Terminal is the port the pipeline is pulled from
	terminal: #Port

	request?:   #Request
	telemetry?: #Telemetry
	store?: {
		path?: string
	}
	policy?: {
		allow_scripts?: bool
		disabled?: [...string]
	}
}

#Node: {
	name:    string & !=""
	type:    string & !=""
	params?: {...}
	inputs?: [...#Connection]
}

#Connection: {
	port: *0 | int & >=0
	// "node" or "node:port"
	from: string & =~"^[^:]+(:[0-9]+)?$"
}

#Port: {
	node: string & !=""
	port: *0 | int & >=0
}

#Request: {
	mode:    *"data" | "information" | "update-extent"
	piece?:  int & >=0
	pieces?: int & >=1
	ghost?:  int & >=0
	extent?: [int, int, int, int, int, int]
	time?:   number
}

#Telemetry: {
	log_level?:        "trace" | "debug" | "info" | "warn" | "error" | "fatal"
	log_format?:       "console" | "json"
	metrics_addr?:     string
	tracing_exporter?: "otlp" | "stdout" | "none"
	tracing_endpoint?: string
	sampling_rate?:    number & >=0 & <=1
}
`
