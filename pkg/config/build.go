package config

import (
	"context"
	"fmt"

	"github.com/gridflow/gridflow/pkg/extent"
	"github.com/gridflow/gridflow/pkg/filters"
	"github.com/gridflow/gridflow/pkg/pipeline"
)

// Built is a description turned into connected executives.
type Built struct {
	Description *Description

	// Nodes maps node names to executives.
	Nodes map[string]*pipeline.Executive

	// Order lists node names in description order.
	Order []string

	Terminal *pipeline.Executive
	Port     int
}

type buildOptions struct {
	instrumentation pipeline.Instrumentation
	observers       []pipeline.Observer
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

// WithInstrumentation instruments pulls on the terminal.
func WithInstrumentation(in pipeline.Instrumentation) BuildOption {
	return func(o *buildOptions) { o.instrumentation = in }
}

// WithObserver registers fn for every event on every node.
func WithObserver(fn pipeline.Observer) BuildOption {
	return func(o *buildOptions) { o.observers = append(o.observers, fn) }
}

// Build creates one executive per node, wires connections in description
// order and applies the request to the terminal port.
func Build(d *Description, reg *filters.Registry, opts ...BuildOption) (*Built, error) {
	if err := Validate(d); err != nil {
		return nil, err
	}
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	b := &Built{
		Description: d,
		Nodes:       make(map[string]*pipeline.Executive, len(d.Nodes)),
		Order:       make([]string, 0, len(d.Nodes)),
		Port:        d.Terminal.Port,
	}
	for _, n := range d.Nodes {
		alg, err := reg.New(n.Type, filters.Params(n.Params))
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.Name, err)
		}
		execOpts := []pipeline.Option{pipeline.WithName(n.Name)}
		if n.Name == d.Terminal.Node && o.instrumentation != nil {
			execOpts = append(execOpts, pipeline.WithInstrumentation(o.instrumentation))
		}
		exec, err := pipeline.New(alg, execOpts...)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.Name, err)
		}
		for _, fn := range o.observers {
			exec.AddObserver(pipeline.EventAny, fn)
		}
		b.Nodes[n.Name] = exec
		b.Order = append(b.Order, n.Name)
	}

	for _, n := range d.Nodes {
		consumer := b.Nodes[n.Name]
		for _, c := range n.Inputs {
			from, port, _ := ParseRef(c.From)
			producer := b.Nodes[from]
			if port >= producer.NumOutputPorts() {
				return nil, fmt.Errorf("node %s: %s has no output port %d", n.Name, from, port)
			}
			if err := consumer.AddInputConnection(c.Port, producer.OutputPort(port)); err != nil {
				return nil, fmt.Errorf("node %s: connect %s: %w", n.Name, c.From, err)
			}
		}
	}

	b.Terminal = b.Nodes[d.Terminal.Node]
	if b.Port >= b.Terminal.NumOutputPorts() {
		return nil, fmt.Errorf("terminal %s has no output port %d", d.Terminal.Node, b.Port)
	}
	if err := b.applyRequest(d.Request); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Built) applyRequest(r RequestSpec) error {
	p := r.UpdatePiece()
	if err := p.Validate(); err != nil {
		return fmt.Errorf("request: %w", err)
	}
	if p != extent.WholePiece {
		b.Terminal.SetUpdatePiece(b.Port, p)
	}
	if len(r.Extent) > 0 {
		ext, err := extent.FromSlice(r.Extent)
		if err != nil {
			return fmt.Errorf("request: %w", err)
		}
		b.Terminal.SetUpdateExtent(b.Port, ext)
	}
	if r.Time != nil {
		b.Terminal.SetUpdateTimeStep(b.Port, *r.Time)
	}
	return nil
}

// Run drives the terminal as far as the request mode asks.
func (b *Built) Run(ctx context.Context) error {
	switch b.Description.Request.Mode {
	case ModeInformation:
		return b.Terminal.UpdateInformation(ctx)
	case ModeUpdateExtent:
		return b.Terminal.PropagateUpdateExtent(ctx, b.Port)
	default:
		return b.Terminal.UpdatePort(ctx, b.Port)
	}
}

// Graph returns the executive graph upstream of the terminal.
func (b *Built) Graph() (*pipeline.Graph, error) {
	return pipeline.BuildGraph(b.Terminal)
}
