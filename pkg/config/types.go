package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gridflow/gridflow/pkg/extent"
)

// Request modes select how far a run drives the terminal.
const (
	ModeData         = "data"
	ModeInformation  = "information"
	ModeUpdateExtent = "update-extent"
)

// Description is a declarative pipeline: named nodes, the connections
// between them and the request made of the terminal.
type Description struct {
	// Name identifies the pipeline in history and telemetry.
	Name string `json:"name" yaml:"name" validate:"required,max=64"`

	// Nodes are created and connected in this order.
	Nodes []NodeSpec `json:"nodes" yaml:"nodes" validate:"required,min=1,dive"`

	// Terminal is the output port the pipeline is pulled from.
	Terminal PortSpec `json:"terminal" yaml:"terminal"`

	Request   RequestSpec   `json:"request,omitempty" yaml:"request,omitempty"`
	Telemetry TelemetrySpec `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
	Store     StoreSpec     `json:"store,omitempty" yaml:"store,omitempty"`
	Policy    PolicySpec    `json:"policy,omitempty" yaml:"policy,omitempty"`

	// Source is the file the description was loaded from.
	Source string `json:"-" yaml:"-"`

	// LoadedAt is when the description was loaded.
	LoadedAt time.Time `json:"-" yaml:"-"`
}

// NodeSpec declares one algorithm instance.
type NodeSpec struct {
	Name   string         `json:"name" yaml:"name" validate:"required,max=64"`
	Type   string         `json:"type" yaml:"type" validate:"required"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`

	// Inputs lists the connections into this node's input ports.
	Inputs []Connection `json:"inputs,omitempty" yaml:"inputs,omitempty" validate:"dive"`
}

// Connection feeds input Port from the output referenced by From, written
// "node" or "node:port".
type Connection struct {
	Port int    `json:"port" yaml:"port" validate:"min=0"`
	From string `json:"from" yaml:"from" validate:"required"`
}

// PortSpec names an output port of a node.
type PortSpec struct {
	Node string `json:"node" yaml:"node" validate:"required"`
	Port int    `json:"port" yaml:"port" validate:"min=0"`
}

func (p PortSpec) String() string {
	return fmt.Sprintf("%s:%d", p.Node, p.Port)
}

// RequestSpec is the update request applied to the terminal port.
type RequestSpec struct {
	Mode   string   `json:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,oneof=data information update-extent"`
	Piece  int      `json:"piece,omitempty" yaml:"piece,omitempty" validate:"min=0,ltfield=Pieces"`
	Pieces int      `json:"pieces,omitempty" yaml:"pieces,omitempty" validate:"min=1"`
	Ghost  int      `json:"ghost,omitempty" yaml:"ghost,omitempty" validate:"min=0"`
	Extent []int    `json:"extent,omitempty" yaml:"extent,omitempty" validate:"omitempty,len=6"`
	Time   *float64 `json:"time,omitempty" yaml:"time,omitempty"`
}

// UpdatePiece returns the requested piece.
func (r RequestSpec) UpdatePiece() extent.Piece {
	return extent.Piece{Index: r.Piece, Count: r.Pieces, GhostLevel: r.Ghost}
}

// TelemetrySpec overrides the process telemetry defaults.
type TelemetrySpec struct {
	LogLevel        string  `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat       string  `json:"log_format,omitempty" yaml:"log_format,omitempty" validate:"omitempty,oneof=console json"`
	MetricsAddr     string  `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
	TracingExporter string  `json:"tracing_exporter,omitempty" yaml:"tracing_exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`
	TracingEndpoint string  `json:"tracing_endpoint,omitempty" yaml:"tracing_endpoint,omitempty"`
	SamplingRate    float64 `json:"sampling_rate,omitempty" yaml:"sampling_rate,omitempty" validate:"min=0,max=1"`
}

// StoreSpec configures the execution history database.
type StoreSpec struct {
	// Path is the SQLite file; empty disables history.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// PolicySpec configures admission policies.
type PolicySpec struct {
	// AllowScripts admits filters that run user-supplied code.
	AllowScripts bool `json:"allow_scripts,omitempty" yaml:"allow_scripts,omitempty"`

	// Disabled lists policies that are not evaluated.
	Disabled []string `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// ValidationError is one problem found in a description, located either by
// source position (CUE) or by field path.
type ValidationError struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (e ValidationError) Error() string {
	var loc string
	switch {
	case e.File != "" && e.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", e.File, e.Line, e.Column)
	case e.Path != "":
		loc = e.Path + ": "
	}
	return loc + e.Message
}

// ValidationErrors is returned when a description fails to load or
// validate.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// ParseRef splits a "node[:port]" reference.
func ParseRef(ref string) (string, int, error) {
	node, port, found := strings.Cut(ref, ":")
	if node == "" {
		return "", 0, fmt.Errorf("empty node in reference %q", ref)
	}
	if !found {
		return node, 0, nil
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("invalid port in reference %q", ref)
	}
	return node, n, nil
}

func (d *Description) applyDefaults() {
	if d.Request.Mode == "" {
		d.Request.Mode = ModeData
	}
	if d.Request.Pieces == 0 {
		d.Request.Pieces = 1
	}
}

// Node returns the spec of the named node.
func (d *Description) Node(name string) (NodeSpec, bool) {
	for _, n := range d.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeSpec{}, false
}
