// Package config loads declarative pipeline descriptions and turns them into
// connected executives.
//
// # Overview
//
// A description names a set of nodes, each an algorithm type from a
// filters.Registry with its parameters, the connections between them, the
// terminal output port and the request made of it. Descriptions can be
// written in YAML or in CUE; Load picks the format by file extension.
//
// # Components
//
// CUEParser: Compiles CUE documents and unifies them with the built-in
// #Pipeline definition, so CUE defaults and constraints apply before
// decoding. Errors carry file, line and column.
//
// SchemaRegistry: Named CUE definitions. "pipeline" is registered by
// default; more can be added for documents embedded in descriptions.
//
// Validate: Struct tag checks (go-playground/validator) plus graph checks:
// unique node names, resolvable "node[:port]" references and an existing
// terminal.
//
// Build: Creates executives in description order, wires their connections
// and applies the piece, extent and time request to the terminal port.
// Built.Run then drives the terminal in the requested mode.
//
// Watch: Reloads a description whenever its file changes (fsnotify).
//
// # Usage Example
//
//	d, err := config.Load("pipeline.yaml")
//	if err != nil {
//		return err
//	}
//	b, err := config.Build(d, filters.DefaultRegistry(),
//		config.WithInstrumentation(telemetry.Instrument(t)))
//	if err != nil {
//		return err
//	}
//	return b.Run(ctx)
//
// # Document Layout
//
//	name: demo
//	nodes:
//	  - name: src
//	    type: wavelet
//	    params: {whole_extent: [0, 63, 0, 63, 0, 0]}
//	  - name: scale
//	    type: shift-scale
//	    params: {scale: 2}
//	    inputs: [{from: src}]
//	terminal: {node: scale}
//	request: {pieces: 4, piece: 0, ghost: 1}
package config
