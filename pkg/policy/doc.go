// Package policy provides Open Policy Agent (OPA) admission checks for
// pipeline descriptions.
//
// Every policy is a Rego module defining a deny set. Members are either
// strings or objects with a message and optionally a node and a severity.
// Violations at error or critical severity refuse the pipeline; the rest
// are reported as warnings.
//
// # Built-in Policies
//
//   - piece-limits: at most 4096 pieces and ghost level 8 (error)
//   - script-filters: filters that run user-supplied code need
//     policy.allow_scripts (error), and should set timeout_seconds (warning)
//   - node-naming: lowercase, digits and hyphens (warning)
//
// A description can switch built-ins off with policy.disabled. Additional
// policies are loaded from .rego or .json files with Engine.LoadPolicies; a
// "# severity: <level>" line in the leading comment of a .rego file sets its
// severity.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger, filters.DefaultRegistry())
//	if err != nil {
//		return err
//	}
//	res, err := eng.Evaluate(ctx, desc)
//	if err != nil {
//		return err
//	}
//	if err := res.Err(); err != nil {
//		return err
//	}
//
// # Input Document
//
// Policies see the description as:
//
//	{
//	  "pipeline": "demo",
//	  "terminal": "scale:0",
//	  "allow_scripts": false,
//	  "request": {"mode": "data", "piece": 0, "pieces": 4, "ghost": 1},
//	  "nodes": [
//	    {"name": "src", "type": "wavelet", "script": false, "params": {...}, "inputs": []},
//	    {"name": "scale", "type": "shift-scale", "script": false, "params": {...}, "inputs": ["src"]}
//	  ]
//	}
package policy
