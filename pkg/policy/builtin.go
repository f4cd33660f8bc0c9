package policy

// Limits enforced by the piece-limits policy.
const (
	MaxPieces     = 4096
	MaxGhostLevel = 8
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		pieceLimitsPolicy(),
		scriptFiltersPolicy(),
		nodeNamingPolicy(),
	}
}

// pieceLimitsPolicy bounds the decomposition a terminal may request.
func pieceLimitsPolicy() Policy {
	return Policy{
		Name:        "piece-limits",
		Description: "Limits the number of pieces and the ghost level a pipeline may request",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"request", "limits"},
		Rego: `package gridflow.policies.pieces

import rego.v1

max_pieces := 4096

max_ghost := 8

deny contains violation if {
	input.request.pieces > max_pieces
	violation := {
		"message": sprintf("request for %d pieces exceeds the limit of %d", [input.request.pieces, max_pieces]),
	}
}

deny contains violation if {
	input.request.ghost > max_ghost
	violation := {
		"message": sprintf("ghost level %d exceeds the limit of %d", [input.request.ghost, max_ghost]),
	}
}

deny contains violation if {
	input.request.ghost > 0
	input.request.pieces == 1
	violation := {
		"message": "ghost levels have no effect on a single-piece request",
		"severity": "info",
	}
}
`,
	}
}

// scriptFiltersPolicy refuses filters that run user-supplied code unless
// the description opts in.
func scriptFiltersPolicy() Policy {
	return Policy{
		Name:        "script-filters",
		Description: "Script and WASM filters require allow_scripts",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"security"},
		Rego: `package gridflow.policies.scripts

import rego.v1

deny contains violation if {
	not input.allow_scripts
	some node in input.nodes
	node.script
	violation := {
		"message": sprintf("node %s runs user-supplied code (%s) but allow_scripts is not set", [node.name, node.type]),
		"node": node.name,
	}
}

deny contains violation if {
	input.allow_scripts
	some node in input.nodes
	node.script
	not node.params.timeout_seconds
	violation := {
		"message": sprintf("script node %s has no timeout_seconds; the default applies", [node.name]),
		"node": node.name,
		"severity": "warning",
	}
}
`,
	}
}

// nodeNamingPolicy enforces node naming conventions.
func nodeNamingPolicy() Policy {
	return Policy{
		Name:        "node-naming",
		Description: "Node names are lowercase letters, digits and hyphens, starting with a letter",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package gridflow.policies.naming

import rego.v1

deny contains violation if {
	some node in input.nodes
	not regex.match("^[a-z][a-z0-9-]*$", node.name)
	violation := {
		"message": sprintf("node name '%s' must contain only lowercase letters, digits and hyphens, starting with a letter", [node.name]),
		"node": node.name,
	}
}

deny contains violation if {
	some node in input.nodes
	endswith(node.name, "-")
	violation := {
		"message": sprintf("node name '%s' must not end with a hyphen", [node.name]),
		"node": node.name,
	}
}

deny contains violation if {
	not regex.match("^[a-zA-Z0-9][a-zA-Z0-9_.-]*$", input.pipeline)
	violation := {
		"message": sprintf("pipeline name '%s' must start with a letter or digit and contain no spaces", [input.pipeline]),
	}
}
`,
	}
}
