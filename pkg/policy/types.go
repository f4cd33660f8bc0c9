package policy

import (
	"fmt"
	"strings"
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity refuse a pipeline.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a Rego module whose deny set lists violations.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	Description string `json:"description"`

	// Rego contains the policy source. It must define a deny set whose
	// members are strings or objects with message, and optionally node and
	// severity.
	Rego string `json:"rego"`

	// Severity applies to violations that do not carry their own.
	Severity Severity `json:"severity"`

	Enabled bool     `json:"enabled"`
	Tags    []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata, such as the source file.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Violation is one member of a policy's deny set.
type Violation struct {
	Policy   string         `json:"policy"`
	Node     string         `json:"node,omitempty"`
	Message  string         `json:"message"`
	Severity Severity       `json:"severity"`
	Details  map[string]any `json:"details,omitempty"`
}

func (v Violation) String() string {
	if v.Node != "" {
		return fmt.Sprintf("[%s] %s (node %s): %s", v.Severity, v.Policy, v.Node, v.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Policy, v.Message)
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	// Allowed is false when any blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations are the blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are the non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	// Errors lists policies that failed to evaluate.
	Errors []string `json:"errors,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Err summarizes the blocking violations, or returns nil when allowed.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	msgs := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		msgs[i] = v.String()
	}
	return fmt.Errorf("pipeline refused by policy: %s", strings.Join(msgs, "; "))
}

// Input is the document policies see as input.
type Input struct {
	Pipeline     string      `json:"pipeline"`
	Nodes        []NodeInput `json:"nodes"`
	Terminal     string      `json:"terminal"`
	Request      Request     `json:"request"`
	AllowScripts bool        `json:"allow_scripts"`
	Timestamp    time.Time   `json:"timestamp"`
}

// NodeInput describes one node to policies.
type NodeInput struct {
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Script bool           `json:"script"`
	Params map[string]any `json:"params"`
	Inputs []string       `json:"inputs"`
}

// Request is the terminal request as policies see it.
type Request struct {
	Mode   string `json:"mode"`
	Piece  int    `json:"piece"`
	Pieces int    `json:"pieces"`
	Ghost  int    `json:"ghost"`
	Extent []int  `json:"extent,omitempty"`
}
