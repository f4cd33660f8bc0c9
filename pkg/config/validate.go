package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks field constraints and the graph a description declares:
// unique node names, resolvable connections and an existing terminal.
// Defaults are applied first.
func Validate(d *Description) error {
	d.applyDefaults()

	var out ValidationErrors
	if err := validate.Struct(d); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate description: %w", err)
		}
		for _, fe := range fieldErrs {
			out = append(out, ValidationError{
				Path:     fe.Namespace(),
				Message:  fieldMessage(fe),
				Severity: "error",
			})
		}
	}

	seen := make(map[string]bool, len(d.Nodes))
	for i, n := range d.Nodes {
		if n.Name == "" {
			continue
		}
		if seen[n.Name] {
			out = append(out, ValidationError{
				Path:     fmt.Sprintf("nodes[%d].name", i),
				Message:  fmt.Sprintf("duplicate node name %q", n.Name),
				Severity: "error",
			})
		}
		seen[n.Name] = true
	}
	for i, n := range d.Nodes {
		for j, c := range n.Inputs {
			node, _, err := ParseRef(c.From)
			path := fmt.Sprintf("nodes[%d].inputs[%d].from", i, j)
			switch {
			case err != nil:
				out = append(out, ValidationError{Path: path, Message: err.Error(), Severity: "error"})
			case !seen[node]:
				out = append(out, ValidationError{Path: path, Message: fmt.Sprintf("unknown node %q", node), Severity: "error"})
			case node == n.Name:
				out = append(out, ValidationError{Path: path, Message: "node cannot feed itself", Severity: "error"})
			}
		}
	}
	if d.Terminal.Node != "" && !seen[d.Terminal.Node] {
		out = append(out, ValidationError{
			Path:     "terminal.node",
			Message:  fmt.Sprintf("unknown node %q", d.Terminal.Node),
			Severity: "error",
		})
	}

	if len(out) > 0 {
		return out
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	case "min", "max", "len":
		return fmt.Sprintf("violates %s=%s (got %v)", fe.Tag(), fe.Param(), fe.Value())
	case "ltfield":
		return fmt.Sprintf("must be less than %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
