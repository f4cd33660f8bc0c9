package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gridflow/gridflow/pkg/config"
	"github.com/gridflow/gridflow/pkg/filters"
	"github.com/gridflow/gridflow/pkg/policy"
)

// validationReport is printed by validate.
type validationReport struct {
	Path       string                   `json:"path"`
	Valid      bool                     `json:"valid"`
	Errors     []config.ValidationError `json:"errors,omitempty"`
	Violations []policy.Violation       `json:"violations,omitempty"`
	Warnings   []policy.Violation       `json:"warnings,omitempty"`
	Build      string                   `json:"build_error,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var noPolicies bool

	cmd := &cobra.Command{
		Use:   "validate <description>",
		Short: "Validate a pipeline description",
		Long: `Validate a pipeline description without running it.

This command checks:
  - CUE, YAML or JSON syntax
  - Schema conformance and field constraints
  - Node references and the terminal port
  - Policy compliance (OPA/rego)
  - That every node type exists and every connection is accepted`,
		Example: `  # Validate a description
  gridflow validate pipeline.cue

  # Validate with site policies
  gridflow validate --policies ./policies pipeline.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]
			report := &validationReport{Path: path}

			log.Debug().Str("path", path).Msg("Validating description")

			d, err := config.Load(path)
			if err != nil {
				var verrs config.ValidationErrors
				if !errors.As(err, &verrs) {
					return err
				}
				report.Errors = verrs
				return finishValidation(cmd.OutOrStdout(), report)
			}

			if !noPolicies {
				r, err := newRunner(ctx, d.Telemetry, "")
				if err != nil {
					return err
				}
				res, err := r.policies.Evaluate(ctx, d)
				r.close(ctx)
				if err != nil {
					return err
				}
				report.Violations = res.Violations
				report.Warnings = res.Warnings
			}

			if _, err := config.Build(d, filters.DefaultRegistry()); err != nil {
				report.Build = err.Error()
			}
			return finishValidation(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().BoolVar(&noPolicies, "no-policies", false, "skip policy evaluation")

	return cmd
}

func finishValidation(w io.Writer, r *validationReport) error {
	r.Valid = len(r.Errors) == 0 && len(r.Violations) == 0 && r.Build == ""

	if jsonOutput {
		if err := printJSON(w, r); err != nil {
			return err
		}
	} else {
		for _, e := range r.Errors {
			fmt.Fprintf(w, "error: %s\n", e.Error())
		}
		if r.Build != "" {
			fmt.Fprintf(w, "error: %s\n", r.Build)
		}
		for _, v := range r.Violations {
			fmt.Fprintf(w, "violation: %s\n", v.String())
		}
		for _, v := range r.Warnings {
			fmt.Fprintf(w, "warning: %s\n", v.String())
		}
		if r.Valid {
			fmt.Fprintf(w, "%s is valid\n", r.Path)
		}
	}

	if !r.Valid {
		return fmt.Errorf("%s is not valid", r.Path)
	}
	return nil
}
