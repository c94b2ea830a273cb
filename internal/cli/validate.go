package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/replicate/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool                       `json:"valid"`
	Definitions []string                   `json:"definitions"`
	Errors      []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [definition]",
		Short: "Validate app definitions",
		Long: `Validate CUE app definitions without running them.

Checks that every transition expression compiles, that rules only write
fields declared in the initial state, and that the replicate block names
known fields. The path defaults to the definition in replicate.yaml.

Exit codes:
  0 - All definitions valid
  1 - Validation errors found
  2 - Command error (definition not found or not loadable)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	if path == "" {
		cfg, err := loadConfig(opts)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
		}
		path = cfg.Definition
	}
	if path == "" {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "no definition given", nil)
	}

	defs, err := compiler.Load(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDefinition, "failed to load definition", err)
	}

	result := ValidationResult{Valid: true}
	for _, def := range defs {
		formatter.VerboseLog("Validating app: %s", def.Name)
		result.Definitions = append(result.Definitions, def.Name)
		result.Errors = append(result.Errors, compiler.Validate(def)...)
	}
	result.Valid = len(result.Errors) == 0

	if opts.Format == "json" {
		return outputValidateJSON(cmd, result)
	}
	return outputValidateText(cmd, result)
}

func outputValidateJSON(cmd *cobra.Command, result ValidationResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if !result.Valid {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    result.Errors[0].Code,
			Message: fmt.Sprintf("%d validation error(s)", len(result.Errors)),
			Details: result.Errors,
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("[%s] validation failed", result.Errors[0].Code))
	}
	return nil
}

func outputValidateText(cmd *cobra.Command, result ValidationResult) error {
	w := cmd.OutOrStdout()
	if result.Valid {
		fmt.Fprintf(w, "✓ All definitions valid (%d)\n", len(result.Definitions))
		return nil
	}

	fmt.Fprintf(w, "✗ %d validation error(s)\n", len(result.Errors))
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e.Error())
	}
	return NewExitError(ExitFailure, fmt.Sprintf("[%s] validation failed", result.Errors[0].Code))
}
