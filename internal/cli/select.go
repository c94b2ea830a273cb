package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/replicate/internal/ir"
	"github.com/roach88/replicate/internal/selector"
)

// SelectResult is the outcome of a selection.
type SelectResult struct {
	Selection string         `json:"selection"`
	Fields    []string       `json:"fields"`
	State     map[string]any `json:"state"`
}

// NewSelectCommand creates the select command.
func NewSelectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select <selection> [state-file...]",
		Short: "Apply a field selection to a state object",
		Long: `Apply a field selection to one or more JSON state objects.

The selection is YAML or JSON. A mapping whose first entry is true is a
whitelist, one whose first entry is false a blacklist; a list is a
whitelist and {} selects nothing. Fields with absent values are never
selected. With several state files the selections are merged, later files
winning. Without files the state is read from stdin.

Examples:
  replicate select '{wow: true, very: true}' state.json
  replicate select '{secret: false}' < state.json
  replicate select '[wow]' base.json overlay.json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelect(rootOpts, args[0], args[1:], cmd)
		},
	}

	return cmd
}

func runSelect(opts *RootOptions, selection string, files []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	spec, err := selector.Parse(selection)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid selection", err)
	}
	formatter.VerboseLog("selection %s", spec)

	var states []ir.IRObject
	if len(files) == 0 {
		state, err := readState(cmd.InOrStdin())
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid state on stdin", err)
		}
		states = append(states, state)
	}
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to open state file", err)
		}
		state, err := readState(f)
		f.Close()
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInput, fmt.Sprintf("invalid state in %s", path), err)
		}
		states = append(states, state)
	}

	var selected ir.IRObject
	if len(states) == 1 {
		selected = selector.Select(spec, states[0])
	} else {
		selected = selector.MergeStates(spec, states...)
	}

	if opts.Format == "json" {
		state, _ := ir.ToAny(selected).(map[string]any)
		return formatter.Success(SelectResult{
			Selection: spec.String(),
			Fields:    selected.SortedKeys(),
			State:     state,
		})
	}
	return formatter.Success(canonical(selected))
}

func readState(r io.Reader) (ir.IRObject, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ir.UnmarshalIRObject(data)
}
