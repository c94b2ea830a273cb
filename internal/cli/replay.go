package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/replicate/internal/ir"
	"github.com/roach88/replicate/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database   string
	Definition string
	App        string
}

// ReplayMismatch is a persisted field that disagrees with the journal.
type ReplayMismatch struct {
	Field    string `json:"field"`
	Stored   any    `json:"stored"`
	Replayed any    `json:"replayed"` // null when the rebuilt state lacks the field
}

// ReplayKeyResult holds the replay result for a single key.
type ReplayKeyResult struct {
	Key        string           `json:"key"`
	Events     int              `json:"events"`
	LastSeq    int64            `json:"last_seq"`
	Consistent bool             `json:"consistent"`
	Mismatches []ReplayMismatch `json:"mismatches,omitempty"`
	Hash       string           `json:"hash"`
	State      map[string]any   `json:"state,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Keys          []ReplayKeyResult `json:"keys"`
	TotalKeys     int               `json:"total_keys"`
	AllConsistent bool              `json:"all_consistent"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [key]",
		Short: "Rebuild state from the event journal and verify it",
		Long: `Rebuild each key's state by replaying its journaled events through the
definition's transition rules, then compare it with the persisted fields.

Exit codes:
  0 - Every key is consistent
  1 - A persisted field disagrees with the replayed state
  2 - Command error (store not found, definition invalid, etc.)

Examples:
  replicate replay --db state.db
  replicate replay --db state.db session-42
  replicate replay --db state.db --definition app.cue --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			}
			return runReplay(opts, key, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite store")
	cmd.Flags().StringVar(&opts.Definition, "definition", "", "CUE definition file or directory")
	cmd.Flags().StringVar(&opts.App, "app", "", "app to replay when the definition declares several")

	return cmd
}

func runReplay(opts *ReplayOptions, key string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	ctx := context.Background()

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	if opts.Definition != "" {
		cfg.Definition = opts.Definition
	}
	if opts.App != "" {
		cfg.App = opts.App
	}

	def, rules, err := loadDefinition(cfg.Definition, cfg.App)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDefinition, "failed to load definition", err)
	}

	st, err := openStore(cfg, opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	defer st.Close()

	keys := []string{key}
	if key == "" {
		keys, err = st.Keys(ctx)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to list keys", err)
		}
	}

	result := ReplayResult{
		Keys:          make([]ReplayKeyResult, 0, len(keys)),
		TotalKeys:     len(keys),
		AllConsistent: true,
	}
	for _, k := range keys {
		formatter.VerboseLog("replaying %s", k)
		replayed, err := st.Replay(ctx, k, def.Initial, rules.Func())
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("failed to replay %s", k), err)
		}
		keyResult, err := toReplayKeyResult(replayed, opts.Verbose)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("failed to hash %s", k), err)
		}
		if !keyResult.Consistent {
			result.AllConsistent = false
		}
		result.Keys = append(result.Keys, keyResult)
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result)
}

// toReplayKeyResult reports r. The hash is that of the rebuilt state; it
// equals the hash printed by run while every run started from a fresh state
// or every field is replicated.
func toReplayKeyResult(r store.ReplayResult, withState bool) (ReplayKeyResult, error) {
	hash, err := ir.StateHash(r.State)
	if err != nil {
		return ReplayKeyResult{}, err
	}
	out := ReplayKeyResult{
		Hash:       hash,
		Key:        r.Key,
		Events:     r.Events,
		LastSeq:    r.LastSeq,
		Consistent: r.Consistent(),
	}
	for _, m := range r.Mismatches {
		out.Mismatches = append(out.Mismatches, ReplayMismatch{
			Field:    m.Field,
			Stored:   ir.ToAny(m.Stored),
			Replayed: ir.ToAny(m.Replayed),
		})
	}
	if withState {
		out.State, _ = ir.ToAny(r.State).(map[string]any)
	}
	return out, nil
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if !result.AllConsistent {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_REPLAY_MISMATCH",
			Message: "persisted state does not match the journal",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.AllConsistent {
		return NewExitError(ExitFailure, "replay mismatch")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult) error {
	w := cmd.OutOrStdout()

	if result.TotalKeys == 0 {
		fmt.Fprintln(w, "No keys found in store.")
		return nil
	}

	for _, k := range result.Keys {
		mark := "✓"
		if !k.Consistent {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s: %d event(s), last seq %d\n", mark, k.Key, k.Events, k.LastSeq)
		for _, m := range k.Mismatches {
			stored, _ := ir.FromAny(m.Stored)
			var replayed ir.IRValue
			if m.Replayed != nil {
				replayed, _ = ir.FromAny(m.Replayed)
			}
			fmt.Fprintf(w, "  %s: stored %s, replayed %s\n", m.Field, canonical(stored), canonical(replayed))
		}
		if k.State != nil {
			state, _ := ir.FromAny(k.State)
			fmt.Fprintf(w, "  state: %s\n", canonical(state))
		}
	}

	fmt.Fprintln(w)
	if !result.AllConsistent {
		fmt.Fprintln(w, "✗ Replay mismatch detected")
		return NewExitError(ExitFailure, "replay mismatch")
	}
	fmt.Fprintln(w, "✓ All keys consistent")
	return nil
}
