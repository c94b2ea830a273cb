package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/replicate/internal/ir"
	"github.com/roach88/replicate/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Find     string // field=value lookup over queryable fields
	Events   bool   // include the event journal
}

// InspectField is one persisted field.
type InspectField struct {
	Field     string `json:"field"`
	Value     any    `json:"value"`
	Seq       int64  `json:"seq"`
	Queryable bool   `json:"queryable,omitempty"`
	Hash      string `json:"hash"`
}

// InspectEvent is one journaled event.
type InspectEvent struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Seq  int64          `json:"seq"`
	Args map[string]any `json:"args"`
}

// InspectResult describes a store, one key of it, or a lookup.
type InspectResult struct {
	Keys    []string       `json:"keys,omitempty"`
	Key     string         `json:"key,omitempty"`
	LastSeq int64          `json:"last_seq,omitempty"`
	Fields  []InspectField `json:"fields,omitempty"`
	Events  []InspectEvent `json:"events,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect [key]",
		Short: "Show what a SQLite store holds",
		Long: `Show the keys of a SQLite store, the persisted fields of one key, or the
keys whose queryable field has a given value.

The store is the first sqlite replicator of replicate.yaml unless --db is
given. Values for --find are JSON; anything that does not parse as JSON is
taken as a string.

Examples:
  replicate inspect --db state.db
  replicate inspect --db state.db session-42 --events
  replicate inspect --db state.db --find owner=alice`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			}
			return runInspect(opts, key, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite store")
	cmd.Flags().StringVar(&opts.Find, "find", "", "find keys by queryable field (field=value)")
	cmd.Flags().BoolVar(&opts.Events, "events", false, "include the event journal of the key")

	return cmd
}

func runInspect(opts *InspectOptions, key string, cmd *cobra.Command) error {
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
	st, err := openStore(cfg, opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	defer st.Close()

	var result InspectResult
	switch {
	case opts.Find != "":
		field, value, err := parseLookup(opts.Find)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid --find", err)
		}
		result.Keys, err = st.FindKeys(ctx, field, value)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "lookup failed", err)
		}

	case key == "":
		result.Keys, err = st.Keys(ctx)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to list keys", err)
		}

	default:
		result, err = inspectKey(ctx, st, key, opts.Events)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read key", err)
		}
		if len(result.Fields) == 0 && len(result.Events) == 0 && result.LastSeq == 0 {
			return formatter.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("key %q not found", key), nil)
		}
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return outputInspectText(formatter, result)
}

func inspectKey(ctx context.Context, st *store.Store, key string, withEvents bool) (InspectResult, error) {
	result := InspectResult{Key: key}

	records, err := st.ReadFields(ctx, key)
	if err != nil {
		return result, err
	}
	for _, rec := range records {
		result.Fields = append(result.Fields, InspectField{
			Field:     rec.Field,
			Value:     ir.ToAny(rec.Value),
			Seq:       rec.Seq,
			Queryable: rec.Queryable,
			Hash:      rec.Hash,
		})
	}

	result.LastSeq, err = st.LastSeq(ctx, key)
	if err != nil {
		return result, err
	}

	if withEvents {
		events, err := st.ReadEvents(ctx, key)
		if err != nil {
			return result, err
		}
		for _, ev := range events {
			args, _ := ir.ToAny(ev.Args).(map[string]any)
			result.Events = append(result.Events, InspectEvent{ID: ev.ID, Type: ev.Type, Seq: ev.Seq, Args: args})
		}
	}
	return result, nil
}

// parseLookup splits field=value. The value is JSON when it parses, a
// string otherwise.
func parseLookup(s string) (string, ir.IRValue, error) {
	field, raw, ok := strings.Cut(s, "=")
	if !ok || field == "" {
		return "", nil, fmt.Errorf("want field=value, got %q", s)
	}
	if v, err := ir.UnmarshalIRValue([]byte(raw)); err == nil {
		return field, v, nil
	}
	return field, ir.IRString(raw), nil
}

func outputInspectText(f *OutputFormatter, result InspectResult) error {
	w := f.Writer
	if result.Key == "" {
		if len(result.Keys) == 0 {
			fmt.Fprintln(w, "No keys found.")
			return nil
		}
		for _, k := range result.Keys {
			fmt.Fprintln(w, k)
		}
		return nil
	}

	fmt.Fprintf(w, "Key: %s (last seq %d)\n", result.Key, result.LastSeq)
	for _, field := range result.Fields {
		name := field.Field
		if name == "" {
			name = "<state>"
		}
		marker := ""
		if field.Queryable {
			marker = " [queryable]"
		}
		value, err := ir.FromAny(field.Value)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s = %s (seq %d)%s\n", name, canonical(value), field.Seq, marker)
	}
	if len(result.Events) > 0 {
		fmt.Fprintf(w, "Events:\n")
		for _, ev := range result.Events {
			fmt.Fprintf(w, "  [%d] %s %s\n", ev.Seq, ev.Type, ev.ID)
		}
	}
	return nil
}
