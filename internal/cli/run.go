package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/replicate/internal/ir"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	SessionOverrides

	// Wait bounds how long run waits for replicators to hydrate.
	Wait time.Duration

	// MetricsOut writes the Prometheus text exposition after the run.
	MetricsOut string
}

// RunResult is the outcome of a run.
type RunResult struct {
	Key        string         `json:"key"`
	Ready      bool           `json:"ready"`
	Dispatched int            `json:"dispatched"`
	Queued     int            `json:"queued"`
	State      map[string]any `json:"state"`
	Hash       string         `json:"hash"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [events-file]",
		Short: "Dispatch events through a replicated container",
		Long: `Dispatch a stream of events through a replicated container and print
the resulting state.

Events are read as JSON lines from the file, or from stdin when no file is
given. Each line is an object with a type and optional args, id and seq:

  {"type": "APPEND_WOW", "args": {"value": "!"}}

Blank lines and lines starting with # are skipped. Replicators come from
replicate.yaml; state loaded by them is in place before the first event
applies.

Examples:
  replicate run events.jsonl
  cat events.jsonl | replicate run --key session-42
  replicate run --definition app.cue --metrics-out metrics.prom events.jsonl`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			input := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to open events file", err)
				}
				defer f.Close()
				input = f
			}
			return runEvents(opts, input, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Definition, "definition", "", "CUE definition file or directory")
	cmd.Flags().StringVar(&opts.App, "app", "", "app to run when the definition declares several")
	cmd.Flags().StringVar(&opts.Key, "key", "", "store key (default from definition)")
	cmd.Flags().DurationVar(&opts.Wait, "wait", 10*time.Second, "how long to wait for hydration")
	cmd.Flags().StringVar(&opts.MetricsOut, "metrics-out", "", "write Prometheus metrics to this file")

	return cmd
}

func runEvents(opts *RunOptions, input io.Reader, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg, opts.Verbose)

	events, err := readEvents(input)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid events", err)
	}

	session, err := openSession(cfg, opts.SessionOverrides, logger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDefinition, "failed to start session", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.Error("error closing stores", "error", closeErr)
		}
	}()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := RunResult{Key: session.Coord.Key().Name}
	for _, ev := range events {
		queued, err := session.Coord.Dispatch(ctx, ev)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeGeneric,
				fmt.Sprintf("event %s (%s) failed", ev.Type, ev.ID), err)
		}
		result.Dispatched++
		if queued {
			result.Queued++
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.Wait)
	defer cancel()
	if err := session.Coord.WaitReady(waitCtx); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "replicators did not finish loading", err)
	}
	if err := session.Coord.FlushErr(); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "a queued event failed", err)
	}

	state := session.Coord.GetState()
	result.Ready = session.Coord.Ready()
	result.State, _ = ir.ToAny(state).(map[string]any)
	if result.Hash, err = ir.StateHash(state); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "failed to hash state", err)
	}

	formatter.VerboseLog("dispatched %d event(s), %d queued before ready", result.Dispatched, result.Queued)

	if opts.MetricsOut != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsOut, session.Registry); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to write metrics", err)
		}
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return formatter.Success(canonical(state))
}

// eventLine is one JSON line of an events stream.
type eventLine struct {
	Type string          `json:"type"`
	Args json.RawMessage `json:"args,omitempty"`
	ID   string          `json:"id,omitempty"`
	Seq  int64           `json:"seq,omitempty"`
}

// readEvents parses JSON-lines events. Events without id or seq are stamped
// by the coordinator.
func readEvents(r io.Reader) ([]ir.Event, error) {
	var events []ir.Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 || text[0] == '#' {
			continue
		}

		var el eventLine
		dec := json.NewDecoder(bytes.NewReader(text))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&el); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if el.Type == "" {
			return nil, fmt.Errorf("line %d: type is required", line)
		}
		if el.Seq < 0 {
			return nil, fmt.Errorf("line %d: seq must be positive", line)
		}

		args := ir.IRObject{}
		if len(el.Args) > 0 && string(el.Args) != "null" {
			parsed, err := ir.UnmarshalIRObject(el.Args)
			if err != nil {
				return nil, fmt.Errorf("line %d: args: %w", line, err)
			}
			args = parsed
		}

		ev := ir.NewEvent(el.Type, args)
		ev.ID = el.ID
		ev.Seq = el.Seq
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
