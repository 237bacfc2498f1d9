package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/netconverge/pkg/stores"
)

// runDetail is the rendered form of a single journal run.
type runDetail struct {
	Run    *stores.Run     `json:"run" yaml:"run"`
	Events []*stores.Event `json:"events" yaml:"events"`
}

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	var filter stores.RunFilter
	var status string

	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "List journaled runs",
		Long: `List the runs recorded in the journal, newest first, or show one run
with its events.`,
		Example: `  # Recent runs against one device
  netconverge history --device leaf1.example.net

  # Failed runs only
  netconverge history --status failed

  # One run with its events
  netconverge history 6f1c2a9e-4b8f-4a55-8d43-2c1f0e6b7a10`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openJournalSession(ctx, opts)
			if err != nil {
				return err
			}
			defer s.close(context.WithoutCancel(ctx))

			if len(args) == 1 {
				run, err := s.journal.GetRun(ctx, args[0])
				if err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				events, err := s.journal.GetEvents(ctx, run.ID)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), &runDetail{Run: run, Events: events}, opts.jsonOutput)
			}

			filter.Status = stores.RunStatus(status)
			runs, err := s.journal.ListRuns(ctx, filter)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return render(cmd.OutOrStdout(), runs, true)
			}
			return writeRunTable(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().StringVar(&filter.Device, "device", "", "only runs against this device")
	cmd.Flags().StringVar(&filter.Name, "name", "", "only runs for this resource name")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status: running, succeeded or failed")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum number of runs")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "number of runs to skip")

	cmd.AddCommand(newHistoryPruneCommand(opts))
	return cmd
}

func newHistoryPruneCommand(opts *globalOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:     "prune",
		Short:   "Delete old runs from the journal",
		Example: `  netconverge history prune --older-than 720h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			ctx := cmd.Context()
			s, err := openJournalSession(ctx, opts)
			if err != nil {
				return err
			}
			defer s.close(context.WithoutCancel(ctx))

			n, err := s.journal.DeleteRunsBefore(ctx, time.Now().UTC().Add(-olderThan))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d runs\n", n)
			return err
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "delete runs started before this age")
	return cmd
}

// openJournalSession opens a session whose only purpose is the journal.
func openJournalSession(ctx context.Context, opts *globalOptions) (*session, error) {
	s, err := openSession(ctx, opts, sessionNeeds{journal: true})
	if err != nil {
		return nil, err
	}
	if s.journal == nil {
		s.close(ctx)
		return nil, fmt.Errorf("the journal is disabled")
	}
	return s, nil
}

func writeRunTable(w io.Writer, runs []*stores.Run) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tCOMMAND\tDEVICE\tRESOURCE\tSTATUS\tCHANGED\tCOMMANDS")
	for _, r := range runs {
		resource := r.Name
		if r.Family != "" {
			resource = r.Family + " " + r.Name
		}
		status := string(r.Status)
		if r.CheckMode {
			status += " (check)"
		}
		if r.ErrorCode != nil {
			status += " " + strings.ToLower(*r.ErrorCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\t%d\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Command,
			r.Device,
			resource,
			status,
			r.Changed,
			len(r.Commands),
		)
	}
	return tw.Flush()
}
