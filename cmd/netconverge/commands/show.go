package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/netconverge/pkg/engine"
	"github.com/openfroyo/netconverge/pkg/resource"
	"github.com/openfroyo/netconverge/pkg/stores"
)

// showOutput is the rendered form of a show run.
type showOutput struct {
	Family     resource.Family `json:"family" yaml:"family"`
	Identifier string          `json:"identifier" yaml:"identifier"`
	Present    bool            `json:"present" yaml:"present"`
	Resource   resource.Record `json:"resource" yaml:"resource"`
	Drift      *driftReport    `json:"drift,omitempty" yaml:"drift,omitempty"`
}

// driftReport compares the device with the state recorded by the last
// reconcile of the resource.
type driftReport struct {
	Drifted    bool      `json:"drifted" yaml:"drifted"`
	LastRunID  string    `json:"last_run_id" yaml:"last_run_id"`
	RecordedAt time.Time `json:"recorded_at" yaml:"recorded_at"`
}

func newShowCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Read a resource from the device",
		Long: `Read the current state of an interface or switchport.

When the journal holds the state recorded by an earlier reconcile, the
output reports whether the device has drifted from it.`,
		Example: `  # Show an interface
  netconverge show interface Ethernet1

  # Show a switchport with the drift diff
  netconverge show switchport Ethernet1 --diff`,
	}

	cmd.AddCommand(newShowFamilyCommand(opts, resource.FamilyInterface))
	cmd.AddCommand(newShowFamilyCommand(opts, resource.FamilySwitchport))
	return cmd
}

func newShowFamilyCommand(opts *globalOptions, family resource.Family) *cobra.Command {
	var diff bool

	cmd := &cobra.Command{
		Use:   string(family) + " NAME",
		Short: fmt.Sprintf("Show one %s", family),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := resource.Classify(family, args[0]); err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, opts, sessionNeeds{device: true, journal: true})
			if err != nil {
				return err
			}
			defer s.close(context.WithoutCancel(ctx))

			return runShow(ctx, s, family, args[0], diff, opts.jsonOutput, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&diff, "diff", false, "print a unified diff against the recorded state")
	return cmd
}

func runShow(ctx context.Context, s *session, family resource.Family, id string, diff, jsonOut bool, out io.Writer) error {
	runID := s.startRun(ctx, &stores.Run{
		Command:    "show",
		Family:     string(family),
		Name:       id,
		Identifier: id,
	})
	outcome := &stores.RunOutcome{Identifier: id}

	profile, err := s.profile(family)
	if err != nil {
		s.finishRun(ctx, runID, outcome, err)
		return err
	}

	record, err := profile.Read(ctx, id)
	if errors.Is(err, engine.ErrAbsent) {
		record, err = nil, nil
	}
	if err != nil {
		s.finishRun(ctx, runID, outcome, err)
		return err
	}

	result := &showOutput{
		Family:     family,
		Identifier: id,
		Present:    record != nil,
		Resource:   record,
	}

	var recorded resource.Record
	if s.journal != nil {
		state, err := s.journal.GetResourceState(ctx, s.cfg.Device.Host, string(family), id)
		switch {
		case errors.Is(err, stores.ErrNotFound):
		case err != nil:
			s.finishRun(ctx, runID, outcome, err)
			return err
		default:
			current, err := encodeRecord(record)
			if err != nil {
				s.finishRun(ctx, runID, outcome, err)
				return err
			}
			result.Drift = &driftReport{
				Drifted:    stores.HashRecord(current) != state.Hash,
				LastRunID:  state.LastRunID,
				RecordedAt: state.UpdatedAt,
			}
			if result.Drift.Drifted {
				s.event(ctx, runID, stores.EventLevelWarning, "drift from state recorded by run "+state.LastRunID)
			}
			if recorded, err = decodeRecord(family, id, state.Record); err != nil {
				s.finishRun(ctx, runID, outcome, err)
				return err
			}
		}
	}
	s.finishRun(ctx, runID, outcome, nil)

	if diff && result.Drift != nil {
		text, err := unifiedDiff(recorded, record, "recorded", "device")
		if err != nil {
			return err
		}
		if _, err := io.WriteString(out, text); err != nil {
			return err
		}
	}
	return render(out, result, jsonOut)
}
