package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/openfroyo/netconverge/pkg/config"
	"github.com/openfroyo/netconverge/pkg/engine"
	"github.com/openfroyo/netconverge/pkg/resource"
	"github.com/openfroyo/netconverge/pkg/stores"
)

// reconcileOptions are the flags shared by every reconcile form.
type reconcileOptions struct {
	state         string
	identifier    string
	nullAsDefault bool
	check         bool
	backupDir     string
	diff          bool
}

func (ro *reconcileOptions) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&ro.state, "state", "", "lifecycle state: configured, unconfigured or default")
	flags.StringVar(&ro.identifier, "identifier", "", "device identifier when it differs from the name")
	flags.BoolVar(&ro.nullAsDefault, "null-as-default", false, "reset unset attributes to the device default")
	flags.BoolVar(&ro.check, "check", false, "show the commands without applying them")
	flags.StringVar(&ro.backupDir, "backup-dir", "", "save startup-config here before applying changes (overrides config)")
	flags.BoolVar(&ro.diff, "diff", false, "print a unified diff of the resource")
}

// attributeFlags maps a command line flag to the attribute it sets.
type attributeFlags map[string]string

var (
	interfaceFlags = attributeFlags{
		"admin":       resource.AttrAdmin,
		"description": resource.AttrDescription,
	}
	switchportFlags = attributeFlags{
		"mode":          resource.AttrMode,
		"access-vlan":   resource.AttrAccessVLAN,
		"native-vlan":   resource.AttrTrunkNativeVLAN,
		"allowed-vlans": resource.AttrTrunkAllowedVLANs,
	}
)

// values returns the attributes whose flags were set. Unset flags leave the
// attribute null.
func (af attributeFlags) values(cmd *cobra.Command) (map[string]*string, error) {
	values := make(map[string]*string)
	for flag, attr := range af {
		if !cmd.Flags().Changed(flag) {
			continue
		}
		v, err := cmd.Flags().GetString(flag)
		if err != nil {
			return nil, err
		}
		values[attr] = resource.String(v)
	}
	return values, nil
}

// request assembles a reconcile request from flags.
func (ro *reconcileOptions) request(family resource.Family, name string, values map[string]*string) (*engine.Request, error) {
	state, err := engine.ParseState(ro.state)
	if err != nil {
		return nil, err
	}

	record, err := resource.New(family, name, values)
	if err != nil {
		return nil, err
	}
	if err := resource.Validate(record); err != nil {
		return nil, err
	}

	return &engine.Request{
		Name:          name,
		Identifier:    ro.identifier,
		State:         state,
		NullAsDefault: ro.nullAsDefault,
		CheckMode:     ro.check,
		Desired:       record,
	}, nil
}

func newReconcileCommand(opts *globalOptions) *cobra.Command {
	ro := &reconcileOptions{}
	var (
		file  string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Drive a resource to its desired state",
		Long: `Reconcile an interface or switchport with its desired state.

The desired state comes from flags (reconcile interface|switchport NAME) or
from a desired-state file (--file). Attributes that are not given are left
untouched unless --null-as-default resets them.

Every compiled command list passes the policy guard before it reaches the
device and is applied atomically in a configuration session.`,
		Example: `  # Reconcile from a desired-state file
  netconverge reconcile --file leaf1-et1.yaml

  # Re-run whenever the file changes
  netconverge reconcile --file leaf1-et1.yaml --watch

  # Preview the commands only
  netconverge reconcile --file leaf1-et1.yaml --check --diff`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required; use a subcommand to reconcile from flags")
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, opts, sessionNeeds{device: true, journal: true, guard: true})
			if err != nil {
				return err
			}
			defer s.close(context.WithoutCancel(ctx))

			if watch {
				return watchDesired(ctx, s, file, ro, opts, cmd.OutOrStdout())
			}

			desired, err := config.LoadDesired(file)
			if err != nil {
				return err
			}
			return reconcileDesired(ctx, s, desired, ro, opts, cmd.OutOrStdout())
		},
	}

	ro.bind(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "desired-state file")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "reconcile again whenever the file changes")

	cmd.AddCommand(newReconcileFamilyCommand(opts, resource.FamilyInterface, interfaceFlags,
		`  # Bring an interface up with a description
  netconverge reconcile interface Ethernet1 --admin enable --description uplink

  # Remove a loopback
  netconverge reconcile interface Loopback10 --state unconfigured`))
	cmd.AddCommand(newReconcileFamilyCommand(opts, resource.FamilySwitchport, switchportFlags,
		`  # Make Ethernet1 an access port in VLAN 10
  netconverge reconcile switchport Ethernet1 --mode access --access-vlan 10

  # Trunk with an allowed list, preview only
  netconverge reconcile switchport Ethernet2 --mode trunk --allowed-vlans 10,20-30 --check`))

	return cmd
}

func newReconcileFamilyCommand(opts *globalOptions, family resource.Family, af attributeFlags, example string) *cobra.Command {
	ro := &reconcileOptions{}

	cmd := &cobra.Command{
		Use:     string(family) + " NAME",
		Short:   fmt.Sprintf("Reconcile one %s from flags", family),
		Example: example,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := af.values(cmd)
			if err != nil {
				return err
			}
			req, err := ro.request(family, args[0], values)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, opts, sessionNeeds{device: true, journal: true, guard: true})
			if err != nil {
				return err
			}
			defer s.close(context.WithoutCancel(ctx))

			return runReconcile(ctx, s, family, req, ro, opts, cmd.OutOrStdout())
		},
	}

	ro.bind(cmd)
	switch family {
	case resource.FamilyInterface:
		cmd.Flags().String("admin", "", "administrative state: enable or disable")
		cmd.Flags().String("description", "", "interface description")
	case resource.FamilySwitchport:
		cmd.Flags().String("mode", "", "switchport mode: access or trunk")
		cmd.Flags().String("access-vlan", "", "access VLAN")
		cmd.Flags().String("native-vlan", "", "trunk native VLAN")
		cmd.Flags().String("allowed-vlans", "", "trunk allowed VLANs, e.g. 10,20-30, ALL or NONE")
	}

	return cmd
}

// reconcileDesired runs one desired-state file. Command line check and
// null-as-default flags add to what the file says.
func reconcileDesired(ctx context.Context, s *session, desired *config.Desired, ro *reconcileOptions, opts *globalOptions, out io.Writer) error {
	req, err := desired.Request()
	if err != nil {
		return err
	}
	req.CheckMode = req.CheckMode || ro.check
	req.NullAsDefault = req.NullAsDefault || ro.nullAsDefault
	if ro.identifier != "" {
		req.Identifier = ro.identifier
	}
	return runReconcile(ctx, s, desired.Family, req, ro, opts, out)
}

// runReconcile performs one journaled reconcile cycle and renders the result.
func runReconcile(ctx context.Context, s *session, family resource.Family, req *engine.Request, ro *reconcileOptions, opts *globalOptions, out io.Writer) error {
	runID := s.startRun(ctx, &stores.Run{
		Command:    "reconcile",
		Family:     string(family),
		Name:       req.Name,
		Identifier: req.ID(),
		State:      string(req.State),
		CheckMode:  req.CheckMode,
	})
	logger := s.logger.ForRun(runID).ForResource(string(family), req.ID())
	outcome := &stores.RunOutcome{Identifier: req.ID()}

	backupDir := ro.backupDir
	if backupDir == "" {
		backupDir = s.cfg.Backup.Directory
	}
	if !req.CheckMode && backupDir != "" {
		path, err := backupStartupConfig(ctx, s, backupDir)
		if err != nil {
			s.finishRun(ctx, runID, outcome, err)
			return fmt.Errorf("backup before reconcile failed: %w", err)
		}
		outcome.BackupPath = &path
		s.event(ctx, runID, stores.EventLevelInfo, "startup-config saved to "+path)
	}

	ctrl, err := s.controller(family)
	if err != nil {
		s.finishRun(ctx, runID, outcome, err)
		return err
	}

	result, err := ctrl.Reconcile(ctx, req)
	if err != nil {
		logger.WithError(err).Error("reconcile failed")
		s.finishRun(ctx, runID, outcome, err)
		return err
	}

	outcome.Changed = result.Changed
	outcome.Commands = result.Commands
	if result.TraceID != "" {
		s.event(ctx, runID, stores.EventLevelInfo, "trace "+result.TraceID)
	}
	switch {
	case !result.Changed:
		s.event(ctx, runID, stores.EventLevelInfo, "already converged")
	case req.CheckMode:
		s.event(ctx, runID, stores.EventLevelInfo, fmt.Sprintf("check mode: %d commands would be applied", len(result.Commands)))
	default:
		s.event(ctx, runID, stores.EventLevelInfo, fmt.Sprintf("applied %d commands", len(result.Commands)))
	}

	if !req.CheckMode {
		s.recordState(ctx, runID, family, req.ID(), result.Resource)
	}
	s.finishRun(ctx, runID, outcome, nil)

	logger.Infof("reconcile finished: changed=%t created=%t", result.Changed, result.Created)

	if ro.diff {
		diff, err := unifiedDiff(result.CurrentResource, diffTarget(req, result), "current", "result")
		if err != nil {
			return err
		}
		if _, err := io.WriteString(out, diff); err != nil {
			return err
		}
	}
	return render(out, result, opts.jsonOutput)
}

// diffTarget is the record the run leads to. In check mode nothing is read
// back, so the desired record stands in.
func diffTarget(req *engine.Request, result *engine.Result) resource.Record {
	if req.CheckMode && result.Changed {
		if req.State == engine.StateUnconfigured {
			return nil
		}
		return result.NewResource
	}
	return result.Resource
}

// recordState stores the record read after a run for later drift checks.
func (s *session) recordState(ctx context.Context, runID string, family resource.Family, id string, record resource.Record) {
	if s.journal == nil {
		return
	}
	// keyed by device identifier so that show compares like with like
	if record != nil {
		record = resource.Rename(record, id)
	}
	data, err := encodeRecord(record)
	if err == nil {
		err = s.journal.UpsertResourceState(ctx, &stores.ResourceState{
			Device:     s.cfg.Device.Host,
			Family:     string(family),
			Identifier: id,
			Record:     data,
			LastRunID:  runID,
		})
	}
	if err != nil {
		s.logger.WithError(err).Warn("failed to record resource state")
	}
}

// watchDesired reconciles the file once and again after each change until
// the context is cancelled. Failed runs are logged and do not end the watch.
func watchDesired(ctx context.Context, s *session, file string, ro *reconcileOptions, opts *globalOptions, out io.Writer) error {
	if err := s.tel.Metrics.StartMetricsServer(); err != nil {
		return err
	}
	if s.guard != nil && len(s.cfg.Policy.Paths) > 0 {
		if err := s.guard.Watch(ctx, s.cfg.Policy.Paths); err != nil {
			return err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// editors replace files on save, so watch the directory
	abs, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", file, err)
	}

	runOnce := func() {
		desired, err := config.LoadDesired(file)
		if err == nil {
			err = reconcileDesired(ctx, s, desired, ro, opts, out)
		}
		if err != nil {
			s.logger.WithError(err).Error("watched reconcile failed")
		}
	}

	runOnce()
	s.logger.Infof("watching %s for changes", file)

	const debounce = 500 * time.Millisecond
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			runOnce()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WithError(err).Warn("watcher error")
		}
	}
}
