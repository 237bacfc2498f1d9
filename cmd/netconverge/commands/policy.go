package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/netconverge/pkg/engine"
	"github.com/openfroyo/netconverge/pkg/policy"
	"github.com/openfroyo/netconverge/pkg/resource"
	"github.com/openfroyo/netconverge/pkg/stores"
)

func newPolicyCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test the command guard",
		Long: `Inspect the policies that vet compiled command lists before they reach
the device. Builtin policies are always present; more are loaded from the
paths in the policy section of the configuration. Policies switched on or
off with enable and disable stay that way for every later run that uses the
same journal.`,
	}

	cmd.AddCommand(newPolicyListCommand(opts))
	cmd.AddCommand(newPolicyShowCommand(opts))
	cmd.AddCommand(newPolicyEvalCommand(opts))
	cmd.AddCommand(newPolicyToggleCommand(opts, true))
	cmd.AddCommand(newPolicyToggleCommand(opts, false))
	return cmd
}

func newPolicyListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List builtin and loaded policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			guard, s, err := openGuardSession(ctx, opts)
			if err != nil {
				return err
			}
			defer s.close(context.WithoutCancel(ctx))

			policies := guard.ListPolicies()
			if opts.jsonOutput {
				return render(cmd.OutOrStdout(), policies, true)
			}
			return writePolicyTable(cmd.OutOrStdout(), policies)
		},
	}
}

func newPolicyShowCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Print a policy with its Rego",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			guard, s, err := openGuardSession(ctx, opts)
			if err != nil {
				return err
			}
			defer s.close(context.WithoutCancel(ctx))

			p, err := guard.GetPolicy(args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), p, opts.jsonOutput)
		},
	}
}

// newPolicyToggleCommand builds "policy enable" and "policy disable". The
// choice is stored in the journal and reapplied whenever a later session
// opens the guard.
func newPolicyToggleCommand(opts *globalOptions, enable bool) *cobra.Command {
	verb, short := "disable", "Switch a policy off for later runs"
	if enable {
		verb, short = "enable", "Switch a policy on for later runs"
	}

	return &cobra.Command{
		Use:     verb + " NAME",
		Short:   short,
		Example: "  netconverge policy " + verb + " production-safety",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			guard, s, err := openGuardSession(ctx, opts)
			if err != nil {
				return err
			}
			defer s.close(context.WithoutCancel(ctx))

			if s.journal == nil {
				return fmt.Errorf("policy overrides are kept in the journal, which is disabled")
			}

			name := args[0]
			set := guard.DisablePolicy
			if enable {
				set = guard.EnablePolicy
			}
			if err := set(name); err != nil {
				return err
			}
			if err := s.journal.SetPolicyOverride(ctx, &stores.PolicyOverride{Name: name, Enabled: enable}); err != nil {
				return err
			}

			p, err := guard.GetPolicy(name)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return render(cmd.OutOrStdout(), p, true)
			}
			return writePolicyTable(cmd.OutOrStdout(), []policy.Policy{*p})
		},
	}
}

func newPolicyEvalCommand(opts *globalOptions) *cobra.Command {
	var (
		family   string
		phase    string
		check    bool
		commands []string
	)

	cmd := &cobra.Command{
		Use:   "eval NAME",
		Short: "Evaluate a command list against the policies",
		Long: `Evaluate a hand-written command list against every enabled policy
without contacting the device. The exit status is non-zero when a blocking
policy denies the list.`,
		Example: `  netconverge policy eval Vlan1 --phase remove --command "no interface Vlan1"

  netconverge policy eval Ethernet1 --environment production --phase default \
    --command "default interface Ethernet1"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := resource.Classify(resource.Family(family), args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			guard, s, err := openGuardSession(ctx, opts)
			if err != nil {
				return err
			}
			defer s.close(context.WithoutCancel(ctx))

			plan := &engine.Plan{
				Family:     resource.Family(family),
				Name:       args[0],
				Identifier: args[0],
				Kind:       kind,
				State:      engine.StateConfigured,
				Phase:      phase,
				CheckMode:  check,
				Commands:   commands,
			}
			if phase == engine.PhaseRemove {
				plan.State = engine.StateUnconfigured
			} else if phase == engine.PhaseDefault {
				plan.State = engine.StateDefault
			}

			result, err := guard.Evaluate(ctx, plan)
			if err != nil {
				return err
			}
			if err := render(cmd.OutOrStdout(), result, opts.jsonOutput); err != nil {
				return err
			}
			if !result.Allowed {
				return engine.NewPermanentError("command list denied by policy", nil).
					WithCode(engine.ErrCodePolicyDenied).
					WithResource(args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&family, "family", string(resource.FamilyInterface), "resource family: interface or switchport")
	cmd.Flags().StringVar(&phase, "phase", engine.PhaseConfigure, "plan phase: create, configure, remove or default")
	cmd.Flags().BoolVar(&check, "check", false, "evaluate as a check mode plan")
	cmd.Flags().StringArrayVar(&commands, "command", nil, "command of the list (repeatable)")
	return cmd
}

// openGuardSession opens a session holding the policy engine and, when
// enabled, the journal with its policy overrides. The engine is created even
// when the guard is disabled for reconcile runs.
func openGuardSession(ctx context.Context, opts *globalOptions) (*policy.Engine, *session, error) {
	s, err := openSession(ctx, opts, sessionNeeds{journal: true})
	if err != nil {
		return nil, nil, err
	}
	if err := s.openGuard(ctx); err != nil {
		s.close(ctx)
		return nil, nil, err
	}
	return s.guard, s, nil
}

func writePolicyTable(w io.Writer, policies []policy.Policy) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tSEVERITY\tENABLED\tSOURCE\tDESCRIPTION")
	for _, p := range policies {
		source := p.Source
		if source == "" {
			source = "builtin"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", p.Name, p.Severity, p.Enabled, source, p.Description)
	}
	return tw.Flush()
}
