package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/netconverge/pkg/config"
	"github.com/openfroyo/netconverge/pkg/engine"
	"github.com/openfroyo/netconverge/pkg/eos"
	"github.com/openfroyo/netconverge/pkg/policy"
	"github.com/openfroyo/netconverge/pkg/resource"
	"github.com/openfroyo/netconverge/pkg/stores"
	"github.com/openfroyo/netconverge/pkg/telemetry"
	"github.com/openfroyo/netconverge/pkg/transports/ssh"
)

// session holds everything one invocation wires together. Fields not needed
// by a command stay nil.
type session struct {
	cfg     *config.Config
	tel     *telemetry.Telemetry
	logger  *telemetry.Logger
	client  ssh.Transport
	device  *eos.Device
	guard   *policy.Engine
	journal stores.Store
}

// sessionNeeds selects the parts of a session a command opens.
type sessionNeeds struct {
	device  bool
	journal bool
	guard   bool
}

// loadConfig reads the configuration file, if any, and applies flag
// overrides and environment secrets.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if opts.host != "" {
		cfg.Device.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Device.Port = opts.port
	}
	if opts.user != "" {
		cfg.Device.User = opts.user
	}
	if opts.password != "" {
		cfg.Device.Password = opts.password
	}
	if opts.environment != "" {
		cfg.Policy.Environment = opts.environment
	}
	if opts.journalPath != "" {
		cfg.Journal.Path = opts.journalPath
	}
	if opts.noJournal {
		cfg.Journal.Enabled = false
	}
	if cfg.Telemetry != nil {
		if opts.metricsTextfile != "" {
			cfg.Telemetry.Metrics.Textfile = opts.metricsTextfile
		}
		if opts.verbose {
			cfg.Telemetry.Logging.Level = "debug"
		}
	}
	cfg.ApplyEnv()

	return cfg, nil
}

// openSession builds the session for a command. The device connection is
// opened last so that configuration problems never reach the switch.
func openSession(ctx context.Context, opts *globalOptions, needs sessionNeeds) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if needs.device {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	if cfg.Telemetry == nil {
		return nil, fmt.Errorf("invalid configuration: telemetry section is required")
	}
	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	s := &session{cfg: cfg, tel: tel, logger: tel.Logger}
	if cfg.Device.Host != "" {
		s.logger = tel.Logger.ForDevice(cfg.Device.Host)
	}

	if err := s.open(ctx, needs); err != nil {
		s.close(context.WithoutCancel(ctx))
		return nil, err
	}
	return s, nil
}

func (s *session) open(ctx context.Context, needs sessionNeeds) error {
	if needs.journal && s.cfg.Journal.Enabled {
		if err := s.openJournal(ctx); err != nil {
			return err
		}
	}
	if needs.guard && s.cfg.Policy.Enabled {
		if err := s.openGuard(ctx); err != nil {
			return err
		}
	}
	if needs.device {
		return s.connect(ctx)
	}
	return nil
}

func (s *session) openJournal(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.Journal.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: s.cfg.Journal.Path})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	s.journal = store
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	if retention := s.cfg.Journal.Retention.Std(); retention > 0 {
		n, err := store.DeleteRunsBefore(ctx, time.Now().UTC().Add(-retention))
		if err != nil {
			s.logger.WithError(err).Warn("failed to prune journal")
		} else if n > 0 {
			s.logger.Debugf("pruned %d journal runs older than %s", n, s.cfg.Journal.Retention)
		}
	}
	return nil
}

func (s *session) openGuard(ctx context.Context) error {
	environment := s.cfg.Policy.Environment
	if environment == "" {
		environment = s.cfg.Telemetry.Environment
	}

	guard, err := policy.NewEngine(
		s.logger.Component("policy").Zerolog(),
		policy.WithEnvironment(environment),
		policy.WithDevice(s.cfg.Device.Host),
		policy.WithBulkThreshold(s.cfg.Policy.BulkThreshold),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	s.guard = guard

	if len(s.cfg.Policy.Paths) > 0 {
		if err := guard.LoadPolicies(ctx, s.cfg.Policy.Paths); err != nil {
			return err
		}
	}
	return s.applyPolicyOverrides(ctx)
}

// applyPolicyOverrides reapplies the enable and disable choices stored in
// the journal. An override naming a policy that is no longer loaded is
// skipped.
func (s *session) applyPolicyOverrides(ctx context.Context) error {
	if s.journal == nil {
		return nil
	}
	overrides, err := s.journal.ListPolicyOverrides(ctx)
	if err != nil {
		return err
	}
	for _, o := range overrides {
		set := s.guard.DisablePolicy
		if o.Enabled {
			set = s.guard.EnablePolicy
		}
		if err := set(o.Name); err != nil {
			s.logger.WithField("policy", o.Name).Warn("journal override names an unknown policy")
		}
	}
	return nil
}

func (s *session) connect(ctx context.Context) error {
	client, err := ssh.NewSSHClient(s.cfg.SSHConfig(), ssh.WithLogger(s.logger.Component("ssh").Zerolog()))
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	s.client = client
	s.device = eos.NewDevice(client, s.logger,
		eos.WithDeviceMetrics(s.tel.Metrics),
		eos.WithSessionPrefix(s.cfg.Device.SessionPrefix),
	)
	return nil
}

// profile returns the profile of a resource family.
func (s *session) profile(family resource.Family) (engine.Profile, error) {
	switch family {
	case resource.FamilyInterface:
		return eos.NewInterfaceProfile(s.device), nil
	case resource.FamilySwitchport:
		return eos.NewSwitchportProfile(s.device), nil
	default:
		return nil, fmt.Errorf("unknown resource family %q", family)
	}
}

// controller builds the lifecycle controller of a resource family.
func (s *session) controller(family resource.Family) (*engine.Controller, error) {
	profile, err := s.profile(family)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithMetrics(s.tel.Metrics),
		engine.WithTracer(s.tel.Tracer),
	}
	if s.guard != nil {
		opts = append(opts, engine.WithGuard(s.guard))
	}
	return engine.NewController(s.device, profile, eos.NewProbe(s.device, profile), s.logger, opts...), nil
}

// startRun opens a journal entry. Without a journal it only mints the id.
func (s *session) startRun(ctx context.Context, run *stores.Run) string {
	run.ID = uuid.NewString()
	run.Device = s.cfg.Device.Host
	if s.journal == nil {
		return run.ID
	}
	if err := s.journal.CreateRun(ctx, run); err != nil {
		s.logger.WithError(err).Warn("failed to record run")
	}
	return run.ID
}

// finishRun completes a journal entry with the outcome of err.
func (s *session) finishRun(ctx context.Context, runID string, outcome *stores.RunOutcome, err error) {
	if s.journal == nil {
		return
	}
	if err != nil {
		msg := err.Error()
		outcome.Status = stores.RunStatusFailed
		outcome.Error = &msg
		if code := errorCode(err); code != "" {
			outcome.ErrorCode = &code
		}
	} else {
		outcome.Status = stores.RunStatusSucceeded
	}
	// the run context may already be cancelled
	if ferr := s.journal.FinishRun(context.WithoutCancel(ctx), runID, outcome); ferr != nil {
		s.logger.WithError(ferr).Warn("failed to finish run")
	}
}

// event appends a journal event to a run.
func (s *session) event(ctx context.Context, runID string, level stores.EventLevel, message string) {
	if s.journal == nil {
		return
	}
	if err := s.journal.AppendEvent(ctx, &stores.Event{RunID: runID, Level: level, Message: message}); err != nil {
		s.logger.WithError(err).Warn("failed to record event")
	}
}

// close releases the session. Errors are logged, never returned.
func (s *session) close(ctx context.Context) {
	var errs []error
	if s.guard != nil {
		errs = append(errs, s.guard.Close())
	}
	if s.client != nil {
		errs = append(errs, s.client.Disconnect())
	}
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	if s.tel != nil {
		errs = append(errs, s.tel.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("error during shutdown")
	}
}
