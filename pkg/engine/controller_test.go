package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/openfroyo/netconverge/pkg/resource"
	"github.com/openfroyo/netconverge/pkg/telemetry"
)

// mockDevice records every applied batch.
type mockDevice struct {
	applied  [][]string
	applyErr error
}

func (d *mockDevice) Query(ctx context.Context, command string, format Format) (string, error) {
	return "", errors.New("mock device does not answer queries")
}

func (d *mockDevice) ApplyCommands(ctx context.Context, commands []string) error {
	if d.applyErr != nil {
		return d.applyErr
	}
	d.applied = append(d.applied, append([]string(nil), commands...))
	return nil
}

// mockProfile serves successive reads from records; a nil entry reads as
// absent and the last entry repeats.
type mockProfile struct {
	family  resource.Family
	records []resource.Record
	readErr error
	reads   int
}

func (p *mockProfile) Family() resource.Family { return p.family }

func (p *mockProfile) Read(ctx context.Context, id string) (resource.Record, error) {
	if p.readErr != nil {
		return nil, p.readErr
	}
	i := p.reads
	p.reads++
	if len(p.records) == 0 {
		return nil, ErrAbsent
	}
	if i >= len(p.records) {
		i = len(p.records) - 1
	}
	if p.records[i] == nil {
		return nil, ErrAbsent
	}
	return p.records[i], nil
}

func (p *mockProfile) Commands() CommandTable {
	if p.family == resource.FamilySwitchport {
		return testSwitchportTable
	}
	return testInterfaceTable
}

func (p *mockProfile) SelectCommand(id string) string { return "interface " + id }

func (p *mockProfile) CreateCommands(id string, kind resource.Kind) []string {
	if p.family == resource.FamilySwitchport {
		return []string{"interface " + id, "no ip address", "switchport"}
	}
	return []string{"interface " + id}
}

func (p *mockProfile) Removable(kind resource.Kind) bool {
	return p.family == resource.FamilySwitchport || kind.Virtual()
}

func (p *mockProfile) RemoveCommands(id string, kind resource.Kind) []string {
	if p.family == resource.FamilySwitchport {
		return []string{"interface " + id, "no switchport"}
	}
	return []string{"no interface " + id}
}

func (p *mockProfile) DefaultCommands(id string, kind resource.Kind) []string {
	return []string{"default interface " + id}
}

type mockDefaults struct {
	atDefault bool
	err       error
	calls     int
}

func (p *mockDefaults) AtDefault(ctx context.Context, id string) (bool, error) {
	p.calls++
	return p.atDefault, p.err
}

type mockGuard struct {
	deny  error
	plans []*Plan
}

func (g *mockGuard) Check(ctx context.Context, plan *Plan) error {
	g.plans = append(g.plans, plan)
	return g.deny
}

func newTestController(device *mockDevice, profile *mockProfile, defaults *mockDefaults, opts ...Option) *Controller {
	if defaults == nil {
		defaults = &mockDefaults{}
	}
	return NewController(device, profile, defaults, telemetry.NewNopLogger(), opts...)
}

func TestReconcileWorkedExamples(t *testing.T) {
	t.Run("interface admin change", func(t *testing.T) {
		device := &mockDevice{}
		current := &resource.Interface{Name: "Ethernet1", Admin: str("enable"), Description: str("uplink")}
		profile := &mockProfile{family: resource.FamilyInterface, records: []resource.Record{current}}

		result, err := newTestController(device, profile, nil).Reconcile(context.Background(), &Request{
			Name:    "Ethernet1",
			Desired: &resource.Interface{Name: "Ethernet1", Admin: str("disable")},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []string{"interface Ethernet1", "shutdown"}
		if !reflect.DeepEqual(result.Commands, want) {
			t.Errorf("expected %v, got %v", want, result.Commands)
		}
		if !result.Changed || result.Created {
			t.Errorf("expected changed and not created, got %+v", result)
		}
		if len(device.applied) != 1 || !reflect.DeepEqual(device.applied[0], want) {
			t.Errorf("expected one batch %v, got %v", want, device.applied)
		}
	})

	t.Run("switchport creation with null defaults", func(t *testing.T) {
		device := &mockDevice{}
		created := &resource.Switchport{
			Name:              "Ethernet1",
			AccessVLAN:        str("1"),
			TrunkNativeVLAN:   str("1"),
			TrunkAllowedVLANs: str("1-4094"),
		}
		profile := &mockProfile{family: resource.FamilySwitchport, records: []resource.Record{nil, created}}

		result, err := newTestController(device, profile, nil).Reconcile(context.Background(), &Request{
			Name:          "Ethernet1",
			State:         StateConfigured,
			NullAsDefault: true,
			Desired: &resource.Switchport{
				Name:       "Ethernet1",
				Mode:       str("access"),
				AccessVLAN: str("10"),
			},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []string{
			"interface Ethernet1", "no ip address", "switchport",
			"interface Ethernet1",
			"switchport mode access",
			"switchport access vlan 10",
			"default switchport trunk native vlan",
			"default switchport trunk allowed vlan",
		}
		if !reflect.DeepEqual(result.Commands, want) {
			t.Errorf("expected %v, got %v", want, result.Commands)
		}
		if !result.Created || !result.Changed {
			t.Errorf("expected created and changed, got %+v", result)
		}
		if len(device.applied) != 2 {
			t.Errorf("expected creation and configure batches, got %v", device.applied)
		}
	})
}

func TestReconcileIdempotent(t *testing.T) {
	device := &mockDevice{}
	current := &resource.Interface{Name: "Ethernet1", Admin: str("disable"), Description: str("uplink")}
	profile := &mockProfile{family: resource.FamilyInterface, records: []resource.Record{current}}
	controller := newTestController(device, profile, nil)

	for _, nullAsDefault := range []bool{false, true} {
		result, err := controller.Reconcile(context.Background(), &Request{
			Name:          "Ethernet1",
			NullAsDefault: nullAsDefault,
			Desired:       &resource.Interface{Name: "Ethernet1", Admin: str("disable"), Description: str("uplink")},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Changed || len(result.Commands) != 0 {
			t.Errorf("expected no change, got %+v", result)
		}
		if result.Resource != current {
			t.Error("expected final read to be reported")
		}
	}

	if len(device.applied) != 0 {
		t.Errorf("expected device untouched, got %v", device.applied)
	}
}

func TestReconcileNullAsDefaultSkipsNullCurrent(t *testing.T) {
	device := &mockDevice{}
	current := &resource.Interface{Name: "Ethernet1", Admin: str("enable")}
	profile := &mockProfile{family: resource.FamilyInterface, records: []resource.Record{current}}

	result, err := newTestController(device, profile, nil).Reconcile(context.Background(), &Request{
		Name:          "Ethernet1",
		NullAsDefault: true,
		Desired:       &resource.Interface{Name: "Ethernet1", Admin: str("enable")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Changed {
		t.Errorf("null against null must not produce commands, got %v", result.Commands)
	}
}

func TestReconcileCreationGating(t *testing.T) {
	t.Run("physical interface absent", func(t *testing.T) {
		device := &mockDevice{}
		profile := &mockProfile{family: resource.FamilyInterface}

		_, err := newTestController(device, profile, nil).Reconcile(context.Background(), &Request{
			Name:    "Ethernet48",
			Desired: &resource.Interface{Name: "Ethernet48", Admin: str("enable")},
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if Code(err) != ErrCodeNotFound || !IsPermanent(err) {
			t.Errorf("expected permanent NOT_FOUND, got %v", err)
		}
		if !errors.Is(err, ErrNotFound) {
			t.Error("expected ErrNotFound in chain")
		}
		if len(device.applied) != 0 {
			t.Errorf("expected no commands, got %v", device.applied)
		}
	})

	t.Run("loopback absent is created", func(t *testing.T) {
		device := &mockDevice{}
		profile := &mockProfile{
			family:  resource.FamilyInterface,
			records: []resource.Record{nil, &resource.Interface{Name: "Loopback0", Admin: str("enable")}},
		}

		result, err := newTestController(device, profile, nil).Reconcile(context.Background(), &Request{
			Name:    "Loopback0",
			Desired: &resource.Interface{Name: "Loopback0", Description: str("router-id")},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []string{"interface Loopback0", "interface Loopback0", "description router-id"}
		if !reflect.DeepEqual(result.Commands, want) {
			t.Errorf("expected %v, got %v", want, result.Commands)
		}
		if !result.Created {
			t.Error("expected created")
		}
	})

	t.Run("still absent after creation", func(t *testing.T) {
		device := &mockDevice{}
		profile := &mockProfile{family: resource.FamilyInterface}

		_, err := newTestController(device, profile, nil).Reconcile(context.Background(), &Request{Name: "Vlan10"})
		var eerr *EngineError
		if !errors.As(err, &eerr) || eerr.Class != ErrorClassConflict {
			t.Errorf("expected conflict error, got %v", err)
		}
	})
}

func TestReconcileCheckMode(t *testing.T) {
	device := &mockDevice{}
	guard := &mockGuard{}
	profile := &mockProfile{family: resource.FamilySwitchport}

	result, err := newTestController(device, profile, nil, WithGuard(guard)).Reconcile(context.Background(), &Request{
		Name:          "Port-Channel10",
		CheckMode:     true,
		NullAsDefault: true,
		Desired: &resource.Switchport{
			Name:              "Port-Channel10",
			Mode:              str("trunk"),
			TrunkAllowedVLANs: str("10,20"),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"interface Port-Channel10", "no ip address", "switchport",
		"interface Port-Channel10",
		"switchport mode trunk",
		"switchport trunk allowed vlan 10,20",
	}
	if !reflect.DeepEqual(result.Commands, want) {
		t.Errorf("expected %v, got %v", want, result.Commands)
	}
	if !result.Changed || !result.Created {
		t.Errorf("expected reported change and creation, got %+v", result)
	}
	if len(device.applied) != 0 {
		t.Errorf("check mode must not apply, got %v", device.applied)
	}
	if len(guard.plans) != 2 || !guard.plans[0].CheckMode || guard.plans[0].Phase != PhaseCreate {
		t.Errorf("expected guard to see create and configure plans, got %+v", guard.plans)
	}
	if result.Resource != nil {
		t.Errorf("expected final read to report absent, got %v", result.Resource)
	}
}

func TestReconcileUnconfigured(t *testing.T) {
	tests := []struct {
		name      string
		family    resource.Family
		id        string
		records   []resource.Record
		atDefault bool
		want      []string
		checked    bool
	}{
		{
			name:    "virtual interface present",
			family:  resource.FamilyInterface,
			id:      "Vlan10",
			records: []resource.Record{&resource.Interface{Name: "Vlan10"}, nil},
			want:    []string{"no interface Vlan10"},
		},
		{
			name:   "virtual interface absent",
			family: resource.FamilyInterface,
			id:     "Loopback1",
			want:   nil,
		},
		{
			name:    "physical interface is defaulted",
			family:  resource.FamilyInterface,
			id:      "Ethernet1",
			records: []resource.Record{&resource.Interface{Name: "Ethernet1", Description: str("x")}},
			want:    []string{"default interface Ethernet1"},
			checked:  true,
		},
		{
			name:      "physical interface already default",
			family:    resource.FamilyInterface,
			id:        "Ethernet1",
			records:   []resource.Record{&resource.Interface{Name: "Ethernet1"}},
			atDefault: true,
			want:      nil,
			checked:    true,
		},
		{
			name:    "switchport present",
			family:  resource.FamilySwitchport,
			id:      "Ethernet2",
			records: []resource.Record{&resource.Switchport{Name: "Ethernet2", Mode: str("access")}, nil},
			want:    []string{"interface Ethernet2", "no switchport"},
		},
		{
			name:   "switchport absent",
			family: resource.FamilySwitchport,
			id:     "Ethernet2",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := &mockDevice{}
			defaults := &mockDefaults{atDefault: tt.atDefault}
			profile := &mockProfile{family: tt.family, records: tt.records}

			result, err := newTestController(device, profile, defaults).Reconcile(context.Background(), &Request{
				Name:  tt.id,
				State: StateUnconfigured,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(result.Commands, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, result.Commands)
			}
			if result.Changed != (len(tt.want) > 0) {
				t.Errorf("unexpected changed=%v", result.Changed)
			}
			if (defaults.calls > 0) != tt.checked {
				t.Errorf("unexpected default checks: %d", defaults.calls)
			}
		})
	}
}

func TestReconcileDefault(t *testing.T) {
	for _, atDefault := range []bool{true, false} {
		device := &mockDevice{}
		defaults := &mockDefaults{atDefault: atDefault}
		profile := &mockProfile{
			family:  resource.FamilySwitchport,
			records: []resource.Record{&resource.Switchport{Name: "Ethernet3", Mode: str("trunk")}},
		}

		result, err := newTestController(device, profile, defaults).Reconcile(context.Background(), &Request{
			Name:  "Ethernet3",
			State: StateDefault,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if atDefault && result.Changed {
			t.Errorf("expected no change at default, got %v", result.Commands)
		}
		if !atDefault && !reflect.DeepEqual(result.Commands, []string{"default interface Ethernet3"}) {
			t.Errorf("expected default command, got %v", result.Commands)
		}
	}

	t.Run("default check failure aborts", func(t *testing.T) {
		device := &mockDevice{}
		checkErr := errors.New("session closed")
		profile := &mockProfile{family: resource.FamilyInterface, records: []resource.Record{&resource.Interface{Name: "Ethernet1"}}}

		_, err := newTestController(device, profile, &mockDefaults{err: checkErr}).Reconcile(context.Background(), &Request{
			Name:  "Ethernet1",
			State: StateDefault,
		})
		if !errors.Is(err, checkErr) {
			t.Errorf("expected default check error, got %v", err)
		}
		if len(device.applied) != 0 {
			t.Errorf("expected no commands, got %v", device.applied)
		}
	})
}

func TestReconcileRejectsBeforeRead(t *testing.T) {
	tests := []struct {
		name   string
		family resource.Family
		req    *Request
		code   string
	}{
		{
			name:   "unknown interface type",
			family: resource.FamilyInterface,
			req:    &Request{Name: "Tunnel1"},
			code:   ErrCodeClassification,
		},
		{
			name:   "switchport on svi",
			family: resource.FamilySwitchport,
			req:    &Request{Name: "Vlan10"},
			code:   ErrCodeClassification,
		},
		{
			name:   "missing name",
			family: resource.FamilyInterface,
			req:    &Request{},
			code:   ErrCodeValidation,
		},
		{
			name:   "nil request",
			family: resource.FamilyInterface,
			req:    nil,
			code:   ErrCodeValidation,
		},
		{
			name:   "bad state",
			family: resource.FamilyInterface,
			req:    &Request{Name: "Ethernet1", State: "absent"},
			code:   ErrCodeValidation,
		},
		{
			name:   "invalid admin value",
			family: resource.FamilyInterface,
			req:    &Request{Name: "Ethernet1", Desired: &resource.Interface{Name: "Ethernet1", Admin: str("up")}},
			code:   ErrCodeValidation,
		},
		{
			name:   "invalid vlan",
			family: resource.FamilySwitchport,
			req:    &Request{Name: "Ethernet1", Desired: &resource.Switchport{Name: "Ethernet1", AccessVLAN: str("4095")}},
			code:   ErrCodeValidation,
		},
		{
			name:   "record of the wrong family",
			family: resource.FamilySwitchport,
			req:    &Request{Name: "Ethernet1", Desired: &resource.Interface{Name: "Ethernet1"}},
			code:   ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := &mockDevice{}
			profile := &mockProfile{family: tt.family}

			_, err := newTestController(device, profile, nil).Reconcile(context.Background(), tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if Code(err) != tt.code {
				t.Errorf("expected code %s, got %q (%v)", tt.code, Code(err), err)
			}
			if !IsPermanent(err) {
				t.Error("expected permanent error")
			}
			if profile.reads != 0 || len(device.applied) != 0 {
				t.Errorf("expected no device access, got %d reads and %v", profile.reads, device.applied)
			}
		})
	}
}

func TestReconcileReadErrorPropagates(t *testing.T) {
	readErr := errors.New("permission denied")
	profile := &mockProfile{family: resource.FamilyInterface, readErr: readErr}

	_, err := newTestController(&mockDevice{}, profile, nil).Reconcile(context.Background(), &Request{Name: "Vlan10"})
	if err != readErr {
		t.Errorf("expected read error unchanged, got %v", err)
	}
}

func TestReconcileApplyErrorPropagates(t *testing.T) {
	applyErr := errors.New("session aborted")
	device := &mockDevice{applyErr: applyErr}
	profile := &mockProfile{
		family:  resource.FamilyInterface,
		records: []resource.Record{&resource.Interface{Name: "Ethernet1", Admin: str("enable")}},
	}

	_, err := newTestController(device, profile, nil).Reconcile(context.Background(), &Request{
		Name:    "Ethernet1",
		Desired: &resource.Interface{Name: "Ethernet1", Admin: str("disable")},
	})
	if !errors.Is(err, applyErr) {
		t.Errorf("expected apply error, got %v", err)
	}
}

func TestReconcileGuardDenies(t *testing.T) {
	device := &mockDevice{}
	denied := NewPermanentError("denied by policy", nil).WithCode(ErrCodePolicyDenied)
	guard := &mockGuard{deny: denied}
	profile := &mockProfile{family: resource.FamilyInterface, records: []resource.Record{&resource.Interface{Name: "Vlan1"}}}

	_, err := newTestController(device, profile, nil, WithGuard(guard)).Reconcile(context.Background(), &Request{
		Name:  "Vlan1",
		State: StateUnconfigured,
	})
	if Code(err) != ErrCodePolicyDenied {
		t.Errorf("expected policy denial, got %v", err)
	}
	if len(device.applied) != 0 {
		t.Errorf("expected no commands, got %v", device.applied)
	}
	if len(guard.plans) != 1 || guard.plans[0].Phase != PhaseRemove || guard.plans[0].Kind != resource.KindSVI {
		t.Errorf("unexpected plan: %+v", guard.plans)
	}
}

func TestReconcileIdentifierOverride(t *testing.T) {
	device := &mockDevice{}
	profile := &mockProfile{
		family:  resource.FamilyInterface,
		records: []resource.Record{&resource.Interface{Name: "Ethernet1", Description: str("old")}},
	}

	result, err := newTestController(device, profile, nil).Reconcile(context.Background(), &Request{
		Name:       "uplink",
		Identifier: "Ethernet1",
		Desired:    &resource.Interface{Name: "ignored", Description: str("new")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"interface Ethernet1", "description new"}
	if !reflect.DeepEqual(result.Commands, want) {
		t.Errorf("expected %v, got %v", want, result.Commands)
	}
	if result.NewResource.ResourceName() != "uplink" {
		t.Errorf("expected desired record renamed to request name, got %s", result.NewResource.ResourceName())
	}
}

func TestReconcileWithTelemetry(t *testing.T) {
	metrics, err := telemetry.NewMetrics(telemetry.DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	tracing := telemetry.DefaultConfig().Tracing
	tracing.Enabled = true
	tracer, err := telemetry.NewTracer(tracing, "netconverge", "test", "test")
	if err != nil {
		t.Fatalf("failed to create tracer: %v", err)
	}
	defer tracer.Shutdown(context.Background())

	profile := &mockProfile{
		family:  resource.FamilyInterface,
		records: []resource.Record{&resource.Interface{Name: "Ethernet1", Admin: str("enable")}},
	}
	controller := newTestController(&mockDevice{}, profile, nil, WithMetrics(metrics), WithTracer(tracer))

	result, err := controller.Reconcile(context.Background(), &Request{
		Name:    "Ethernet1",
		Desired: &resource.Interface{Name: "Ethernet1", Admin: str("disable")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.TraceID) != 32 {
		t.Errorf("expected the result to carry the trace id, got %q", result.TraceID)
	}
	if _, err := controller.Reconcile(context.Background(), &Request{Name: "Tunnel1"}); err == nil {
		t.Fatal("expected classification error")
	}

	families, err := metrics.Registry().Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	found := make(map[string]bool)
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"netconverge_reconciles_total",
		"netconverge_commands_applied_total",
		"netconverge_errors_by_code_total",
	} {
		if !found[name] {
			t.Errorf("expected metric %s to be recorded", name)
		}
	}
}
