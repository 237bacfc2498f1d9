package eos

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openfroyo/netconverge/pkg/engine"
	"github.com/openfroyo/netconverge/pkg/resource"
	"github.com/openfroyo/netconverge/pkg/telemetry"
	"github.com/openfroyo/netconverge/pkg/transports/ssh"
)

type fakeResponse struct {
	stdout string
	stderr string
	err    error
}

// fakeCLI is a Commander serving canned exec responses and recording scripts.
type fakeCLI struct {
	responses map[string]fakeResponse
	runs      []string
	scripts   []string

	// scriptOutput returns what the device prints for a script.
	scriptOutput func(script string) string
	scriptErr    error
}

func newFakeCLI() *fakeCLI {
	return &fakeCLI{responses: make(map[string]fakeResponse)}
}

func (f *fakeCLI) Run(ctx context.Context, cmd string) (string, string, error) {
	f.runs = append(f.runs, cmd)
	resp, ok := f.responses[cmd]
	if !ok {
		return "", "% Invalid input", &ssh.TransportError{Op: "run", Err: errors.New("command exited with code 1")}
	}
	return resp.stdout, resp.stderr, resp.err
}

func (f *fakeCLI) RunScript(ctx context.Context, script string) (*ssh.ExecResult, error) {
	f.scripts = append(f.scripts, script)
	if f.scriptErr != nil {
		return nil, f.scriptErr
	}
	out := ""
	if f.scriptOutput != nil {
		out = f.scriptOutput(script)
	}
	return &ssh.ExecResult{Stdout: out}, nil
}

func newTestDevice(cli *fakeCLI) *Device {
	return NewDevice(cli, telemetry.NewNopLogger(), WithSessionPrefix("test"))
}

const ethernet1JSON = `{
  "interfaces": {
    "Ethernet1": {
      "name": "Ethernet1",
      "interfaceStatus": "connected",
      "description": "uplink",
      "lineProtocolStatus": "up"
    }
  }
}`

const ethernet2JSON = `{
  "interfaces": {
    "Ethernet2": {
      "name": "Ethernet2",
      "interfaceStatus": "disabled",
      "description": ""
    }
  }
}`

const subinterfaceJSON = `{
  "interfaces": {
    "Ethernet1/1.100": {
      "interfaceStatus": "notconnect",
      "description": "tenant-a"
    }
  }
}`

const switchportJSON = `{
  "switchports": {
    "Ethernet3": {
      "enabled": true,
      "switchportInfo": {
        "mode": "trunk",
        "accessVlanId": 1,
        "trunkingNativeVlanId": 99,
        "trunkAllowedVlans": "10,20-30"
      }
    }
  }
}`

const routedPortJSON = `{
  "switchports": {
    "Ethernet4": {
      "enabled": false,
      "switchportInfo": {"mode": "routed"}
    }
  }
}`

const noVLANsSwitchportJSON = `{
  "switchports": {
    "Ethernet7": {
      "enabled": true,
      "switchportInfo": {
        "mode": "trunk",
        "accessVlanId": 1,
        "trunkingNativeVlanId": 1,
        "trunkAllowedVlans": "NONE"
      }
    }
  }
}`

const defaultSwitchportJSON = `{
  "switchports": {
    "Ethernet5": {
      "enabled": true,
      "switchportInfo": {
        "mode": "access",
        "accessVlanId": 1,
        "trunkingNativeVlanId": 1,
        "trunkAllowedVlans": "ALL"
      }
    }
  }
}`

func TestDeviceQuery(t *testing.T) {
	cli := newFakeCLI()
	cli.responses["show interfaces Ethernet1 | json"] = fakeResponse{stdout: ethernet1JSON}
	cli.responses["show running-config interfaces Ethernet1"] = fakeResponse{stdout: "interface Ethernet1\n"}
	cli.responses["show interfaces Ethernet99 | json"] = fakeResponse{
		stderr: "% Interface does not exist",
		err:    &ssh.TransportError{Op: "run", Err: errors.New("command exited with code 1")},
	}
	transportErr := &ssh.TransportError{Op: "run", Err: errors.New("connection reset"), IsTemporary: true}
	cli.responses["show interfaces Ethernet7 | json"] = fakeResponse{err: transportErr}

	device := newTestDevice(cli)
	ctx := context.Background()

	t.Run("json appends pipe", func(t *testing.T) {
		out, err := device.Query(ctx, "show interfaces Ethernet1", engine.FormatJSON)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != ethernet1JSON {
			t.Errorf("unexpected output: %s", out)
		}
	})

	t.Run("text is sent verbatim", func(t *testing.T) {
		out, err := device.Query(ctx, "show running-config interfaces Ethernet1", engine.FormatText)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "interface Ethernet1\n" {
			t.Errorf("unexpected output: %q", out)
		}
	})

	t.Run("missing resource maps to not found", func(t *testing.T) {
		_, err := device.Query(ctx, "show interfaces Ethernet99", engine.FormatJSON)
		if !errors.Is(err, engine.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("transport errors propagate unchanged", func(t *testing.T) {
		_, err := device.Query(ctx, "show interfaces Ethernet7", engine.FormatJSON)
		if err != transportErr {
			t.Errorf("expected the transport error itself, got %v", err)
		}
	})

	t.Run("rejected input is a command error", func(t *testing.T) {
		_, err := device.Query(ctx, "show bogus", engine.FormatText)
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) {
			t.Fatalf("expected *CommandError, got %T: %v", err, err)
		}
		if cmdErr.Messages[0] != "Invalid input" {
			t.Errorf("unexpected messages: %v", cmdErr.Messages)
		}
		var tErr *ssh.TransportError
		if !errors.As(err, &tErr) {
			t.Error("expected the transport error to stay reachable")
		}
		if errors.Is(err, engine.ErrNotFound) {
			t.Error("rejected input must not read as not found")
		}
	})
}

func TestDeviceApplyCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("stages and commits a session", func(t *testing.T) {
		cli := newFakeCLI()
		device := newTestDevice(cli)

		err := device.ApplyCommands(ctx, []string{"interface Ethernet1", "shutdown"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(cli.scripts) != 2 {
			t.Fatalf("expected stage and commit scripts, got %d", len(cli.scripts))
		}

		stage := strings.Split(strings.TrimSpace(cli.scripts[0]), "\n")
		if len(stage) != 5 {
			t.Fatalf("unexpected stage script: %q", cli.scripts[0])
		}
		if stage[0] != "enable" || !strings.HasPrefix(stage[1], "configure session test-") {
			t.Errorf("unexpected session preamble: %v", stage[:2])
		}
		if stage[2] != "interface Ethernet1" || stage[3] != "shutdown" || stage[4] != "end" {
			t.Errorf("unexpected staged commands: %v", stage[2:])
		}

		session := strings.TrimPrefix(stage[1], "configure session ")
		if !strings.Contains(cli.scripts[1], "configure session "+session+" commit") {
			t.Errorf("expected commit of %s, got %q", session, cli.scripts[1])
		}
	})

	t.Run("rejected line aborts the session", func(t *testing.T) {
		cli := newFakeCLI()
		cli.scriptOutput = func(script string) string {
			if strings.Contains(script, "bogus") {
				return "leaf1(config-s-test)#bogus\n% Invalid input (at token 0: 'bogus')\n"
			}
			return ""
		}
		device := newTestDevice(cli)

		err := device.ApplyCommands(ctx, []string{"interface Ethernet1", "bogus"})
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) {
			t.Fatalf("expected *CommandError, got %T: %v", err, err)
		}
		if !strings.HasPrefix(cmdErr.Session, "test-") {
			t.Errorf("expected session name on error, got %q", cmdErr.Session)
		}

		if len(cli.scripts) != 2 || !strings.HasSuffix(strings.TrimSpace(cli.scripts[1]), " abort") {
			t.Errorf("expected abort after rejection, got %q", cli.scripts)
		}
	})

	t.Run("empty list sends nothing", func(t *testing.T) {
		cli := newFakeCLI()
		if err := newTestDevice(cli).ApplyCommands(ctx, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cli.scripts) != 0 {
			t.Errorf("expected no scripts, got %d", len(cli.scripts))
		}
	})

	t.Run("line breaks are refused", func(t *testing.T) {
		cli := newFakeCLI()
		err := newTestDevice(cli).ApplyCommands(ctx, []string{"description a\nreload now"})
		if err == nil {
			t.Fatal("expected error for embedded line break")
		}
		if len(cli.scripts) != 0 {
			t.Errorf("expected no scripts, got %d", len(cli.scripts))
		}
	})

	t.Run("transport failure propagates", func(t *testing.T) {
		cli := newFakeCLI()
		cli.scriptErr = &ssh.TransportError{Op: "run-script", Err: errors.New("eof"), IsTemporary: true}
		err := newTestDevice(cli).ApplyCommands(ctx, []string{"interface Ethernet1"})
		var tErr *ssh.TransportError
		if !errors.As(err, &tErr) || !tErr.Temporary() {
			t.Errorf("expected temporary transport error, got %v", err)
		}
	})
}

func TestInterfaceProfileRead(t *testing.T) {
	cli := newFakeCLI()
	cli.responses["show interfaces Ethernet1 | json"] = fakeResponse{stdout: ethernet1JSON}
	cli.responses["show interfaces Ethernet2 | json"] = fakeResponse{stdout: ethernet2JSON}
	cli.responses["show interfaces Ethernet1/1.100 | json"] = fakeResponse{stdout: subinterfaceJSON}
	cli.responses["show interfaces Loopback9 | json"] = fakeResponse{stderr: "% Interface does not exist"}
	cli.responses["show interfaces Vlan10 | json"] = fakeResponse{stdout: `{"interfaces": {}}`}
	cli.responses["show interfaces Vlan20 | json"] = fakeResponse{stdout: `{"interfaces": `}

	profile := NewInterfaceProfile(newTestDevice(cli))
	ctx := context.Background()

	tests := []struct {
		name        string
		id          string
		admin       string
		description *string
		absent      bool
		wantErr     bool
	}{
		{name: "enabled with description", id: "Ethernet1", admin: "enable", description: resource.String("uplink")},
		{name: "disabled without description", id: "Ethernet2", admin: "disable"},
		{name: "dotted name", id: "Ethernet1/1.100", admin: "enable", description: resource.String("tenant-a")},
		{name: "not found", id: "Loopback9", absent: true},
		{name: "missing key", id: "Vlan10", absent: true},
		{name: "malformed response", id: "Vlan20", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := profile.Read(ctx, tt.id)
			switch {
			case tt.absent:
				if !errors.Is(err, engine.ErrAbsent) {
					t.Errorf("expected ErrAbsent, got %v", err)
				}
				return
			case tt.wantErr:
				if err == nil || errors.Is(err, engine.ErrAbsent) {
					t.Errorf("expected a hard error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			iface := rec.(*resource.Interface)
			if iface.Name != tt.id {
				t.Errorf("expected name %s, got %s", tt.id, iface.Name)
			}
			if resource.Deref(iface.Admin) != tt.admin {
				t.Errorf("expected admin %s, got %v", tt.admin, iface.Admin)
			}
			if (iface.Description == nil) != (tt.description == nil) ||
				resource.Deref(iface.Description) != resource.Deref(tt.description) {
				t.Errorf("expected description %v, got %v", tt.description, iface.Description)
			}
		})
	}
}

func TestSwitchportProfileRead(t *testing.T) {
	cli := newFakeCLI()
	cli.responses["show interfaces Ethernet3 switchport | json"] = fakeResponse{stdout: switchportJSON}
	cli.responses["show interfaces Ethernet4 switchport | json"] = fakeResponse{stdout: routedPortJSON}
	cli.responses["show interfaces Ethernet5 switchport | json"] = fakeResponse{stdout: defaultSwitchportJSON}
	cli.responses["show interfaces Ethernet7 switchport | json"] = fakeResponse{stdout: noVLANsSwitchportJSON}

	profile := NewSwitchportProfile(newTestDevice(cli))
	ctx := context.Background()

	rec, err := profile.Read(ctx, "Ethernet3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := resource.Values(rec)
	want := map[string]string{
		"name":                "Ethernet3",
		"mode":                "trunk",
		"access_vlan":         "1",
		"trunk_native_vlan":   "99",
		"trunk_allowed_vlans": "10,20-30",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("expected %s=%q, got %q", k, v, got[k])
		}
	}

	if _, err := profile.Read(ctx, "Ethernet4"); !errors.Is(err, engine.ErrAbsent) {
		t.Errorf("expected routed port to read as absent, got %v", err)
	}

	rec, err = profile.Read(ctx, "Ethernet5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v := resource.Values(rec)["trunk_allowed_vlans"]; v != "1-4094" {
		t.Errorf("expected ALL to read as 1-4094, got %q", v)
	}

	rec, err = profile.Read(ctx, "Ethernet7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v := resource.Values(rec)["trunk_allowed_vlans"]; v != resource.VLANListNone {
		t.Errorf("expected NONE to read as %s, got %q", resource.VLANListNone, v)
	}
	if err := resource.Validate(rec); err != nil {
		t.Errorf("expected the read record to validate, got %v", err)
	}

	if _, err := profile.Read(ctx, "Ethernet6"); errors.Is(err, engine.ErrAbsent) || err == nil {
		t.Errorf("expected rejected query to stay an error, got %v", err)
	}
}

func TestProfileCommands(t *testing.T) {
	iface := NewInterfaceProfile(nil)
	sw := NewSwitchportProfile(nil)

	tests := []struct {
		name string
		got  []string
		want []string
	}{
		{"interface create", iface.CreateCommands("Vlan10", resource.KindSVI), []string{"interface Vlan10"}},
		{"interface remove", iface.RemoveCommands("Loopback0", resource.KindLoopback), []string{"no interface Loopback0"}},
		{"interface default", iface.DefaultCommands("Ethernet1", resource.KindEthernet), []string{"default interface Ethernet1"}},
		{"switchport create", sw.CreateCommands("Ethernet1", resource.KindEthernet), []string{"interface Ethernet1", "no ip address", "switchport"}},
		{"switchport remove", sw.RemoveCommands("Port-Channel1", resource.KindPortChannel), []string{"interface Port-Channel1", "no switchport"}},
		{"switchport default", sw.DefaultCommands("Ethernet1", resource.KindEthernet), []string{"interface Ethernet1", "default switchport"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if strings.Join(tt.got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("expected %v, got %v", tt.want, tt.got)
			}
		})
	}

	if iface.Removable(resource.KindEthernet) {
		t.Error("physical interfaces must not be removable")
	}
	if !iface.Removable(resource.KindLoopback) || !iface.Removable(resource.KindSVI) {
		t.Error("virtual interfaces must be removable")
	}
	if !sw.Removable(resource.KindEthernet) {
		t.Error("switchports must be removable")
	}
	if iface.SelectCommand("Ethernet1") != "interface Ethernet1" {
		t.Errorf("unexpected select command %q", iface.SelectCommand("Ethernet1"))
	}
}

func TestCommandTablesCompile(t *testing.T) {
	desired := &resource.Switchport{
		Name:              "Ethernet1",
		Mode:              resource.String("trunk"),
		TrunkNativeVLAN:   resource.String("99"),
		TrunkAllowedVLANs: resource.String("10,20-30"),
	}

	cmds, err := engine.Compile(engine.Diff(desired, nil), desired, switchportCommands, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"switchport mode trunk",
		"default switchport access vlan",
		"switchport trunk native vlan 99",
		"switchport trunk allowed vlan 10,20-30",
	}
	if strings.Join(cmds, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, cmds)
	}

	for admin, want := range map[string]string{"enable": "no shutdown", "disable": "shutdown"} {
		rec := &resource.Interface{Name: "Ethernet1", Admin: resource.String(admin)}
		cmds, err := engine.Compile(engine.Changeset{{Name: "admin", Value: rec.Admin}}, rec, interfaceCommands, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cmds) != 1 || cmds[0] != want {
			t.Errorf("admin %s: expected %q, got %v", admin, want, cmds)
		}
	}

	if _, err := adminCommand(map[string]string{"admin": ""}); err == nil {
		t.Error("expected error for empty admin")
	}
}

func TestRunningConfigAtDefault(t *testing.T) {
	cli := newFakeCLI()
	cli.responses["show running-config interfaces Ethernet1"] = fakeResponse{stdout: "interface Ethernet1\n!\n"}
	cli.responses["show running-config interfaces Ethernet2"] = fakeResponse{stdout: "interface Ethernet2\n   description uplink\n   shutdown\n"}
	cli.responses["show running-config interfaces Vlan10"] = fakeResponse{stderr: "% Interface does not exist"}
	cli.responses["show running-config interfaces Ethernet3"] = fakeResponse{
		err: &ssh.TransportError{Op: "run", Err: errors.New("timeout"), IsTemporary: true},
	}

	checker := NewRunningConfigProbe(newTestDevice(cli))
	ctx := context.Background()

	tests := []struct {
		id      string
		want    bool
		wantErr bool
	}{
		{id: "Ethernet1", want: true},
		{id: "Ethernet2", want: false},
		{id: "Vlan10", want: true},
		{id: "Ethernet3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := checker.AtDefault(ctx, tt.id)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSwitchportAtDefault(t *testing.T) {
	cli := newFakeCLI()
	cli.responses["show running-config interfaces Ethernet1"] = fakeResponse{
		stdout: "interface Ethernet1\n   description uplink\n   mtu 9000\n!\n",
	}
	cli.responses["show running-config interfaces Ethernet2"] = fakeResponse{
		stdout: "interface Ethernet2\n   description uplink\n   switchport access vlan 10\n",
	}
	cli.responses["show running-config interfaces Ethernet3"] = fakeResponse{
		stdout: "interface Ethernet3\n   no switchport\n   ip address 10.0.0.1/31\n",
	}

	device := newTestDevice(cli)
	checker := NewProbe(device, NewSwitchportProfile(device))
	ctx := context.Background()

	for id, want := range map[string]bool{"Ethernet1": true, "Ethernet2": false, "Ethernet3": false} {
		got, err := checker.AtDefault(ctx, id)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", id, err)
		}
		if got != want {
			t.Errorf("%s: expected %v, got %v", id, want, got)
		}
	}

	// the interface family counts every line
	atDefault, err := NewProbe(device, NewInterfaceProfile(device)).AtDefault(ctx, "Ethernet1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atDefault {
		t.Error("expected a described interface not to be at default")
	}
}

func TestSwitchportEquivalentVLANsConverge(t *testing.T) {
	cli := newFakeCLI()
	cli.responses["show interfaces Ethernet3 switchport | json"] = fakeResponse{stdout: switchportJSON}
	cli.responses["show interfaces Ethernet5 switchport | json"] = fakeResponse{stdout: defaultSwitchportJSON}
	cli.responses["show interfaces Ethernet7 switchport | json"] = fakeResponse{stdout: noVLANsSwitchportJSON}

	device := newTestDevice(cli)
	profile := NewSwitchportProfile(device)
	controller := engine.NewController(device, profile, NewProbe(device, profile), telemetry.NewNopLogger())

	tests := []struct {
		name    string
		desired *resource.Switchport
	}{
		{
			name: "leading zero and spaces",
			desired: &resource.Switchport{
				Name:              "Ethernet3",
				Mode:              resource.String("trunk"),
				TrunkNativeVLAN:   resource.String("099"),
				TrunkAllowedVLANs: resource.String("10, 20-30"),
			},
		},
		{
			name: "unsorted and split ranges",
			desired: &resource.Switchport{
				Name:              "Ethernet3",
				AccessVLAN:        resource.String("001"),
				TrunkAllowedVLANs: resource.String("20-25,26-30,10"),
			},
		},
		{
			name:    "ALL keyword",
			desired: &resource.Switchport{Name: "Ethernet5", TrunkAllowedVLANs: resource.String("all")},
		},
		{
			name:    "NONE keyword",
			desired: &resource.Switchport{Name: "Ethernet7", TrunkAllowedVLANs: resource.String("NONE")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli.scripts = nil
			result, err := controller.Reconcile(context.Background(), &engine.Request{
				Name:    tt.desired.Name,
				Desired: tt.desired,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Changed || len(result.Commands) != 0 {
				t.Errorf("expected no change, got %v", result.Commands)
			}
			if len(cli.scripts) != 0 {
				t.Errorf("expected nothing applied, got %q", cli.scripts)
			}
		})
	}
}

func TestInterfaceEmptyDescriptionRejected(t *testing.T) {
	cli := newFakeCLI()
	cli.responses["show interfaces Ethernet2 | json"] = fakeResponse{stdout: ethernet2JSON}

	device := newTestDevice(cli)
	controller := engine.NewController(device, NewInterfaceProfile(device), NewRunningConfigProbe(device), telemetry.NewNopLogger())

	for _, desc := range []string{"", "  ", "two\nlines"} {
		_, err := controller.Reconcile(context.Background(), &engine.Request{
			Name:    "Ethernet2",
			Desired: &resource.Interface{Name: "Ethernet2", Description: resource.String(desc)},
		})
		if !engine.IsPermanent(err) {
			t.Errorf("description %q: expected a validation error, got %v", desc, err)
		}
	}
	if len(cli.runs) != 0 || len(cli.scripts) != 0 {
		t.Errorf("expected no device traffic, got runs %q scripts %q", cli.runs, cli.scripts)
	}
}

func TestControllerOverDevice(t *testing.T) {
	cli := newFakeCLI()
	cli.responses["show interfaces Ethernet1 | json"] = fakeResponse{stdout: ethernet1JSON}

	device := newTestDevice(cli)
	controller := engine.NewController(device, NewInterfaceProfile(device), NewRunningConfigProbe(device), telemetry.NewNopLogger())

	result, err := controller.Reconcile(context.Background(), &engine.Request{
		Name: "Ethernet1",
		Desired: &resource.Interface{
			Name:  "Ethernet1",
			Admin: resource.String("disable"),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"interface Ethernet1", "shutdown"}
	if strings.Join(result.Commands, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, result.Commands)
	}
	if !result.Changed {
		t.Error("expected changed")
	}
	if len(cli.scripts) != 2 || !strings.Contains(cli.scripts[0], "interface Ethernet1\nshutdown\nend\n") {
		t.Errorf("unexpected scripts: %q", cli.scripts)
	}
}
