package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/netconverge/pkg/resource"
	"github.com/openfroyo/netconverge/pkg/telemetry"
	"github.com/openfroyo/netconverge/pkg/transports/ssh"
)

// EnvPassword is consulted when the configuration carries no password.
const EnvPassword = "NETCONVERGE_PASSWORD"

// Config is the netconverge configuration file.
type Config struct {
	// Device holds the SSH settings of the managed switch.
	Device DeviceConfig `yaml:"device"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry *telemetry.Config `yaml:"telemetry"`

	// Journal configures the SQLite run journal.
	Journal JournalConfig `yaml:"journal"`

	// Policy configures the command guard.
	Policy PolicyConfig `yaml:"policy"`

	// Backup configures the startup-config backup taken before changes.
	Backup BackupConfig `yaml:"backup"`
}

// DeviceConfig holds the connection settings of the device.
type DeviceConfig struct {
	Host                  string          `yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Port                  int             `yaml:"port" validate:"min=1,max=65535"`
	User                  string          `yaml:"user" validate:"required"`
	AuthMethod            string          `yaml:"auth_method" validate:"oneof=password key"`
	Password              string          `yaml:"password" validate:"required_if=AuthMethod password"`
	PrivateKeyPath        string          `yaml:"private_key" validate:"required_if=AuthMethod key"`
	PrivateKeyPassphrase  string          `yaml:"private_key_passphrase"`
	KnownHostsPath        string          `yaml:"known_hosts" validate:"required_if=StrictHostKeyChecking true"`
	StrictHostKeyChecking bool            `yaml:"strict_host_key_checking"`
	ConnectTimeout        Duration        `yaml:"connect_timeout" validate:"gt=0"`
	CommandTimeout        Duration        `yaml:"command_timeout" validate:"gt=0"`
	KeepAliveInterval     Duration        `yaml:"keepalive_interval" validate:"gte=0"`
	SessionPrefix         string          `yaml:"session_prefix" validate:"required,alphanum"`
	JumpHost              *JumpHostConfig `yaml:"jump_host"`
}

// JumpHostConfig describes an optional bastion in front of the device.
type JumpHostConfig struct {
	Host           string `yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Port           int    `yaml:"port" validate:"min=1,max=65535"`
	User           string `yaml:"user" validate:"required"`
	AuthMethod     string `yaml:"auth_method" validate:"oneof=password key"`
	Password       string `yaml:"password" validate:"required_if=AuthMethod password"`
	PrivateKeyPath string `yaml:"private_key" validate:"required_if=AuthMethod key"`
}

// JournalConfig configures the run journal.
type JournalConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Path      string   `yaml:"path" validate:"required_if=Enabled true"`
	Retention Duration `yaml:"retention" validate:"gte=0"`
}

// PolicyConfig configures the Rego command guard.
type PolicyConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Paths         []string `yaml:"paths"`
	Environment   string   `yaml:"environment"`
	BulkThreshold int      `yaml:"bulk_threshold" validate:"min=1"`
}

// BackupConfig configures the startup-config backup.
type BackupConfig struct {
	Directory  string `yaml:"directory"`
	RemotePath string `yaml:"remote_path" validate:"required"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Device: DeviceConfig{
			Port:                  ssh.DefaultPort,
			AuthMethod:            string(ssh.AuthMethodPassword),
			KnownHostsPath:        filepath.Join(home, ".ssh", "known_hosts"),
			StrictHostKeyChecking: false,
			ConnectTimeout:        Duration(30 * time.Second),
			CommandTimeout:        Duration(2 * time.Minute),
			SessionPrefix:         "netconverge",
		},
		Telemetry: telemetry.DefaultConfig(),
		Journal: JournalConfig{
			Enabled:   true,
			Path:      filepath.Join(home, ".netconverge", "journal.db"),
			Retention: Duration(90 * 24 * time.Hour),
		},
		Policy: PolicyConfig{
			Enabled:       true,
			BulkThreshold: 50,
		},
		Backup: BackupConfig{
			RemotePath: "/mnt/flash/startup-config",
		},
	}
}

// Load reads a YAML configuration file over the defaults. Environment
// variables in the file are expanded. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if j := cfg.Device.JumpHost; j != nil && j.Port == 0 {
		j.Port = ssh.DefaultPort
	}

	return cfg, nil
}

// ApplyEnv fills secrets that are absent from the file.
func (c *Config) ApplyEnv() {
	if c.Device.Password == "" {
		c.Device.Password = os.Getenv(EnvPassword)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var msgs []string

	if err := resource.Validator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q check", yamlPath(fe.Namespace()), fe.Tag()))
		}
	}

	if c.Telemetry == nil {
		msgs = append(msgs, "telemetry: section is required")
	} else if err := c.Telemetry.Validate(); err != nil {
		msgs = append(msgs, "telemetry: "+err.Error())
	}

	if len(msgs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// SSHConfig converts the device section into a transport configuration.
func (c *Config) SSHConfig() *ssh.Config {
	d := c.Device
	cfg := ssh.NewConfig(d.Host, d.User)
	cfg.Port = d.Port
	cfg.Credentials = ssh.Credentials{
		User:          d.User,
		Method:        ssh.AuthMethod(d.AuthMethod),
		Password:      d.Password,
		KeyPath:       d.PrivateKeyPath,
		KeyPassphrase: d.PrivateKeyPassphrase,
	}
	cfg.KnownHostsPath = d.KnownHostsPath
	cfg.StrictHostKeyChecking = d.StrictHostKeyChecking
	cfg.ConnectTimeout = d.ConnectTimeout.Std()
	cfg.CommandTimeout = d.CommandTimeout.Std()
	cfg.KeepAliveInterval = d.KeepAliveInterval.Std()

	if j := d.JumpHost; j != nil {
		cfg.Jump = &ssh.JumpHost{
			Host: j.Host,
			Port: j.Port,
			Credentials: ssh.Credentials{
				User:     j.User,
				Method:   ssh.AuthMethod(j.AuthMethod),
				Password: j.Password,
				KeyPath:  j.PrivateKeyPath,
			},
		}
	}

	return cfg
}

// yamlPath turns a validator namespace such as Config.Device.SessionPrefix
// into the matching YAML key path.
func yamlPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = yamlKeys[p]
		if parts[i] == "" {
			parts[i] = strings.ToLower(p)
		}
	}
	return strings.Join(parts, ".")
}

var yamlKeys = map[string]string{
	"PrivateKeyPath":    "private_key",
	"KnownHostsPath":    "known_hosts",
	"JumpHost":          "jump_host",
	"AuthMethod":        "auth_method",
	"ConnectTimeout":    "connect_timeout",
	"CommandTimeout":    "command_timeout",
	"KeepAliveInterval": "keepalive_interval",
	"SessionPrefix":     "session_prefix",
	"BulkThreshold":     "bulk_threshold",
	"RemotePath":        "remote_path",
}
