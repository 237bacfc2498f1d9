package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod selects how a hop authenticates.
type AuthMethod string

const (
	// AuthMethodPassword also answers keyboard-interactive prompts, which
	// EOS sends instead of a password request once AAA is configured.
	AuthMethodPassword AuthMethod = "password"

	AuthMethodKey AuthMethod = "key"
)

// DefaultPort is the SSH port of the EOS management plane.
const DefaultPort = 22

// Credentials authenticate one hop.
type Credentials struct {
	User   string
	Method AuthMethod

	Password string

	// KeyPath must name the key explicitly; no default locations are tried.
	KeyPath       string
	KeyPassphrase string
}

func (c Credentials) validate() error {
	if c.User == "" {
		return errors.New("user is required")
	}
	switch c.Method {
	case AuthMethodPassword:
		if c.Password == "" {
			return errors.New("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.KeyPath == "" {
			return errors.New("key path is required for key authentication")
		}
	default:
		return fmt.Errorf("unsupported auth method %q", c.Method)
	}
	return nil
}

func (c Credentials) authMethods() ([]ssh.AuthMethod, error) {
	if c.Method == AuthMethodPassword {
		answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = c.Password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(c.Password), ssh.KeyboardInteractive(answer)}, nil
	}

	pem, err := os.ReadFile(c.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	var signer ssh.Signer
	if c.KeyPassphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.KeyPassphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", c.KeyPath, err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

// JumpHost is a bastion the switch is reached through.
type JumpHost struct {
	Host string
	Port int
	Credentials
}

// Address returns host:port of the jump host.
func (j *JumpHost) Address() string {
	return net.JoinHostPort(j.Host, strconv.Itoa(j.Port))
}

// Config describes the connection to one switch.
type Config struct {
	Host string
	Port int
	Credentials

	// KnownHostsPath is required when StrictHostKeyChecking is set. Without
	// strict checking any host key is accepted, which suits lab switches
	// that get reimaged.
	KnownHostsPath        string
	StrictHostKeyChecking bool

	// ConnectTimeout bounds dialing and the handshake of every hop.
	ConnectTimeout time.Duration

	// CommandTimeout bounds each Run and RunScript call.
	CommandTimeout time.Duration

	// KeepAliveInterval of zero disables keepalives. The connection is
	// closed after KeepAliveMisses unanswered ones in a row.
	KeepAliveInterval time.Duration
	KeepAliveMisses   int

	Jump *JumpHost
}

// NewConfig returns a password-authenticated config for host on port 22.
func NewConfig(host, user string) *Config {
	return &Config{
		Host:            host,
		Port:            DefaultPort,
		Credentials:     Credentials{User: user, Method: AuthMethodPassword},
		ConnectTimeout:  30 * time.Second,
		CommandTimeout:  2 * time.Minute,
		KeepAliveMisses: 3,
	}
}

// Validate checks the config without touching the network.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if !validPort(c.Port) {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if err := c.Credentials.validate(); err != nil {
		return err
	}
	if c.StrictHostKeyChecking && c.KnownHostsPath == "" {
		return errors.New("strict host key checking needs a known_hosts path")
	}
	if c.ConnectTimeout <= 0 || c.CommandTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.KeepAliveInterval > 0 && c.KeepAliveMisses < 1 {
		return errors.New("keepalive misses must be at least 1")
	}
	if j := c.Jump; j != nil {
		if j.Host == "" || !validPort(j.Port) {
			return fmt.Errorf("invalid jump host %q", j.Address())
		}
		if err := j.Credentials.validate(); err != nil {
			return fmt.Errorf("jump host: %w", err)
		}
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// Address returns host:port of the switch.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// hostKeyCallback is shared by the switch and the jump host.
func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !c.StrictHostKeyChecking {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return cb, nil
}
