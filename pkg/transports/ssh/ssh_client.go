package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

var _ Transport = (*SSHClient)(nil)

var errNotConnected = errors.New("not connected")

// SSHClient holds one connection to a switch, possibly tunnelled through a
// jump host. Every call opens its own session on the shared connection.
type SSHClient struct {
	cfg    *Config
	logger zerolog.Logger

	mu     sync.Mutex
	client *ssh.Client
	jump   *ssh.Client
	stop   chan struct{}
}

// Option configures an SSHClient.
type Option func(*SSHClient)

// WithLogger replaces the global zerolog logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *SSHClient) { c.logger = logger }
}

// NewSSHClient validates cfg and returns an unconnected client.
func NewSSHClient(cfg *Config, opts ...Option) (*SSHClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}

	c := &SSHClient{cfg: cfg, logger: log.Logger}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("address", cfg.Address()).Logger()
	return c, nil
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Connect dials the switch, through the jump host when one is configured.
// Calling it on a connected client is a no-op.
func (c *SSHClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	hostKeys, err := c.cfg.hostKeyCallback()
	if err != nil {
		return permanent("connect", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	dial := dialFunc((&net.Dialer{}).DialContext)
	var jump *ssh.Client
	if j := c.cfg.Jump; j != nil {
		jump, err = dialHop(ctx, dial, j.Address(), j.Credentials, hostKeys)
		if err != nil {
			return connectError("connect-jump", err)
		}
		dial = jump.DialContext
	}

	client, err := dialHop(ctx, dial, c.cfg.Address(), c.cfg.Credentials, hostKeys)
	if err != nil {
		if jump != nil {
			_ = jump.Close()
		}
		return connectError("connect", err)
	}

	c.client, c.jump = client, jump
	if c.cfg.KeepAliveInterval > 0 {
		c.stop = make(chan struct{})
		go c.keepAlive(client, c.stop)
	}

	c.logger.Info().Bool("via_jump_host", jump != nil).Msg("connected")
	return nil
}

// dialHop opens the TCP stream with dial and runs the SSH handshake on it.
func dialHop(ctx context.Context, dial dialFunc, addr string, creds Credentials, hostKeys ssh.HostKeyCallback) (*ssh.Client, error) {
	auth, err := creds.authMethods()
	if err != nil {
		return nil, err
	}

	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	// tunnelled streams do not support deadlines; ctx still bounds the dial
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	ncc, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            creds.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(ncc, chans, reqs), nil
}

// connectError marks refused credentials as permanent auth errors and
// everything else as temporary.
func connectError(op string, err error) *TransportError {
	if strings.Contains(err.Error(), "unable to authenticate") {
		return &TransportError{Op: op, Err: err, IsAuthError: true}
	}
	return temporary(op, err)
}

// keepAlive closes client once KeepAliveMisses keepalives in a row went
// unanswered, so the next session fails fast instead of hanging.
func (c *SSHClient) keepAlive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			misses++
			c.logger.Warn().Err(err).Int("misses", misses).Msg("keepalive unanswered")
			if misses >= c.cfg.KeepAliveMisses {
				c.logger.Error().Msg("switch stopped answering keepalives, closing connection")
				_ = client.Close()
				return
			}
			continue
		}
		misses = 0
	}
}

// Disconnect closes the connection and the jump host behind it.
func (c *SSHClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}

	err := c.client.Close()
	if c.jump != nil {
		_ = c.jump.Close()
	}
	c.client, c.jump = nil, nil
	c.logger.Debug().Msg("disconnected")

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return permanent("disconnect", err)
	}
	return nil
}

func (c *SSHClient) conn(op string) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, permanent(op, errNotConnected)
	}
	return c.client, nil
}
