package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// Run executes cmd in its own exec session. When the CLI rejects the
// command its "% ..." text comes back on stderr alongside the error.
func (c *SSHClient) Run(ctx context.Context, cmd string) (string, string, error) {
	session, err := c.session("run")
	if err != nil {
		return "", "", err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	err = c.await(ctx, session, func() error { return session.Run(cmd) })
	c.logger.Debug().Str("command", cmd).Dur("duration", time.Since(start)).Err(err).Msg("run")

	out, errOut := strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String())
	if err != nil {
		return out, errOut, classify("run", err, errOut)
	}
	return out, errOut, nil
}

// RunScript starts a shell, writes script to its stdin and waits for the
// CLI to hang up. The EOS shell exits after the last line of input, often
// without an exit status; that is reported as ExitCode -1, not an error.
func (c *SSHClient) RunScript(ctx context.Context, script string) (*ExecResult, error) {
	session, err := c.session("run-script")
	if err != nil {
		return nil, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdin = strings.NewReader(script)
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	err = c.await(ctx, session, func() error {
		if err := session.Shell(); err != nil {
			return err
		}
		return session.Wait()
	})

	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	switch {
	case err == nil:
	case errors.As(err, &missing):
		result.ExitCode = -1
		err = nil
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
	default:
		result.ExitCode = -1
	}

	c.logger.Debug().
		Int("lines", strings.Count(script, "\n")).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Err(err).
		Msg("run-script")

	if err != nil {
		return result, classify("run-script", err, strings.TrimSpace(result.Stderr))
	}
	return result, nil
}

func (c *SSHClient) session(op string) (*ssh.Session, error) {
	client, err := c.conn(op)
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, temporary(op, fmt.Errorf("open session: %w", err))
	}
	return session, nil
}

// await runs fn and closes the session when ctx or the command timeout ends
// first.
func (c *SSHClient) await(ctx context.Context, session *ssh.Session, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = session.Close()
		return ctx.Err()
	}
}

// classify makes a non-zero exit a permanent error carrying the CLI's
// message; anything else broke the session and may be retried.
func classify(op string, err error, stderr string) error {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return permanent(op, fmt.Errorf("command exited with code %d: %s", exitErr.ExitStatus(), stderr))
	}
	return temporary(op, err)
}
