// Package ssh reaches the EOS CLI of a switch. Show commands run as exec
// requests, configuration sessions are fed to an interactive shell over
// stdin, and startup-config is fetched over SFTP. A switch behind a bastion
// is reached through one jump host.
package ssh

import (
	"context"
	"time"
)

// Transport is what a netconverge session needs from the connection.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error

	// Run executes one command in its own exec session.
	Run(ctx context.Context, cmd string) (stdout string, stderr string, err error)

	// RunScript feeds script to a CLI shell and returns what the device
	// printed once the shell hung up.
	RunScript(ctx context.Context, script string) (*ExecResult, error)

	// DownloadFile copies a file off the device flash.
	DownloadFile(ctx context.Context, remotePath, localPath string) (*FileTransferResult, error)
}

// ExecResult is the output of a shell session.
type ExecResult struct {
	Stdout string
	Stderr string

	// ExitCode is -1 when the CLI closed the channel without a status.
	ExitCode int

	Duration time.Duration
}

// FileTransferResult describes a finished download.
type FileTransferResult struct {
	Bytes int64

	// Checksum is the hex sha256 of the saved copy.
	Checksum string

	Duration time.Duration
}

// TransportError is a failure to talk to the device, as opposed to the
// device rejecting a command.
type TransportError struct {
	// Op is "connect", "connect-jump", "run", "run-script", "download" or
	// "disconnect".
	Op  string
	Err error

	// IsTemporary marks errors worth retrying on a fresh connection.
	IsTemporary bool

	// IsAuthError marks credentials the device or jump host refused.
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

func temporary(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err, IsTemporary: true}
}

func permanent(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}
