package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/netconverge/pkg/stores"
	"github.com/openfroyo/netconverge/pkg/transports/ssh"
)

// backupResult is the rendered form of a backup run.
type backupResult struct {
	Remote   string `json:"remote" yaml:"remote"`
	Path     string `json:"path" yaml:"path"`
	Bytes    int64  `json:"bytes" yaml:"bytes"`
	Checksum string `json:"sha256" yaml:"sha256"`
	Duration string `json:"duration" yaml:"duration"`
}

func newBackupCommand(opts *globalOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Save the device startup-config",
		Long: `Copy the startup-config of the device to a local directory over SFTP.

Reconcile runs take the same backup before applying changes when a backup
directory is configured.`,
		Example: `  # Save startup-config into ./backups
  netconverge backup --dir ./backups

  # Use the directory from the config file
  netconverge -c netconverge.yaml backup`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, sessionNeeds{device: true, journal: true})
			if err != nil {
				return err
			}
			defer s.close(context.WithoutCancel(ctx))

			if dir == "" {
				dir = s.cfg.Backup.Directory
			}
			if dir == "" {
				return fmt.Errorf("no backup directory: pass --dir or set backup.directory")
			}

			runID := s.startRun(ctx, &stores.Run{Command: "backup"})
			path, transfer, err := downloadStartupConfig(ctx, s, dir)
			outcome := &stores.RunOutcome{}
			if err == nil {
				outcome.BackupPath = &path
			}
			s.finishRun(ctx, runID, outcome, err)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), &backupResult{
				Remote:   s.cfg.Backup.RemotePath,
				Path:     path,
				Bytes:    transfer.Bytes,
				Checksum: transfer.Checksum,
				Duration: transfer.Duration.String(),
			}, opts.jsonOutput)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "local backup directory (overrides config)")
	return cmd
}

// backupStartupConfig saves startup-config under dir and returns the path.
func backupStartupConfig(ctx context.Context, s *session, dir string) (string, error) {
	path, _, err := downloadStartupConfig(ctx, s, dir)
	return path, err
}

func downloadStartupConfig(ctx context.Context, s *session, dir string) (string, *ssh.FileTransferResult, error) {
	path := filepath.Join(dir, backupFileName(s.cfg.Device.Host, time.Now()))
	result, err := s.client.DownloadFile(ctx, s.cfg.Backup.RemotePath, path)
	if err != nil {
		return "", nil, err
	}
	s.logger.WithField("path", path).WithField("sha256", result.Checksum).Info("startup-config saved")
	return path, result, nil
}

// backupFileName names a backup after the device and the UTC time, e.g.
// leaf1.example.net-20260301T120000Z-startup-config.
func backupFileName(host string, at time.Time) string {
	host = strings.NewReplacer(":", "_", "/", "_").Replace(host)
	return fmt.Sprintf("%s-%s-startup-config", host, at.UTC().Format("20060102T150405Z"))
}
