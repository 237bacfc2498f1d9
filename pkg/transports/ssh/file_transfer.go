package ssh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
)

// DownloadFile copies remotePath off the device over SFTP. The copy is
// written to a temporary file beside localPath, readable only by the owner,
// and renamed into place once complete, so an interrupted backup leaves no
// truncated config behind.
func (c *SSHClient) DownloadFile(ctx context.Context, remotePath, localPath string) (*FileTransferResult, error) {
	client, err := c.conn("download")
	if err != nil {
		return nil, err
	}

	start := time.Now()
	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, temporary("download", fmt.Errorf("start sftp: %w", err))
	}
	defer sc.Close()

	src, err := sc.Open(remotePath)
	if err != nil {
		return nil, permanent("download", fmt.Errorf("open %s: %w", remotePath, err))
	}
	defer src.Close()

	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+".*")
	if err != nil {
		return nil, fmt.Errorf("create backup file: %w", err)
	}
	defer os.Remove(tmp.Name())

	sum := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, sum), &ctxReader{ctx: ctx, r: src})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, temporary("download", fmt.Errorf("copy %s: %w", remotePath, err))
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return nil, fmt.Errorf("save backup: %w", err)
	}

	result := &FileTransferResult{
		Bytes:    n,
		Checksum: hex.EncodeToString(sum.Sum(nil)),
		Duration: time.Since(start),
	}
	c.logger.Info().
		Str("remote", remotePath).
		Str("local", localPath).
		Int64("bytes", n).
		Dur("duration", result.Duration).
		Msg("downloaded")
	return result, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
