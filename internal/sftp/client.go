// Package sftp copies the HPS image to the lab host over the session's
// SSH connection.
package sftp

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/acolita/de10boot/internal/ports"
)

const chunkSize = 32 * 1024

// Client wraps an SFTP client. It uses an existing SSH connection and
// starts the SFTP subsystem on first use.
type Client struct {
	sshConn    *ssh.Client
	sftpClient *sftp.Client
	mu         sync.Mutex
	closed     bool
}

// NewClient creates a client on an established SSH connection.
func NewClient(sshConn *ssh.Client) *Client {
	return &Client{sshConn: sshConn}
}

// ensureConnected initializes the SFTP client if not already done.
func (c *Client) ensureConnected() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("sftp client is closed")
	}
	if c.sftpClient != nil {
		return c.sftpClient, nil
	}
	if c.sshConn == nil {
		return nil, fmt.Errorf("ssh connection is nil")
	}

	client, err := sftp.NewClient(c.sshConn)
	if err != nil {
		return nil, fmt.Errorf("create sftp client: %w", err)
	}
	c.sftpClient = client
	return client, nil
}

// Close closes the SFTP client. The SSH connection stays open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.sftpClient != nil {
		err := c.sftpClient.Close()
		c.sftpClient = nil
		return err
	}
	return nil
}

// Upload copies the local file into remoteDir and returns its path on the
// lab host. The file is written under a temporary name and renamed, so
// quartus_pgm never sees a partial image.
func (c *Client) Upload(ctx context.Context, fsys ports.FileSystem, localPath, remoteDir string) (string, error) {
	client, err := c.ensureConnected()
	if err != nil {
		return "", err
	}

	data, err := fsys.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read local file: %w", err)
	}
	if err := client.MkdirAll(remoteDir); err != nil {
		return "", fmt.Errorf("create remote directory: %w", err)
	}

	remotePath := path.Join(remoteDir, filepath.Base(localPath))
	partial := remotePath + ".part"

	file, err := client.Create(partial)
	if err != nil {
		return "", fmt.Errorf("create remote file: %w", err)
	}
	for off := 0; off < len(data); off += chunkSize {
		if err := ctx.Err(); err != nil {
			file.Close()
			client.Remove(partial)
			return "", err
		}
		end := min(off+chunkSize, len(data))
		if _, err := file.Write(data[off:end]); err != nil {
			file.Close()
			client.Remove(partial)
			return "", fmt.Errorf("write remote file: %w", err)
		}
	}
	if err := file.Close(); err != nil {
		client.Remove(partial)
		return "", fmt.Errorf("close remote file: %w", err)
	}

	if _, err := client.Stat(remotePath); err == nil {
		if err := client.Remove(remotePath); err != nil {
			return "", fmt.Errorf("replace remote file: %w", err)
		}
	}
	if err := client.Rename(partial, remotePath); err != nil {
		return "", fmt.Errorf("rename remote file: %w", err)
	}
	return remotePath, nil
}

// Stager uploads the HPS image before each programming run.
type Stager struct {
	Client *Client
	FS     ports.FileSystem
	Dir    string // Lab host directory
	Logger *slog.Logger
}

// Stage uploads local and returns the lab host path to program.
func (s *Stager) Stage(ctx context.Context, local string) (string, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("uploading image to lab host", slog.String("image", local), slog.String("dir", s.Dir))

	remote, err := s.Client.Upload(ctx, s.FS, local, s.Dir)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", local, err)
	}
	logger.Info("image uploaded", slog.String("path", remote))
	return remote, nil
}
