package transport

import (
	"context"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
)

// SFTPSession transfers files over the connection of a ShellSession.
type SFTPSession struct {
	mu     sync.Mutex
	client *sftp.Client
}

// OpenSFTP starts the sftp subsystem on shell's connection.
func OpenSFTP(shell *ShellSession) (*SFTPSession, error) {
	if shell == nil || shell.State() == StateClosed || shell.client == nil {
		return nil, ErrNotConnected
	}
	c, err := sftp.NewClient(shell.client)
	if err != nil {
		return nil, fmt.Errorf("start sftp: %w", err)
	}
	return &SFTPSession{client: c}, nil
}

// PutOptions modify a single PutContent.
type PutOptions struct {
	// Mode of the created file. Defaults to 0644.
	Mode    os.FileMode
	Timeout time.Duration
}

// PutContent writes data to remotePath, creating parent directories. A
// cancelled or timed out upload removes the partial file.
func (s *SFTPSession) PutContent(ctx context.Context, remotePath string, data []byte, opts PutOptions) error {
	if !s.mu.TryLock() {
		return ErrSessionBusy
	}
	defer s.mu.Unlock()
	if s.client == nil {
		return ErrNotConnected
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	mode := opts.Mode
	if mode == 0 {
		mode = 0o644
	}

	c := s.client
	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := c.MkdirAll(dir); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	f, err := c.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("create %s: %w", remotePath, err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.Write(data)
		done <- err
	}()
	select {
	case err = <-done:
	case <-ctx.Done():
		// Closing the handle fails the pending write.
		f.Close()
		c.Remove(remotePath)
		return fmt.Errorf("put %s: %w", remotePath, ctx.Err())
	}
	if err != nil {
		f.Close()
		c.Remove(remotePath)
		return fmt.Errorf("write %s: %w", remotePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", remotePath, err)
	}
	if err := c.Chmod(remotePath, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", remotePath, err)
	}
	return nil
}

// Close ends the sftp subsystem. The shell session stays open.
func (s *SFTPSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return ErrNotConnected
	}
	err := s.client.Close()
	s.client = nil
	return err
}
