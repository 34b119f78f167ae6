package zmodem

import (
	"context"
	"io"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHRunner wraps an SSH session for ZModem transfers over its
// stdin/stdout pipes, driving the remote sz/rz command and the local
// SessionRunner together.
type SSHRunner struct {
	*SessionRunner
	sshSession *ssh.Session
	stdin      io.WriteCloser
	stdout     io.Reader
	stderr     io.Reader
}

// NewSSHRunner creates a ZModem session runner from an already-dialed
// SSH session (session.NewSession plus auth is the caller's job).
func NewSSHRunner(sshSession *ssh.Session, opts ...Option) (*SSHRunner, error) {
	stdin, err := sshSession.StdinPipe()
	if err != nil {
		return nil, err
	}

	stdout, err := sshSession.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}

	stderr, err := sshSession.StderrPipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}

	reader := &sshReader{reader: stdout, timeout: 100}
	runner := NewSession(reader, stdin, opts...)

	return &SSHRunner{
		SessionRunner: runner,
		sshSession:    sshSession,
		stdin:         stdin,
		stdout:        stdout,
		stderr:        stderr,
	}, nil
}

// sshReader wraps an io.Reader to implement ReaderWithTimeout.
type sshReader struct {
	reader  io.Reader
	timeout int
}

func (r *sshReader) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

func (r *sshReader) SetTimeout(timeout int) {
	r.timeout = timeout
}

func (r *sshReader) SetReadDeadline(t time.Time) error {
	// SSH readers don't support deadlines, so reads through this
	// wrapper block without a timeout.
	return nil
}

// runRemote starts the given remote command, runs fn against the
// local session, then waits for the remote side to exit.
func (s *SSHRunner) runRemote(ctx context.Context, remoteCmd string, fn func() error) error {
	if err := s.sshSession.Start(remoteCmd); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- s.sshSession.Wait() }()

	err := fn()
	s.stdin.Close()

	select {
	case remoteErr := <-done:
		if err == nil {
			err = remoteErr
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	return err
}

// SendFiles starts the remote "rz --zmodem" and sends paths to it.
func (s *SSHRunner) SendFiles(ctx context.Context, paths []string) error {
	return s.runRemote(ctx, "rz --zmodem", func() error {
		return s.SessionRunner.SendFiles(ctx, paths)
	})
}

// ReceiveFiles starts the remote "rz --zmodem" and receives up to
// maxFiles files (0 = unlimited) into destDir.
func (s *SSHRunner) ReceiveFiles(ctx context.Context, destDir string, maxFiles int) error {
	return s.runRemote(ctx, "rz --zmodem", func() error {
		return s.SessionRunner.ReceiveFiles(ctx, destDir, maxFiles)
	})
}

// Close closes the SSH session and its pipes.
func (s *SSHRunner) Close() error {
	var first error
	if s.stdin != nil {
		if err := s.stdin.Close(); err != nil {
			first = err
		}
	}
	if s.sshSession != nil {
		if err := s.sshSession.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Stderr returns the remote command's stderr stream, for logging or
// diagnostics alongside the transfer.
func (s *SSHRunner) Stderr() io.Reader {
	return s.stderr
}
