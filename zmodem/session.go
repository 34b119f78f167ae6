package zmodem

import (
	"context"
	"io"
	"os"
	path "path/filepath"
	"time"
)

// SessionRunner drives an Engine from a blocking reader/writer pair —
// a serial line, a pipe, stdin/stdout — translating the engine's
// low-level events into the richer file-transfer callbacks embedders
// expect (prompt-before-accept, progress, completion).
//
// It replaces the original pull-model Session, which drove dedicated
// blocking Sender/Receiver types directly; SessionRunner instead owns
// one push-model Engine and supplies the byte-at-a-time read loop the
// engine's ReceiveByte expects.
type SessionRunner struct {
	io     *zmodemIO
	writer io.Writer

	config    *Config
	callbacks *Callbacks
	ctx       context.Context
	logger    Logger
	fileio    FileIO

	engine *Engine

	destDir       string
	maxFiles      int
	filesReceived int

	sendFiles []FileDescriptor
	sendIdx   int

	recvDest string
	recvInfo FileDescriptor

	progress *ProgressTracker
	runErr   error
}

// Config holds session configuration.
type Config struct {
	Use32BitCRC   bool
	EscapeControl bool
	TurboEscape   bool

	// Timeout is in tenths of seconds, matching the reference tool's CLI.
	Timeout int

	BlockSize    int
	MaxBlockSize int

	// Attention is the ZSINIT attention string sent to the peer
	// (spec.md supplement: ZSINIT/attention string). Empty disables
	// the ZSINIT round-trip.
	Attention []byte

	ProgressInterval time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Use32BitCRC:      true,
		EscapeControl:    false,
		TurboEscape:      false,
		Timeout:          100,
		BlockSize:        1024 * 2,
		MaxBlockSize:     1024 * 8,
		Attention:        []byte{0x03, 0x8E, 0},
		ProgressInterval: 100 * time.Millisecond,
	}
}

// Option configures a SessionRunner.
type Option func(*SessionRunner)

// WithConfig sets the session configuration.
func WithConfig(config *Config) Option {
	return func(s *SessionRunner) { s.config = config }
}

// WithCallbacks sets the session callbacks.
func WithCallbacks(callbacks *Callbacks) Option {
	return func(s *SessionRunner) { s.callbacks = mergeCallbacks(callbacks) }
}

// WithContext sets the session context.
func WithContext(ctx context.Context) Option {
	return func(s *SessionRunner) { s.ctx = ctx }
}

// WithSessionLogger sets a logger for protocol debugging.
func WithSessionLogger(logger Logger) Option {
	return func(s *SessionRunner) { s.logger = logger }
}

// WithSessionFileIO overrides the default os-backed file shim.
func WithSessionFileIO(f FileIO) Option {
	return func(s *SessionRunner) { s.fileio = f }
}

// NewSession creates a new ZModem session runner over reader/writer.
func NewSession(reader ReaderWithTimeout, writer io.Writer, opts ...Option) *SessionRunner {
	s := &SessionRunner{
		writer:    writer,
		config:    DefaultConfig(),
		callbacks: defaultCallbacks(),
		ctx:       context.Background(),
		logger:    NoopLogger{},
		fileio:    osFileIO{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.io = newZmodemIO(reader, writer, 1, s.config.MaxBlockSize, s.config.Timeout)
	s.io.SetContext(s.ctx)

	s.engine = NewEngine(
		WithFileIO(s.fileio),
		WithEngineLogger(s.logger),
		WithAttention(s.config.Attention),
		WithEngineCallbacks(&EngineCallbacks{
			OnData: func(b []byte) { s.writer.Write(b) },
			OnProgress: func(pos uint32) {
				if s.progress != nil {
					s.progress.Update(int64(pos))
				}
			},
			OnError: func(msg string) {
				s.runErr = NewError(ErrProtocol, msg)
				s.callbacks.OnError(s.runErr, "engine")
			},
			OnAcceptFile:   s.onAcceptFile,
			OnCompleteFile: s.onCompleteFile,
			OnFileSkipped:  s.onFileSkipped,
		}),
	)

	return s
}

func (s *SessionRunner) onAcceptFile(info FileDescriptor) {
	if s.maxFiles > 0 && s.filesReceived >= s.maxFiles {
		s.engine.SkipFile()
		return
	}

	accept, err := s.callbacks.OnFilePrompt(info.Name, info.Size, info.Mode)
	if err != nil || !accept {
		s.engine.SkipFile()
		return
	}

	dest := path.Join(s.destDir, info.Name)
	var w WriteSeekCloser
	if s.callbacks.OnFileCreate != nil {
		sink, err := s.callbacks.OnFileCreate(dest, info.Size, info.Mode)
		if err != nil {
			s.engine.SkipFile()
			return
		}
		if wsc, ok := sink.(WriteSeekCloser); ok {
			w = wsc
		}
	}

	s.callbacks.OnFileStart(info.Name, info.Size, info.Mode)
	if s.progress != nil {
		s.progress.Start(info.Name, info.Size)
	}
	s.recvDest = dest
	s.recvInfo = info

	if w != nil {
		if err := s.engine.AcceptFileWriter(w); err != nil {
			s.engine.SkipFile()
		}
		return
	}
	if err := s.engine.AcceptFileAs(dest); err != nil {
		s.engine.SkipFile()
	}
}

// onCompleteFile fires on both the send and receive sides; it is
// routed by whether a send queue snapshot is active for this run.
func (s *SessionRunner) onCompleteFile() {
	if len(s.sendFiles) > 0 {
		fd := s.sendFiles[s.sendIdx]
		var duration time.Duration
		if s.progress != nil {
			duration = s.progress.Complete()
		}
		s.callbacks.OnFileComplete(fd.Name, fd.Size, duration)
		s.sendIdx++
		if s.sendIdx < len(s.sendFiles) {
			next := s.sendFiles[s.sendIdx]
			s.callbacks.OnFileStart(next.Name, next.Size, next.Mode)
			if s.progress != nil {
				s.progress.Start(next.Name, next.Size)
			}
		}
		return
	}

	if s.recvDest != "" {
		if err := os.Chmod(s.recvDest, s.recvInfo.Mode); err != nil {
			s.logger.Debug("chmod %s: %v", s.recvDest, err)
		}
		if !s.recvInfo.ModTime.IsZero() {
			if err := os.Chtimes(s.recvDest, s.recvInfo.ModTime, s.recvInfo.ModTime); err != nil {
				s.logger.Debug("chtimes %s: %v", s.recvDest, err)
			}
		}
	}

	if s.progress != nil {
		name, transferred, _, _, duration := s.progress.GetStats()
		s.callbacks.OnFileComplete(name, transferred, duration)
	}
	s.filesReceived++
	s.recvDest = ""
}

// onFileSkipped fires when the receiver declines the currently offered
// file (ZSKIP, spec.md supplement: ZSKIP-driven multi-file continuation).
func (s *SessionRunner) onFileSkipped(name string) {
	s.logger.Info("receiver skipped %s", name)
	if s.sendIdx < len(s.sendFiles) {
		s.sendIdx++
		if s.sendIdx < len(s.sendFiles) {
			next := s.sendFiles[s.sendIdx]
			s.callbacks.OnFileStart(next.Name, next.Size, next.Mode)
			if s.progress != nil {
				s.progress.Start(next.Name, next.Size)
			}
		}
	}
}

// pump drives the engine from the reader until the session returns to
// ModeNone, the context is cancelled, or the reader errors out.
func (s *SessionRunner) pump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		b, err := s.io.ReadByte()
		if err != nil {
			if s.engine.Mode() == ModeNone {
				return nil
			}
			return err
		}
		s.engine.ReceiveByte(b)
		if s.runErr != nil {
			return s.runErr
		}
		if s.engine.Mode() == ModeNone {
			return nil
		}
	}
}

// ReceiveFiles receives up to maxFiles files (0 = unlimited) into destDir.
func (s *SessionRunner) ReceiveFiles(ctx context.Context, destDir string, maxFiles int) error {
	if ctx == nil {
		ctx = s.ctx
	}
	s.destDir = destDir
	s.maxFiles = maxFiles
	s.filesReceived = 0
	s.sendFiles = nil
	s.sendIdx = 0
	s.progress = NewProgressTracker(s.callbacks.OnProgress, s.config.ProgressInterval)

	if err := s.engine.StartReceiving(); err != nil {
		return err
	}
	return s.pump(ctx)
}

// SendFiles sends the given absolute file paths.
func (s *SessionRunner) SendFiles(ctx context.Context, paths []string) error {
	if ctx == nil {
		ctx = s.ctx
	}
	s.progress = NewProgressTracker(s.callbacks.OnProgress, s.config.ProgressInterval)

	if err := s.engine.SetFiles(paths); err != nil {
		return err
	}
	s.sendFiles = s.engine.PendingFiles()
	s.sendIdx = 0
	if len(s.sendFiles) > 0 {
		first := s.sendFiles[0]
		s.callbacks.OnFileStart(first.Name, first.Size, first.Mode)
		s.progress.Start(first.Name, first.Size)
	}
	if err := s.engine.StartSending(); err != nil {
		return err
	}
	return s.pump(ctx)
}

// FileInfo holds information about a file to transfer, kept for
// callers that build their file list with os.Stat results already in hand.
type FileInfo struct {
	Filename string
	Info     os.FileInfo
}
