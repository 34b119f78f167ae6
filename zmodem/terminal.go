package zmodem

import (
	"context"
	"io"
	"sync"
)

// TerminalGateway wraps a terminal (or SSH) reader/writer pair,
// passing ordinary data through untouched while watching for a ZRINIT
// frame that marks the start of a ZMODEM transfer. It acts as
// middleware: the embedder reads/writes through the gateway as if it
// were the raw stream, and transfers are handled transparently when
// detected.
type TerminalGateway struct {
	reader io.Reader
	writer io.Writer

	config    *Config
	callbacks *Callbacks
	ctx       context.Context
	logger    Logger

	mu            sync.Mutex
	inZModem      bool
	scanBuffer    []byte
	maxScanBuffer int
}

// NewTerminalGateway creates a gateway over reader/writer that detects
// inbound ZMODEM transfers and runs them through a SessionRunner.
//
// Example:
//
//	gw := zmodem.NewTerminalGateway(sshStdout, sshStdin, zmodem.WithCallbacks(callbacks))
//	io.Copy(os.Stdout, gw.TerminalReader())
func NewTerminalGateway(reader io.Reader, writer io.Writer, opts ...Option) *TerminalGateway {
	tmp := &SessionRunner{
		config:    DefaultConfig(),
		callbacks: defaultCallbacks(),
		ctx:       context.Background(),
		logger:    NoopLogger{},
	}
	for _, opt := range opts {
		opt(tmp)
	}

	return &TerminalGateway{
		reader:        reader,
		writer:        writer,
		config:        tmp.config,
		callbacks:     tmp.callbacks,
		ctx:           tmp.ctx,
		logger:        tmp.logger,
		scanBuffer:    make([]byte, 0, 16),
		maxScanBuffer: 16,
	}
}

// TerminalReader returns an io.Reader that passes terminal output
// through, intercepting and handling ZMODEM transfers automatically.
func (t *TerminalGateway) TerminalReader() io.Reader { return t }

// TerminalWriter returns the pass-through writer for terminal input.
func (t *TerminalGateway) TerminalWriter() io.Writer { return t.writer }

// Read implements io.Reader, scanning passed-through data for the
// start of a ZMODEM transfer.
func (t *TerminalGateway) Read(p []byte) (int, error) {
	n, err := t.reader.Read(p)
	if n == 0 {
		return n, err
	}

	t.logger.Debug("TerminalGateway: read %d bytes", n)

	t.mu.Lock()
	start := t.findZRINITStart(p[:n])
	if start < 0 {
		t.scanBuffer = append(t.scanBuffer, p[:n]...)
		if len(t.scanBuffer) > t.maxScanBuffer {
			t.scanBuffer = t.scanBuffer[len(t.scanBuffer)-t.maxScanBuffer:]
		}
		start = t.findZRINITStart(t.scanBuffer)
		if start >= 0 {
			t.scanBuffer = append([]byte(nil), t.scanBuffer[start:]...)
		}
	} else {
		t.scanBuffer = append([]byte(nil), p[start:n]...)
	}
	t.mu.Unlock()

	if start < 0 {
		return n, err
	}

	t.logger.Info("ZMODEM transfer detected, remote is receiver")
	t.runTransfer()
	return t.reader.Read(p)
}

// findZRINITStart looks for a ZRINIT hex-header sequence (the only
// frame that should trigger an automatic transfer; other frame types
// such as ZFIN must not).
func (t *TerminalGateway) findZRINITStart(buf []byte) int {
	for i := 0; i+3 < len(buf); i++ {
		if buf[i] != ZPAD {
			continue
		}
		switch {
		case i+5 < len(buf) && buf[i+1] == ZPAD && buf[i+2] == ZDLE && buf[i+3] == ZHEX:
			if buf[i+4] == '0' && buf[i+5] == '1' {
				return i
			}
		case i+4 < len(buf) && buf[i+1] == ZPAD && buf[i+2] == ZHEX:
			if buf[i+3] == '0' && buf[i+4] == '1' {
				return i
			}
		}
	}
	return -1
}

// bufferedReader prepends a captured buffer ahead of the live reader,
// so bytes already consumed while scanning for the ZRINIT marker are
// not lost to the transfer's own decoder.
type bufferedReader struct {
	buffer []byte
	offset int
	reader io.Reader
}

func (br *bufferedReader) Read(p []byte) (int, error) {
	if br.offset < len(br.buffer) {
		n := copy(p, br.buffer[br.offset:])
		br.offset += n
		return n, nil
	}
	return br.reader.Read(p)
}

// runTransfer hands the stream to a fresh SessionRunner for the
// duration of one ZMODEM transfer. Since the remote already sent
// ZRINIT, the remote is the receiver, so the gateway plays the
// sender role and asks the embedder (via OnFileList) what to send.
func (t *TerminalGateway) runTransfer() {
	defer func() {
		t.mu.Lock()
		t.inZModem = false
		t.scanBuffer = t.scanBuffer[:0]
		t.mu.Unlock()
	}()

	t.mu.Lock()
	t.inZModem = true
	buffered := &bufferedReader{buffer: t.scanBuffer, reader: t.reader}
	t.mu.Unlock()

	reader := &sshReader{reader: buffered, timeout: t.config.Timeout}
	runner := NewSession(reader, t.writer,
		WithConfig(t.config),
		WithCallbacks(t.callbacks),
		WithContext(t.ctx),
		WithSessionLogger(t.logger),
	)

	var paths []string
	if t.callbacks.OnFileList != nil {
		files, err := t.callbacks.OnFileList()
		if err != nil {
			t.logger.Error("OnFileList error: %v", err)
		} else {
			paths = files
		}
	}

	if len(paths) == 0 {
		t.logger.Info("no files to send, declining transfer")
		runner.engine.DenySending()
		return
	}

	if err := runner.SendFiles(t.ctx, paths); err != nil {
		t.logger.Error("SendFiles error: %v", err)
	}
}
