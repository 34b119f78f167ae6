package zmodem

import "io"

// SessionMode is the transfer session's current role and phase
// (spec.md §3 "Transfer session state").
type SessionMode int

const (
	ModeNone SessionMode = iota
	ModeSending
	ModeSendingFin // sender emitted ZEOF, awaiting receiver ZRINIT to advance
	ModeReceiving
)

func (m SessionMode) String() string {
	switch m {
	case ModeSending:
		return "Sending"
	case ModeSendingFin:
		return "SendingFin"
	case ModeReceiving:
		return "Receiving"
	default:
		return "None"
	}
}

// EngineCallbacks are the events the transfer controller raises into
// its embedder. All fields are optional; a nil callback is a no-op.
// Grouping events into one struct with merge-over-defaults, rather
// than individual exported function fields set ad hoc, follows the
// same shape as the Callbacks type used elsewhere in this package.
type EngineCallbacks struct {
	OnData           func(data []byte)
	OnProgress       func(pos uint32)
	OnError          func(msg string)
	OnCompleteFile   func()
	OnReceiveRequest func()
	OnSendRequest    func()
	OnAcceptFile     func(info FileDescriptor)
	OnFinish         func()
	OnFileSkipped    func(name string)
}

func defaultEngineCallbacks() *EngineCallbacks {
	return &EngineCallbacks{
		OnData:           func([]byte) {},
		OnProgress:       func(uint32) {},
		OnError:          func(string) {},
		OnCompleteFile:   func() {},
		OnReceiveRequest: func() {},
		OnSendRequest:    func() {},
		OnAcceptFile:     func(FileDescriptor) {},
		OnFinish:         func() {},
		OnFileSkipped:    func(string) {},
	}
}

func mergeEngineCallbacks(user *EngineCallbacks) *EngineCallbacks {
	def := defaultEngineCallbacks()
	if user == nil {
		return def
	}
	result := *def
	if user.OnData != nil {
		result.OnData = user.OnData
	}
	if user.OnProgress != nil {
		result.OnProgress = user.OnProgress
	}
	if user.OnError != nil {
		result.OnError = user.OnError
	}
	if user.OnCompleteFile != nil {
		result.OnCompleteFile = user.OnCompleteFile
	}
	if user.OnReceiveRequest != nil {
		result.OnReceiveRequest = user.OnReceiveRequest
	}
	if user.OnSendRequest != nil {
		result.OnSendRequest = user.OnSendRequest
	}
	if user.OnAcceptFile != nil {
		result.OnAcceptFile = user.OnAcceptFile
	}
	if user.OnFinish != nil {
		result.OnFinish = user.OnFinish
	}
	if user.OnFileSkipped != nil {
		result.OnFileSkipped = user.OnFileSkipped
	}
	return &result
}

// zrinitFlags is the ZRINIT ZF0 capability byte this engine always
// advertises: full duplex, overlapped I/O, and 32-bit CRC support.
const zrinitFlags = CANFDX | CANOVIO | CANFC32

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

// WithFileIO overrides the default os-backed file shim.
func WithFileIO(f FileIO) EngineOption {
	return func(e *Engine) { e.fileio = f }
}

// WithEngineCallbacks registers the embedder's event handlers.
func WithEngineCallbacks(cb *EngineCallbacks) EngineOption {
	return func(e *Engine) { e.callbacks = mergeEngineCallbacks(cb) }
}

// WithEngineLogger overrides the default no-op logger.
func WithEngineLogger(l Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithAttention sets the attention string a receiving engine echoes to
// the line on a resync (spec.md supplement: ZSINIT attention string),
// and the string a sending engine offers via ZSINIT before its first
// file.
func WithAttention(attn []byte) EngineOption {
	return func(e *Engine) { e.attention = attn }
}

// WithFreeSpaceFunc overrides the constant a receiving engine reports
// in response to ZFREECNT (spec.md supplement: ZFREECNT). The default
// reports a large constant, as the teacher does.
func WithFreeSpaceFunc(f func() uint32) EngineOption {
	return func(e *Engine) { e.freeSpaceFunc = f }
}

// Engine is the ZMODEM transfer controller (spec.md §4.4). It owns no
// transport and no goroutines: an embedder feeds inbound bytes through
// ReceiveByte and receives outbound fragments through the OnData
// callback, synchronously, from the same call stack.
type Engine struct {
	mode SessionMode

	fileio    FileIO
	logger    Logger
	callbacks *EngineCallbacks

	sendQueue []FileDescriptor
	sendFile  ReadSeekCloser
	sendLen   int64
	sendPos   uint32

	recvFile    WriteSeekCloser
	recvPos     uint32
	pendingFile FileDescriptor

	allow32bit bool
	failCount  int

	// attention is the ZSINIT attention string (spec.md supplement): a
	// receiving engine writes it to the line ahead of a resync ZRPOS;
	// a sending engine offers it via an opening ZSINIT frame.
	attention []byte

	// sinitPending is true between a sent ZSINIT and its ZACK reply, so
	// that reply is routed to nextSend rather than treated as a
	// data-position ack.
	sinitPending bool

	// freeSpaceFunc answers a peer's ZFREECNT; defaults to a large
	// constant, matching the teacher's behavior when unset.
	freeSpaceFunc func() uint32

	// pendingHeaderType records which header armed the decoder for its
	// following subpacket, so process_packet need not assume the
	// header buffer survives untouched between header and subpacket
	// (spec.md §9, open question 2).
	pendingHeaderType int

	dec *decoder
}

// NewEngine constructs an idle Engine in ModeNone.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		fileio:            osFileIO{},
		logger:            NoopLogger{},
		callbacks:         defaultEngineCallbacks(),
		pendingHeaderType: -1,
		freeSpaceFunc:     func() uint32 { return 0x7fffffff },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dec = newDecoder()
	e.dec.onHeader = e.handleHeader
	e.dec.onPacket = e.handlePacket
	e.dec.onSessionClose = e.handleSessionClose
	return e
}

// Mode reports the current session state.
func (e *Engine) Mode() SessionMode { return e.mode }

// PendingFiles returns a snapshot of the send queue, in send order.
func (e *Engine) PendingFiles() []FileDescriptor {
	out := make([]FileDescriptor, len(e.sendQueue))
	copy(out, e.sendQueue)
	return out
}

// ReceiveByte feeds one inbound byte into the frame decoder. It is the
// engine's single call-in point (spec.md §5).
func (e *Engine) ReceiveByte(b byte) { e.dec.receiveByte(b) }

// SetFiles populates the send queue from absolute paths, stat'ing each
// file for size and modification time.
func (e *Engine) SetFiles(paths []string) error {
	queue := make([]FileDescriptor, 0, len(paths))
	for _, p := range paths {
		fd, err := statFileDescriptor(p)
		if err != nil {
			return err
		}
		queue = append(queue, fd)
	}
	e.sendQueue = queue
	return nil
}

// StartReceiving enters ModeReceiving and emits the opening ZRINIT.
func (e *Engine) StartReceiving() error {
	if e.mode != ModeNone {
		return NewError(ErrProtocol, "start_receiving requires mode None")
	}
	e.mode = ModeReceiving
	e.recvPos = 0
	e.failCount = 0
	var hdr Header
	hdr[ZP3] = zrinitFlags
	e.emitHexHeader(ZRINIT, hdr)
	return nil
}

// StartSending enters ModeSending and offers the head of the queue, by
// way of an opening ZSINIT if an attention string is set.
func (e *Engine) StartSending() error {
	if e.mode != ModeNone {
		return NewError(ErrProtocol, "start_sending requires mode None")
	}
	if len(e.sendQueue) == 0 {
		return NewError(ErrProtocol, "start_sending requires a non-empty send queue")
	}
	e.mode = ModeSending
	e.failCount = 0
	if len(e.attention) > 0 {
		e.sendZSINIT()
	} else {
		e.nextSend()
	}
	return nil
}

// sendZSINIT offers the attention string ahead of the first file, by
// way of a ZSINIT header and its attention-string subpacket. This
// matches sendZSINIT() from lsz.c. The receiver's ZACK reply is caught
// in handleHeader's ZACK case via sinitPending, which advances to the
// first file offer instead of being treated as a data-position ack.
func (e *Engine) sendZSINIT() {
	e.sinitPending = true
	e.emitSendHeader(ZSINIT, Header{})
	attn := e.attention
	if len(attn) > 0 && attn[len(attn)-1] != 0 {
		attn = append(append([]byte{}, attn...), 0)
	}
	e.emit(encodeDataSubpacket(attn, ZCRCW, e.allow32bit))
}

// AcceptFileAs opens path for writing and starts the transfer at
// offset 0. Valid only after OnAcceptFile has fired.
func (e *Engine) AcceptFileAs(path string) error {
	if e.mode != ModeReceiving {
		return NewError(ErrProtocol, "accept_file_as requires mode Receiving")
	}
	f, err := e.fileio.OpenWrite(path)
	if err != nil {
		return err
	}
	e.recvFile = f
	e.recvPos = 0
	e.failCount = 0
	e.emitHexPos(ZRPOS, 0)
	return nil
}

// AcceptFileWriter behaves like AcceptFileAs but takes an
// already-opened sink, for embedders that customize file creation
// (permissions, virtual filesystems) rather than handing the engine a
// bare path.
func (e *Engine) AcceptFileWriter(w WriteSeekCloser) error {
	if e.mode != ModeReceiving {
		return NewError(ErrProtocol, "accept_file_as requires mode Receiving")
	}
	e.recvFile = w
	e.recvPos = 0
	e.failCount = 0
	e.emitHexPos(ZRPOS, 0)
	return nil
}

// SkipFile declines the currently offered file.
func (e *Engine) SkipFile() error {
	if e.mode != ModeReceiving {
		return NewError(ErrProtocol, "skip_file requires mode Receiving")
	}
	e.emitHexHeader(ZSKIP, Header{})
	return nil
}

// DenySending declines a peer's OnSendRequest.
func (e *Engine) DenySending() error {
	if e.mode != ModeNone {
		return NewError(ErrProtocol, "deny_sending requires mode None")
	}
	e.emitHexHeader(ZFIN, Header{})
	e.mode = ModeNone
	return nil
}

// --- outbound framing helpers ---

func (e *Engine) emit(data []byte) { e.callbacks.OnData(data) }

func (e *Engine) emitHexHeader(frameType int, hdr Header) {
	e.emit(encodeHexHeader(frameType, hdr))
}

func (e *Engine) emitHexPos(frameType int, pos uint32) {
	e.emitHexHeader(frameType, stohdr(pos))
}

// emitSendHeader emits a sender-role control header (ZFILE, ZDATA,
// ZEOF, ZFIN) using BIN or BIN32 depending on the peer's advertised
// CRC32 capability.
func (e *Engine) emitSendHeader(frameType int, hdr Header) {
	variant := variantBin
	if e.allow32bit {
		variant = variantBin32
	}
	e.emit(encodeHeader(variant, frameType, hdr))
}

// --- decoder event handlers ---

func (e *Engine) handleHeader(frameType int, hdr Header, wide bool) {
	e.pendingHeaderType = frameType
	e.logger.Debug("recv %s", FrameTypeName(frameType))

	switch frameType {
	case ZRQINIT:
		e.callbacks.OnReceiveRequest()

	case ZRINIT:
		e.allow32bit = hdr[ZP3]&CANFC32 != 0
		switch e.mode {
		case ModeNone:
			e.callbacks.OnSendRequest()
		case ModeSending:
			e.nextSend()
		case ModeSendingFin:
			e.closeSendFile()
			e.popSendQueue()
			e.mode = ModeSending
			e.nextSend()
		}

	case ZFILE:
		if e.mode != ModeReceiving {
			return
		}
		e.dec.armSubpacket(wide)

	case ZDATA:
		if e.mode != ModeReceiving {
			return
		}
		if rclhdr(hdr) != e.recvPos {
			e.resyncReceive()
			return
		}
		e.dec.armSubpacket(wide)

	case ZRPOS:
		e.sendPos = rclhdr(hdr)
		e.sendData()

	case ZEOF:
		pos := rclhdr(hdr)
		if e.mode == ModeReceiving && pos == e.recvPos {
			e.closeRecvFile()
			e.callbacks.OnCompleteFile()
			var rhdr Header
			rhdr[ZP3] = zrinitFlags
			e.emitHexHeader(ZRINIT, rhdr)
			return
		}
		e.resyncReceive()

	case ZACK:
		if e.sinitPending {
			e.sinitPending = false
			e.nextSend()
			return
		}
		e.sendPos = rclhdr(hdr)
		if e.mode == ModeSending {
			e.sendData()
		}

	case ZFIN:
		switch e.mode {
		case ModeSending:
			e.emit([]byte{'O', 'O'})
			e.mode = ModeNone
		case ModeReceiving:
			e.emitHexHeader(ZFIN, Header{})
			e.mode = ModeNone
			e.dec.armCloseWatch()
			e.callbacks.OnFinish()
		}

	case ZSINIT:
		if e.mode != ModeReceiving {
			return
		}
		e.dec.armSubpacket(wide)

	case ZFREECNT:
		e.emitHexHeader(ZACK, stohdr(e.freeSpaceFunc()))

	case ZCOMMAND:
		// Remote command execution is always declined (spec.md
		// supplement: ZCOMMAND), matching the teacher's fixed
		// "not supported" behavior.
		e.emitHexHeader(ZCOMPL, Header{})

	case ZSKIP:
		e.logger.Info("peer skipped file")
		if e.mode == ModeSending && len(e.sendQueue) > 0 {
			skipped := e.sendQueue[0].Name
			e.closeSendFile()
			e.popSendQueue()
			e.callbacks.OnFileSkipped(skipped)
			e.nextSend()
		}
	case ZNAK:
		e.logger.Info("peer reports last frame garbled")
	}
}

func (e *Engine) handlePacket(payload []byte, terminator byte, wide bool, ok bool) {
	switch e.pendingHeaderType {
	case ZFILE:
		e.handleFileSubpacket(payload, ok)
	case ZDATA:
		e.handleDataSubpacket(payload, terminator, wide, ok)
	case ZSINIT:
		e.handleSinitSubpacket(payload, ok)
	}
}

// handleSinitSubpacket stores the peer's attention string, echoed back
// to the line on future resyncs (spec.md supplement: ZSINIT).
func (e *Engine) handleSinitSubpacket(payload []byte, ok bool) {
	if !ok {
		e.emitHexHeader(ZNAK, Header{})
		return
	}
	if len(payload) > 0 {
		e.attention = payload
	}
	e.emitHexPos(ZACK, 1)
}

func (e *Engine) handleFileSubpacket(payload []byte, ok bool) {
	if !ok {
		e.emitHexHeader(ZNAK, Header{})
		return
	}
	fd, err := parseFileOptionSubpacket(payload)
	if err != nil {
		e.abort(err.Error())
		return
	}
	e.pendingFile = fd
	e.callbacks.OnAcceptFile(fd)
}

func (e *Engine) handleDataSubpacket(payload []byte, terminator byte, wide bool, ok bool) {
	if !ok {
		e.resyncReceive()
		return
	}

	if e.recvFile != nil {
		if _, err := e.recvFile.Write(payload); err != nil {
			e.raiseIOError(err)
			return
		}
	}
	e.recvPos += uint32(len(payload))
	e.failCount = 0
	e.callbacks.OnProgress(e.recvPos)

	switch terminator {
	case ZCRCE:
		// frame complete, await next header
	case ZCRCG:
		e.dec.armSubpacket(wide)
	case ZCRCQ:
		e.emitHexPos(ZACK, e.recvPos)
		e.dec.armSubpacket(wide)
	case ZCRCW:
		e.emitHexPos(ZACK, e.recvPos)
	}
}

func (e *Engine) handleSessionClose() {
	e.logger.Info("session closed (OO trailer observed)")
}

// resyncReceive is the shared reaction to a CRC failure or an
// out-of-order position on ZDATA/ZEOF (spec.md §7, errors 3 and 4).
func (e *Engine) resyncReceive() {
	e.failCount++
	if e.failCount > 5 {
		e.abort("Fail count exceeded")
		return
	}
	if len(e.attention) > 0 {
		e.emit(e.attention)
	}
	e.emitHexPos(ZRPOS, e.recvPos)
}

func (e *Engine) abort(msg string) {
	e.closeSendFile()
	e.closeRecvFile()
	e.dec.state = stHunt
	e.mode = ModeNone
	e.failCount = 0
	e.sinitPending = false
	e.callbacks.OnError(msg)
}

func (e *Engine) raiseIOError(err error) {
	e.abort("I/O error: " + err.Error())
}

// --- sender-side algorithms ---

// nextSend offers the head of the send queue, or closes the session
// if the queue is exhausted (spec.md §4.4 "next-send").
func (e *Engine) nextSend() {
	if len(e.sendQueue) == 0 {
		e.emitSendHeader(ZFIN, Header{})
		return
	}
	fd := e.sendQueue[0]
	e.emitSendHeader(ZFILE, Header{})
	e.emit(encodeDataSubpacket(buildFileOptionSubpacket(fd), ZCRCW, e.allow32bit))
}

// sendData implements the stop-and-wait send algorithm (spec.md §4.4
// "send-data algorithm"): at most one 2048-byte chunk is in flight at
// a time, except for the final chunk of a file which is followed
// immediately by ZEOF.
func (e *Engine) sendData() {
	if e.sendFile == nil {
		if len(e.sendQueue) == 0 {
			return
		}
		fd := e.sendQueue[0]
		f, err := e.fileio.OpenRead(fd.Path)
		if err != nil {
			e.raiseIOError(err)
			return
		}
		e.sendFile = f
		e.sendLen = fd.Size
	}

	if int64(e.sendPos) >= e.sendLen {
		e.emitSendHeader(ZEOF, stohdr(e.sendPos))
		return
	}

	if _, err := e.sendFile.Seek(int64(e.sendPos), io.SeekStart); err != nil {
		e.raiseIOError(err)
		return
	}
	buf := make([]byte, 2048)
	n, err := e.sendFile.Read(buf)
	if err != nil && err != io.EOF {
		e.raiseIOError(err)
		return
	}
	chunk := buf[:n]
	atEOF := int64(e.sendPos)+int64(n) >= e.sendLen

	if atEOF {
		e.emitSendHeader(ZDATA, stohdr(e.sendPos))
		e.emit(encodeDataSubpacket(chunk, ZCRCE, e.allow32bit))
		e.sendPos += uint32(n)
		e.callbacks.OnProgress(e.sendPos)
		e.mode = ModeSendingFin
		e.emitSendHeader(ZEOF, stohdr(e.sendPos))
		e.closeSendFile()
		e.callbacks.OnCompleteFile()
		return
	}

	e.emitSendHeader(ZDATA, stohdr(e.sendPos))
	e.emit(encodeDataSubpacket(chunk, ZCRCW, e.allow32bit))
	e.sendPos += uint32(n)
	e.callbacks.OnProgress(e.sendPos)
}

func (e *Engine) closeSendFile() {
	if e.sendFile != nil {
		e.sendFile.Close()
		e.sendFile = nil
	}
	e.sendPos = 0
	e.sendLen = 0
}

func (e *Engine) popSendQueue() {
	if len(e.sendQueue) > 0 {
		e.sendQueue = e.sendQueue[1:]
	}
}

func (e *Engine) closeRecvFile() {
	if e.recvFile != nil {
		e.recvFile.Close()
		e.recvFile = nil
	}
}
