package zmodem

import (
	"bytes"
	"testing"
)

// memReadFile is an in-memory ReadSeekCloser backing the send side of
// engine tests, avoiding a dependency on the real filesystem.
type memReadFile struct {
	*bytes.Reader
}

func (memReadFile) Close() error { return nil }

// memWriteFile is an in-memory WriteSeekCloser backing the receive
// side of engine tests.
type memWriteFile struct {
	buf *bytes.Buffer
	pos int64
}

func (w *memWriteFile) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	w.pos += int64(n)
	return n, err
}
func (w *memWriteFile) Seek(offset int64, whence int) (int64, error) { return w.pos, nil }
func (w *memWriteFile) Close() error                                 { return nil }

// memFileIO serves reads from a fixed in-memory payload and captures
// writes into a buffer, so send/receive engine tests never touch disk.
type memFileIO struct {
	readData []byte
	written  *bytes.Buffer
}

func (m *memFileIO) OpenRead(path string) (ReadSeekCloser, error) {
	return memReadFile{bytes.NewReader(m.readData)}, nil
}

func (m *memFileIO) OpenWrite(path string) (WriteSeekCloser, error) {
	m.written = &bytes.Buffer{}
	return &memWriteFile{buf: m.written}, nil
}

// decodeHeaders feeds raw wire bytes through a throwaway decoder and
// returns every header it observes (subpackets following ZFILE, ZDATA
// and ZSINIT are decoded and skipped), for asserting on an engine's
// OnData output without hand-parsing frames.
type observedFrame struct {
	frameType int
	hdr       Header
}

func decodeHeaders(data []byte) []observedFrame {
	var out []observedFrame
	d := newDecoder()
	d.onHeader = func(frameType int, hdr Header, wide bool) {
		out = append(out, observedFrame{frameType, hdr})
		switch frameType {
		case ZFILE, ZDATA, ZSINIT:
			d.armSubpacket(wide)
		}
	}
	for _, b := range data {
		d.receiveByte(b)
	}
	return out
}

func feedEngine(e *Engine, data []byte) {
	for _, b := range data {
		e.ReceiveByte(b)
	}
}

func TestEngineReceiveHandshakeSendsZRINIT(t *testing.T) {
	var sent [][]byte
	e := NewEngine(WithEngineCallbacks(&EngineCallbacks{
		OnData: func(b []byte) { sent = append(sent, append([]byte{}, b...)) },
	}))

	if err := e.StartReceiving(); err != nil {
		t.Fatalf("StartReceiving: %v", err)
	}
	if e.Mode() != ModeReceiving {
		t.Fatalf("mode: got %v, want Receiving", e.Mode())
	}
	if len(sent) != 1 {
		t.Fatalf("expected exactly one outbound frame, got %d", len(sent))
	}
	frames := decodeHeaders(sent[0])
	if len(frames) != 1 || frames[0].frameType != ZRINIT {
		t.Fatalf("expected ZRINIT, got %v", frames)
	}
	if frames[0].hdr[ZP3]&CANFC32 == 0 {
		t.Error("ZRINIT should advertise CANFC32")
	}
}

func TestEngineFileOfferTriggersOnAcceptFile(t *testing.T) {
	var offered FileDescriptor
	var got bool
	io := &memFileIO{}
	e := NewEngine(
		WithFileIO(io),
		WithEngineCallbacks(&EngineCallbacks{
			OnAcceptFile: func(fd FileDescriptor) { offered = fd; got = true },
		}),
	)
	if err := e.StartReceiving(); err != nil {
		t.Fatalf("StartReceiving: %v", err)
	}

	fd := FileDescriptor{Name: "payload.bin", Size: 3}
	body := buildFileOptionSubpacket(fd)
	frame := append(encodeBinHeader(ZFILE, Header{}), encodeDataSubpacket(body, ZCRCW, false)...)
	feedEngine(e, frame)

	if !got {
		t.Fatal("OnAcceptFile did not fire")
	}
	if offered.Name != "payload.bin" {
		t.Errorf("offered name: got %q, want %q", offered.Name, "payload.bin")
	}
}

func TestEngineDataRoundTripWritesPayload(t *testing.T) {
	fio := &memFileIO{}
	var sent [][]byte
	var completed bool
	e := NewEngine(
		WithFileIO(fio),
		WithEngineCallbacks(&EngineCallbacks{
			OnData:         func(b []byte) { sent = append(sent, append([]byte{}, b...)) },
			OnCompleteFile: func() { completed = true },
		}),
	)
	if err := e.StartReceiving(); err != nil {
		t.Fatal(err)
	}

	fd := FileDescriptor{Name: "x", Size: 5}
	fileFrame := append(encodeBinHeader(ZFILE, Header{}), encodeDataSubpacket(buildFileOptionSubpacket(fd), ZCRCW, false)...)
	feedEngine(e, fileFrame)

	if err := e.AcceptFileAs("x"); err != nil {
		t.Fatalf("AcceptFileAs: %v", err)
	}

	payload := []byte("hello")
	dataFrame := append(encodeBinHeader(ZDATA, stohdr(0)), encodeDataSubpacket(payload, ZCRCE, false)...)
	feedEngine(e, dataFrame)

	eofFrame := encodeBinHeader(ZEOF, stohdr(uint32(len(payload))))
	feedEngine(e, eofFrame)

	if !completed {
		t.Fatal("OnCompleteFile did not fire")
	}
	if fio.written == nil || fio.written.String() != "hello" {
		t.Fatalf("written payload: got %q, want %q", fio.written, "hello")
	}
}

func TestEngineCRCFailureResyncsToRecvPos(t *testing.T) {
	fio := &memFileIO{}
	var sent [][]byte
	e := NewEngine(
		WithFileIO(fio),
		WithEngineCallbacks(&EngineCallbacks{
			OnData: func(b []byte) { sent = append(sent, append([]byte{}, b...)) },
		}),
	)
	if err := e.StartReceiving(); err != nil {
		t.Fatal(err)
	}
	fd := FileDescriptor{Name: "x", Size: 5}
	feedEngine(e, append(encodeBinHeader(ZFILE, Header{}), encodeDataSubpacket(buildFileOptionSubpacket(fd), ZCRCW, false)...))
	if err := e.AcceptFileAs("x"); err != nil {
		t.Fatal(err)
	}
	sent = nil

	headerFrame := encodeBinHeader(ZDATA, stohdr(0))
	corrupt := append(append([]byte{}, headerFrame...), encodeDataSubpacket([]byte("hello"), ZCRCE, false)...)
	corrupt[len(headerFrame)] ^= 0xFF // corrupt the first payload byte
	feedEngine(e, corrupt)

	if len(sent) != 1 {
		t.Fatalf("expected one resync frame, got %d", len(sent))
	}
	frames := decodeHeaders(sent[0])
	if len(frames) != 1 || frames[0].frameType != ZRPOS {
		t.Fatalf("expected ZRPOS resync, got %v", frames)
	}
	if rclhdr(frames[0].hdr) != 0 {
		t.Errorf("resync position: got %d, want 0", rclhdr(frames[0].hdr))
	}
}

func TestEngineSixCRCFailuresAbort(t *testing.T) {
	fio := &memFileIO{}
	var aborted bool
	var errMsg string
	e := NewEngine(
		WithFileIO(fio),
		WithEngineCallbacks(&EngineCallbacks{
			OnError: func(msg string) { aborted = true; errMsg = msg },
		}),
	)
	if err := e.StartReceiving(); err != nil {
		t.Fatal(err)
	}
	fd := FileDescriptor{Name: "x", Size: 5}
	feedEngine(e, append(encodeBinHeader(ZFILE, Header{}), encodeDataSubpacket(buildFileOptionSubpacket(fd), ZCRCW, false)...))
	if err := e.AcceptFileAs("x"); err != nil {
		t.Fatal(err)
	}

	headerFrame := encodeBinHeader(ZDATA, stohdr(0))
	corrupt := append(append([]byte{}, headerFrame...), encodeDataSubpacket([]byte("hello"), ZCRCE, false)...)
	corrupt[len(headerFrame)] ^= 0xFF // corrupt the first payload byte

	for i := 0; i < 6; i++ {
		feedEngine(e, corrupt)
	}

	if !aborted {
		t.Fatal("expected the engine to abort after 6 consecutive CRC failures")
	}
	if e.Mode() != ModeNone {
		t.Errorf("mode after abort: got %v, want None", e.Mode())
	}
	if errMsg == "" {
		t.Error("expected a non-empty abort message")
	}
}

func TestEngineSendToCompletion(t *testing.T) {
	payload := []byte("the quick brown fox")
	fio := &memFileIO{readData: payload}
	var sent [][]byte
	completions := 0
	e := NewEngine(
		WithFileIO(fio),
		WithEngineCallbacks(&EngineCallbacks{
			OnData:         func(b []byte) { sent = append(sent, append([]byte{}, b...)) },
			OnCompleteFile: func() { completions++ },
		}),
	)

	e.sendQueue = []FileDescriptor{{Name: "fox.txt", Path: "fox.txt", Size: int64(len(payload))}}
	if err := e.StartSending(); err != nil {
		t.Fatalf("StartSending: %v", err)
	}
	if len(sent) == 0 {
		t.Fatal("expected an initial ZFILE offer")
	}
	frames := decodeHeaders(sent[0])
	if len(frames) == 0 || frames[0].frameType != ZFILE {
		t.Fatalf("expected ZFILE offer, got %v", frames)
	}

	// Receiver accepts at position 0.
	sent = nil
	feedEngine(e, encodeHexHeader(ZRPOS, stohdr(0)))
	if len(sent) == 0 {
		t.Fatal("expected data to follow ZRPOS")
	}

	// Receiver ZEOF-acks the transfer and reconnects with ZRINIT (queue
	// now empty) to close the session.
	feedEngine(e, encodeHexHeader(ZRINIT, Header{}))

	if completions != 1 {
		t.Fatalf("OnCompleteFile fire count: got %d, want 1", completions)
	}
	if len(e.sendQueue) != 0 {
		t.Errorf("send queue should be drained, has %d entries", len(e.sendQueue))
	}
}

func TestEngineStartSendingWithAttentionOffersZSINITFirst(t *testing.T) {
	payload := []byte("data")
	fio := &memFileIO{readData: payload}
	var sent [][]byte
	e := NewEngine(
		WithFileIO(fio),
		WithAttention([]byte{0x03, 0x8E, 0}),
		WithEngineCallbacks(&EngineCallbacks{
			OnData: func(b []byte) { sent = append(sent, append([]byte{}, b...)) },
		}),
	)
	e.sendQueue = []FileDescriptor{{Name: "f", Path: "f", Size: int64(len(payload))}}

	if err := e.StartSending(); err != nil {
		t.Fatalf("StartSending: %v", err)
	}
	if len(sent) != 2 {
		t.Fatalf("expected ZSINIT header + attention subpacket, got %d frames", len(sent))
	}
	frames := decodeHeaders(sent[0])
	if len(frames) != 1 || frames[0].frameType != ZSINIT {
		t.Fatalf("expected ZSINIT as the opening frame, got %v", frames)
	}
	if !e.sinitPending {
		t.Fatal("expected sinitPending to be set while awaiting the ZSINIT ack")
	}

	// Receiver ZACKs the ZSINIT; the engine should now offer the file.
	sent = nil
	feedEngine(e, encodeHexHeader(ZACK, stohdr(1)))

	if e.sinitPending {
		t.Fatal("sinitPending should clear once the ZSINIT ack arrives")
	}
	if len(sent) == 0 {
		t.Fatal("expected a ZFILE offer to follow the ZSINIT ack")
	}
	frames = decodeHeaders(sent[0])
	if len(frames) != 1 || frames[0].frameType != ZFILE {
		t.Fatalf("expected ZFILE offer after ZSINIT ack, got %v", frames)
	}
}

func TestEngineSendRequestDeclined(t *testing.T) {
	var sent [][]byte
	requested := false
	e := NewEngine(WithEngineCallbacks(&EngineCallbacks{
		OnData:        func(b []byte) { sent = append(sent, append([]byte{}, b...)) },
		OnSendRequest: func() { requested = true },
	}))

	feedEngine(e, encodeHexHeader(ZRINIT, Header{}))
	if !requested {
		t.Fatal("expected OnSendRequest to fire for an unsolicited ZRINIT")
	}

	if err := e.DenySending(); err != nil {
		t.Fatalf("DenySending: %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("expected exactly one ZFIN frame, got %d", len(sent))
	}
	frames := decodeHeaders(sent[0])
	if len(frames) != 1 || frames[0].frameType != ZFIN {
		t.Fatalf("expected ZFIN, got %v", frames)
	}
}
