package zmodem

// decoderState names the byte-driven frame decoder's states. The
// numeric values mirror the reference decoder's state numbering
// (spec.md §4.2) — they are an implementation detail of this decoder,
// not part of the wire protocol, kept numeric only so the states read
// the same as the design doc they came from.
type decoderState int

const (
	stHunt        decoderState = 0  // hunting for ZPAD
	stPad         decoderState = 1  // saw one ZPAD
	stPadPad      decoderState = 2  // saw ZPAD ZPAD
	stPadPadDle   decoderState = 3  // saw ZPAD ZPAD ZDLE (next byte selects HEX)
	stPadDle      decoderState = 4  // saw ZPAD ZDLE (next byte selects BIN/BIN32)
	stHexHi       decoderState = 20 // collecting hex high nibble
	stHexLo       decoderState = 21 // collecting hex low nibble
	stBinCollect  decoderState = 30 // collecting BIN/BIN32 header bytes
	stSubpacket   decoderState = 31 // collecting data subpacket payload
	stSubpacketCR decoderState = 32 // collecting data subpacket CRC trailer
	stCloseOO1    decoderState = 40 // watching for trailing "OO", saw nothing
	stCloseOO2    decoderState = 41 // watching for trailing "OO", saw one 'O'
)

// decoder is the byte-driven ZMODEM frame decoder. It recognizes
// frame prefixes, performs ZDLE unescaping, reassembles headers and
// data subpackets, and validates CRC16/CRC32 checksums. It raises
// events into the owning Engine: a completed, CRC-valid header; a
// completed data subpacket (valid or not — CRC failure on a subpacket
// is a protocol-level event the transfer controller must react to,
// not something the decoder silently drops); and the trailing
// session-close marker.
type decoder struct {
	state decoderState

	// states 20/21: hex header assembly
	hexBytes []byte
	hexHi    byte

	// state 30: bin/bin32 header assembly
	hdrWide bool
	hdrBuf  []byte

	// states 30/31/32 share one ZDLE unescape latch
	sawZDLE bool

	// states 31/32: data subpacket assembly
	pktWide       bool
	pktBuf        []byte
	pktTerminator byte
	pktTrailer    []byte

	// raised on a CRC-valid header
	onHeader func(frameType int, hdr Header, wide bool)
	// raised on a complete data subpacket, valid or not
	onPacket func(payload []byte, terminator byte, wide bool, ok bool)
	// raised when the trailing "OO" session-close marker is observed
	onSessionClose func()
}

func newDecoder() *decoder {
	return &decoder{state: stHunt}
}

// armSubpacket tells the decoder the next bytes are a data subpacket
// body (state 31), CRC width selected by wide. Called by the Engine
// after a ZFILE/ZDATA header is accepted (spec.md §4.4).
func (d *decoder) armSubpacket(wide bool) {
	d.state = stSubpacket
	d.pktWide = wide
	d.pktBuf = d.pktBuf[:0]
	d.pktTrailer = d.pktTrailer[:0]
	d.sawZDLE = false
}

// armCloseWatch tells the decoder to watch for the sender's trailing
// "OO" bytes (states 40/41), per DESIGN.md Open Question 4.
func (d *decoder) armCloseWatch() {
	d.state = stCloseOO1
}

// receiveByte feeds one inbound byte through the state machine.
func (d *decoder) receiveByte(b byte) {
	switch d.state {
	case stHunt:
		if b == ZPAD {
			d.state = stPad
		}

	case stPad:
		switch b {
		case ZPAD:
			d.state = stPadPad
		case ZDLE:
			d.state = stPadDle
		default:
			d.state = stHunt
		}

	case stPadPad:
		if b == ZDLE {
			d.state = stPadPadDle
		} else {
			d.state = stHunt
		}

	case stPadPadDle:
		if b == ZHEX {
			d.hexBytes = d.hexBytes[:0]
			d.state = stHexHi
		} else {
			d.state = stHunt
		}

	case stPadDle:
		switch b {
		case ZBIN:
			d.hdrWide = false
			d.hdrBuf = d.hdrBuf[:0]
			d.sawZDLE = false
			d.state = stBinCollect
		case ZBIN32:
			d.hdrWide = true
			d.hdrBuf = d.hdrBuf[:0]
			d.sawZDLE = false
			d.state = stBinCollect
		default:
			d.state = stHunt
		}

	case stHexHi:
		d.receiveHex(b, true)
	case stHexLo:
		d.receiveHex(b, false)
	case stBinCollect:
		d.receiveBinHeaderByte(b)
	case stSubpacket:
		d.receiveSubpacketByte(b)
	case stSubpacketCR:
		d.receiveSubpacketCRCByte(b)
	case stCloseOO1:
		d.receiveCloseByte(b, false)
	case stCloseOO2:
		d.receiveCloseByte(b, true)
	}
}

// receiveHex collects one hex nibble. high selects state 20 (high
// nibble) vs 21 (low nibble completing a byte). A CR arriving in state
// 20 after a full header (type + 4 param bytes + CRC) has been
// collected ends the header.
func (d *decoder) receiveHex(b byte, high bool) {
	if high && b == 0x0D && len(d.hexBytes) == 7 {
		d.finishHexHeader()
		return
	}
	n := hexDigitValue(b)
	if n < 0 {
		d.state = stHunt
		return
	}
	if high {
		d.hexHi = byte(n)
		d.state = stHexLo
		return
	}
	d.hexBytes = append(d.hexBytes, (d.hexHi<<4)|byte(n))
	d.state = stHexHi
}

func (d *decoder) finishHexHeader() {
	d.state = stHunt
	typeAndHdr := d.hexBytes[:5]
	crcHi, crcLo := d.hexBytes[5], d.hexBytes[6]

	crc := uint16(0)
	for _, c := range typeAndHdr {
		crc = updcrc16(c, crc)
	}
	crc = updcrc16(crcHi, crc)
	crc = updcrc16(crcLo, crc)
	if CRC16Finalize(crc) != 0 {
		return
	}

	var hdr Header
	copy(hdr[:], typeAndHdr[1:5])
	if d.onHeader != nil {
		d.onHeader(int(typeAndHdr[0]), hdr, false)
	}
}

// receiveBinHeaderByte collects one (possibly ZDLE-escaped) BIN/BIN32
// header byte. Narrow headers are 7 bytes (type + 4 params + 2 CRC
// bytes), wide headers are 9 (type + 4 params + 4 CRC bytes).
func (d *decoder) receiveBinHeaderByte(b byte) {
	if d.sawZDLE {
		d.sawZDLE = false
		d.hdrBuf = append(d.hdrBuf, b^0x40)
	} else if b == ZDLE {
		d.sawZDLE = true
		return
	} else {
		d.hdrBuf = append(d.hdrBuf, b)
	}

	need := 7
	if d.hdrWide {
		need = 9
	}
	if len(d.hdrBuf) < need {
		return
	}
	d.finishBinHeader()
}

func (d *decoder) finishBinHeader() {
	d.state = stHunt
	typeAndHdr := d.hdrBuf[:5]
	trailer := d.hdrBuf[5:]

	var ok bool
	if d.hdrWide {
		crc := uint32(0xFFFFFFFF)
		for _, c := range typeAndHdr {
			crc = updcrc32(c, crc)
		}
		for _, c := range trailer {
			crc = updcrc32(c, crc)
		}
		ok = crc == CRC32CheckValue
	} else {
		crc := uint16(0)
		for _, c := range typeAndHdr {
			crc = updcrc16(c, crc)
		}
		for _, c := range trailer {
			crc = updcrc16(c, crc)
		}
		ok = CRC16Finalize(crc) == 0
	}
	if !ok {
		return
	}

	var hdr Header
	copy(hdr[:], typeAndHdr[1:5])
	if d.onHeader != nil {
		d.onHeader(int(typeAndHdr[0]), hdr, d.hdrWide)
	}
}

// receiveSubpacketByte collects one (possibly ZDLE-escaped) data
// subpacket payload byte. A byte in the 'h'..'o' range following a
// ZDLE, taken before the XOR 0x40 (ZCRCE/ZCRCG/ZCRCQ/ZCRCW), is the
// frame terminator, not payload, and arms CRC trailer collection.
func (d *decoder) receiveSubpacketByte(b byte) {
	if d.sawZDLE {
		d.sawZDLE = false
		if b >= 0x68 && b <= 0x6F {
			d.pktTerminator = b
			d.state = stSubpacketCR
			return
		}
		d.pktBuf = append(d.pktBuf, b^0x40)
		return
	}
	if b == ZDLE {
		d.sawZDLE = true
		return
	}
	d.pktBuf = append(d.pktBuf, b)
}

// receiveSubpacketCRCByte collects the (possibly ZDLE-escaped) CRC
// trailer following a subpacket terminator: 2 bytes for CRC16, 4 for CRC32.
func (d *decoder) receiveSubpacketCRCByte(b byte) {
	if d.sawZDLE {
		d.sawZDLE = false
		d.pktTrailer = append(d.pktTrailer, b^0x40)
	} else if b == ZDLE {
		d.sawZDLE = true
		return
	} else {
		d.pktTrailer = append(d.pktTrailer, b)
	}

	need := 2
	if d.pktWide {
		need = 4
	}
	if len(d.pktTrailer) < need {
		return
	}
	d.finishSubpacket()
}

func (d *decoder) finishSubpacket() {
	d.state = stHunt

	var ok bool
	if d.pktWide {
		crc := uint32(0xFFFFFFFF)
		for _, c := range d.pktBuf {
			crc = updcrc32(c, crc)
		}
		crc = updcrc32(d.pktTerminator, crc)
		for _, c := range d.pktTrailer {
			crc = updcrc32(c, crc)
		}
		ok = crc == CRC32CheckValue
	} else {
		crc := uint16(0)
		for _, c := range d.pktBuf {
			crc = updcrc16(c, crc)
		}
		crc = updcrc16(d.pktTerminator, crc)
		for _, c := range d.pktTrailer {
			crc = updcrc16(c, crc)
		}
		ok = CRC16Finalize(crc) == 0
	}

	if d.onPacket != nil {
		payload := make([]byte, len(d.pktBuf))
		copy(payload, d.pktBuf)
		d.onPacket(payload, d.pktTerminator, d.pktWide, ok)
	}
}

// receiveCloseByte advances the trailing "OO" watch. sawOne is true
// in state 41 (already saw one 'O'). Any ZPAD restarts frame hunting,
// since the peer may still have a real frame queued.
func (d *decoder) receiveCloseByte(b byte, sawOne bool) {
	switch {
	case b == 'O' && !sawOne:
		d.state = stCloseOO2
	case b == 'O' && sawOne:
		d.state = stHunt
		if d.onSessionClose != nil {
			d.onSessionClose()
		}
	case b == ZPAD:
		d.state = stPad
	default:
		d.state = stHunt
	}
}
