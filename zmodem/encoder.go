package zmodem

import "bytes"

// encodeHexHeader builds a ZModem HEX header frame: prefix ZPAD ZPAD
// ZDLE ZHEX, five header bytes as lowercase ASCII hex pairs, the
// CRC16 (big-endian) as two more hex pairs, then CR LF XON.
// This matches the C function zshhdr() from zm.c.
func encodeHexHeader(frameType int, hdr Header) []byte {
	var buf bytes.Buffer
	buf.WriteByte(ZPAD)
	buf.WriteByte(ZPAD)
	buf.WriteByte(ZDLE)
	buf.WriteByte(ZHEX)

	var digits [2]byte
	ft := byte(frameType & 0x7F)
	zputhex(ft, digits[:])
	buf.Write(digits[:])

	crc := updcrc16(ft, 0)
	for i := 0; i < 4; i++ {
		zputhex(hdr[i], digits[:])
		buf.Write(digits[:])
		crc = updcrc16(hdr[i], crc)
	}
	crc = CRC16Finalize(crc)

	zputhex(byte(crc>>8), digits[:])
	buf.Write(digits[:])
	zputhex(byte(crc), digits[:])
	buf.Write(digits[:])

	buf.WriteByte(0x0D) // CR
	buf.WriteByte(0x0A) // LF
	buf.WriteByte(XON)
	return buf.Bytes()
}

// encodeBinHeader builds a ZModem BIN header frame (16-bit CRC):
// prefix ZPAD ZDLE ZBIN, five ZDLE-escaped header bytes, then the
// ZDLE-escaped CRC16 trailer. This matches zsbhdr()/zshdr() from zm.c.
func encodeBinHeader(frameType int, hdr Header) []byte {
	var buf bytes.Buffer
	buf.WriteByte(ZPAD)
	buf.WriteByte(ZDLE)
	buf.WriteByte(ZBIN)

	esc := newZsendlineEscaper(&buf, false, false)
	esc.WriteByte(byte(frameType))
	crc := updcrc16(byte(frameType), 0)
	for i := 0; i < 4; i++ {
		esc.WriteByte(hdr[i])
		crc = updcrc16(hdr[i], crc)
	}
	crc = CRC16Finalize(crc)
	esc.WriteByte(byte(crc >> 8))
	esc.WriteByte(byte(crc))
	return buf.Bytes()
}

// encodeBin32Header builds a ZModem BIN32 header frame (32-bit CRC):
// prefix ZPAD ZDLE ZBIN32, five ZDLE-escaped header bytes, then the
// ZDLE-escaped CRC32 trailer (little-endian). Matches zsbhdr32()/zshdr32().
func encodeBin32Header(frameType int, hdr Header) []byte {
	var buf bytes.Buffer
	buf.WriteByte(ZPAD)
	buf.WriteByte(ZDLE)
	buf.WriteByte(ZBIN32)

	esc := newZsendlineEscaper(&buf, false, false)
	esc.WriteByte(byte(frameType))
	crc := updcrc32(byte(frameType), 0xFFFFFFFF)
	for i := 0; i < 4; i++ {
		esc.WriteByte(hdr[i])
		crc = updcrc32(hdr[i], crc)
	}
	crc = CRC32Finalize(crc)
	for i := 0; i < 4; i++ {
		esc.WriteByte(byte(crc))
		crc >>= 8
	}
	return buf.Bytes()
}

// encodeHeader picks HEX, BIN, or BIN32 encoding. The receiver side of
// the protocol always uses HEX (spec.md §6); the sender side uses
// BIN/BIN32 chosen by variant.
func encodeHeader(variant frameVariant, frameType int, hdr Header) []byte {
	switch variant {
	case variantHex:
		return encodeHexHeader(frameType, hdr)
	case variantBin32:
		return encodeBin32Header(frameType, hdr)
	default:
		return encodeBinHeader(frameType, hdr)
	}
}

// frameVariant is the encoding chosen for an outbound frame.
type frameVariant int

const (
	variantHex frameVariant = iota
	variantBin
	variantBin32
)

// encodeDataSubpacket builds a data subpacket: payload bytes (ZDLE
// escaped), then ZDLE + terminator (raw), then the ZDLE-escaped CRC
// trailer over (payload || terminator). Matches zsdata()/zsda32() from zm.c.
func encodeDataSubpacket(payload []byte, terminator byte, use32bit bool) []byte {
	var buf bytes.Buffer
	esc := newZsendlineEscaper(&buf, false, false)

	if use32bit {
		crc := uint32(0xFFFFFFFF)
		for _, b := range payload {
			esc.WriteByte(b)
			crc = updcrc32(b, crc)
		}
		buf.WriteByte(ZDLE)
		buf.WriteByte(terminator)
		crc = updcrc32(terminator, crc)
		crc = CRC32Finalize(crc)
		for i := 0; i < 4; i++ {
			esc.WriteByte(byte(crc))
			crc >>= 8
		}
	} else {
		crc := uint16(0)
		for _, b := range payload {
			esc.WriteByte(b)
			crc = updcrc16(b, crc)
		}
		buf.WriteByte(ZDLE)
		buf.WriteByte(terminator)
		crc = updcrc16(terminator, crc)
		crc = CRC16Finalize(crc)
		esc.WriteByte(byte(crc >> 8))
		esc.WriteByte(byte(crc))
	}

	if terminator == ZCRCW {
		buf.WriteByte(XON)
	}
	return buf.Bytes()
}
