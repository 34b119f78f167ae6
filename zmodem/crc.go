package zmodem

// CRC engines: CRC16-XMODEM (poly 0x1021, init 0, MSB-first, no final
// XOR) and the ZMODEM CRC32 variant (reflected IEEE polynomial, init
// 0xFFFFFFFF, final complement). Both are table-driven and exposed as
// three operations per spec: fresh-compute over a byte sequence,
// continue-compute from a prior running value, and an equality check
// of a trailing CRC against a computed value — matching the split
// already visible in the xx25-go-zmodem pack member's crc16Calc /
// crc16Update / crc16Finalize / crc16Verify naming, translated into the
// teacher's own updcrc16/updcrc32/CRC16Finalize/CRC32Finalize names
// (the teacher's frame.go calls these functions but its crc.go did not
// survive retrieval).

// crc16Table is the standard CRC16-XMODEM table: table[i] is the CRC
// of a single byte i run through the poly-0x1021 shift register.
var crc16Table [256]uint16

// crc32Table is the reflected CRC32 table (poly 0xEDB88320, the bit
// reversal of the IEEE poly 0x04C11DB7).
var crc32Table [256]uint32

// CRC32CheckValue is the residue left in the running CRC32 register
// after continuing the update over a correctly-received trailer: the
// well-known magic check value for a reflected CRC-32 with a
// complemented trailer appended little-endian.
const CRC32CheckValue = 0xDEBB20E3

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for b := 0; b < 8; b++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		crc16Table[i] = crc
	}

	for i := 0; i < 256; i++ {
		crc := uint32(i)
		for b := 0; b < 8; b++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xEDB88320
			} else {
				crc >>= 1
			}
		}
		crc32Table[i] = crc
	}
}

// updcrc16 folds one byte into a running CRC16 value.
func updcrc16(c byte, crc uint16) uint16 {
	return (crc << 8) ^ crc16Table[byte(crc>>8)^c]
}

// CRC16Finalize applies the (trivial, zero) final transform for
// CRC16-XMODEM. Kept as a named step so callers mirror the CRC32 side
// and so a future variant with a real final XOR stays a one-line change.
func CRC16Finalize(crc uint16) uint16 {
	return crc
}

// updcrc32 folds one byte into a running CRC32 value.
func updcrc32(c byte, crc uint32) uint32 {
	return (crc >> 8) ^ crc32Table[byte(crc)^c]
}

// CRC32Finalize applies the final complement for the ZMODEM CRC32 variant.
func CRC32Finalize(crc uint32) uint32 {
	return crc ^ 0xFFFFFFFF
}

// crc16Calc is a fresh CRC16 compute over buf.
func crc16Calc(buf []byte) uint16 {
	return CRC16Finalize(crc16Update(0, buf))
}

// crc16Update continues a CRC16 computation from a prior running value.
func crc16Update(crc uint16, buf []byte) uint16 {
	for _, b := range buf {
		crc = updcrc16(b, crc)
	}
	return crc
}

// crc16Verify checks that the last two bytes of buf are the big-endian
// CRC16 trailer for the bytes preceding them.
func crc16Verify(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	data, trailer := buf[:len(buf)-2], buf[len(buf)-2:]
	crc := crc16Update(0, data)
	crc = updcrc16(trailer[0], crc)
	crc = updcrc16(trailer[1], crc)
	return crc == 0
}

// crc32Calc is a fresh CRC32 compute over buf.
func crc32Calc(buf []byte) uint32 {
	return CRC32Finalize(crc32Update(0xFFFFFFFF, buf))
}

// crc32Update continues a CRC32 computation from a prior running value.
// Pass 0xFFFFFFFF as the initial running value for a fresh computation.
func crc32Update(crc uint32, buf []byte) uint32 {
	for _, b := range buf {
		crc = updcrc32(b, crc)
	}
	return crc
}

// crc32Verify checks that the last four bytes of buf are the
// little-endian CRC32 trailer for the bytes preceding them.
func crc32Verify(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}
	data, trailer := buf[:len(buf)-4], buf[len(buf)-4:]
	crc := crc32Update(0xFFFFFFFF, data)
	for _, b := range trailer {
		crc = updcrc32(b, crc)
	}
	return crc == CRC32CheckValue
}
