package zmodem

import (
	"bytes"
	"testing"
)

func TestBuildEscapeTableStandard(t *testing.T) {
	table := buildEscapeTable(false, false)

	mustEscape := []byte{ZDLE, XON, XOFF, XON | 0x80, XOFF | 0x80, 0x10, 0x90}
	for _, b := range mustEscape {
		if table[b] != escapeAlways {
			t.Errorf("byte 0x%02x should be escapeAlways, got %d", b, table[b])
		}
	}

	if table[0x0D] != escapeConditional {
		t.Errorf("CR (0x0d) should be escapeConditional, got %d", table[0x0D])
	}

	if table['A'] != escapeNone {
		t.Errorf("'A' should be escapeNone, got %d", table['A'])
	}

	// Bytes with bit 0x20 or 0x40 set (the C mask 0140 octal = 0x60)
	// never need escaping.
	if table[0x61] != escapeNone {
		t.Errorf("0x61 should be escapeNone, got %d", table[0x61])
	}
}

func TestBuildEscapeTableTurbo(t *testing.T) {
	table := buildEscapeTable(false, true)

	if table[0x10] != escapeNone {
		t.Errorf("^P should be escapeNone under turbo escape, got %d", table[0x10])
	}
	if table[0x0D] != escapeNone {
		t.Errorf("CR should be escapeNone under turbo escape, got %d", table[0x0D])
	}
}

func TestBuildEscapeTableZctlesc(t *testing.T) {
	table := buildEscapeTable(true, false)

	for i := 0; i < 0x20; i++ {
		if i&0x60 != 0 {
			continue
		}
		if table[i] != escapeAlways {
			t.Errorf("zctlesc: byte 0x%02x should be escapeAlways, got %d", i, table[i])
		}
	}
}

func TestZsendlineEscaperConditionalCR(t *testing.T) {
	var buf bytes.Buffer
	esc := newZsendlineEscaper(&buf, false, false)

	esc.WriteByte('@')
	esc.WriteByte(0x0D) // CR right after '@' must be escaped

	got := buf.Bytes()
	want := []byte{'@', ZDLE, 0x0D ^ 0x40}
	if string(got) != string(want) {
		t.Errorf("CR-after-@ escaping: got %v, want %v", got, want)
	}
}

func TestZsendlineEscaperCRNotAfterAt(t *testing.T) {
	var buf bytes.Buffer
	esc := newZsendlineEscaper(&buf, false, false)

	esc.WriteByte('A')
	esc.WriteByte(0x0D)

	got := buf.Bytes()
	want := []byte{'A', 0x0D}
	if string(got) != string(want) {
		t.Errorf("CR-after-A should pass through unescaped: got %v, want %v", got, want)
	}
}

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	data := []byte{0x18, 0x10, 0x11, 0x13, 0x90, 0x91, 0x93, 'A', 'B', 0x00, 0xFF}
	escaped := Escape(data)
	recovered := Unescape(escaped)
	if string(recovered) != string(data) {
		t.Errorf("escape/unescape round trip failed: got %v, want %v", recovered, data)
	}
}

func TestEscapeOnlyEscapesMandatorySet(t *testing.T) {
	data := []byte("plain text, nothing special")
	escaped := Escape(data)
	if string(escaped) != string(data) {
		t.Errorf("Escape should not alter bytes outside the mandatory set")
	}
}
