package zmodem

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileOptionSubpacketRoundTrip(t *testing.T) {
	fd := FileDescriptor{
		Name:    "report.txt",
		Size:    4096,
		ModTime: time.Unix(1700000000, 0).UTC(),
		Mode:    0644,
	}

	body := buildFileOptionSubpacket(fd)
	got, err := parseFileOptionSubpacket(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if got.Name != fd.Name {
		t.Errorf("name: got %q, want %q", got.Name, fd.Name)
	}
	if got.Size != fd.Size {
		t.Errorf("size: got %d, want %d", got.Size, fd.Size)
	}
	if !got.ModTime.Equal(fd.ModTime) {
		t.Errorf("mtime: got %v, want %v", got.ModTime, fd.ModTime)
	}
	if got.Mode != fd.Mode&0777 {
		t.Errorf("mode: got %o, want %o", got.Mode, fd.Mode&0777)
	}
}

func TestFileOptionSubpacketEncodesMtimeOctal(t *testing.T) {
	fd := FileDescriptor{Name: "x", Size: 1, ModTime: time.Unix(8, 0).UTC(), Mode: 0}
	body := buildFileOptionSubpacket(fd)

	// Unix(8) in octal is "10"; a decimal encoder would emit "8" instead.
	want := "x\x001 10 0 0"
	if string(body) != want {
		t.Errorf("got %q, want %q", body, want)
	}
}

func TestFileOptionSubpacketWithFilesRemaining(t *testing.T) {
	fd := FileDescriptor{
		Name:           "a.bin",
		Size:           10,
		ModTime:        time.Unix(0, 0).UTC(),
		Mode:           0600,
		FilesRemaining: 3,
		BytesRemaining: 999,
	}
	body := buildFileOptionSubpacket(fd)
	got, err := parseFileOptionSubpacket(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.FilesRemaining != 3 {
		t.Errorf("filesRemaining: got %d, want 3", got.FilesRemaining)
	}
	if got.BytesRemaining != 999 {
		t.Errorf("bytesRemaining: got %d, want 999", got.BytesRemaining)
	}
}

func TestParseFileOptionSubpacketMissingTerminator(t *testing.T) {
	_, err := parseFileOptionSubpacket([]byte("nofilename"))
	if err == nil {
		t.Fatal("expected an error for a missing null terminator")
	}
}

func TestParseFileOptionSubpacketNameOnly(t *testing.T) {
	body := append([]byte("justaname"), 0)
	fd, err := parseFileOptionSubpacket(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fd.Name != "justaname" {
		t.Errorf("name: got %q, want %q", fd.Name, "justaname")
	}
	if fd.Size != 0 {
		t.Errorf("size should default to 0, got %d", fd.Size)
	}
}

func TestStatFileDescriptorUsesBaseName(t *testing.T) {
	f, err := os.CreateTemp("", "zmodem-fileinfo-test-*")
	if err != nil {
		t.Fatalf("tempfile: %v", err)
	}
	defer os.Remove(f.Name())
	f.Close()

	fd, err := statFileDescriptor(f.Name())
	if err != nil {
		t.Fatalf("statFileDescriptor: %v", err)
	}
	if fd.Path != f.Name() {
		t.Errorf("path: got %q, want %q", fd.Path, f.Name())
	}
	if fd.Name != filepath.Base(f.Name()) {
		t.Errorf("name: got %q, want %q", fd.Name, filepath.Base(f.Name()))
	}
}
