package zmodem

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileDescriptor describes one file the engine is offering to send, or
// has parsed out of an inbound ZFILE subpacket on receive. Spec.md §3
// "File descriptor (for offer)".
type FileDescriptor struct {
	Name           string    // logical filename (base name only)
	Path           string    // absolute path, sender side only
	Size           int64     // byte length
	ModTime        time.Time // UTC last-write time
	Mode           os.FileMode
	FilesRemaining int
	BytesRemaining int64
}

// statFileDescriptor builds a FileDescriptor by stat'ing path, used by
// Engine.SetFiles.
func statFileDescriptor(path string) (FileDescriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileDescriptor{}, err
	}
	return FileDescriptor{
		Name:    filepath.Base(path),
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
		Mode:    info.Mode(),
	}, nil
}

// buildFileOptionSubpacket builds the ZFILE data subpacket body: a
// NUL-terminated filename followed by a space-separated options
// string (length-in-decimal, mtime-in-octal-unix-seconds, mode,
// serial, files-remaining, bytes-remaining). This matches the field
// order of wctxpn() in lsz.c, but — per spec.md §4.2 and the
// xx25-go-zmodem pack member's marshalFileInfo — encodes mtime in
// octal, not the teacher's decimal (DESIGN.md, Open Question 5).
func buildFileOptionSubpacket(fd FileDescriptor) []byte {
	buf := make([]byte, 0, len(fd.Name)+64)
	buf = append(buf, []byte(fd.Name)...)
	buf = append(buf, 0)

	mode := fd.Mode & 0777
	info := fmt.Sprintf("%d %o %o 0", fd.Size, fd.ModTime.Unix(), mode)
	if fd.FilesRemaining > 0 {
		info += fmt.Sprintf(" %d", fd.FilesRemaining)
		if fd.BytesRemaining > 0 {
			info += fmt.Sprintf(" %d", fd.BytesRemaining)
		}
	}
	buf = append(buf, []byte(info)...)
	return buf
}

// parseFileOptionSubpacket parses a ZFILE data subpacket body into a
// FileDescriptor. This matches procheader() from lrz.c, field order
// "filename\0size mtime mode 0 filesleft totalleft", with mtime parsed
// as octal seconds since the Unix epoch.
func parseFileOptionSubpacket(data []byte) (FileDescriptor, error) {
	nullPos := -1
	for i, b := range data {
		if b == 0 {
			nullPos = i
			break
		}
	}
	if nullPos < 0 {
		return FileDescriptor{}, NewError(ErrInvalidFrame, "file header missing null terminator")
	}

	fd := FileDescriptor{Name: filepath.Base(string(data[:nullPos]))}

	rest := data[nullPos+1:]
	for len(rest) > 0 && rest[0] == 0 {
		rest = rest[1:]
	}
	for len(rest) > 0 && rest[len(rest)-1] == 0 {
		rest = rest[:len(rest)-1]
	}
	if len(rest) == 0 {
		return fd, nil
	}

	fields := strings.Fields(string(rest))
	if len(fields) > 0 {
		if size, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
			fd.Size = size
		}
	}
	if len(fields) > 1 {
		if mtime, err := strconv.ParseInt(fields[1], 8, 64); err == nil {
			fd.ModTime = time.Unix(mtime, 0).UTC()
		}
	}
	if len(fields) > 2 {
		if mode, err := strconv.ParseUint(fields[2], 8, 32); err == nil {
			fd.Mode = os.FileMode(mode)
		}
	}
	if len(fields) > 4 {
		if n, err := strconv.Atoi(fields[4]); err == nil {
			fd.FilesRemaining = n
		}
	}
	if len(fields) > 5 {
		if n, err := strconv.ParseInt(fields[5], 10, 64); err == nil {
			fd.BytesRemaining = n
		}
	}
	return fd, nil
}
