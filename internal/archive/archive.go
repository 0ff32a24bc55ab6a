// Package archive expands System V/GNU ar(1) static library archives
// (.a files) into their member object byte streams, the "preprocessor"
// spec.md's core never sees: the core only ever consumes already-expanded
// object bytes.
package archive

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/xyproto/ldmini/internal/linkerr"
)

const (
	magic            = "!<arch>\n"
	memberHeaderSize = 60
)

// ObjectStream is one member of an expanded archive: its original member
// name and a temp file path holding its raw bytes, ready to be read and
// parsed by internal/elf exactly like a standalone object file.
type ObjectStream struct {
	Name string
	Path string
}

// Expand reads the ar archive at path and returns one ObjectStream per
// ordinary member, skipping the GNU special members "/" (symbol table)
// and "//" (long-name table). Each member's bytes are copied into its own
// temp file under fs, named with a uuid to avoid collisions across
// concurrent invocations; the returned cleanup function removes every
// temp file it created and must be called via defer on every exit path,
// success or failure.
func Expand(fs afero.Fs, path string) ([]ObjectStream, func(), error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, func() {}, linkerr.Wrap(linkerr.ReadFailed, err, "reading archive %q", path)
	}

	if len(data) < len(magic) || string(data[:len(magic)]) != magic {
		return nil, func() {}, linkerr.New(linkerr.InvalidMagic, "%q is not an ar archive", path)
	}

	var streams []ObjectStream
	var tempPaths []string
	cleanup := func() {
		for _, p := range tempPaths {
			_ = fs.Remove(p)
		}
	}

	offset := len(magic)
	var longNames []byte

	for offset+memberHeaderSize <= len(data) {
		hdr := data[offset : offset+memberHeaderSize]
		name := strings.TrimRight(string(hdr[0:16]), " ")
		sizeField := strings.TrimSpace(string(hdr[48:58]))
		size, err := strconv.Atoi(sizeField)
		if err != nil {
			cleanup()
			return nil, func() {}, linkerr.Wrap(linkerr.MalformedStringTable, err, "%q: malformed member size field", path)
		}

		contentStart := offset + memberHeaderSize
		contentEnd := contentStart + size
		if contentEnd > len(data) {
			cleanup()
			return nil, func() {}, linkerr.New(linkerr.TruncatedInput, "%q: member %q truncated", path, name)
		}
		content := data[contentStart:contentEnd]

		switch {
		case name == "/":
			// GNU symbol table: the core never consults it, since
			// internal/libcatalog performs its own filesystem scan.
		case name == "//":
			longNames = content
		case strings.HasPrefix(name, "/") && isDigits(name[1:]):
			// GNU long-name reference: "/<offset>" into the "//" member.
			resolved := resolveLongName(longNames, name[1:])
			tempPath, err := writeTemp(fs, resolved, content)
			if err != nil {
				cleanup()
				return nil, func() {}, err
			}
			tempPaths = append(tempPaths, tempPath)
			streams = append(streams, ObjectStream{Name: resolved, Path: tempPath})
		default:
			cleanName := strings.TrimSuffix(name, "/")
			tempPath, err := writeTemp(fs, cleanName, content)
			if err != nil {
				cleanup()
				return nil, func() {}, err
			}
			tempPaths = append(tempPaths, tempPath)
			streams = append(streams, ObjectStream{Name: cleanName, Path: tempPath})
		}

		// Member content is padded to an even file offset.
		next := contentEnd
		if size%2 != 0 {
			next++
		}
		offset = next
	}

	return streams, cleanup, nil
}

func writeTemp(fs afero.Fs, name string, content []byte) (string, error) {
	f, err := afero.TempFile(fs, "", "ldmini-"+uuid.NewString()+"-"+sanitize(name)+"-*.o")
	if err != nil {
		return "", linkerr.Wrap(linkerr.WriteFailed, err, "creating temp file for archive member %q", name)
	}
	defer f.Close()
	if _, err := f.Write(content); err != nil {
		return "", linkerr.Wrap(linkerr.WriteFailed, err, "writing archive member %q", name)
	}
	return f.Name(), nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func resolveLongName(table []byte, offsetStr string) string {
	offset, err := strconv.Atoi(offsetStr)
	if err != nil || offset < 0 || offset >= len(table) {
		return "member"
	}
	rest := table[offset:]
	if i := bytes.IndexAny(rest, "/\n"); i >= 0 {
		return string(rest[:i])
	}
	return string(rest)
}
