package archive

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func memberHeader(name string, size int) []byte {
	h := make([]byte, memberHeaderSize)
	copy(h, []byte(name))
	for i := len(name); i < 16; i++ {
		h[i] = ' '
	}
	for i := 16; i < 48; i++ {
		h[i] = ' '
	}
	sizeStr := []byte(itoa(size))
	copy(h[48:], sizeStr)
	for i := 48 + len(sizeStr); i < 58; i++ {
		h[i] = ' '
	}
	h[58] = '`'
	h[59] = '\n'
	return h
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func buildArchive(members map[string][]byte, order []string) []byte {
	var out []byte
	out = append(out, []byte(magic)...)
	for _, name := range order {
		content := members[name]
		out = append(out, memberHeader(name+"/", len(content))...)
		out = append(out, content...)
		if len(content)%2 != 0 {
			out = append(out, 0)
		}
	}
	return out
}

func TestExpandSkipsSpecialMembers(t *testing.T) {
	members := map[string][]byte{
		"a.o": {0x01, 0x02, 0x03},
		"b.o": {0x04, 0x05},
	}
	data := buildArchive(members, []string{"a.o", "b.o"})

	// Put a GNU symbol table ("/") and an empty long-name table ("//")
	// ahead of the ordinary members.
	special := append(memberHeader("/", 4), 0, 0, 0, 0)
	special = append(special, memberHeader("//", 0)...)
	data = append(append([]byte(magic), special...), data[len(magic):]...)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/lib/foo.a", data, 0o644))

	streams, cleanup, err := Expand(fs, "/lib/foo.a")
	defer cleanup()
	require.NoError(t, err)
	require.Len(t, streams, 2)
	require.Equal(t, "a.o", streams[0].Name)
	require.Equal(t, "b.o", streams[1].Name)

	got, err := afero.ReadFile(fs, streams[0].Path)
	require.NoError(t, err)
	require.Equal(t, members["a.o"], got)
}

func TestExpandRejectsBadMagic(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/lib/bad.a", []byte("not an archive"), 0o644))

	_, cleanup, err := Expand(fs, "/lib/bad.a")
	defer cleanup()
	require.Error(t, err)
}

func TestExpandCleanupRemovesTempFiles(t *testing.T) {
	members := map[string][]byte{"a.o": {0x01}}
	data := buildArchive(members, []string{"a.o"})

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/lib/foo.a", data, 0o644))

	streams, cleanup, err := Expand(fs, "/lib/foo.a")
	require.NoError(t, err)
	require.Len(t, streams, 1)

	cleanup()
	_, err = afero.ReadFile(fs, streams[0].Path)
	require.Error(t, err)
}
