package elf

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xyproto/ldmini/internal/linkerr"
)

// objectBuilder assembles a minimal valid ET_REL byte image for tests,
// without depending on the writer (which targets ET_EXEC output only).
type objectBuilder struct {
	text       []byte
	relaText   []byte
	relaName   string // name of the relocation section; ".rela.text" when empty
	symbols    []testSym
	withRelocs bool
}

type testSym struct {
	name    string
	value   uint64
	size    uint64
	binding uint8
	typ     uint8
	secIdx  uint16
}

func le16(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
func le32(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
func le64(v uint64) []byte { b := make([]byte, 8); binary.LittleEndian.PutUint64(b, v); return b }

// build lays out: null section, .text, .rela.text (optional), .symtab,
// .strtab, .shstrtab — a realistic minimal ET_REL layout.
func (b *objectBuilder) build() []byte {
	var strtab []byte
	strtab = append(strtab, 0) // index 0 = empty string
	nameOffsets := map[string]uint32{}
	for _, s := range b.symbols {
		if s.name == "" {
			continue
		}
		if _, ok := nameOffsets[s.name]; ok {
			continue
		}
		nameOffsets[s.name] = uint32(len(strtab))
		strtab = append(strtab, []byte(s.name)...)
		strtab = append(strtab, 0)
	}

	var symtab []byte
	symtab = append(symtab, make([]byte, SymbolEntrySize)...) // index 0: null symbol
	for _, s := range b.symbols {
		off := uint32(0)
		if s.name != "" {
			off = nameOffsets[s.name]
		}
		symtab = append(symtab, le32(off)...)
		symtab = append(symtab, PackSymbolInfo(s.binding, s.typ))
		symtab = append(symtab, 0)
		symtab = append(symtab, le16(s.secIdx)...)
		symtab = append(symtab, le64(s.value)...)
		symtab = append(symtab, le64(s.size)...)
	}

	shstrtab := []byte{0}
	secName := func(name string) uint32 {
		off := uint32(len(shstrtab))
		shstrtab = append(shstrtab, []byte(name)...)
		shstrtab = append(shstrtab, 0)
		return off
	}

	type sh struct {
		hdr     SectionHeader
		payload []byte
	}
	var secs []sh
	secs = append(secs, sh{hdr: SectionHeader{}}) // SHT_NULL

	textNameOff := secName(".text")
	secs = append(secs, sh{
		hdr: SectionHeader{
			Name: textNameOff, Type: SHT_PROGBITS,
			Flags: SHF_ALLOC | SHF_EXECINSTR, Addralign: 1, Size: uint64(len(b.text)),
		},
		payload: b.text,
	})
	textIdx := uint32(len(secs) - 1)

	relaIdx := -1
	if b.withRelocs {
		relaName := b.relaName
		if relaName == "" {
			relaName = ".rela.text"
		}
		relaNameOff := secName(relaName)
		secs = append(secs, sh{
			hdr: SectionHeader{
				Name: relaNameOff, Type: SHT_RELA,
				Info: textIdx, Link: uint32(len(secs) + 2), // patched below
				Size: uint64(len(b.relaText)), Entsize: RelaEntrySize, Addralign: 8,
			},
			payload: b.relaText,
		})
		relaIdx = len(secs) - 1
	}

	symtabNameOff := secName(".symtab")
	strtabIdxPlaceholder := uint32(len(secs) + 1) // strtab follows symtab
	secs = append(secs, sh{
		hdr: SectionHeader{
			Name: symtabNameOff, Type: SHT_SYMTAB,
			Link: strtabIdxPlaceholder, Size: uint64(len(symtab)), Entsize: SymbolEntrySize,
		},
		payload: symtab,
	})
	symtabIdx := uint32(len(secs) - 1)
	if relaIdx >= 0 {
		secs[relaIdx].hdr.Link = symtabIdx
	}

	strtabNameOff := secName(".strtab")
	secs = append(secs, sh{
		hdr:     SectionHeader{Name: strtabNameOff, Type: SHT_STRTAB, Size: uint64(len(strtab))},
		payload: strtab,
	})

	shstrtabNameOff := secName(".shstrtab")
	shstrndx := uint16(len(secs))
	secs = append(secs, sh{
		hdr:     SectionHeader{Name: shstrtabNameOff, Type: SHT_STRTAB, Size: uint64(len(shstrtab))},
		payload: shstrtab,
	})

	// Lay out file offsets: header, then all section payloads back to
	// back, then the section header table.
	cursor := uint64(HeaderSize)
	for i := range secs {
		if secs[i].hdr.Type == SHT_NULL {
			continue
		}
		secs[i].hdr.Offset = cursor
		cursor += uint64(len(secs[i].payload))
	}
	shoff := cursor

	var out []byte
	out = append(out, Magic[:]...)
	out = append(out, ELFCLASS64, ELFDATA2LSB, 1, 0)
	out = append(out, make([]byte, 8)...) // pad to 16
	out = append(out, le16(ET_REL)...)
	out = append(out, le16(EM_X86_64)...)
	out = append(out, le32(1)...)       // version
	out = append(out, le64(0)...)       // entry
	out = append(out, le64(0)...)       // phoff
	out = append(out, le64(shoff)...)   // shoff
	out = append(out, le32(0)...)       // flags
	out = append(out, le16(HeaderSize)...)
	out = append(out, le16(0)...) // phentsize
	out = append(out, le16(0)...) // phnum
	out = append(out, le16(SectionHeaderSize)...)
	out = append(out, le16(uint16(len(secs)))...)
	out = append(out, le16(shstrndx)...)

	for _, s := range secs {
		if s.hdr.Type != SHT_NULL {
			out = append(out, s.payload...)
		}
	}

	for _, s := range secs {
		out = append(out, le32(s.hdr.Name)...)
		out = append(out, le32(s.hdr.Type)...)
		out = append(out, le64(s.hdr.Flags)...)
		out = append(out, le64(s.hdr.Addr)...)
		out = append(out, le64(s.hdr.Offset)...)
		out = append(out, le64(s.hdr.Size)...)
		out = append(out, le32(s.hdr.Link)...)
		out = append(out, le32(s.hdr.Info)...)
		out = append(out, le64(s.hdr.Addralign)...)
		out = append(out, le64(s.hdr.Entsize)...)
	}

	return out
}

func TestParseSingleObjectRoundTrip(t *testing.T) {
	b := &objectBuilder{
		text: []byte{0x48, 0xC7, 0xC0, 0x2A, 0x00, 0x00, 0x00, 0xC3}, // mov rax,42; ret
		symbols: []testSym{
			{name: "main", binding: STB_GLOBAL, typ: STT_FUNC, secIdx: 1},
		},
	}
	obj, err := Parse("a.o", b.build())
	require.NoError(t, err)
	require.Equal(t, uint16(ET_REL), obj.Header.Type)
	require.Len(t, obj.Symbols, 2) // reserved null entry at index 0, then main
	require.Equal(t, "main", obj.Symbols[1].Name)
	require.True(t, obj.Symbols[1].Defined)
	require.Empty(t, obj.Relocs)
}

func TestParseShnumZero(t *testing.T) {
	var out []byte
	out = append(out, Magic[:]...)
	out = append(out, ELFCLASS64, ELFDATA2LSB, 1, 0)
	out = append(out, make([]byte, 8)...)
	out = append(out, le16(ET_REL)...)
	out = append(out, le16(EM_X86_64)...)
	out = append(out, le32(1)...)
	out = append(out, le64(0)...)
	out = append(out, le64(0)...)
	out = append(out, le64(0)...)
	out = append(out, le32(0)...)
	out = append(out, le16(HeaderSize)...)
	out = append(out, le16(0)...)
	out = append(out, le16(0)...)
	out = append(out, le16(SectionHeaderSize)...)
	out = append(out, le16(0)...) // shnum = 0
	out = append(out, le16(0)...)

	obj, err := Parse("empty.o", out)
	require.NoError(t, err)
	require.Empty(t, obj.Sections)
	require.Empty(t, obj.Symbols)
}

func TestParseInvalidMagic(t *testing.T) {
	data := make([]byte, 64)
	_, err := Parse("bad.o", data)
	var le *linkerr.Error
	require.ErrorAs(t, err, &le)
	require.Equal(t, linkerr.InvalidMagic, le.Kind())
}

func TestParseTruncatedHeader(t *testing.T) {
	_, err := Parse("short.o", Magic[:])
	var le *linkerr.Error
	require.ErrorAs(t, err, &le)
	require.Equal(t, linkerr.TruncatedInput, le.Kind())
}

func TestParseUnsupportedFileType(t *testing.T) {
	b := &objectBuilder{text: []byte{0x90}}
	data := b.build()
	// Patch e_type (offset 16) from ET_REL to ET_EXEC.
	binary.LittleEndian.PutUint16(data[16:], ET_EXEC)
	_, err := Parse("exec.o", data)
	var le *linkerr.Error
	require.ErrorAs(t, err, &le)
	require.Equal(t, linkerr.UnsupportedFileType, le.Kind())
}

func TestParseSkipsNonTextRelocations(t *testing.T) {
	// A relocation section that is not .rela.text (here .rela.eh_frame)
	// must never surface as a Relocation; it is recorded as skipped.
	b := &objectBuilder{
		text:       []byte{0x90, 0x90},
		relaText:   make([]byte, RelaEntrySize),
		relaName:   ".rela.eh_frame",
		withRelocs: true,
		symbols:    []testSym{{name: "main", binding: STB_GLOBAL, typ: STT_FUNC, secIdx: 1}},
	}
	obj, err := Parse("a.o", b.build())
	require.NoError(t, err)
	require.Empty(t, obj.Relocs)
	require.Len(t, obj.SkippedRelocations, 1)
	require.Equal(t, ".rela.eh_frame", obj.SkippedRelocations[0].SectionName)
}

func TestStringAtImplicitTrailingNull(t *testing.T) {
	table := []byte{0, 'h', 'i', 0}
	s, err := stringAt(table, 4)
	require.NoError(t, err)
	require.Equal(t, "", s)
}

func TestStringAtEmpty(t *testing.T) {
	table := []byte{0, 'h', 'i', 0}
	s, err := stringAt(table, 0)
	require.NoError(t, err)
	require.Equal(t, "", s)
}
