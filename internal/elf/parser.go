package elf

import (
	"strings"

	"github.com/xyproto/ldmini/internal/linkerr"
)

// Parse decodes raw bytes into a fully-populated Object, or a typed error.
// No partial object is ever returned: any failure aborts decoding entirely.
//
// id identifies the source file for later diagnostics (e.g. "a.o" or an
// archive member name); it is not read from the bytes themselves.
func Parse(id string, data []byte) (*Object, error) {
	p := &parser{id: id, r: NewReader(data), data: data}
	return p.parse()
}

type parser struct {
	id   string
	r    *Reader
	data []byte
}

func (p *parser) parse() (*Object, error) {
	hdr, err := p.parseHeader()
	if err != nil {
		return nil, err
	}

	sectionHeaders, err := p.parseSectionHeaders(hdr)
	if err != nil {
		return nil, err
	}

	// shnum = 0 is a valid, section-less object (§8 boundary case): there
	// is no shstrndx to resolve and nothing to read a string table from,
	// so skip straight to an empty section list rather than treating
	// shstrndx 0 as out of range.
	var sections []Section
	if len(sectionHeaders) > 0 {
		if int(hdr.Shstrndx) >= len(sectionHeaders) {
			return nil, linkerr.New(linkerr.MalformedStringTable,
				"%s: shstrndx %d out of range for %d sections", p.id, hdr.Shstrndx, len(sectionHeaders))
		}
		shstrtab, err := p.readStringTable(sectionHeaders[hdr.Shstrndx])
		if err != nil {
			return nil, err
		}

		sections, err = p.parseSectionPayloads(sectionHeaders, shstrtab)
		if err != nil {
			return nil, err
		}
	}

	symbols, err := p.parseSymbols(sections)
	if err != nil {
		return nil, err
	}

	relocs, skipped, err := p.parseRelocations(sections)
	if err != nil {
		return nil, err
	}

	return &Object{
		ID:                 p.id,
		Header:             hdr,
		Sections:           sections,
		Symbols:            symbols,
		Relocs:             relocs,
		SkippedRelocations: skipped,
	}, nil
}

// parseHeader implements §4.3 step 1.
func (p *parser) parseHeader() (Header, error) {
	var hdr Header
	if err := p.r.Seek(0); err != nil {
		return hdr, err
	}

	ident, err := p.r.ReadBytes(16)
	if err != nil {
		return hdr, linkerr.Wrap(linkerr.TruncatedInput, err, "%s: reading identification", p.id)
	}
	copy(hdr.Ident[:], ident)

	if ident[0] != Magic[0] || ident[1] != Magic[1] || ident[2] != Magic[2] || ident[3] != Magic[3] {
		return hdr, linkerr.New(linkerr.InvalidMagic, "%s: bad magic %v", p.id, ident[:4])
	}
	class := ident[4]
	if class != ELFCLASS64 {
		return hdr, linkerr.New(linkerr.UnsupportedClass, "%s: class %d, only ELFCLASS64 supported", p.id, class)
	}
	encoding := ident[5]
	if encoding != ELFDATA2LSB {
		return hdr, linkerr.New(linkerr.UnsupportedEncoding, "%s: encoding %d, only ELFDATA2LSB supported", p.id, encoding)
	}

	typ, err := p.r.ReadU16()
	if err != nil {
		return hdr, linkerr.Wrap(linkerr.TruncatedInput, err, "%s: reading e_type", p.id)
	}
	if typ != ET_REL {
		return hdr, linkerr.New(linkerr.UnsupportedFileType, "%s: type %d, only ET_REL accepted as input", p.id, typ)
	}
	hdr.Type = typ

	machine, err := p.r.ReadU16()
	if err != nil {
		return hdr, linkerr.Wrap(linkerr.TruncatedInput, err, "%s: reading e_machine", p.id)
	}
	if machine != EM_X86_64 {
		return hdr, linkerr.New(linkerr.UnsupportedMachine, "%s: machine %d, only EM_X86_64 supported", p.id, machine)
	}
	hdr.Machine = machine

	version, err := p.r.ReadU32()
	if err != nil {
		return hdr, linkerr.Wrap(linkerr.TruncatedInput, err, "%s: reading e_version", p.id)
	}
	hdr.Version = version

	if hdr.Entry, err = p.r.ReadU64(); err != nil {
		return hdr, linkerr.Wrap(linkerr.TruncatedInput, err, "%s: reading e_entry", p.id)
	}
	if hdr.Phoff, err = p.r.ReadU64(); err != nil {
		return hdr, linkerr.Wrap(linkerr.TruncatedInput, err, "%s: reading e_phoff", p.id)
	}
	if hdr.Shoff, err = p.r.ReadU64(); err != nil {
		return hdr, linkerr.Wrap(linkerr.TruncatedInput, err, "%s: reading e_shoff", p.id)
	}
	if hdr.Flags, err = p.r.ReadU32(); err != nil {
		return hdr, linkerr.Wrap(linkerr.TruncatedInput, err, "%s: reading e_flags", p.id)
	}
	if hdr.Ehsize, err = p.r.ReadU16(); err != nil {
		return hdr, linkerr.Wrap(linkerr.TruncatedInput, err, "%s: reading e_ehsize", p.id)
	}
	if hdr.Phentsize, err = p.r.ReadU16(); err != nil {
		return hdr, linkerr.Wrap(linkerr.TruncatedInput, err, "%s: reading e_phentsize", p.id)
	}
	if hdr.Phnum, err = p.r.ReadU16(); err != nil {
		return hdr, linkerr.Wrap(linkerr.TruncatedInput, err, "%s: reading e_phnum", p.id)
	}
	if hdr.Shentsize, err = p.r.ReadU16(); err != nil {
		return hdr, linkerr.Wrap(linkerr.TruncatedInput, err, "%s: reading e_shentsize", p.id)
	}
	if hdr.Shnum, err = p.r.ReadU16(); err != nil {
		return hdr, linkerr.Wrap(linkerr.TruncatedInput, err, "%s: reading e_shnum", p.id)
	}
	if hdr.Shstrndx, err = p.r.ReadU16(); err != nil {
		return hdr, linkerr.Wrap(linkerr.TruncatedInput, err, "%s: reading e_shstrndx", p.id)
	}

	return hdr, nil
}

// parseSectionHeaders implements §4.3 step 2.
func (p *parser) parseSectionHeaders(hdr Header) ([]SectionHeader, error) {
	if hdr.Shnum == 0 {
		return nil, nil
	}
	if hdr.Shentsize != SectionHeaderSize {
		return nil, linkerr.New(linkerr.TruncatedSection,
			"%s: shentsize %d, expected %d", p.id, hdr.Shentsize, SectionHeaderSize)
	}
	if err := p.r.Seek(int(hdr.Shoff)); err != nil {
		return nil, err
	}

	out := make([]SectionHeader, hdr.Shnum)
	for i := range out {
		sh, err := p.readSectionHeader()
		if err != nil {
			return nil, linkerr.Wrap(linkerr.TruncatedInput, err, "%s: reading section header %d", p.id, i)
		}
		out[i] = sh
	}
	if int(hdr.Shstrndx) >= len(out) {
		return nil, linkerr.New(linkerr.MalformedStringTable,
			"%s: shstrndx %d out of range for %d sections", p.id, hdr.Shstrndx, len(out))
	}
	return out, nil
}

func (p *parser) readSectionHeader() (SectionHeader, error) {
	var sh SectionHeader
	var err error
	if sh.Name, err = p.r.ReadU32(); err != nil {
		return sh, err
	}
	if sh.Type, err = p.r.ReadU32(); err != nil {
		return sh, err
	}
	if sh.Flags, err = p.r.ReadU64(); err != nil {
		return sh, err
	}
	if sh.Addr, err = p.r.ReadU64(); err != nil {
		return sh, err
	}
	if sh.Offset, err = p.r.ReadU64(); err != nil {
		return sh, err
	}
	if sh.Size, err = p.r.ReadU64(); err != nil {
		return sh, err
	}
	if sh.Link, err = p.r.ReadU32(); err != nil {
		return sh, err
	}
	if sh.Info, err = p.r.ReadU32(); err != nil {
		return sh, err
	}
	if sh.Addralign, err = p.r.ReadU64(); err != nil {
		return sh, err
	}
	if sh.Entsize, err = p.r.ReadU64(); err != nil {
		return sh, err
	}
	return sh, nil
}

// readStringTable implements §4.3 step 3: load the full backing bytes of a
// SHT_STRTAB section.
func (p *parser) readStringTable(sh SectionHeader) ([]byte, error) {
	if sh.Type != SHT_STRTAB {
		return nil, linkerr.New(linkerr.MalformedStringTable,
			"%s: section-name string table is not SHT_STRTAB (type %d)", p.id, sh.Type)
	}
	buf, err := p.r.SliceAt(int(sh.Offset), int(sh.Size))
	if err != nil {
		return nil, linkerr.Wrap(linkerr.TruncatedSection, err, "%s: reading string table", p.id)
	}
	return buf, nil
}

// stringAt decodes the null-terminated string starting at offset within
// table. Offset 0 denotes the empty string; an offset at the final byte
// (the implicit trailing null terminator) also decodes to the empty
// string.
func stringAt(table []byte, offset uint32) (string, error) {
	if int(offset) > len(table) {
		return "", linkerr.New(linkerr.MalformedStringTable,
			"name offset %d beyond string table of length %d", offset, len(table))
	}
	if int(offset) == len(table) {
		return "", nil
	}
	rest := table[offset:]
	if i := strings.IndexByte(string(rest), 0); i >= 0 {
		return string(rest[:i]), nil
	}
	return "", linkerr.New(linkerr.MalformedStringTable, "unterminated string at offset %d", offset)
}

// parseSectionPayloads implements §4.3 step 4: resolve each section's name
// and, for non-SHT_NOBITS sections, load its file payload.
func (p *parser) parseSectionPayloads(headers []SectionHeader, shstrtab []byte) ([]Section, error) {
	out := make([]Section, len(headers))
	for i, sh := range headers {
		name, err := stringAt(shstrtab, sh.Name)
		if err != nil {
			return nil, linkerr.Wrap(linkerr.MalformedStringTable, err, "%s: section %d name", p.id, i)
		}

		sec := Section{Name: name, Header: sh}
		if sh.Type != SHT_NOBITS {
			payload, err := p.r.SliceAt(int(sh.Offset), int(sh.Size))
			if err != nil {
				return nil, linkerr.Wrap(linkerr.TruncatedSection, err,
					"%s: section %q payload (offset %d size %d)", p.id, name, sh.Offset, sh.Size)
			}
			sec.Payload = payload
		}
		out[i] = sec
	}
	return out, nil
}

// parseSymbols implements §4.3 step 5: locate the first SHT_SYMTAB
// section, resolve each entry's name against its associated SHT_STRTAB.
func (p *parser) parseSymbols(sections []Section) ([]Symbol, error) {
	symtabIdx := -1
	for i, s := range sections {
		if s.Header.Type == SHT_SYMTAB {
			symtabIdx = i
			break
		}
	}
	if symtabIdx < 0 {
		return nil, nil
	}
	symtab := sections[symtabIdx]
	if symtab.Header.Size%SymbolEntrySize != 0 {
		return nil, linkerr.New(linkerr.TruncatedSection,
			"%s: symbol table size %d not a multiple of %d", p.id, symtab.Header.Size, SymbolEntrySize)
	}
	if int(symtab.Header.Link) >= len(sections) {
		return nil, linkerr.New(linkerr.MalformedStringTable,
			"%s: symbol table link %d out of range", p.id, symtab.Header.Link)
	}
	strtab := sections[symtab.Header.Link]

	count := int(symtab.Header.Size / SymbolEntrySize)
	out := make([]Symbol, count)
	sr := NewReader(symtab.Payload)
	for i := 0; i < count; i++ {
		raw, err := readRawSymbol(sr)
		if err != nil {
			return nil, linkerr.Wrap(linkerr.TruncatedInput, err, "%s: reading symbol %d", p.id, i)
		}
		name, err := stringAt(strtab.Payload, raw.NameOffset)
		if err != nil {
			return nil, linkerr.Wrap(linkerr.MalformedStringTable, err, "%s: symbol %d name", p.id, i)
		}
		out[i] = Symbol{
			Name:         name,
			Value:        raw.Value,
			Size:         raw.Size,
			Binding:      SymbolBinding(raw.Info),
			Type:         SymbolType(raw.Info),
			SectionIndex: raw.SectionIdx,
			Defined:      raw.SectionIdx != SHN_UNDEF,
			SourceObject: p.id,
		}
	}
	return out, nil
}

func readRawSymbol(r *Reader) (RawSymbol, error) {
	var s RawSymbol
	var err error
	if s.NameOffset, err = r.ReadU32(); err != nil {
		return s, err
	}
	if s.Info, err = r.ReadU8(); err != nil {
		return s, err
	}
	if s.Other, err = r.ReadU8(); err != nil {
		return s, err
	}
	if s.SectionIdx, err = r.ReadU16(); err != nil {
		return s, err
	}
	if s.Value, err = r.ReadU64(); err != nil {
		return s, err
	}
	if s.Size, err = r.ReadU64(); err != nil {
		return s, err
	}
	return s, nil
}

// parseRelocations implements §4.3 step 6: for each SHT_RELA section
// named ".rela.text", parse its entries. Relocations for any other
// section (notably .rela.eh_frame) are deliberately skipped, logged by
// the caller at Debug rather than errored (§9 Open Question 2).
func (p *parser) parseRelocations(sections []Section) ([]Relocation, []SkippedRelocation, error) {
	var out []Relocation
	var skipped []SkippedRelocation
	for _, s := range sections {
		if s.Header.Type != SHT_RELA {
			continue
		}
		if s.Name != ".rela.text" {
			skipped = append(skipped, SkippedRelocation{SectionName: s.Name, TargetIndex: uint16(s.Header.Info)})
			continue
		}
		if s.Header.Size%RelaEntrySize != 0 {
			return nil, nil, linkerr.New(linkerr.TruncatedSection,
				"%s: relocation section %q size %d not a multiple of %d", p.id, s.Name, s.Header.Size, RelaEntrySize)
		}
		count := int(s.Header.Size / RelaEntrySize)
		rr := NewReader(s.Payload)
		for i := 0; i < count; i++ {
			raw, err := readRawRela(rr)
			if err != nil {
				return nil, nil, linkerr.Wrap(linkerr.TruncatedInput, err, "%s: reading relocation %d in %q", p.id, i, s.Name)
			}
			out = append(out, Relocation{
				Offset:             raw.Offset,
				SymbolIndex:        RelocSymbolIndex(raw.Info),
				Type:               RelocType(raw.Info),
				Addend:             raw.Addend,
				TargetSectionIndex: uint16(s.Header.Info),
			})
		}
	}
	return out, skipped, nil
}

func readRawRela(r *Reader) (RawRela, error) {
	var rel RawRela
	var err error
	if rel.Offset, err = r.ReadU64(); err != nil {
		return rel, err
	}
	if rel.Info, err = r.ReadU64(); err != nil {
		return rel, err
	}
	if rel.Addend, err = r.ReadI64(); err != nil {
		return rel, err
	}
	return rel, nil
}
