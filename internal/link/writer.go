package link

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"

	"github.com/xyproto/ldmini/internal/elf"
	"github.com/xyproto/ldmini/internal/linkerr"
)

// WriteExecutable serializes the laid-out, relocated state into a
// byte-exact ET_EXEC image per §4.7: a 64-byte ElfHeader, N 56-byte
// program headers, then each segment's file-resident bytes at its
// assigned, page-aligned file offset. No section header table is
// emitted.
func (s *State) WriteExecutable() ([]byte, error) {
	entry, ok := s.Globals[s.EntryName]
	if !ok || !entry.Defined || !entry.AddressValid {
		return nil, linkerr.New(linkerr.MissingEntryPoint, "entry symbol %q not found", s.EntryName)
	}

	segments := groupSegments(s.Regions)
	n := uint16(len(segments))

	headerAndPhdrsSize := uint64(elf.HeaderSize) + uint64(len(segments))*uint64(elf.ProgramHeaderSize)
	cursor := headerAndPhdrsSize
	offsets := make([]uint64, len(segments))
	for i, seg := range segments {
		off, err := alignUp(cursor, pageSize)
		if err != nil {
			return nil, err
		}
		offsets[i] = off
		cursor = off + seg.fileSize()
	}

	hdr := elf.Header{
		Type:      elf.ET_EXEC,
		Machine:   elf.EM_X86_64,
		Version:   1,
		Entry:     entry.ResolvedAddress,
		Phoff:     elf.HeaderSize,
		Shoff:     0,
		Flags:     0,
		Ehsize:    elf.HeaderSize,
		Phentsize: elf.ProgramHeaderSize,
		Phnum:     n,
		Shentsize: 0,
		Shnum:     0,
		Shstrndx:  0,
	}
	hdr.Ident[0], hdr.Ident[1], hdr.Ident[2], hdr.Ident[3] = elf.Magic[0], elf.Magic[1], elf.Magic[2], elf.Magic[3]
	hdr.Ident[4] = elf.ELFCLASS64
	hdr.Ident[5] = elf.ELFDATA2LSB
	hdr.Ident[6] = 1 // EV_CURRENT

	var out bytes.Buffer
	opts := &struc.Options{Order: binary.LittleEndian}
	if err := struc.PackWithOptions(&out, &hdr, opts); err != nil {
		return nil, linkerr.Wrap(linkerr.WriteFailed, err, "encoding ELF header")
	}

	for i, seg := range segments {
		flags := uint32(0)
		if seg.Read {
			flags |= elf.PF_R
		}
		if seg.Write {
			flags |= elf.PF_W
		}
		if seg.Execute {
			flags |= elf.PF_X
		}
		ph := elf.ProgramHeader{
			Type:   elf.PT_LOAD,
			Flags:  flags,
			Offset: offsets[i],
			Vaddr:  seg.Base,
			Paddr:  seg.Base,
			Filesz: seg.fileSize(),
			Memsz:  seg.MemSize,
			Align:  pageSize,
		}
		if err := struc.PackWithOptions(&out, &ph, opts); err != nil {
			return nil, linkerr.Wrap(linkerr.WriteFailed, err, "encoding program header %d", i)
		}
	}

	for i, seg := range segments {
		if uint64(out.Len()) < offsets[i] {
			out.Write(make([]byte, offsets[i]-uint64(out.Len())))
		}
		out.Write(seg.bytes())
	}

	return out.Bytes(), nil
}
