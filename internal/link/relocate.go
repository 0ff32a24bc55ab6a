package link

import (
	"encoding/binary"
	"math"

	"github.com/xyproto/ldmini/internal/elf"
	"github.com/xyproto/ldmini/internal/linkerr"
)

// Relocate patches every loaded object's code-section bytes for every
// parsed relocation, per the x86-64 calculus of §4.6. Objects are
// processed in load order; relocations within an object are applied in
// parser-observed order, though the effect is order-independent since
// each entry writes to a distinct offset (enforced by ELF).
//
// The relocation type dispatch is an exhaustive switch over the fixed
// set of named constants, per §9's guidance against a function-pointer
// dictionary: an unhandled type is UnsupportedRelocation, never a silent
// skip.
func (s *State) Relocate() error {
	for _, obj := range s.Objects {
		for _, r := range obj.Relocs {
			if err := s.applyRelocation(obj, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *State) applyRelocation(obj *elf.Object, r elf.Relocation) error {
	// A relocation against the reserved null symbol (index 0) is treated
	// as R_X86_64_NONE: every valid ELF object's symbol table begins with
	// this entry by construction, so encountering index 0 is not
	// malformed input.
	if r.SymbolIndex == 0 {
		return nil
	}

	region := s.regionFor(obj.ID, int(r.TargetSectionIndex))
	if region == nil {
		return linkerr.New(linkerr.RelocationOffsetOutOfRange,
			"%s: relocation targets unallocated section %d", obj.ID, r.TargetSectionIndex)
	}
	// Bounds-check against the actual write width of this relocation type
	// (8 bytes for R_X86_64_64, 4 for everything else that writes), rather
	// than a blanket "fits in 4 or 8" check: an offset that leaves room for
	// a 4-byte write but not the 8-byte write an R_X86_64_64 entry needs
	// must still be rejected here instead of panicking inside the encoder
	// below. Unrecognized types fall through with width 0 and are instead
	// reported as UnsupportedRelocation by the switch.
	if width := relocationWidth(uint32(r.Type)); width > 0 && r.Offset+width > region.Size {
		return linkerr.New(linkerr.RelocationOffsetOutOfRange,
			"%s: relocation offset %d (width %d) beyond region of size %d", obj.ID, r.Offset, width, region.Size)
	}

	// Index-base correction: obj.Symbols is parsed directly from the
	// on-disk symbol table, including its reserved null entry at index 0,
	// so ELF's 0-based symbol_index already indexes it correctly in this
	// (0-indexed) language. Implementations in a 1-indexed language must
	// add 1 here instead.
	if int(r.SymbolIndex) >= len(obj.Symbols) {
		return linkerr.New(linkerr.SymbolIndexOutOfRange,
			"%s: symbol index %d out of range for %d symbols", obj.ID, r.SymbolIndex, len(obj.Symbols))
	}
	localSym := obj.Symbols[r.SymbolIndex]

	g, ok := s.Globals[localSym.Name]
	if !ok || !g.Defined {
		return linkerr.New(linkerr.UnresolvedSymbols, "%s: relocation references unresolved symbol %q", obj.ID, localSym.Name)
	}

	if uint32(r.Type) == elf.R_X86_64_PLT32 && g.FromLibrary {
		// §9 Open Question 1: no PLT is built, so a PLT32 relocation
		// against a library-resolved symbol cannot be satisfied; refuse
		// rather than silently mislink.
		return linkerr.New(linkerr.PLT32AgainstLibrarySymbol,
			"%s: PLT32 relocation against library-resolved symbol %q", obj.ID, localSym.Name)
	}
	if g.FromLibrary && relocationWidth(uint32(r.Type)) > 0 {
		// A library-provided symbol has no address in this image, so any
		// other patching relocation against it is refused as well rather
		// than writing a zero address.
		return linkerr.New(linkerr.UnresolvedSymbols,
			"%s: relocation against library-resolved symbol %q, which has no address in the image", obj.ID, localSym.Name)
	}

	S := int64(g.ResolvedAddress)
	A := r.Addend
	P := int64(region.Base) + int64(r.Offset)

	switch uint32(r.Type) {
	case elf.R_X86_64_NONE:
		return nil

	case elf.R_X86_64_64:
		value := uint64(S + A)
		binary.LittleEndian.PutUint64(region.Data[r.Offset:r.Offset+8], value)
		return nil

	case elf.R_X86_64_PC32, elf.R_X86_64_PLT32:
		value := S + A - (P + 4)
		if value < math.MinInt32 || value > math.MaxInt32 {
			return linkerr.New(linkerr.NarrowingOverflow, "%s: PC32 value %d out of 32-bit signed range", obj.ID, value)
		}
		binary.LittleEndian.PutUint32(region.Data[r.Offset:r.Offset+4], uint32(int32(value)))
		return nil

	case elf.R_X86_64_32:
		value := S + A
		if value < 0 || value > math.MaxUint32 {
			return linkerr.New(linkerr.NarrowingOverflow, "%s: 32 value %d out of unsigned 32-bit range", obj.ID, value)
		}
		binary.LittleEndian.PutUint32(region.Data[r.Offset:r.Offset+4], uint32(value))
		return nil

	case elf.R_X86_64_32S:
		value := S + A
		if value < math.MinInt32 || value > math.MaxInt32 {
			return linkerr.New(linkerr.NarrowingOverflow, "%s: 32S value %d out of 32-bit signed range", obj.ID, value)
		}
		binary.LittleEndian.PutUint32(region.Data[r.Offset:r.Offset+4], uint32(int32(value)))
		return nil

	default:
		return linkerr.New(linkerr.UnsupportedRelocation, "%s: unsupported relocation type %d", obj.ID, r.Type)
	}
}

// relocationWidth reports how many bytes applyRelocation writes for a
// given relocation type: 8 for R_X86_64_64, 4 for the other patching
// types, 0 for R_X86_64_NONE and anything this linker does not handle.
func relocationWidth(typ uint32) uint64 {
	switch typ {
	case elf.R_X86_64_64:
		return 8
	case elf.R_X86_64_PC32, elf.R_X86_64_PLT32, elf.R_X86_64_32, elf.R_X86_64_32S:
		return 4
	default:
		return 0
	}
}
