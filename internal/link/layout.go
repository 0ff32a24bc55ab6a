package link

import (
	"math"

	"github.com/xyproto/ldmini/internal/elf"
	"github.com/xyproto/ldmini/internal/linkerr"
)

// pageSize is the page alignment reserved for the ELF header and program
// header table before the first allocatable section, per §4.5 step 1.
const pageSize = 0x1000

// alignUp rounds x up to the nearest multiple of a. An a of 0 or 1 leaves
// x unchanged; otherwise a must be a power of two and any other value is
// AlignmentImpossible, since the formula (x + a - 1) &^ (a - 1) is only
// correct for powers of two.
func alignUp(x, a uint64) (uint64, error) {
	if a == 0 || a == 1 {
		return x, nil
	}
	if a&(a-1) != 0 {
		return 0, linkerr.New(linkerr.AlignmentImpossible, "alignment %d is not a power of two", a)
	}
	if x > math.MaxUint64-(a-1) {
		return 0, linkerr.New(linkerr.AddressSpaceOverflow, "alignment of %d by %d overflows 64 bits", x, a)
	}
	return (x + a - 1) &^ (a - 1), nil
}

// Layout assigns a MemoryRegion to every allocatable section of every
// loaded object, in load order then section-header order, and computes
// the absolute address of every defined global symbol. It implements
// §4.5 steps 1–6.
func (s *State) Layout() error {
	cursor := s.BaseAddress
	if cursor > math.MaxUint64-pageSize {
		return linkerr.New(linkerr.AddressSpaceOverflow, "base address %#x leaves no room for the header page", cursor)
	}
	cursor += pageSize

	for _, obj := range s.Objects {
		for secIdx := range obj.Sections {
			sec := &obj.Sections[secIdx]
			if !sec.Allocatable() {
				continue
			}

			align := sec.Header.Addralign
			if align == 0 {
				align = 1
			}
			aligned, err := alignUp(cursor, align)
			if err != nil {
				return err
			}
			if aligned > math.MaxUint64-sec.Header.Size {
				return linkerr.New(linkerr.AddressSpaceOverflow,
					"section %q of %q at %#x size %d overflows address space", sec.Name, obj.ID, aligned, sec.Header.Size)
			}

			data := make([]byte, sec.Header.Size)
			if sec.Header.Type != elf.SHT_NOBITS {
				copy(data, sec.Payload)
			}

			region := &MemoryRegion{
				Base:               aligned,
				Size:               sec.Header.Size,
				Read:               sec.Header.Flags&elf.SHF_ALLOC != 0,
				Write:              sec.Header.Flags&elf.SHF_WRITE != 0,
				Execute:            sec.Header.Flags&elf.SHF_EXECINSTR != 0,
				Data:               data,
				SourceObject:       obj.ID,
				SourceSectionIndex: secIdx,
				ZeroFill:           sec.Header.Type == elf.SHT_NOBITS,
			}
			s.Regions = append(s.Regions, region)
			s.regionOf[regionKey{obj.ID, secIdx}] = len(s.Regions) - 1

			cursor = aligned + sec.Header.Size
		}
	}
	s.nextAddress = cursor

	return s.computeSymbolAddresses()
}

// computeSymbolAddresses implements §4.5 step 6: every defined global
// symbol's resolved_address is the base of its owning region plus its
// in-section value, except SHN_ABS symbols, which take their literal
// value, and library-provided placeholders, which keep address 0 (already
// set and marked valid in ResolveSymbols).
func (s *State) computeSymbolAddresses() error {
	for name, g := range s.Globals {
		if !g.Defined || g.AddressValid {
			continue
		}
		if g.SectionIndex == elf.SHN_ABS {
			g.ResolvedAddress = g.Value
			g.AddressValid = true
			continue
		}

		region := s.regionFor(g.SourceObject, int(g.SectionIndex))
		if region == nil {
			return linkerr.New(linkerr.AddressSpaceOverflow,
				"symbol %q section index %d in %q has no allocated region", name, g.SectionIndex, g.SourceObject)
		}
		g.ResolvedAddress = region.Base + g.Value
		g.AddressValid = true
	}
	return nil
}
