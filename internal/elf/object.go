package elf

// SkippedRelocation names a SHT_RELA section the parser declined to
// collect entries from, because it targets a section other than .text.
// Callers that care (cmd/ldmini's logging) surface these as diagnostics;
// internal/elf itself has no logger dependency, so it only records the
// fact.
type SkippedRelocation struct {
	SectionName string
	TargetIndex uint16
}

// Object is one parsed input file: header, sections (with their resolved
// names and payload bytes), symbols, and the relocations filtered to the
// code section per §4.3 step 6. It is owned exclusively by the linker
// state once loaded.
type Object struct {
	ID                  string
	Header              Header
	Sections            []Section
	Symbols             []Symbol
	Relocs              []Relocation
	SkippedRelocations  []SkippedRelocation
}

// Section is a parsed section header plus its resolved name and, for
// non-SHT_NOBITS sections, a copy of its file payload.
type Section struct {
	Name    string
	Header  SectionHeader
	Payload []byte // nil for SHT_NOBITS
}

// Allocatable reports whether this section receives a MemoryRegion during
// layout: SHF_ALLOC must be set.
func (s *Section) Allocatable() bool { return s.Header.Flags&SHF_ALLOC != 0 }

// Symbol is a named entity contributed by an object, in the form the
// parser produces it (before global resolution).
type Symbol struct {
	Name         string
	Value        uint64
	Size         uint64
	Binding      uint8
	Type         uint8
	SectionIndex uint16
	Defined      bool
	SourceObject string
}

// Relocation is a patch instruction targeting the code section of its
// owning object.
type Relocation struct {
	Offset      uint64
	SymbolIndex uint32
	Type        uint32
	Addend      int64

	// TargetSectionIndex is the index, within the owning object's Sections
	// slice, of the section this relocation's containing .rela section
	// relocates (resolved from the SHT_RELA section header's Info field,
	// which for RELA sections names the target section index).
	TargetSectionIndex uint16
}
