// Package link implements the linker state, symbol resolver, memory
// layout allocator, relocation engine, and executable writer: the C4–C8
// components of the core linking pipeline.
package link

import (
	"github.com/xyproto/ldmini/internal/elf"
	"github.com/xyproto/ldmini/internal/libcatalog"
	"github.com/xyproto/ldmini/internal/linkerr"
)

// DefaultBaseAddress is the base virtual address used when none is
// configured, corresponding to -Ttext's default in the CLI table.
const DefaultBaseAddress uint64 = 0x400000

// DefaultEntryName is the entry-point symbol name used when none is
// configured, corresponding to -e's default in the CLI table.
const DefaultEntryName = "main"

// GlobalSymbol is the resolved form of a Symbol kept in the linker's
// global table: the same fields, plus an absolute ResolvedAddress
// populated after layout.
type GlobalSymbol struct {
	Name         string
	Value        uint64
	Size         uint64
	Binding      uint8
	Type         uint8
	SectionIndex uint16
	Defined      bool
	SourceObject string

	ResolvedAddress uint64
	AddressValid    bool

	// FromLibrary marks a symbol promoted to defined by consulting the
	// LibraryCatalog rather than by an in-image definition: it has no
	// owning region, so Relocate refuses every relocation that would write
	// its address (PLT32 as PLT32AgainstLibrarySymbol, the other patching
	// types as UnresolvedSymbols; see relocate.go) rather than patch a
	// bogus zero address.
	FromLibrary bool
}

// MemoryRegion is an allocated, non-overlapping virtual address range
// backed by a mutable byte buffer, created during layout and mutated only
// by the relocation engine afterward.
type MemoryRegion struct {
	Base    uint64
	Size    uint64
	Read    bool
	Write   bool
	Execute bool
	Data    []byte

	SourceObject       string
	SourceSectionIndex int

	// ZeroFill marks a region backed by an SHT_NOBITS section: its bytes
	// must never be copied into the output file, only accounted for in a
	// segment's in-memory size.
	ZeroFill bool
}

// regionKey identifies the (object, section) pair a MemoryRegion was
// allocated for, letting the relocation engine find the owning region of
// a relocation's target section without storing pointers into Objects.
type regionKey struct {
	objectID     string
	sectionIndex int
}

// State is the composite linker state: loaded objects, the global symbol
// table, allocated memory regions, and layout bookkeeping. It is created
// fresh for each link and discarded after, on success or failure.
type State struct {
	BaseAddress uint64
	EntryName   string

	Objects []*elf.Object
	Globals map[string]*GlobalSymbol
	Regions []*MemoryRegion

	nextAddress uint64
	loadedIDs   map[string]bool
	regionOf    map[regionKey]int
}

// New creates an empty LinkerState with the given base address and
// entry-point name; a zero baseAddress or empty entryName falls back to
// the package defaults.
func New(baseAddress uint64, entryName string) *State {
	if baseAddress == 0 {
		baseAddress = DefaultBaseAddress
	}
	if entryName == "" {
		entryName = DefaultEntryName
	}
	return &State{
		BaseAddress: baseAddress,
		EntryName:   entryName,
		Globals:     make(map[string]*GlobalSymbol),
		loadedIDs:   make(map[string]bool),
		regionOf:    make(map[regionKey]int),
	}
}

// Load appends a parsed object to the state and publishes each of its
// symbols into the global table. Loading the same object ID twice is
// DuplicateObject.
func (s *State) Load(obj *elf.Object) error {
	if s.loadedIDs[obj.ID] {
		return linkerr.New(linkerr.DuplicateObject, "object %q already loaded", obj.ID)
	}
	s.loadedIDs[obj.ID] = true
	s.Objects = append(s.Objects, obj)

	for i := range obj.Symbols {
		if err := s.publishSymbol(&obj.Symbols[i]); err != nil {
			return err
		}
	}
	return nil
}

// objectByID finds a loaded object by ID, or returns nil if none was
// loaded under that ID.
func (s *State) objectByID(id string) *elf.Object {
	for _, o := range s.Objects {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// regionFor returns the region allocated for (objectID, sectionIndex), or
// nil if that section was never allocatable.
func (s *State) regionFor(objectID string, sectionIndex int) *MemoryRegion {
	idx, ok := s.regionOf[regionKey{objectID, sectionIndex}]
	if !ok {
		return nil
	}
	return s.Regions[idx]
}

// LibraryCatalog re-exports the adapter contract so callers outside
// internal/libcatalog (notably internal/link's own resolver) depend on a
// single name for it.
type LibraryCatalog = libcatalog.LibraryCatalog
