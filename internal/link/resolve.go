package link

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/xyproto/ldmini/internal/elf"
	"github.com/xyproto/ldmini/internal/linkerr"
)

// publishSymbol applies the precedence table of §4.4 to merge one object's
// symbol into the global table. It is the complete behavior of the
// resolver for a single incoming symbol.
func (s *State) publishSymbol(sym *elf.Symbol) error {
	existing, present := s.Globals[sym.Name]
	if sym.Name == "" {
		// Unnamed (local) symbols are never published globally; they are
		// only reachable by index within their own object during
		// relocation, handled directly off obj.Symbols.
		return nil
	}

	incoming := &GlobalSymbol{
		Name:         sym.Name,
		Value:        sym.Value,
		Size:         sym.Size,
		Binding:      sym.Binding,
		Type:         sym.Type,
		SectionIndex: sym.SectionIndex,
		Defined:      sym.Defined,
		SourceObject: sym.SourceObject,
	}

	if !present {
		s.Globals[sym.Name] = incoming
		return nil
	}

	if !sym.Defined {
		// present-and-incoming-undefined: keep the existing entry
		// regardless of whether it is itself defined.
		return nil
	}

	if !existing.Defined {
		// present-and-undefined, incoming-defined: promote.
		s.Globals[sym.Name] = incoming
		return nil
	}

	// Both present and incoming are defined.
	switch {
	case existing.Binding == elf.STB_WEAK && incoming.Binding == elf.STB_GLOBAL:
		s.Globals[sym.Name] = incoming
	case existing.Binding == elf.STB_GLOBAL && incoming.Binding == elf.STB_WEAK:
		// keep existing
	case existing.Binding == elf.STB_GLOBAL && incoming.Binding == elf.STB_GLOBAL:
		return linkerr.New(linkerr.MultipleStrongDefinitions,
			"%q defined in both %q and %q", sym.Name, existing.SourceObject, sym.SourceObject)
	default:
		// both WEAK: first-seen wins, keep existing.
	}
	return nil
}

// ResolveSymbols runs the single pass of §4.4 over the global table: for
// every symbol still undefined after all objects were loaded, consult
// catalog; a hit promotes it to a library-provided placeholder. Any name
// still undefined is UnresolvedSymbols unless it is WEAK, in which case it
// is given address 0 and survives. Idempotent: running it twice leaves the
// state unchanged on the second pass, since every symbol it would act on
// is already Defined after the first pass.
func (s *State) ResolveSymbols(catalog LibraryCatalog) error {
	var stillUnresolved []string

	names := maps.Keys(s.Globals)
	slices.Sort(names) // deterministic diagnostic ordering

	for _, name := range names {
		g := s.Globals[name]
		if g.Defined {
			continue
		}
		if catalog != nil && catalog.Contains(name) {
			g.Defined = true
			g.FromLibrary = true
			g.ResolvedAddress = 0
			g.AddressValid = true
			continue
		}
		if g.Binding == elf.STB_WEAK {
			g.Defined = true
			g.ResolvedAddress = 0
			g.AddressValid = true
			continue
		}
		stillUnresolved = append(stillUnresolved, name)
	}

	if len(stillUnresolved) > 0 {
		return linkerr.New(linkerr.UnresolvedSymbols, "unresolved: %v", stillUnresolved)
	}
	return nil
}
