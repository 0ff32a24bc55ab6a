package link

import "github.com/xyproto/ldmini/internal/elf"

// Options configures a single link, mirroring the CLI-facing fields
// relevant to the core (output path and file I/O remain the caller's
// responsibility).
type Options struct {
	BaseAddress uint64
	EntryName   string
	Catalog     LibraryCatalog
}

// Result is everything a caller needs after a successful link, whether it
// wants the final bytes (normal mode) or just the computed layout
// (--dry-run).
type Result struct {
	State   *State
	Segments []*Segment
}

// Link runs the full staged pipeline over already-parsed objects:
// load-all → resolve → layout → relocate, stopping at the first failing
// stage. Writing the executable is a separate step (WriteExecutable) so
// --dry-run callers can stop after Relocate.
func Link(objects []*elf.Object, opts Options) (*Result, error) {
	s := New(opts.BaseAddress, opts.EntryName)

	for _, obj := range objects {
		if err := s.Load(obj); err != nil {
			return nil, err
		}
	}

	if err := s.ResolveSymbols(opts.Catalog); err != nil {
		return nil, err
	}

	if err := s.Layout(); err != nil {
		return nil, err
	}

	if err := s.Relocate(); err != nil {
		return nil, err
	}

	return &Result{State: s, Segments: groupSegments(s.Regions)}, nil
}
