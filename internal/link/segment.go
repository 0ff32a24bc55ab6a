package link

// Segment is the writer's intermediate grouping of contiguous,
// same-permission MemoryRegions into a single PT_LOAD program header, per
// §4.7's segment-formation rule.
type Segment struct {
	Base    uint64
	MemSize uint64
	Read    bool
	Write   bool
	Execute bool

	// regions, in address order, backing this segment.
	regions []*MemoryRegion
}

// fileSize is the number of bytes of this segment that must be present in
// the output file: every region up to (but excluding) a trailing run of
// zero-fill (BSS-equivalent) regions.
func (seg *Segment) fileSize() uint64 {
	last := -1
	for i, r := range seg.regions {
		if !r.ZeroFill {
			last = i
		}
	}
	if last < 0 {
		return 0
	}
	end := seg.regions[last].Base + seg.regions[last].Size
	return end - seg.Base
}

// bytes renders this segment's file-resident content: fileSize() bytes,
// with each non-trailing-zero-fill region's backing data copied at its
// offset relative to the segment base, and any alignment gap between
// regions left as zero.
func (seg *Segment) bytes() []byte {
	size := seg.fileSize()
	out := make([]byte, size)
	for _, r := range seg.regions {
		if r.ZeroFill {
			continue // leave as the zero bytes make() already produced
		}
		start := r.Base - seg.Base
		if start >= size {
			continue // wholly within the zero-fill tail, already excluded
		}
		end := start + r.Size
		if end > size {
			end = size
		}
		copy(out[start:end], r.Data[:end-start])
	}
	return out
}

// groupSegments coalesces regions, in the order they were allocated
// (monotonically increasing address, per the layout invariant), into
// segments by identical permission set. A permission change always starts
// a new segment; an address gap within the same permission set (alignment
// padding) stays inside the current segment and becomes padding in
// MemSize/fileSize.
func groupSegments(regions []*MemoryRegion) []*Segment {
	var segments []*Segment
	for _, r := range regions {
		if len(segments) > 0 {
			last := segments[len(segments)-1]
			if last.Read == r.Read && last.Write == r.Write && last.Execute == r.Execute {
				last.regions = append(last.regions, r)
				end := r.Base + r.Size
				if end-last.Base > last.MemSize {
					last.MemSize = end - last.Base
				}
				continue
			}
		}
		segments = append(segments, &Segment{
			Base:    r.Base,
			MemSize: r.Size,
			Read:    r.Read,
			Write:   r.Write,
			Execute: r.Execute,
			regions: []*MemoryRegion{r},
		})
	}
	return segments
}
