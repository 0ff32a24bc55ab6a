package libcatalog

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/xyproto/ldmini/internal/buildlog"
	"github.com/xyproto/ldmini/internal/elf"
)

// ScanningCatalog is the default LibraryCatalog: given an ordered list of
// search directories and configured -l<name> library names, it scans each
// directory for lib<name>.so* / lib<name>.a and, for any match that itself
// parses as ELF, records its exported symbol names. A match that cannot be
// parsed (the overwhelmingly common case for a real shared object, since
// internal/elf only decodes ET_REL) is treated as opaque: its bare
// existence is recorded and is sufficient to satisfy any symbol query
// against it, per the adapter's contains_symbol contract.
type ScanningCatalog struct {
	symbols     map[string]bool
	anyOpaque   bool
	anyFound    bool
	log         *buildlog.Logger
}

// NewScanningCatalog scans searchPaths (in order) for each name in
// libraries, recording what it finds. fs allows tests to substitute
// afero.NewMemMapFs() for the real filesystem.
func NewScanningCatalog(fs afero.Fs, searchPaths []string, libraries []string, log *buildlog.Logger) *ScanningCatalog {
	c := &ScanningCatalog{symbols: make(map[string]bool), log: log}
	for _, name := range libraries {
		c.scanOne(fs, searchPaths, name)
	}
	return c
}

func (c *ScanningCatalog) scanOne(fs afero.Fs, searchPaths []string, name string) {
	candidates := []string{"lib" + name + ".so", "lib" + name + ".a"}
	for _, dir := range searchPaths {
		entries, err := afero.ReadDir(fs, dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			base := entry.Name()
			matched := false
			for _, cand := range candidates {
				if base == cand || strings.HasPrefix(base, cand+".") {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
			path := filepath.Join(dir, base)
			c.anyFound = true
			c.recordExports(fs, path, name)
			return
		}
	}
	if c.log != nil {
		c.log.Debug("library not found in search path", "name", name, "paths", fmt.Sprint(searchPaths))
	}
}

func (c *ScanningCatalog) recordExports(fs afero.Fs, path, name string) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		c.anyOpaque = true
		return
	}
	obj, err := elf.Parse(path, data)
	if err != nil {
		// Not a parseable ET_REL (a real .so is ET_DYN, a real .a is an ar
		// archive): treat as opaque, matching the documented best-effort
		// fallback.
		c.anyOpaque = true
		if c.log != nil {
			c.log.Debug("library is opaque to the parser, recording bare existence", "path", path, "name", name)
		}
		return
	}
	for _, sym := range obj.Symbols {
		if sym.Defined && sym.Name != "" {
			c.symbols[sym.Name] = true
		}
	}
}

// Contains reports whether name is provided by any scanned library: either
// it was enumerated from a parseable library's symbol table, or at least
// one opaque library was found and is assumed to cover it.
func (c *ScanningCatalog) Contains(name string) bool {
	if c.symbols[name] {
		return true
	}
	return c.anyOpaque
}
