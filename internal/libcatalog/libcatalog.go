// Package libcatalog implements the library resolver adapter (C9): the
// filesystem-scanning collaborator that marks undefined symbols as
// externally provided without the core ever touching a filesystem path
// itself.
package libcatalog

// LibraryCatalog is the input contract the core's resolver consults for
// each still-undefined symbol name after all objects are loaded: a hit
// means "externally provided", so the resolver promotes the symbol to
// defined without computing a runtime address for it.
type LibraryCatalog interface {
	Contains(name string) bool
}

// NullCatalog contains nothing; it is used when no -l flags are given, so
// every symbol left undefined after in-image resolution stays undefined.
type NullCatalog struct{}

// Contains always reports false.
func (NullCatalog) Contains(name string) bool { return false }
