package libcatalog

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestNullCatalogContainsNothing(t *testing.T) {
	var c LibraryCatalog = NullCatalog{}
	require.False(t, c.Contains("anything"))
}

func TestScanningCatalogOpaqueLibrarySatisfiesAnyQuery(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/lib/libc.so.6", []byte("not real ELF bytes"), 0o644))

	cat := NewScanningCatalog(fs, []string{"/lib"}, []string{"c"}, nil)
	require.True(t, cat.Contains("printf"))
	require.True(t, cat.Contains("anything_else"))
}

func TestScanningCatalogMissingLibraryContainsNothing(t *testing.T) {
	fs := afero.NewMemMapFs()
	cat := NewScanningCatalog(fs, []string{"/lib"}, []string{"c"}, nil)
	require.False(t, cat.Contains("printf"))
}
