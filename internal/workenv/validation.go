package workenv

import (
	"os"
	"path/filepath"
)

// DefaultKeepPolicy returns a keep predicate for PruneOrphaned that treats
// an instance as live if a `<name>.psp` or `<name>.pspf` file still exists
// in any of searchDirs — the package that produced the cache entry hasn't
// been deleted or moved out from under it.
func DefaultKeepPolicy(searchDirs []string) func(name string) bool {
	return func(name string) bool {
		for _, dir := range searchDirs {
			for _, ext := range []string{".psp", ".pspf"} {
				if _, err := os.Stat(filepath.Join(dir, name+ext)); err == nil {
					return true
				}
			}
		}
		return false
	}
}
