// Package workenv locates the on-disk package cache root shared by every
// extracted PSPF package and garbage-collects instances whose backing
// package file has disappeared.
package workenv

import (
	"os"
	"path/filepath"
	"runtime"
)

// ResolveCacheRoot returns the workenv cache root, honoring FLAVOR_WORKDIR
// and XDG_CACHE_HOME the same way the launcher's executor does, falling
// back to a platform-specific cache directory. Kept in its own package so
// CLI tooling (gc) and the executor agree on where packages live without
// importing the whole pspf package just for this lookup.
func ResolveCacheRoot() string {
	if workdir := os.Getenv("FLAVOR_WORKDIR"); workdir != "" {
		return filepath.Dir(filepath.Dir(workdir))
	}

	if cacheDir := os.Getenv("XDG_CACHE_HOME"); cacheDir != "" {
		return filepath.Join(cacheDir, "flavor")
	}

	switch runtime.GOOS {
	case "darwin":
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, "Library", "Caches", "flavor")
		}
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "flavor", "cache")
		}
	default:
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, ".cache", "flavor")
		}
	}

	return filepath.Join(os.TempDir(), "flavor", "cache")
}

// Instance is one discovered cache entry under a workenv root: a
// `<name>` content directory paired with its `.{name}.pspf` metadata
// directory (see pspf.WorkenvPaths).
type Instance struct {
	Name        string
	WorkenvDir  string
	MetadataDir string
}

// ListInstances enumerates every metadata directory (`.{name}.pspf`) under
// root's `workenv` subdirectory and pairs it with its content directory.
func ListInstances(root string) ([]Instance, error) {
	workenvRoot := filepath.Join(root, "workenv")

	entries, err := os.ReadDir(workenvRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var instances []Instance
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if len(name) < 2 || name[0] != '.' || filepath.Ext(name) != ".pspf" {
			continue
		}

		base := name[1 : len(name)-len(".pspf")]
		instances = append(instances, Instance{
			Name:        base,
			WorkenvDir:  filepath.Join(workenvRoot, base),
			MetadataDir: filepath.Join(workenvRoot, name),
		})
	}

	return instances, nil
}

// PruneOrphaned removes every instance under root for which keep(name)
// returns false — typically because the `.pspf` package that produced it
// no longer exists on disk. Returns the names of instances removed.
func PruneOrphaned(root string, keep func(name string) bool) ([]string, error) {
	instances, err := ListInstances(root)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, inst := range instances {
		if keep(inst.Name) {
			continue
		}
		if err := os.RemoveAll(inst.MetadataDir); err != nil {
			return removed, err
		}
		if err := os.RemoveAll(inst.WorkenvDir); err != nil {
			return removed, err
		}
		removed = append(removed, inst.Name)
	}

	return removed, nil
}
