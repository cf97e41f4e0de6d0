package sync

import (
	"fmt"
	"os"
	"path/filepath"
)

// trashDirName is the engine's own trash, rooted inside the sync folder on
// every platform (§3: "the destination for server-initiated deletes").
// Unlike a desktop OS trash, it is never emptied by the engine (I3).
const trashDirName = ".trash"

// MoveToTrash relocates the file at relPath into <root>/.trash/<relPath>,
// preserving the original path structure. Invariant I3: the engine never
// unlinks a user file outright; every server-initiated delete lands here
// instead. Name collisions inside the trash append a numeric suffix so a
// repeated delete of the same path never clobbers an earlier trashed copy.
func MoveToTrash(root, relPath string) error {
	src := filepath.Join(root, filepath.FromSlash(relPath))

	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("sync: stating %s before trash: %w", relPath, err)
	}

	dest := filepath.Join(root, trashDirName, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(dest), metaDirPerm); err != nil {
		return fmt.Errorf("sync: creating trash directory: %w", err)
	}

	dest = uniquePath(dest)

	if err := os.Rename(src, dest); err != nil {
		return fmt.Errorf("sync: moving %s to trash: %w", relPath, err)
	}

	return nil
}

// uniquePath appends " 2", " 3", ... before the extension until it finds a
// path that doesn't already exist, matching the collision-avoidance
// convention a desktop trash uses.
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	dir := filepath.Dir(path)
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]

	for i := 2; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s %d%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
