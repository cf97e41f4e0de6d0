package sync

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// backupTimestampFormat is the YYYY-MM-DD-HH-mm-ss part of §3's literal
// format YYYY-MM-DD-HH-mm-ss-mmm; backupPath appends the "-mmm" milliseconds.
const backupTimestampFormat = "2006-01-02-15-04-05"

// sitesVersionsDir is the backup root (§6 on-disk layout).
const sitesVersionsDir = "sites-versions"

// BackupIfExists copies the current content of relPath (if the file
// exists) into sites-versions/ before an overwriting write, per invariant
// I2: "No destructive local write occurs without a backup of the prior
// contents when such contents existed." kind selects the layout: sites
// back up under sites-versions/<relPath sans .html>/, uploads under
// sites-versions/uploads/<relPath>/. Returns (false, nil) when there was
// nothing to back up (the file didn't exist yet).
func BackupIfExists(root, relPath string, kind NodeKind, now time.Time) (bool, error) {
	src := filepath.Join(root, filepath.FromSlash(relPath))

	content, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("sync: reading %s for backup: %w", relPath, err)
	}

	dest := backupPath(root, relPath, kind, now)
	if err := os.MkdirAll(filepath.Dir(dest), metaDirPerm); err != nil {
		return false, fmt.Errorf("sync: creating backup directory: %w", err)
	}

	if err := os.WriteFile(dest, content, metaFilePerm); err != nil {
		return false, fmt.Errorf("sync: writing backup %s: %w", dest, err)
	}

	return true, nil
}

// backupPath computes the destination for a backup copy of relPath taken
// at instant now, per §3's two layouts.
func backupPath(root, relPath string, kind NodeKind, now time.Time) string {
	stamp := now.Format(backupTimestampFormat) + fmt.Sprintf("-%03d", now.Nanosecond()/int(time.Millisecond))

	if kind == KindUpload {
		return filepath.Join(root, sitesVersionsDir, "uploads", filepath.FromSlash(relPath), stamp+filepath.Ext(relPath))
	}

	sansExt := strings.TrimSuffix(relPath, ".html")

	return filepath.Join(root, sitesVersionsDir, filepath.FromSlash(sansExt), stamp+".html")
}
