package sync

import (
	"regexp"
	"strings"
)

// ValidationResult is the pure decision returned by every validator below.
// Validators never touch I/O or state.
type ValidationResult struct {
	Valid  bool
	Reason string
}

func ok() ValidationResult                 { return ValidationResult{Valid: true} }
func invalid(reason string) ValidationResult { return ValidationResult{Reason: reason} }

var (
	siteNamePattern   = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	folderSegPattern  = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

const (
	maxSiteNameLen   = 63
	maxUploadNameLen = 255
	maxFolderDepth   = 5
	maxUploadBytes   = 10 * 1024 * 1024
)

// windowsReservedNames is the classic DOS device-name list, checked
// case-insensitively against the name with any extension stripped.
var windowsReservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

func isWindowsReserved(name string) bool {
	base := name
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}

	return windowsReservedNames[strings.ToUpper(base)]
}

// ValidateSiteName checks a site file's base name (the `.html` suffix, if
// present, is stripped before checking) against the no-leading/trailing/
// consecutive-hyphen, alphanumeric-plus-hyphen rule.
func ValidateSiteName(name string) ValidationResult {
	name = strings.TrimSuffix(name, ".html")

	if name == "" {
		return invalid("name is empty")
	}

	if len(name) > maxSiteNameLen {
		return invalid("name exceeds 63 characters")
	}

	if !siteNamePattern.MatchString(name) {
		return invalid("name must match [A-Za-z0-9-]+")
	}

	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") {
		return invalid("name cannot start or end with a hyphen")
	}

	if strings.Contains(name, "--") {
		return invalid("name cannot contain consecutive hyphens")
	}

	if isWindowsReserved(name) {
		return invalid("name is a reserved device name")
	}

	return ok()
}

// ValidateFolderSegment checks a single path segment against the folder
// naming rule. Called once per segment by ValidatePath.
func ValidateFolderSegment(seg string) ValidationResult {
	if seg == "" {
		return invalid("folder segment is empty")
	}

	if !folderSegPattern.MatchString(seg) {
		return invalid("folder segment must match [a-z0-9_-]+")
	}

	return ok()
}

// ValidatePath composes folder-segment validation with the depth limit and,
// for sites, the site-name rule on the final segment.
func ValidatePath(relPath string, kind NodeKind) ValidationResult {
	segs := strings.Split(relPath, "/")
	if len(segs) == 0 {
		return invalid("path is empty")
	}

	folders := segs[:len(segs)-1]
	name := segs[len(segs)-1]

	if len(folders) > maxFolderDepth {
		return invalid("folder depth exceeds limit")
	}

	for _, f := range folders {
		if r := ValidateFolderSegment(f); !r.Valid {
			return r
		}
	}

	if kind == KindSite {
		return ValidateSiteName(name)
	}

	return ValidateUploadName(name)
}

// controlCharOrFullWidthPunct matches ASCII control characters and the
// full-width punctuation the server is known to sanitize out of upload
// names (U+FF01-FF0F, U+FF1A-FF20, U+FF3B-FF40, U+FF5B-FF65 ranges).
var controlCharOrFullWidthPunct = regexp.MustCompile(`[\x00-\x1F\x7F\x{FF01}-\x{FF0F}\x{FF1A}-\x{FF20}\x{FF3B}-\x{FF40}\x{FF5B}-\x{FF65}]`)

// ValidateUploadName is the permissive variant used for opaque upload
// files: any extension, up to 255 bytes, no control characters, no path
// separators, not ending in a dot, not a reserved device name.
func ValidateUploadName(name string) ValidationResult {
	if name == "" {
		return invalid("name is empty")
	}

	if len(name) > maxUploadNameLen {
		return invalid("name exceeds 255 bytes")
	}

	if strings.ContainsAny(name, "/\\") {
		return invalid("name cannot contain a path separator")
	}

	if strings.HasSuffix(name, ".") {
		return invalid("name cannot end with a dot")
	}

	if controlCharOrFullWidthPunct.MatchString(name) {
		return invalid("name contains a disallowed character")
	}

	if isWindowsReserved(name) {
		return invalid("name is a reserved device name")
	}

	return ok()
}

// ValidateUploadSize enforces the 10 MiB upload limit (scenario 6).
func ValidateUploadSize(size int64) ValidationResult {
	if size > maxUploadBytes {
		return invalid("upload exceeds 10 MiB size limit")
	}

	return ok()
}
