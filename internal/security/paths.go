// Package security guards the file names the CLI derives from user input.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

const maxNameLen = 128

// SanitizeFilename reduces s to ASCII letters, digits, '.', '_' and '-'.
// Runs of other characters become a single underscore. An empty result is
// returned as "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// OutputName derives a per-video output file name, e.g.
// "clips/Front Squat #2.mov" with ext ".csv" gives "Front_Squat_2.csv".
func OutputName(videoPath, ext string) string {
	base := filepath.Base(videoPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return SanitizeFilename(base) + ext
}

// ValidatePathWithinDirectory rejects filePath if, once cleaned and with
// symlinks resolved on its longest existing prefix, it lies outside dir.
func ValidatePathWithinDirectory(filePath, dir string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory path: %w", err)
	}
	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalDir, resolveExisting(absPath))
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", filePath, dir)
	}
	return nil
}

// resolveExisting resolves symlinks in the deepest existing ancestor of
// path and re-attaches the missing tail.
func resolveExisting(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			tail, _ := filepath.Rel(dir, path)
			return filepath.Join(resolved, tail)
		}
		if dir == filepath.Dir(dir) {
			return path
		}
	}
}
