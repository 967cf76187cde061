// Package storage resolves library destinations and moves staged files
// into place. Both the chunked protocol and the legacy single-request
// upload go through this package, so extension and path rules are
// enforced in one place.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrExtensionNotAllowed rejects files outside the media allow-list.
var ErrExtensionNotAllowed = errors.New("file extension not allowed")

// ErrPathOutsideRoot rejects destinations escaping the media root.
var ErrPathOutsideRoot = errors.New("destination escapes media root")

// allowedExtensions is the fixed allow-list of media container and
// subtitle formats, matched case-insensitively.
var allowedExtensions = map[string]struct{}{
	".mp4":  {},
	".mkv":  {},
	".avi":  {},
	".mov":  {},
	".wmv":  {},
	".flv":  {},
	".webm": {},
	".m4v":  {},
	".mpg":  {},
	".mpeg": {},
	".srt":  {},
	".sub":  {},
	".vtt":  {},
}

// ExtensionAllowed reports whether name carries an allowed extension.
func ExtensionAllowed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	_, ok := allowedExtensions[ext]
	return ok
}

// SanitizeName strips path separators and traversal fragments from a
// client-supplied file or folder name, leaving a single path element.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." {
		return ""
	}
	return name
}

// ResolveDestination builds the final file path under mediaRoot from
// the optional folder name or explicit destination directory. The
// resolved path is guaranteed to stay inside mediaRoot.
func ResolveDestination(mediaRoot, folderName, destinationPath, fileName string) (string, error) {
	fileName = SanitizeName(fileName)
	if fileName == "" {
		return "", fmt.Errorf("empty file name")
	}

	dir := mediaRoot
	switch {
	case destinationPath != "":
		dir = filepath.Join(mediaRoot, filepath.Clean("/"+destinationPath))
	case folderName != "":
		folder := SanitizeName(folderName)
		if folder == "" {
			return "", fmt.Errorf("invalid folder name %q", folderName)
		}
		dir = filepath.Join(mediaRoot, folder)
	}

	dest := filepath.Join(dir, fileName)
	rel, err := filepath.Rel(mediaRoot, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", ErrPathOutsideRoot
	}
	return dest, nil
}

// StagingPath returns the staging file location for a session.
func StagingPath(stagingRoot, uploadID, fileName string) string {
	return filepath.Join(stagingRoot, uploadID, SanitizeName(fileName))
}

// ListFolders returns the immediate subdirectories of path, sorted.
// A missing path yields an empty list, not an error.
func ListFolders(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	folders := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			folders = append(folders, e.Name())
		}
	}
	sort.Strings(folders)
	return folders, nil
}

// Relocate moves src to dst, creating dst's directory. It tries a
// rename first and falls back to copy+unlink when src and dst live on
// different filesystems.
func Relocate(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy to destination: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("flush destination: %w", err)
	}
	return nil
}

// CleanupEmptyDirs removes dir and any now-empty parents, stopping at
// stopAt. Non-empty directories end the walk silently.
func CleanupEmptyDirs(dir, stopAt string) {
	stopAt = filepath.Clean(stopAt)
	for {
		dir = filepath.Clean(dir)
		if dir == stopAt || dir == "." || dir == string(os.PathSeparator) {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
