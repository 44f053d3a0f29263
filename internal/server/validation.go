// validation.go - Upload input sanitisation helpers
package server

import (
	"path/filepath"
	"regexp"
	"strings"
)

// extPattern matches extensions that are safe to carry into a stored name.
var extPattern = regexp.MustCompile(`^\.[A-Za-z0-9]{1,10}$`)

// dangerousExtensions lists extensions that must never be served back
// under their own name from this host.
var dangerousExtensions = map[string]bool{
	".exe":   true,
	".bat":   true,
	".cmd":   true,
	".com":   true,
	".pif":   true,
	".scr":   true,
	".vbs":   true,
	".jar":   true,
	".msi":   true,
	".dll":   true,
	".so":    true,
	".dylib": true,
}

// storedExtension derives the on-disk extension from the client-supplied
// filename. Anything unusual or executable falls back to .bin.
func storedExtension(filename string) string {
	ext := filepath.Ext(filename)
	if !extPattern.MatchString(ext) {
		return ".bin"
	}
	if dangerousExtensions[strings.ToLower(ext)] {
		return ".bin"
	}
	return ext
}

func defaultContentType(ct string) string {
	ct = strings.TrimSpace(ct)
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}
