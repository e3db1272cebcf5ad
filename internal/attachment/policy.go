// Package attachment holds the rules every chat attachment must satisfy.
// Clients run them before touching the network; the server runs them again
// when issuing upload grants and registering file messages.
package attachment

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxBytes is the largest attachment accepted.
const MaxBytes int64 = 5 * 1024 * 1024

var allowedMediaTypes = map[string]struct{}{
	"application/pdf": {},
	"image/png":       {},
	"image/jpeg":      {},
	"image/jpg":       {},
	"image/gif":       {},
	"audio/mpeg":      {},
	"audio/wav":       {},
	"audio/ogg":       {},
	"audio/webm":      {},
}

var (
	ErrMissingFilename  = errors.New("filename is required")
	ErrMissingMediaType = errors.New("media type is required")
	ErrMediaType        = errors.New("media type is not allowed")
	ErrTooLarge         = errors.New("attachment exceeds size limit")
)

// Allowed reports whether mediaType is on the allow-list. Parameters such as
// "; codecs=opus" are ignored.
func Allowed(mediaType string) bool {
	_, ok := allowedMediaTypes[baseType(mediaType)]
	return ok
}

// Validate checks a proposed attachment. A negative size means the size is
// not known and skips the size check.
func Validate(filename, mediaType string, size int64) error {
	if strings.TrimSpace(filename) == "" {
		return ErrMissingFilename
	}
	if strings.TrimSpace(mediaType) == "" {
		return ErrMissingMediaType
	}
	if !Allowed(mediaType) {
		return fmt.Errorf("%w: %s", ErrMediaType, baseType(mediaType))
	}
	if size > MaxBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, size, MaxBytes)
	}
	return nil
}

// Extension returns the extension used in object keys: the filename's own
// extension when present, else the media type's canonical one, else "bin".
func Extension(filename, mediaType string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(strings.TrimSpace(filename))), ".")
	if ext != "" && isToken(ext) {
		return ext
	}
	if mt := mimetype.Lookup(baseType(mediaType)); mt != nil {
		if canonical := strings.TrimPrefix(mt.Extension(), "."); canonical != "" {
			return canonical
		}
	}
	return "bin"
}

// Detect sniffs the media type of data.
func Detect(data []byte) string {
	return baseType(mimetype.Detect(data).String())
}

func baseType(mediaType string) string {
	value, _, _ := strings.Cut(mediaType, ";")
	return strings.ToLower(strings.TrimSpace(value))
}

func isToken(ext string) bool {
	for _, r := range ext {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return len(ext) <= 10
}
