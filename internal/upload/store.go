package upload

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrDisallowedType = errors.New("file type not allowed")
	ErrTooLarge       = errors.New("file too large")
	ErrEmptyFile      = errors.New("empty file")
)

// allowedExtensions maps permitted upload extensions to the MIME prefixes
// the sniffed content must match. An empty prefix list accepts any sniffed
// type for that extension (documents wrapped in zip containers defeat
// prefix checks).
var allowedExtensions = map[string][]string{
	".txt":  {"text/"},
	".pdf":  {"application/pdf"},
	".png":  {"image/png"},
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".gif":  {"image/gif"},
	".doc":  {},
	".docx": {},
}

// Store writes uploaded attachments to a local directory with collision-free
// names, validating size, extension and sniffed content type.
type Store struct {
	dir      string
	maxBytes int64
}

// NewStore creates the upload directory if needed.
func NewStore(dir string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// Saved describes a stored attachment.
type Saved struct {
	// Name is the unique on-disk filename, safe to hand to clients as the
	// file path component of a message.
	Name   string
	Size   int64
	SHA256 string
}

// Save validates and persists one upload stream. The stored name keeps the
// original base name, sanitized, with a random suffix to avoid collisions.
func (s *Store) Save(filename string, r io.Reader) (*Saved, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	prefixes, allowed := allowedExtensions[ext]
	if !allowed {
		return nil, ErrDisallowedType
	}

	name := uniqueName(filename, ext)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(f, hasher), io.LimitReader(r, s.maxBytes+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}
	if written == 0 {
		_ = os.Remove(path)
		return nil, ErrEmptyFile
	}
	if written > s.maxBytes {
		_ = os.Remove(path)
		return nil, ErrTooLarge
	}

	if len(prefixes) > 0 {
		mime, err := mimetype.DetectFile(path)
		if err != nil {
			_ = os.Remove(path)
			return nil, fmt.Errorf("failed to detect content type: %w", err)
		}
		if !matchesAny(mime.String(), prefixes) {
			_ = os.Remove(path)
			return nil, ErrDisallowedType
		}
	}

	return &Saved{
		Name:   name,
		Size:   written,
		SHA256: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open returns a reader for a stored attachment by its on-disk name. Path
// traversal in the name is rejected.
func (s *Store) Open(name string) (*os.File, error) {
	if name != filepath.Base(name) || name == "." || name == "" {
		return nil, os.ErrNotExist
	}
	return os.Open(filepath.Join(s.dir, name))
}

func matchesAny(mime string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(mime, prefix) {
			return true
		}
	}
	return false
}

// uniqueName keeps a sanitized base name for readability and appends a
// random hex suffix for uniqueness.
func uniqueName(filename, ext string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = sanitize(base)
	if base == "" {
		base = "file"
	}

	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%s_%s%s", base, hex.EncodeToString(suffix), ext)
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
