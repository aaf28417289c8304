// Package blobstore stores uploaded prescriptions and reports. Objects are
// addressed by a generated key that doubles as the stored file name.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("object not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
	ErrInvalidKey         = errors.New("invalid object key")
)

// AllowedContentTypes are the formats a prescription or report may arrive in.
var AllowedContentTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"image/gif":       true,
	"application/pdf": true,
	"text/plain":      true,
}

// Object describes a stored file.
type Object struct {
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

type Store interface {
	Put(ctx context.Context, name, contentType string, content io.Reader) (*Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName reduces a client file name to a safe base name.
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, "._")
	if len(name) > 100 {
		ext := filepath.Ext(name)
		if len(ext) > 10 {
			ext = ""
		}
		name = name[:100-len(ext)] + ext
	}
	if name == "" {
		return "file"
	}
	return name
}

// NewKey builds "<UTC yyyymmddhhmmss>_<uuid>_<sanitized name>".
func NewKey(now time.Time, name string) string {
	return fmt.Sprintf("%s_%s_%s", now.UTC().Format("20060102150405"), uuid.NewString(), SanitizeName(name))
}

func validKey(key string) bool {
	return key != "" && key == filepath.Base(key) && !strings.HasPrefix(key, ".")
}

// readLimited reads at most max bytes, sniffs the content type when the
// declared one is generic and checks it against the allow list.
func readLimited(content io.Reader, declared string, max int64) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(content, max+1))
	if err != nil {
		return nil, "", fmt.Errorf("read content: %w", err)
	}
	if int64(len(data)) > max {
		return nil, "", ErrFileTooLarge
	}
	ct := normalizeContentType(declared)
	if ct == "" || ct == "application/octet-stream" {
		ct = normalizeContentType(http.DetectContentType(data))
	}
	if !AllowedContentTypes[ct] {
		return nil, "", fmt.Errorf("%w: %s", ErrInvalidContentType, ct)
	}
	return data, ct, nil
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

func hashOf(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// MemoryStore keeps objects in process memory.
type MemoryStore struct {
	maxSize int64

	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore(maxSize int64) *MemoryStore {
	return &MemoryStore{maxSize: maxSize, objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, name, contentType string, content io.Reader) (*Object, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrMissingFileName
	}
	data, ct, err := readLimited(content, contentType, s.maxSize)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	obj := &Object{
		Key:         NewKey(now, name),
		Name:        name,
		ContentType: ct,
		Size:        int64(len(data)),
		Hash:        hashOf(data),
		CreatedAt:   now,
	}

	s.mu.Lock()
	s.objects[obj.Key] = data
	s.mu.Unlock()
	return obj, nil
}

func (s *MemoryStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return ErrNotFound
	}
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
