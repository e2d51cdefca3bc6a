// Package mimetypes maps file extensions and content to MIME types. Extra
// formats are added through Registry.Register; content sniffing for
// everything else is done by gabriel-vasile/mimetype.
package mimetypes

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
)

// headerLen is how much of a file the detectors see.
const headerLen = 3072

// Detector reports whether raw, the start of a file, is of a registered format.
type Detector func(raw []byte) bool

type entry struct {
	mime   string
	detect Detector
}

// Registry holds extension registrations consulted before content sniffing.
type Registry struct {
	mu    sync.RWMutex
	byExt map[string]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]entry)}
}

// NewDefaultRegistry returns a registry with the 3D model formats registered.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, f := range modelFormats {
		// static table; the entries are well-formed
		_ = r.Register(f.ext, f.mime, f.detect)
	}
	return r
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// Register maps ext (with or without the leading dot) to mimeType. When
// detect is non-nil, Detect only trusts the extension if detect accepts the
// file header. Registering an extension twice replaces the earlier entry.
func (r *Registry) Register(ext, mimeType string, detect Detector) error {
	ext = normalizeExt(ext)
	if ext == "" {
		return errors.New("register: empty extension")
	}
	if _, _, err := mime.ParseMediaType(mimeType); err != nil {
		return fmt.Errorf("register %s: %w", ext, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExt[ext] = entry{mime: mimeType, detect: detect}
	return nil
}

// Lookup returns the MIME type for an extension, preferring registrations
// over the system table.
func (r *Registry) Lookup(ext string) (string, bool) {
	ext = normalizeExt(ext)
	r.mu.RLock()
	e, ok := r.byExt[ext]
	r.mu.RUnlock()
	if ok {
		return e.mime, true
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return baseType(t), true
	}
	return "", false
}

// Extensions lists the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	slices.Sort(out)
	return out
}

// Detect determines the MIME type of the file at path. A registered
// extension wins when its detector accepts the header; otherwise the content
// is sniffed.
func (r *Registry) Detect(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("detect: %w", err)
	}
	defer f.Close()

	header := make([]byte, headerLen)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("detect: read %s: %w", path, err)
	}
	return r.DetectBytes(filepath.Ext(path), header[:n]), nil
}

// DetectBytes is Detect for an in-memory header and a file extension.
func (r *Registry) DetectBytes(ext string, header []byte) string {
	r.mu.RLock()
	e, ok := r.byExt[normalizeExt(ext)]
	r.mu.RUnlock()
	if ok && (e.detect == nil || e.detect(header)) {
		return e.mime
	}
	return baseType(mimetype.Detect(header).String())
}

// IsImage reports whether mimeType is an image type.
func IsImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// IsPDF reports whether mimeType is PDF.
func IsPDF(mimeType string) bool {
	return mimeType == "application/pdf"
}

func baseType(t string) string {
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}

var modelFormats = []struct {
	ext    string
	mime   string
	detect Detector
}{
	{"glb", "model/gltf-binary", prefix([]byte("glTF"))},
	{"gltf", "model/gltf+json", func(raw []byte) bool {
		trimmed := bytes.TrimSpace(raw)
		return bytes.HasPrefix(trimmed, []byte("{")) && bytes.Contains(raw, []byte(`"asset"`))
	}},
	{"obj", "model/obj", nil},
	{"stl", "model/stl", nil},
	{"fbx", "application/octet-stream", nil},
	{"ply", "application/x-ply", prefix([]byte("ply"))},
	{"usdz", "model/vnd.usdz+zip", prefix([]byte("PK\x03\x04"))},
}

func prefix(p []byte) Detector {
	return func(raw []byte) bool { return bytes.HasPrefix(raw, p) }
}
