package mimetypes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestDefaultRegistryLookup(t *testing.T) {
	r := NewDefaultRegistry()
	tests := []struct {
		ext  string
		want string
	}{
		{"glb", "model/gltf-binary"},
		{".GLTF", "model/gltf+json"},
		{"obj", "model/obj"},
		{"stl", "model/stl"},
		{"fbx", "application/octet-stream"},
		{"ply", "application/x-ply"},
		{"usdz", "model/vnd.usdz+zip"},
	}
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			got, ok := r.Lookup(tt.ext)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, []string{"fbx", "glb", "gltf", "obj", "ply", "stl", "usdz"}, r.Extensions())
}

func TestLookupFallsBackToSystemTable(t *testing.T) {
	got, ok := NewRegistry().Lookup("pdf")
	require.True(t, ok)
	assert.Equal(t, "application/pdf", got)

	_, ok = NewRegistry().Lookup("definitely-not-an-ext")
	assert.False(t, ok)
}

func TestRegisterValidates(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register("", "model/obj", nil))
	assert.Error(t, r.Register("obj", "not a mime", nil))
	require.NoError(t, r.Register(".OBJ", "model/obj", nil))

	got, ok := r.Lookup("obj")
	require.True(t, ok)
	assert.Equal(t, "model/obj", got)
}

func TestDetect(t *testing.T) {
	r := NewDefaultRegistry()

	glb := writeFile(t, "scene.glb", append([]byte("glTF"), 2, 0, 0, 0))
	got, err := r.Detect(glb)
	require.NoError(t, err)
	assert.Equal(t, "model/gltf-binary", got)

	// registered extension but wrong content falls back to sniffing
	fake := writeFile(t, "fake.glb", []byte("%PDF-1.7\n"))
	got, err = r.Detect(fake)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", got)

	png := writeFile(t, "scan.bin", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	got, err = r.Detect(png)
	require.NoError(t, err)
	assert.Equal(t, "image/png", got)
	assert.True(t, IsImage(got))

	text := writeFile(t, "notes.txt", []byte("plain words"))
	got, err = r.Detect(text)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", got)

	_, err = r.Detect(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF("application/pdf"))
	assert.False(t, IsPDF("image/tiff"))
}
