package lib

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketFromExt(t *testing.T) {
	tests := []struct {
		ext      string
		expected TypeBucket
	}{
		{".css", BucketCSS},
		{".CSS", BucketCSS},
		{".js", BucketJS},
		{".mjs", BucketJS},
		{".png", BucketImages},
		{".JPEG", BucketImages},
		{".svg", BucketImages},
		{".webp", BucketImages},
		{".woff2", BucketFonts},
		{".ttf", BucketFonts},
		{".json", BucketGeneric},
		{"", BucketGeneric},
	}

	for _, test := range tests {
		t.Run(test.ext, func(t *testing.T) {
			assert.Equal(t, test.expected, BucketFromExt(test.ext))
		})
	}
}

func TestBucketFromContentType(t *testing.T) {
	tests := []struct {
		ct       string
		expected TypeBucket
	}{
		{"text/css", BucketCSS},
		{"text/css; charset=utf-8", BucketCSS},
		{"application/javascript", BucketJS},
		{"text/javascript", BucketJS},
		{"image/png", BucketImages},
		{"font/woff2", BucketFonts},
		{"application/font-woff", BucketFonts},
		{"application/octet-stream", BucketGeneric},
		{"", BucketGeneric},
	}

	for _, test := range tests {
		t.Run(test.ct, func(t *testing.T) {
			assert.Equal(t, test.expected, BucketFromContentType(test.ct))
		})
	}
}

// TestResolveBucket tests that the content type only refines the generic bucket.
func TestResolveBucket(t *testing.T) {
	assert.Equal(t, BucketCSS, ResolveBucket(BucketGeneric, "text/css"))
	assert.Equal(t, BucketImages, ResolveBucket(BucketImages, "text/css"))
	assert.Equal(t, BucketJS, ResolveBucket(BucketJS, "image/png"))
	assert.Equal(t, BucketGeneric, ResolveBucket(BucketGeneric, ""))
	assert.Equal(t, BucketGeneric, ResolveBucket(BucketGeneric, "application/octet-stream"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "AlreadySafe", input: "site.min.css", expected: "site.min.css"},
		{name: "Spaces", input: "my logo.png", expected: "my_logo.png"},
		{name: "QueryAndFragment", input: "app.js?v=3#main", expected: "app.js"},
		{name: "TrailingSlashes", input: "fonts//", expected: "fonts"},
		{name: "PercentEncoding", input: "my%20logo.png", expected: "my_20logo.png"},
		{name: "NonASCII", input: "ümlaut.png", expected: "_mlaut.png"},
		{name: "Symbols", input: "logo@2x.png", expected: "logo_2x.png"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, SanitizeFilename(test.input))
		})
	}
}

// TestLocalPathFor tests bucket placement and file naming.
func TestLocalPathFor(t *testing.T) {
	baseDir := t.TempDir()

	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{name: "Stylesheet", url: "https://cdn.example.com/css/site.css?v=3", expected: filepath.Join(baseDir, "css", "site.css")},
		{name: "Script", url: "https://cdn.example.com/app.js", expected: filepath.Join(baseDir, "js", "app.js")},
		{name: "Image", url: "https://cdn.example.com/img/my%20logo.png", expected: filepath.Join(baseDir, "images", "my_20logo.png")},
		{name: "Font", url: "https://cdn.example.com/f/inter.woff2#x", expected: filepath.Join(baseDir, "fonts", "inter.woff2")},
		{name: "NoPath", url: "https://cdn.example.com/", expected: filepath.Join(baseDir, "assets", "file")},
		{name: "DirectoryPath", url: "https://cdn.example.com/a/b/", expected: filepath.Join(baseDir, "assets", "b")},
		{name: "UnknownExtension", url: "https://cdn.example.com/data.json", expected: filepath.Join(baseDir, "assets", "data.json")},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := LocalPathFor(test.url, baseDir)
			require.NoError(t, err)
			assert.Equal(t, test.expected, got)
			assert.DirExists(t, filepath.Dir(got))
		})
	}

	t.Run("InvalidURL", func(t *testing.T) {
		_, err := LocalPathFor("http://exa mple.com/a.png", baseDir)
		assert.Error(t, err)
	})
}

// TestLocalPathForCollisions tests that existing files are never reused.
func TestLocalPathForCollisions(t *testing.T) {
	baseDir := t.TempDir()

	first, err := LocalPathFor("https://a.example.com/logo.png", baseDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(baseDir, "images", "logo.png"), first)
	require.NoError(t, os.WriteFile(first, []byte("a"), 0644))

	second, err := LocalPathFor("https://b.example.com/logo.png", baseDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(baseDir, "images", "logo_1.png"), second)
	require.NoError(t, os.WriteFile(second, []byte("b"), 0644))

	third, err := LocalPathFor("https://c.example.com/x/logo.png", baseDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(baseDir, "images", "logo_2.png"), third)
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()

	p := filepath.Join(dir, "file")
	assert.Equal(t, p, UniquePath(p))

	require.NoError(t, os.WriteFile(p, nil, 0644))
	assert.Equal(t, filepath.Join(dir, "file_1"), UniquePath(p))

	css := filepath.Join(dir, "site.min.css")
	require.NoError(t, os.WriteFile(css, nil, 0644))
	assert.Equal(t, filepath.Join(dir, "site.min_1.css"), UniquePath(css))
}

func TestMakeRelativePath(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name     string
		fromDir  string
		target   string
		expected string
	}{
		{name: "FromDocumentDir", fromDir: root, target: filepath.Join(root, "assets", "css", "site.css"), expected: "assets/css/site.css"},
		{name: "FromStylesheetDir", fromDir: filepath.Join(root, "assets", "css"), target: filepath.Join(root, "assets", "images", "bg.png"), expected: "../images/bg.png"},
		{name: "SameDir", fromDir: filepath.Join(root, "assets", "css"), target: filepath.Join(root, "assets", "css", "other.css"), expected: "other.css"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, makeRelativePath(test.fromDir, test.target))
		})
	}
}
