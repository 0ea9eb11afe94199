package lib

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// TypeBucket is the assets subdirectory a downloaded file is stored under.
type TypeBucket string

const (
	BucketCSS     TypeBucket = "css"
	BucketJS      TypeBucket = "js"
	BucketImages  TypeBucket = "images"
	BucketFonts   TypeBucket = "fonts"
	BucketGeneric TypeBucket = "assets"
)

// defaultFilename is used when a URL path has no last segment.
const defaultFilename = "file"

var (
	queryFragmentRegex = regexp.MustCompile(`[?#].*$`)
	trailingSlashRegex = regexp.MustCompile(`/+$`)
	unsafeNameRegex    = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// BucketFromExt maps a file extension (with its dot) to a bucket.
func BucketFromExt(ext string) TypeBucket {
	switch strings.ToLower(ext) {
	case ".css":
		return BucketCSS
	case ".js", ".mjs", ".cjs":
		return BucketJS
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".bmp", ".ico", ".avif":
		return BucketImages
	case ".woff", ".woff2", ".ttf", ".otf", ".eot":
		return BucketFonts
	default:
		return BucketGeneric
	}
}

// BucketFromContentType maps a Content-Type header value to a bucket.
func BucketFromContentType(ct string) TypeBucket {
	c := strings.ToLower(ct)
	switch {
	case c == "":
		return BucketGeneric
	case strings.Contains(c, "text/css"):
		return BucketCSS
	case strings.Contains(c, "javascript"):
		return BucketJS
	case strings.Contains(c, "image/"):
		return BucketImages
	case strings.Contains(c, "font/"), strings.Contains(c, "application/font"), strings.Contains(c, "woff"):
		return BucketFonts
	default:
		return BucketGeneric
	}
}

// isCSSContentType reports whether a response body should be scanned for nested references.
func isCSSContentType(ct string) bool {
	return strings.Contains(strings.ToLower(ct), "text/css")
}

// ResolveBucket picks the bucket for a download. The content type only wins
// when the extension gave no specific bucket.
func ResolveBucket(extBucket TypeBucket, contentType string) TypeBucket {
	if extBucket != BucketGeneric {
		return extBucket
	}
	return BucketFromContentType(contentType)
}

// SanitizeFilename strips query and fragment, trailing slashes, and replaces
// every character outside [A-Za-z0-9._-] with an underscore.
func SanitizeFilename(name string) string {
	name = queryFragmentRegex.ReplaceAllString(name, "")
	name = trailingSlashRegex.ReplaceAllString(name, "")
	return unsafeNameRegex.ReplaceAllString(name, "_")
}

// filenameFromURL returns the sanitized last path segment of u and its extension bucket.
func filenameFromURL(rawURL string) (string, TypeBucket, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse asset url: %w", err)
	}

	p := strings.TrimRight(u.EscapedPath(), "/")
	name := ""
	if p != "" {
		name = path.Base(p)
	}
	if name == "" || name == "." || name == "/" {
		name = defaultFilename
	}

	return SanitizeFilename(name), BucketFromExt(path.Ext(p)), nil
}

// LocalPathFor decides where the asset at rawURL goes under baseDir, creating
// the bucket directory. It never returns the path of an existing file.
func LocalPathFor(rawURL, baseDir string) (string, error) {
	name, bucket, err := filenameFromURL(rawURL)
	if err != nil {
		return "", err
	}
	return placeInBucket(baseDir, bucket, name)
}

func placeInBucket(baseDir string, bucket TypeBucket, name string) (string, error) {
	dir := filepath.Join(baseDir, string(bucket))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", bucket, err)
	}
	return UniquePath(filepath.Join(dir, name)), nil
}

// UniquePath returns p if nothing exists there, otherwise the first free
// sibling name_1.ext, name_2.ext, ...
func UniquePath(p string) string {
	if !exists(p) {
		return p
	}
	dir := filepath.Dir(p)
	ext := filepath.Ext(p)
	base := strings.TrimSuffix(filepath.Base(p), ext)
	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
		if !exists(candidate) {
			return candidate
		}
	}
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

// makeRelativePath returns target relative to fromDir with forward slashes, as used in HTML and CSS.
func makeRelativePath(fromDir, target string) string {
	rel, err := filepath.Rel(fromDir, target)
	if err != nil {
		return filepath.ToSlash(target)
	}
	return filepath.ToSlash(rel)
}
