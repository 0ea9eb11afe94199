package lib

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeDocument writes html into a fresh directory and returns its path.
func writeDocument(t *testing.T, html string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "index.html")
	require.NoError(t, os.WriteFile(p, []byte(html), 0644))
	return p
}

// TestLocalizeDocument tests a full run over a page with stylesheets, scripts, images and templates.
func TestLocalizeDocument(t *testing.T) {
	server := newAssetServer(t, map[string]servedFile{
		"/static/site.css":       {contentType: "text/css", body: "body{background:url(bg.png)}"},
		"/static/bg.png":         {contentType: "image/png", body: "bg"},
		"/static/app.js":         {contentType: "application/javascript", body: "app()"},
		"/static/logo.png":       {contentType: "image/png", body: "logo"},
		"/static/logo@2x.png":    {contentType: "image/png", body: "logo2x"},
		"/static/hero_1400.jpg":  {contentType: "image/jpeg", body: "hero"},
		"/static/hero_400.jpg":   {contentType: "image/jpeg", body: "small"},
		"/static/hero_800.jpg":   {contentType: "image/jpeg", body: "medium"},
		"/static/unused.css.map": {contentType: "application/json", body: "{}"},
	})
	srv := server.URL

	html := strings.NewReplacer("{srv}", srv).Replace(`<html><head>
<link rel="stylesheet" href="{srv}/static/site.css">
<script src="{srv}/static/app.js"></script>
</head><body>
<img src="{srv}/static/logo.png" srcset="{srv}/static/logo.png 1x, {srv}/static/logo@2x.png 2x">
<img data-src="{srv}/static/hero_{width}.jpg" data-widths="[400,800,1400]" class="lazy">
<img src="{srv}/static/missing.png">
</body></html>`)
	htmlPath := writeDocument(t, html)
	docDir := filepath.Dir(htmlPath)
	assetsDir := filepath.Join(docDir, "assets")

	result, err := LocalizeDocument(context.Background(), htmlPath, Options{
		AssetsDir: assetsDir,
		Progress:  io.Discard,
	})
	require.NoError(t, err)

	assert.Equal(t, 6, result.Downloaded())
	require.Len(t, result.Failed, 1)
	assert.Equal(t, srv+"/static/missing.png", result.Failed[0].URL)

	updated := readFile(t, htmlPath)
	assert.Contains(t, updated, `href="assets/css/site.css"`)
	assert.Contains(t, updated, `src="assets/js/app.js"`)
	assert.Contains(t, updated, `srcset="assets/images/logo.png 1x, assets/images/logo_2x.png 2x"`)
	assert.Contains(t, updated, `data-src="assets/images/hero_1400.jpg"`)
	assert.Contains(t, updated, `src="`+srv+`/static/missing.png"`)
	assert.NotContains(t, updated, "{width}")

	assert.Equal(t, "body{background:url(../images/bg.png)}", readFile(t, filepath.Join(assetsDir, "css", "site.css")))
	assert.Equal(t, "hero", readFile(t, filepath.Join(assetsDir, "images", "hero_1400.jpg")))
	assert.Equal(t, "logo2x", readFile(t, filepath.Join(assetsDir, "images", "logo_2x.png")))

	// only the widest template variant is fetched
	assert.Equal(t, 1, server.hitCount("/static/hero_1400.jpg"))
	assert.Equal(t, 0, server.hitCount("/static/hero_400.jpg"))
	assert.Equal(t, 0, server.hitCount("/static/hero_800.jpg"))
	assert.Equal(t, 1, server.hitCount("/static/logo.png"))
	assert.Empty(t, server.referer("/static/logo.png"))
}

// TestLocalizeDocumentSite tests the site Referer, escaped CDN references and background cleanup.
func TestLocalizeDocumentSite(t *testing.T) {
	server := newAssetServer(t, map[string]servedFile{
		"/cdn/shop/x.png": {contentType: "image/png", body: "x"},
		"/cdn/shop/y.js":  {contentType: "application/javascript", body: "y()"},
	})
	srv := server.URL
	escaped := escapeSlashes(srv)

	html := `<div class="hero" style="background-image: url(` + srv + `/cdn/gone.png); color: red"></div>
<script>window.product = {"image":"` + escaped + `\/cdn\/shop\/x.png","lib":"` + srv + `/cdn/shop/y.js"};</script>`
	htmlPath := writeDocument(t, html)

	result, err := LocalizeDocument(context.Background(), htmlPath, Options{
		AssetsDir: filepath.Join(filepath.Dir(htmlPath), "assets"),
		Site:      srv + "/products/x",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Downloaded())

	updated := readFile(t, htmlPath)
	assert.Equal(t, `<div class="hero" style="color: red"></div>
<script>window.product = {"image":"assets/images/x.png","lib":"assets/js/y.js"};</script>`, updated)

	assert.Equal(t, srv, server.referer("/cdn/shop/x.png"))
	assert.Equal(t, srv, server.referer("/cdn/gone.png"))
}

// TestLocalizeDocumentBase tests that relative references need an explicit base.
func TestLocalizeDocumentBase(t *testing.T) {
	server := newAssetServer(t, map[string]servedFile{
		"/page/img/a.png": {contentType: "image/png", body: "a"},
	})
	html := `<img src="img/a.png">`

	t.Run("WithoutBase", func(t *testing.T) {
		htmlPath := writeDocument(t, html)
		result, err := LocalizeDocument(context.Background(), htmlPath, Options{
			AssetsDir: filepath.Join(filepath.Dir(htmlPath), "assets"),
		})
		require.NoError(t, err)
		assert.Zero(t, result.Downloaded())
		assert.Empty(t, result.Failed)
		assert.Equal(t, html, readFile(t, htmlPath))
	})

	t.Run("WithBase", func(t *testing.T) {
		htmlPath := writeDocument(t, html)
		result, err := LocalizeDocument(context.Background(), htmlPath, Options{
			AssetsDir: filepath.Join(filepath.Dir(htmlPath), "assets"),
			Base:      server.URL + "/page/",
		})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Downloaded())
		assert.Equal(t, `<img src="assets/images/a.png">`, readFile(t, htmlPath))
		assert.Equal(t, server.URL, server.referer("/page/img/a.png"))
	})

	t.Run("InvalidBase", func(t *testing.T) {
		htmlPath := writeDocument(t, html)
		_, err := LocalizeDocument(context.Background(), htmlPath, Options{Base: "page/"})
		assert.True(t, errors.Is(err, ErrInvalidBase))
		assert.Equal(t, html, readFile(t, htmlPath))
	})
}

// TestLocalizeDocumentRerun tests that a second run never overwrites files from the first.
func TestLocalizeDocumentRerun(t *testing.T) {
	server := newAssetServer(t, map[string]servedFile{
		"/logo.png": {contentType: "image/png", body: "v1"},
	})
	html := `<img src="` + server.URL + `/logo.png">`
	htmlPath := writeDocument(t, html)
	assetsDir := filepath.Join(filepath.Dir(htmlPath), "assets")

	_, err := LocalizeDocument(context.Background(), htmlPath, Options{AssetsDir: assetsDir})
	require.NoError(t, err)
	assert.Equal(t, `<img src="assets/images/logo.png">`, readFile(t, htmlPath))

	server.setFile("/logo.png", servedFile{contentType: "image/png", body: "v2"})
	require.NoError(t, os.WriteFile(htmlPath, []byte(html), 0644))

	_, err = LocalizeDocument(context.Background(), htmlPath, Options{AssetsDir: assetsDir})
	require.NoError(t, err)
	assert.Equal(t, `<img src="assets/images/logo_1.png">`, readFile(t, htmlPath))

	assert.Equal(t, "v1", readFile(t, filepath.Join(assetsDir, "images", "logo.png")))
	assert.Equal(t, "v2", readFile(t, filepath.Join(assetsDir, "images", "logo_1.png")))
}

// TestLocalizeDocumentErrors tests the failures that abort a run.
func TestLocalizeDocumentErrors(t *testing.T) {
	t.Run("NoInput", func(t *testing.T) {
		_, err := LocalizeDocument(context.Background(), "", Options{})
		assert.ErrorIs(t, err, ErrNoInput)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LocalizeDocument(context.Background(), filepath.Join(t.TempDir(), "nope.html"), Options{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, fs.ErrNotExist))
		assert.Contains(t, err.Error(), "failed to read html file")
	})

	t.Run("InvalidSite", func(t *testing.T) {
		htmlPath := writeDocument(t, "<p></p>")
		_, err := LocalizeDocument(context.Background(), htmlPath, Options{Site: "ftp://files.example.com"})
		assert.ErrorIs(t, err, ErrInvalidSite)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		htmlPath := writeDocument(t, `<img src="https://cdn.example.com/a.png">`)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := LocalizeDocument(ctx, htmlPath, Options{AssetsDir: filepath.Join(t.TempDir(), "assets")})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// TestRefererOrigin tests which origin is sent as Referer.
func TestRefererOrigin(t *testing.T) {
	site := siteOrigin("https://www.example.com/products/x")
	require.NotNil(t, site)

	assert.Equal(t, "https://www.example.com", refererOrigin(site, "https://cdn.example.com/page/").String())
	assert.Equal(t, "https://cdn.example.com", refererOrigin(nil, "https://cdn.example.com/page/").String())
	assert.Nil(t, refererOrigin(nil, ""))
}

func TestDiscoverSite(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{
			name:     "BaseHref",
			html:     `<head><base href="https://shop.example.com/collections/"><link rel="canonical" href="https://other.example.com/"></head>`,
			expected: "https://shop.example.com",
		},
		{
			name:     "Canonical",
			html:     `<head><link rel="canonical" href="//www.example.com/products/x"></head>`,
			expected: "https://www.example.com",
		},
		{
			name:     "OpenGraph",
			html:     `<head><link rel="canonical" href="/relative"><meta property="og:url" content="http://blog.example.com/post"></head>`,
			expected: "http://blog.example.com",
		},
		{
			name: "None",
			html: `<html><body><p>offline</p></body></html>`,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			site := DiscoverSite(test.html)
			if test.expected == "" {
				assert.Nil(t, site)
				return
			}
			require.NotNil(t, site)
			assert.Equal(t, test.expected, site.String())
		})
	}
}
