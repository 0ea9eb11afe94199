package lib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// AssetRecord describes one successfully downloaded asset.
type AssetRecord struct {
	URL         string // URL the asset was requested by
	FinalURL    string // URL that served it, after redirects
	LocalPath   string
	ContentType string
	Bucket      TypeBucket
}

// AssetMap maps absolute remote URLs to their downloaded records.
// Entries are never replaced once set.
type AssetMap struct {
	records map[string]AssetRecord
	order   []string
}

// NewAssetMap returns an empty AssetMap.
func NewAssetMap() *AssetMap {
	return &AssetMap{records: make(map[string]AssetRecord)}
}

// Get returns the record stored for u.
func (m *AssetMap) Get(u string) (AssetRecord, bool) {
	rec, ok := m.records[u]
	return rec, ok
}

// Has reports whether u has been localized.
func (m *AssetMap) Has(u string) bool {
	_, ok := m.records[u]
	return ok
}

// Add stores rec under u unless u is already present. It reports whether it stored anything.
func (m *AssetMap) Add(u string, rec AssetRecord) bool {
	if u == "" || m.Has(u) {
		return false
	}
	m.records[u] = rec
	m.order = append(m.order, u)
	return true
}

// URLs returns every key in insertion order.
func (m *AssetMap) URLs() []string {
	return append([]string(nil), m.order...)
}

// Len returns the number of keys.
func (m *AssetMap) Len() int {
	return len(m.order)
}

// AssetFailure is a reference that could not be localized.
type AssetFailure struct {
	URL string
	Err error
}

// Localizer downloads assets into a bucketed directory tree and localizes the
// references inside downloaded stylesheets.
type Localizer struct {
	fetcher   *Fetcher
	assetsDir string
	assets    *AssetMap
	logger    *zap.Logger

	failed   map[string]bool
	failures []AssetFailure
}

// LocalizerOption configures a Localizer.
type LocalizerOption func(*Localizer)

// WithLocalizerLogger attaches a logger.
func WithLocalizerLogger(l *zap.Logger) LocalizerOption {
	return func(lz *Localizer) {
		if l != nil {
			lz.logger = l
		}
	}
}

// NewLocalizer creates a Localizer writing under assetsDir. A nil fetcher or
// map is replaced with a default one.
func NewLocalizer(fetcher *Fetcher, assetsDir string, assets *AssetMap, opts ...LocalizerOption) *Localizer {
	if fetcher == nil {
		fetcher = NewFetcher()
	}
	if assets == nil {
		assets = NewAssetMap()
	}
	l := &Localizer{
		fetcher:   fetcher,
		assetsDir: assetsDir,
		assets:    assets,
		logger:    zap.NewNop(),
		failed:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Assets returns the shared remote-to-local map.
func (l *Localizer) Assets() *AssetMap {
	return l.assets
}

// Failures returns every reference that could not be localized so far.
func (l *Localizer) Failures() []AssetFailure {
	return append([]AssetFailure(nil), l.failures...)
}

// Download fetches rawURL and writes the body to a fresh path under the assets
// directory. It does not touch the asset map.
func (l *Localizer) Download(ctx context.Context, rawURL string) (AssetRecord, error) {
	res, err := l.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return AssetRecord{}, err
	}

	name, extBucket, err := filenameFromURL(res.FinalURL)
	if err != nil {
		return AssetRecord{}, err
	}
	bucket := ResolveBucket(extBucket, res.ContentType)

	localPath, err := placeInBucket(l.assetsDir, bucket, name)
	if err != nil {
		return AssetRecord{}, err
	}
	if err := writeNewFile(localPath, res.Body); err != nil {
		return AssetRecord{}, err
	}

	return AssetRecord{
		URL:         rawURL,
		FinalURL:    res.FinalURL,
		LocalPath:   localPath,
		ContentType: res.ContentType,
		Bucket:      bucket,
	}, nil
}

// Localize makes sure rawURL has a local copy. Already localized URLs are
// returned from the map without a request, and a URL that failed once is not
// tried again. Stylesheets are scanned and rewritten recursively.
func (l *Localizer) Localize(ctx context.Context, rawURL string) (AssetRecord, error) {
	if rec, ok := l.assets.Get(rawURL); ok {
		return rec, nil
	}
	if l.failed[rawURL] {
		return AssetRecord{}, fmt.Errorf("%s: already failed", rawURL)
	}

	rec, err := l.Download(ctx, rawURL)
	if err != nil {
		l.recordFailure(rawURL, err)
		return AssetRecord{}, err
	}
	l.assets.Add(rawURL, rec)
	l.assets.Add(rec.FinalURL, rec)

	l.logger.Debug("downloaded asset",
		zap.String("url", rawURL),
		zap.String("final_url", rec.FinalURL),
		zap.String("path", rec.LocalPath),
		zap.String("bucket", string(rec.Bucket)),
	)

	if isCSSContentType(rec.ContentType) {
		// The stylesheet itself is saved and mapped, so this is not a failure of rawURL.
		if err := l.localizeCSS(ctx, rec); err != nil {
			l.logger.Warn("stylesheet references left remote",
				zap.String("url", rawURL),
				zap.String("path", rec.LocalPath),
				zap.Error(err),
			)
		}
	}

	return rec, nil
}

// localizeCSS downloads the references of a saved stylesheet and rewrites the
// file so they point at the local copies, relative to the stylesheet itself.
func (l *Localizer) localizeCSS(ctx context.Context, rec AssetRecord) error {
	data, err := os.ReadFile(rec.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to read stylesheet: %w", err)
	}
	css := string(data)

	refs := ExtractCSSReferences(css, rec.FinalURL)
	for _, ref := range refs {
		if l.assets.Has(ref.URL) {
			continue
		}
		// Failures are recorded by Localize and leave the reference untouched.
		_, _ = l.Localize(ctx, ref.URL)
	}

	cssDir := filepath.Dir(rec.LocalPath)
	replacements := make(map[string]string)
	for _, ref := range refs {
		if nested, ok := l.assets.Get(ref.URL); ok {
			replacements[ref.Raw] = makeRelativePath(cssDir, nested.LocalPath)
		}
	}
	if len(replacements) == 0 {
		return nil
	}

	updated := newReplacer(replacements).Replace(css)
	if err := os.WriteFile(rec.LocalPath, []byte(updated), 0644); err != nil {
		return fmt.Errorf("failed to rewrite stylesheet: %w", err)
	}
	return nil
}

func (l *Localizer) recordFailure(rawURL string, err error) {
	l.failed[rawURL] = true
	l.failures = append(l.failures, AssetFailure{URL: rawURL, Err: err})
	l.logger.Debug("skipping asset", zap.String("url", rawURL), zap.Error(err))
}

// writeNewFile creates p and writes data, refusing to overwrite an existing file.
func writeNewFile(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(p) // Clean up failed file
		return fmt.Errorf("failed to write asset data: %w", err)
	}
	return f.Close()
}

// newReplacer builds a single-pass replacer that tries longer keys first, so
// a key never matches inside a longer one or inside text it already produced.
func newReplacer(pairs map[string]string) *strings.Replacer {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	args := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, k, pairs[k])
	}
	return strings.NewReplacer(args...)
}
