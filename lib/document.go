package lib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// DefaultAssetsDir is the directory name assets are written to, relative to the working directory.
const DefaultAssetsDir = "assets"

// DefaultCDNPath is the path prefix under the site host where its static files live.
const DefaultCDNPath = "/cdn/"

// ErrNoInput is returned when no HTML path is given.
var ErrNoInput = errors.New("no input html file specified")

// Options controls a LocalizeDocument run.
type Options struct {
	// AssetsDir receives the bucketed asset tree. Defaults to ./assets.
	AssetsDir string
	// Site is the site the page was saved from. It is sent as Referer and
	// selects which embedded CDN URLs are picked up. Discovered from the
	// document when empty.
	Site string
	// Base resolves relative references in the HTML. Relative references are
	// skipped when empty. Its origin is the Referer when no site is known.
	Base string
	// CDNPath is the site's static file prefix. Defaults to DefaultCDNPath.
	CDNPath string
	// Fetcher is used as is when set; otherwise one is built from FetcherOptions.
	Fetcher        *Fetcher
	FetcherOptions []FetcherOption
	// Progress receives a progress bar when set.
	Progress io.Writer
	Logger   *zap.Logger
}

// Result summarizes a LocalizeDocument run.
type Result struct {
	HTMLPath  string
	AssetsDir string
	Assets    []AssetRecord
	Failed    []AssetFailure
}

// Downloaded returns how many files were written.
func (r *Result) Downloaded() int {
	return len(r.Assets)
}

// LocalizeDocument downloads every asset referenced by the HTML file at
// htmlPath and rewrites the file in place to use the local copies. Only a
// failure to read or write the document itself is returned as an error;
// assets that cannot be fetched are listed in Result.Failed.
func LocalizeDocument(ctx context.Context, htmlPath string, opts Options) (*Result, error) {
	if htmlPath == "" {
		return nil, ErrNoInput
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	data, err := os.ReadFile(htmlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read html file: %w", err)
	}
	html := string(data)

	site, err := resolveSite(opts.Site, html)
	if err != nil {
		return nil, err
	}
	base := ""
	if opts.Base != "" {
		b, ok := NormalizeURL(opts.Base, "")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidBase, opts.Base)
		}
		base = b
	}
	cdnPath := opts.CDNPath
	if cdnPath == "" {
		cdnPath = DefaultCDNPath
	}
	assetsDir := opts.AssetsDir
	if assetsDir == "" {
		assetsDir = DefaultAssetsDir
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		var fopts []FetcherOption
		if ref := refererOrigin(site, base); ref != nil {
			fopts = append(fopts, WithReferer(ref.String()))
		}
		fopts = append(fopts, WithFetcherLogger(logger))
		fetcher = NewFetcher(append(fopts, opts.FetcherOptions...)...)
	}

	plan := planDocument(html, base, site, cdnPath)
	logger.Debug("discovered references",
		zap.Int("raw", len(plan.raws)),
		zap.Int("urls", len(plan.urls)),
		zap.Int("templates", len(plan.templates)),
	)

	localizer := NewLocalizer(fetcher, assetsDir, NewAssetMap(), WithLocalizerLogger(logger))

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions(len(plan.urls),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionSetDescription("localizing assets"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	for _, u := range plan.urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Per-asset failures are recorded by the localizer and otherwise ignored.
		_, _ = localizer.Localize(ctx, u)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	rewriter := plan.rewriter(localizer.Assets(), filepath.Dir(htmlPath))
	if site != nil {
		rewriter.Cleanup = siteBackgroundRegex(site.Host, cdnPath)
	}
	updated := rewriter.Rewrite(html)

	if err := os.WriteFile(htmlPath, []byte(updated), 0644); err != nil {
		return nil, fmt.Errorf("failed to write html file: %w", err)
	}

	return &Result{
		HTMLPath:  htmlPath,
		AssetsDir: assetsDir,
		Assets:    uniqueRecords(localizer.Assets()),
		Failed:    localizer.Failures(),
	}, nil
}

// documentPlan is everything discovered in the HTML before any download.
// urls holds the unique absolute URLs to fetch, in discovery order.
type documentPlan struct {
	urls      []string
	raws      []rawReference
	templates []WidthTemplate
}

type rawReference struct {
	raw string
	url string
}

func planDocument(html, base string, site *url.URL, cdnPath string) documentPlan {
	var plan documentPlan
	urls := newRefSet()

	plan.templates = ExtractWidthTemplates(html, base)
	for _, tpl := range plan.templates {
		urls.add(tpl.URL)
	}

	for _, raw := range ExtractHTMLReferences(html, base) {
		if isWidthTemplate(raw) {
			continue
		}
		if abs, ok := NormalizeURL(raw, base); ok {
			urls.add(abs)
			plan.raws = append(plan.raws, rawReference{raw: raw, url: abs})
		}
	}

	for _, raw := range ExtractSiteReferences(html, site, cdnPath) {
		if abs, ok := NormalizeURL(unescapeSlashes(raw), base); ok {
			urls.add(abs)
			plan.raws = append(plan.raws, rawReference{raw: raw, url: abs})
		}
	}

	plan.urls = urls.items
	return plan
}

// rewriter builds the substitution maps for a document living in htmlDir.
func (p documentPlan) rewriter(assets *AssetMap, htmlDir string) *Rewriter {
	rw := &Rewriter{
		URLPaths:      make(map[string]string),
		RawPaths:      make(map[string]string),
		TemplatePaths: make(map[string]string),
	}
	for _, u := range assets.URLs() {
		rec, _ := assets.Get(u)
		rw.URLPaths[u] = makeRelativePath(htmlDir, rec.LocalPath)
	}
	for _, r := range p.raws {
		if rec, ok := assets.Get(r.url); ok {
			rw.RawPaths[r.raw] = makeRelativePath(htmlDir, rec.LocalPath)
		}
	}
	for _, tpl := range p.templates {
		if rec, ok := assets.Get(tpl.URL); ok {
			rw.TemplatePaths[tpl.Template] = makeRelativePath(htmlDir, rec.LocalPath)
		}
	}
	return rw
}

// uniqueRecords lists every downloaded file once, even when it is mapped
// under both its requested and final URL.
func uniqueRecords(assets *AssetMap) []AssetRecord {
	seen := make(map[string]bool)
	var records []AssetRecord
	for _, u := range assets.URLs() {
		rec, _ := assets.Get(u)
		if seen[rec.LocalPath] {
			continue
		}
		seen[rec.LocalPath] = true
		records = append(records, rec)
	}
	return records
}

// ErrInvalidSite is returned when the configured site is not an absolute http(s) URL.
var ErrInvalidSite = errors.New("invalid site url")

// ErrInvalidBase is returned when the configured base is not an absolute http(s) URL.
var ErrInvalidBase = errors.New("invalid base url")

var httpSchemeRegex = regexp.MustCompile(`(?i)^https?$`)

// resolveSite returns the origin of the configured site, or of the one the
// document declares when none is configured. It may return nil.
func resolveSite(configured, html string) (*url.URL, error) {
	if configured != "" {
		origin := siteOrigin(configured)
		if origin == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSite, configured)
		}
		return origin, nil
	}
	return DiscoverSite(html), nil
}

// DiscoverSite reads the page's own idea of where it lives from
// <base href>, <link rel="canonical"> or <meta property="og:url">, and returns
// that origin. It returns nil when the document declares none.
func DiscoverSite(html string) *url.URL {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	candidates := []struct {
		selector string
		attr     string
	}{
		{"base[href]", "href"},
		{`link[rel="canonical"]`, "href"},
		{`meta[property="og:url"]`, "content"},
	}
	for _, c := range candidates {
		v, ok := doc.Find(c.selector).First().Attr(c.attr)
		if !ok {
			continue
		}
		if origin := siteOrigin(v); origin != nil {
			return origin
		}
	}
	return nil
}

// refererOrigin is the site, or the origin of base when no site is known.
func refererOrigin(site *url.URL, base string) *url.URL {
	if site != nil {
		return site
	}
	if base == "" {
		return nil
	}
	return siteOrigin(base)
}

func siteOrigin(raw string) *url.URL {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "//") {
		s = "https:" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || !httpSchemeRegex.MatchString(u.Scheme) {
		return nil
	}
	return &url.URL{Scheme: strings.ToLower(u.Scheme), Host: u.Host}
}
