package lib

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// widthPlaceholder is the token lazy-load scripts substitute with a concrete pixel width.
const widthPlaceholder = "{width}"

// defaultTemplateWidths is used when a templated image declares no data-widths list.
var defaultTemplateWidths = []int{400, 800, 1400}

// htmlAttrRule pairs a pattern with the submatch holding the value and whether that value is a srcset-style list.
type htmlAttrRule struct {
	re    *regexp.Regexp
	group int
	list  bool
}

var htmlAttrRules = []htmlAttrRule{
	{re: regexp.MustCompile(`(?i)<link[^>]*href=["']([^"']+)["'][^>]*>`), group: 1},
	{re: regexp.MustCompile(`(?i)<script[^>]*src=["']([^"']+)["'][^>]*>`), group: 1},
	{re: regexp.MustCompile(`(?i)<img[^>]*src=["']([^"']+)["'][^>]*>`), group: 1},
	{re: regexp.MustCompile(`(?i)<source[^>]*srcset=["']([^"']+)["'][^>]*>`), group: 1, list: true},
	{re: regexp.MustCompile(`(?i)\sstyle=["'][^"']*url\(([^)]+)\)[^"']*["']`), group: 1},
}

var (
	styleBlockRegex  = regexp.MustCompile(`(?is)<style[^>]*>(.*?)</style>`)
	genericAttrRegex = regexp.MustCompile(`(?i)(href|src|poster|content|data-src|data-bg|data-variant-image)=["']([^"']+)["']`)
	listAttrRegex    = regexp.MustCompile(`(?i)(srcset|data-srcset|data-bgset)=["']([^"']+)["']`)

	cssURLRegex    = regexp.MustCompile(`(?i)url\(\s*([^)]+)\s*\)`)
	cssImportRegex = regexp.MustCompile(`(?i)@import\s+(?:url\()?\s*(["']?[^"')]+["']?)\s*\)?`)

	widthTemplateRegex = regexp.MustCompile(`(?i)data-src=["']([^"']*\{width\}[^"']*)["']`)
	dataWidthsRegex    = regexp.MustCompile(`(?i)data-widths=["']\[([^"']+)\]["']`)
	leadingIntRegex    = regexp.MustCompile(`^\s*([+-]?\d+)`)
)

// CSSReference is a url() or @import target found in a stylesheet.
type CSSReference struct {
	Raw string // spelling as found in the CSS, quotes stripped
	URL string // absolute form
}

// WidthTemplate is a lazy-load image whose data-src carries a {width} placeholder.
type WidthTemplate struct {
	Template string
	Widths   []int
	Width    int    // chosen width, always the largest declared
	URL      string // absolute URL of the chosen variant
}

// refSet keeps unique strings in insertion order.
type refSet struct {
	seen  map[string]bool
	items []string
}

func newRefSet() *refSet {
	return &refSet{seen: make(map[string]bool)}
}

func (s *refSet) add(v string) {
	if v == "" || s.seen[v] {
		return
	}
	s.seen[v] = true
	s.items = append(s.items, v)
}

// ExtractHTMLReferences scans HTML text for raw asset references.
// The result is deduplicated and keeps the order in which references were first found.
// base is only used to resolve url() entries inside <style> blocks; pass "" to keep
// absolute ones only.
func ExtractHTMLReferences(html, base string) []string {
	refs := newRefSet()

	for _, rule := range htmlAttrRules {
		for _, m := range rule.re.FindAllStringSubmatch(html, -1) {
			if rule.list {
				for _, u := range splitSrcset(m[rule.group]) {
					refs.add(u)
				}
				continue
			}
			refs.add(m[rule.group])
		}
	}

	for _, m := range styleBlockRegex.FindAllStringSubmatch(html, -1) {
		for _, ref := range ExtractCSSReferences(m[1], base) {
			refs.add(ref.Raw)
		}
	}

	for _, m := range genericAttrRegex.FindAllStringSubmatch(html, -1) {
		refs.add(m[2])
	}

	for _, m := range listAttrRegex.FindAllStringSubmatch(html, -1) {
		for _, u := range splitSrcset(m[2]) {
			refs.add(u)
		}
	}

	return refs.items
}

// splitSrcset returns the URL token of every comma-separated candidate, dropping descriptors like 480w or 2x.
func splitSrcset(srcset string) []string {
	var urls []string
	for _, entry := range strings.Split(srcset, ",") {
		fields := strings.Fields(entry)
		if len(fields) == 0 {
			continue
		}
		urls = append(urls, fields[0])
	}
	return urls
}

// ExtractCSSReferences finds every url() argument and @import target in css.
// Targets that do not resolve against base are dropped. Results are unique by
// absolute URL, keeping the first spelling seen.
func ExtractCSSReferences(css, base string) []CSSReference {
	var refs []CSSReference
	seen := make(map[string]bool)

	collect := func(re *regexp.Regexp) {
		for _, m := range re.FindAllStringSubmatch(css, -1) {
			raw := stripQuotes(strings.TrimSpace(m[1]))
			abs, ok := NormalizeURL(raw, base)
			if !ok || seen[abs] {
				continue
			}
			seen[abs] = true
			refs = append(refs, CSSReference{Raw: raw, URL: abs})
		}
	}
	collect(cssURLRegex)
	collect(cssImportRegex)

	return refs
}

// ExtractWidthTemplates finds data-src values containing {width} and picks the
// largest width from the sibling data-widths list of the same tag.
func ExtractWidthTemplates(html, base string) []WidthTemplate {
	var templates []WidthTemplate

	for _, loc := range widthTemplateRegex.FindAllStringSubmatchIndex(html, -1) {
		tpl := html[loc[2]:loc[3]]
		after := loc[1]

		tagEnd := strings.Index(html[after:], ">")
		if tagEnd == -1 {
			tagEnd = min(200, len(html)-after)
		}
		widths := parseWidths(html[after : after+tagEnd])
		if len(widths) == 0 {
			widths = defaultTemplateWidths
		}

		chosen := widths[0]
		for _, w := range widths[1:] {
			chosen = max(chosen, w)
		}

		abs, ok := NormalizeURL(strings.Replace(tpl, widthPlaceholder, strconv.Itoa(chosen), 1), base)
		if !ok {
			continue
		}
		templates = append(templates, WidthTemplate{
			Template: tpl,
			Widths:   widths,
			Width:    chosen,
			URL:      abs,
		})
	}

	return templates
}

// parseWidths reads the integers out of a data-widths="[400, 800]" attribute in tag.
func parseWidths(tag string) []int {
	m := dataWidthsRegex.FindStringSubmatch(tag)
	if m == nil {
		return nil
	}
	var widths []int
	for _, part := range strings.Split(m[1], ",") {
		n := leadingIntRegex.FindStringSubmatch(part)
		if n == nil {
			continue
		}
		w, err := strconv.Atoi(strings.TrimPrefix(n[1], "+"))
		if err != nil {
			continue
		}
		widths = append(widths, w)
	}
	return widths
}

// isWidthTemplate reports whether a raw reference still holds the {width} placeholder.
func isWidthTemplate(raw string) bool {
	return strings.Contains(raw, widthPlaceholder)
}

// ExtractSiteReferences finds quoted URLs that point into the site's CDN path.
// It matches both the plain spelling and the escaped-slash spelling used inside
// inline JSON. The raw spelling is returned, so escaped matches keep their backslashes.
func ExtractSiteReferences(html string, site *url.URL, cdnPath string) []string {
	if site == nil || site.Host == "" {
		return nil
	}
	refs := newRefSet()
	for _, re := range siteReferenceRegexes(site.Host, cdnPath) {
		for _, m := range re.FindAllStringSubmatch(html, -1) {
			refs.add(m[1])
		}
	}
	return refs.items
}

func siteReferenceRegexes(host, cdnPath string) []*regexp.Regexp {
	cdnPath = cleanCDNPath(cdnPath)
	escapedHost := regexp.QuoteMeta(host)
	return []*regexp.Regexp{
		regexp.MustCompile(`(?i)["']((?:https?:\\/\\/|\\/\\/)` + escapedHost + regexp.QuoteMeta(escapeSlashes(cdnPath)) + `[^"']+)["']`),
		regexp.MustCompile(`(?i)["']((?:https?://|//)` + escapedHost + regexp.QuoteMeta(cdnPath) + `[^"']+)["']`),
	}
}

// siteBackgroundRegex matches inline background-image declarations that still point at the site's CDN.
func siteBackgroundRegex(host, cdnPath string) *regexp.Regexp {
	return regexp.MustCompile(`background-image:\s*url\((?:https?://|//)` + regexp.QuoteMeta(host) + regexp.QuoteMeta(cleanCDNPath(cdnPath)) + `[^)]+\);\s*`)
}

// cleanCDNPath makes sure the prefix starts and ends with a slash.
func cleanCDNPath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return "/"
	}
	return "/" + p + "/"
}
