package lib

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	dataURIRegex   = regexp.MustCompile(`(?i)^data:`)
	httpURLRegex   = regexp.MustCompile(`(?i)^https?://`)
	edgeQuoteRegex = regexp.MustCompile(`^["']|["']$`)
)

// NormalizeURL converts a reference found in markup into an absolute, fetchable URL.
// It returns false for empty input, data: URIs, relative references without a
// usable base, and references that fail to resolve.
func NormalizeURL(raw, base string) (string, bool) {
	s := stripQuotes(strings.TrimSpace(raw))
	if s == "" || dataURIRegex.MatchString(s) {
		return "", false
	}
	if httpURLRegex.MatchString(s) {
		return s, true
	}
	if strings.HasPrefix(s, "//") {
		return "https:" + s, true
	}
	if base == "" {
		return "", false
	}

	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return "", false
	}
	resolved, err := baseURL.Parse(s)
	if err != nil {
		return "", false
	}
	return resolved.String(), true
}

// stripQuotes removes one leading and one trailing quote character.
func stripQuotes(s string) string {
	return edgeQuoteRegex.ReplaceAllString(s, "")
}

// unescapeSlashes turns the JSON escaped-slash spelling (https:\/\/host\/a) back into a plain URL.
func unescapeSlashes(s string) string {
	return strings.ReplaceAll(s, `\/`, "/")
}

// escapeSlashes is the inverse of unescapeSlashes.
func escapeSlashes(s string) string {
	return strings.ReplaceAll(s, "/", `\/`)
}
