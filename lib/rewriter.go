package lib

import (
	"regexp"
	"strconv"
	"strings"
)

// placeholderRegex matches the markers left by a substitution pass.
var placeholderRegex = regexp.MustCompile("\x00[0-9]+\x00")

// Rewriter substitutes localized paths into an HTML document.
type Rewriter struct {
	// URLPaths maps absolute remote URLs to paths relative to the document.
	URLPaths map[string]string
	// RawPaths maps raw spellings found in the document to the same relative paths.
	RawPaths map[string]string
	// TemplatePaths maps {width} template strings to the path of their chosen variant.
	TemplatePaths map[string]string
	// Cleanup removes declarations still pointing at remote hosts. May be nil.
	Cleanup *regexp.Regexp
}

// Rewrite runs the substitution passes in order: absolute URLs (plain and
// escaped-slash spellings), then raw references, then width templates, and
// finally the background-image cleanup.
//
// Every pass only sees text left untouched by the previous ones, so a short
// raw reference like "a.png" cannot match inside an already inserted
// "assets/images/a.png".
func (r *Rewriter) Rewrite(html string) string {
	var inserted []string
	pass := func(text string, paths map[string]string) string {
		if len(paths) == 0 {
			return text
		}
		tokens := make(map[string]string, len(paths))
		for k, v := range paths {
			tokens[k] = placeholder(len(inserted))
			inserted = append(inserted, v)
		}
		return replaceOutsidePlaceholders(text, newReplacer(tokens))
	}

	updated := pass(html, withEscapedSpellings(r.URLPaths))
	updated = pass(updated, withEscapedSpellings(r.RawPaths))
	updated = pass(updated, r.TemplatePaths)

	if len(inserted) > 0 {
		updated = placeholderRegex.ReplaceAllStringFunc(updated, func(m string) string {
			i, err := strconv.Atoi(strings.Trim(m, "\x00"))
			if err != nil || i >= len(inserted) {
				return m
			}
			return inserted[i]
		})
	}

	if r.Cleanup != nil {
		updated = r.Cleanup.ReplaceAllString(updated, "")
	}

	return updated
}

// placeholder marks a substituted span until all passes are done. NUL never
// appears in well-formed HTML text.
func placeholder(i int) string {
	return "\x00" + strconv.Itoa(i) + "\x00"
}

// replaceOutsidePlaceholders applies r to the text between placeholders only,
// so no key can match inside a marker left by an earlier pass.
func replaceOutsidePlaceholders(text string, r *strings.Replacer) string {
	var b strings.Builder
	last := 0
	for _, loc := range placeholderRegex.FindAllStringIndex(text, -1) {
		b.WriteString(r.Replace(text[last:loc[0]]))
		b.WriteString(text[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(r.Replace(text[last:]))
	return b.String()
}

// withEscapedSpellings adds the backslash-escaped-slash form of every key.
func withEscapedSpellings(paths map[string]string) map[string]string {
	out := make(map[string]string, 2*len(paths))
	for k, v := range paths {
		out[k] = v
	}
	for k, v := range paths {
		escaped := escapeSlashes(k)
		if _, ok := out[escaped]; !ok {
			out[escaped] = v
		}
	}
	return out
}
