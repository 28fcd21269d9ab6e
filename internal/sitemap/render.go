// Package sitemap builds, caches, and serves the storefront's sitemap
// documents: the index, numbered product and blog chunks, the static-page
// set, and the blog-category set.
package sitemap

import (
	"encoding/xml"
	"fmt"
	"time"
)

const xmlns = "http://www.sitemaps.org/schemas/sitemap/0.9"

// lastModLayout matches the millisecond ISO-8601 shape emitted by the
// storefront's other feeds, so crawlers see one timestamp format everywhere.
const lastModLayout = "2006-01-02T15:04:05.000Z"

// Entry is one location in a sitemap document. LastMod is the serialized
// timestamp, or "" to omit the tag entirely.
type Entry struct {
	Loc     string
	LastMod string
}

type xmlEntry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

type urlset struct {
	XMLName xml.Name   `xml:"urlset"`
	Xmlns   string     `xml:"xmlns,attr"`
	URLs    []xmlEntry `xml:"url"`
}

type sitemapindex struct {
	XMLName  xml.Name   `xml:"sitemapindex"`
	Xmlns    string     `xml:"xmlns,attr"`
	Sitemaps []xmlEntry `xml:"sitemap"`
}

// LastModified returns the maximum parseable timestamp among values,
// serialized in millisecond ISO-8601 UTC form. Unparseable values are
// excluded from the max rather than treated as errors. The second return is
// false when no value parses, which callers map to an omitted lastmod tag.
func LastModified(values ...string) (string, bool) {
	var (
		max   time.Time
		found bool
	)
	for _, v := range values {
		t, ok := parseTimestamp(v)
		if !ok {
			continue
		}
		if !found || t.After(max) {
			max = t
			found = true
		}
	}
	if !found {
		return "", false
	}
	return max.UTC().Format(lastModLayout), true
}

// parseTimestamp accepts the timestamp shapes that reach the renderer: RFC
// 3339 with or without fractional seconds (database rows scanned as text)
// and bare dates (hand-maintained static page entries).
func parseTimestamp(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// RenderURLSet renders a <urlset> document from the given entries. Element
// content is XML-escaped by the encoder, so catalog-controlled slugs cannot
// break the document.
func RenderURLSet(entries []Entry) (string, error) {
	doc := urlset{Xmlns: xmlns, URLs: toXMLEntries(entries)}
	return render(doc)
}

// RenderIndex renders a <sitemapindex> document from the given entries.
func RenderIndex(entries []Entry) (string, error) {
	doc := sitemapindex{Xmlns: xmlns, Sitemaps: toXMLEntries(entries)}
	return render(doc)
}

func toXMLEntries(entries []Entry) []xmlEntry {
	out := make([]xmlEntry, len(entries))
	for i, e := range entries {
		out[i] = xmlEntry{Loc: e.Loc, LastMod: e.LastMod}
	}
	return out
}

func render(doc any) (string, error) {
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling sitemap document: %w", err)
	}
	return xml.Header + string(body) + "\n", nil
}
