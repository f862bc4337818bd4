package sitemap

import (
	"encoding/xml"
	"strings"

	"github.com/sheeki03/duediligence/internal/source"
)

type rootKind int

const (
	sitemapIndex rootKind = iota
	urlset
)

// Standard sitemap namespaces stripped from the body before parsing, per §6:
// this simplifies element lookup since encoding/xml otherwise requires exact
// namespace-qualified element matching.
var namespaceLiterals = []string{
	"http://www.sitemaps.org/schemas/sitemap/0.9",
	"http://www.google.com/schemas/sitemap-image/1.1",
}

func stripNamespaces(body []byte) []byte {
	s := string(body)
	for _, ns := range namespaceLiterals {
		s = strings.ReplaceAll(s, ` xmlns="`+ns+`"`, "")
		s = strings.ReplaceAll(s, ` xmlns:image="`+ns+`"`, "")
	}
	return []byte(s)
}

type xmlURLSet struct {
	XMLName xml.Name   `xml:"urlset"`
	URLs    []xmlURL   `xml:"url"`
}

type xmlURL struct {
	Loc string `xml:"loc"`
}

type xmlSitemapIndex struct {
	XMLName  xml.Name      `xml:"sitemapindex"`
	Sitemaps []xmlSitemap  `xml:"sitemap"`
}

type xmlSitemap struct {
	Loc string `xml:"loc"`
}

// parseSitemap distinguishes <sitemapindex> from <urlset> and returns the
// child <loc> values, per step 5 of §4.2.
func parseSitemap(body []byte, sourceURL string) (rootKind, []string, error) {
	clean := stripNamespaces(body)

	var idx xmlSitemapIndex
	if err := xml.Unmarshal(clean, &idx); err == nil && idx.XMLName.Local == "sitemapindex" {
		locs := make([]string, 0, len(idx.Sitemaps))
		for _, s := range idx.Sitemaps {
			if strings.TrimSpace(s.Loc) != "" {
				locs = append(locs, strings.TrimSpace(s.Loc))
			}
		}
		return sitemapIndex, locs, nil
	}

	var us xmlURLSet
	if err := xml.Unmarshal(clean, &us); err == nil && us.XMLName.Local == "urlset" {
		locs := make([]string, 0, len(us.URLs))
		for _, u := range us.URLs {
			if strings.TrimSpace(u.Loc) != "" {
				locs = append(locs, strings.TrimSpace(u.Loc))
			}
		}
		return urlset, locs, nil
	}

	return 0, nil, source.NewError(source.ErrInvalidResponseShape, "", "sitemap at "+sourceURL+" is neither sitemapindex nor urlset")
}
