package common

import (
	"net/url"
	"strings"
)

// IndexURL builds the code index page URL (tocCode=<CODE>)
func (c SiteConfig) IndexURL(code string) string {
	return c.BaseURL + c.TocPath + "?tocCode=" + url.QueryEscape(code)
}

// SectionURL builds a section page URL (sectionNum=<ID>&lawCode=<CODE>)
func (c SiteConfig) SectionURL(code, sectionID string) string {
	return c.BaseURL + c.SectionPath +
		"?sectionNum=" + url.QueryEscape(sectionID) +
		"&lawCode=" + url.QueryEscape(code)
}

// IsTextPageURL reports whether a link points at a text page (the
// intermediate pages that enumerate sections under a subtree)
func (c SiteConfig) IsTextPageURL(link string) bool {
	return c.TextPath != "" && strings.Contains(link, c.TextPath)
}
