// Package parser turns fetched section pages into section text and
// legislative history. Parsing is pure: no I/O, no shared state.
package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MultiVersionSentinel marks a section whose canonical page redirects to a
// version-selector. Matching is case-insensitive against both the final
// URL and the page body.
const MultiVersionSentinel = "selectfrommultiples"

// Result is the parsed content of one section page
type Result struct {
	Content            string
	LegislativeHistory string
	IsMultiVersion     bool
	Empty              bool // page had no usable body
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)

	// Legislative action verbs that qualify a Stats. citation
	actionVerbRe = regexp.MustCompile(`\b(Amended|Enacted|Added|Repealed|Renumbered|Reenacted)\b`)

	// Parenthetical citation fallback for pages without italic markup
	parentheticalRe = regexp.MustCompile(`\([^()]*Stats\.[^()]*\)`)

	// Content containers used by the legislative site, most specific first
	contentSelectors = []string{
		"#codeLawSectionNoHead",
		"#manylawsections",
		"div.section-content",
		"main",
		"body",
	}

	// Navigation chrome stripped before extraction
	chromeSelectors = []string{
		"script", "style", "nav", "header", "footer",
		"form", "select", "input", "button", "img",
		"#codesnavigationbar", "#pagesearchform", ".breadcrumb",
	}
)

// Parse extracts section content, legislative history, and the
// multi-version flag from a fetched page. pageURL should be the final URL
// after redirects; the multi-version sentinel often appears only there.
func Parse(pageURL, html string) Result {
	result := Result{
		IsMultiVersion: containsSentinel(pageURL) || containsSentinel(html),
	}

	if strings.TrimSpace(html) == "" {
		result.Empty = true
		return result
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		result.Empty = true
		return result
	}

	// History must be read before chrome-stripping; the citations sit in
	// italic elements that whole-container text extraction would flatten
	result.LegislativeHistory = extractHistory(doc, html)

	for _, sel := range chromeSelectors {
		doc.Find(sel).Remove()
	}

	var content string
	for _, sel := range contentSelectors {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			content = node.Text()
			if strings.TrimSpace(content) != "" {
				break
			}
		}
	}

	result.Content = Normalize(content)
	if result.Content == "" && !result.IsMultiVersion {
		result.Empty = true
	}

	return result
}

// extractHistory returns the LAST italicized parenthetical Stats. citation
// carrying a legislative action verb. Pages nest the division, part, and
// chapter histories above the section's own, so the last match is the one
// belonging to the section itself.
func extractHistory(doc *goquery.Document, html string) string {
	var last string

	doc.Find("i, em").Each(func(_ int, sel *goquery.Selection) {
		text := Normalize(sel.Text())
		if isHistoryCitation(text) {
			last = text
		}
	})
	if last != "" {
		return last
	}

	// Fallback for markup without italics: last qualifying parenthetical
	for _, match := range parentheticalRe.FindAllString(html, -1) {
		text := Normalize(match)
		if isHistoryCitation(text) {
			last = text
		}
	}
	return last
}

func isHistoryCitation(text string) bool {
	return strings.Contains(text, "Stats.") && actionVerbRe.MatchString(text)
}

// Normalize collapses whitespace runs to single spaces and trims
func Normalize(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func containsSentinel(s string) bool {
	return strings.Contains(strings.ToLower(s), MultiVersionSentinel)
}

var operativeDateRe = regexp.MustCompile(`(?i)operative\s+([A-Z][a-z]+ \d{1,2}, \d{4})`)

// ExtractOperativeDate pulls the operative date from a version page, or
// empty when the page does not state one
func ExtractOperativeDate(html string) string {
	m := operativeDateRe.FindStringSubmatch(html)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
