package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseExtractsContentAndHistory(t *testing.T) {
	html := `<html><body>
		<div id="codesnavigationbar"><a href="/">Home</a></div>
		<div id="codeLawSectionNoHead">
			<p>351. Except as otherwise provided by statute, all relevant
			evidence is admissible.</p>
			<i>(Enacted by Stats. 1965, Ch. 299.)</i>
		</div>
	</body></html>`

	result := Parse("https://example.test/sec?sectionNum=351&lawCode=EVID", html)

	assert.False(t, result.IsMultiVersion)
	assert.False(t, result.Empty)
	assert.Contains(t, result.Content, "all relevant evidence is admissible")
	assert.Equal(t, "(Enacted by Stats. 1965, Ch. 299.)", result.LegislativeHistory)
}

// Pages nest division and chapter histories above the section's own;
// the last qualifying citation wins
func TestParseHistoryLastCitationWins(t *testing.T) {
	html := `<html><body><div id="codeLawSectionNoHead">
		<i>(Division 1 added by Stats. 1939, Ch. 60.)</i>
		<i>(Chapter 2 amended by Stats. 1951, Ch. 655.)</i>
		<p>Section text.</p>
		<i>(Amended by Stats. 2019, Ch. 497, Sec. 1.)</i>
	</div></body></html>`

	result := Parse("https://example.test/sec", html)
	assert.Equal(t, "(Amended by Stats. 2019, Ch. 497, Sec. 1.)", result.LegislativeHistory)
}

func TestParseHistoryRequiresActionVerb(t *testing.T) {
	html := `<html><body><div id="codeLawSectionNoHead">
		<p>Text.</p>
		<i>(See Stats. 1990, Ch. 12 for context.)</i>
		<i>(Added by Stats. 1985, Ch. 100.)</i>
	</div></body></html>`

	result := Parse("https://example.test/sec", html)
	assert.Equal(t, "(Added by Stats. 1985, Ch. 100.)", result.LegislativeHistory)
}

func TestParseHistoryParentheticalFallback(t *testing.T) {
	html := `<html><body><div id="codeLawSectionNoHead">
		<p>Text. (Repealed and added by Stats. 1982, Ch. 454, Sec. 70.)</p>
	</div></body></html>`

	result := Parse("https://example.test/sec", html)
	assert.Equal(t, "(Repealed and added by Stats. 1982, Ch. 454, Sec. 70.)", result.LegislativeHistory)
}

func TestParseMultiVersionSentinel(t *testing.T) {
	// The sentinel can surface in the redirected URL or the page body
	byURL := Parse("https://example.test/faces/selectFromMultiples.xhtml?sectionNum=3044", "<html><body>choose</body></html>")
	assert.True(t, byURL.IsMultiVersion)
	assert.False(t, byURL.Empty)

	byBody := Parse("https://example.test/sec", "<html><body>selectfrommultiples</body></html>")
	assert.True(t, byBody.IsMultiVersion)

	plain := Parse("https://example.test/sec", `<html><body><div id="codeLawSectionNoHead">text</div></body></html>`)
	assert.False(t, plain.IsMultiVersion)
}

func TestParseEmptyPage(t *testing.T) {
	assert.True(t, Parse("https://example.test/sec", "").Empty)
	assert.True(t, Parse("https://example.test/sec", "   \n\t").Empty)

	noBody := Parse("https://example.test/sec", `<html><body><div id="codeLawSectionNoHead">  </div></body></html>`)
	assert.True(t, noBody.Empty)
}

func TestParseStripsChrome(t *testing.T) {
	html := `<html><body>
		<form id="pagesearchform"><input name="q"></form>
		<div id="codeLawSectionNoHead">real content</div>
		<footer>footer text</footer>
	</body></html>`

	result := Parse("https://example.test/sec", html)
	assert.Equal(t, "real content", result.Content)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b c", Normalize("  a\n\tb   c  "))
	assert.Equal(t, "", Normalize("   "))
}

func TestExtractOperativeDate(t *testing.T) {
	html := `<p>This version is operative January 1, 2024 pursuant to Sec. 5.</p>`
	assert.Equal(t, "January 1, 2024", ExtractOperativeDate(html))

	assert.Equal(t, "", ExtractOperativeDate("<p>no date here</p>"))
	assert.Equal(t, "September 15, 2026", ExtractOperativeDate("Operative September 15, 2026."))
}
