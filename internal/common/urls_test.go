package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func siteForTest() SiteConfig {
	return SiteConfig{
		BaseURL:     "https://leginfo.legislature.ca.gov",
		TocPath:     "/faces/codedisplayexpand.xhtml",
		TextPath:    "/faces/codes_displayText.xhtml",
		SectionPath: "/faces/codes_displaySection.xhtml",
	}
}

func TestIndexURL(t *testing.T) {
	assert.Equal(t,
		"https://leginfo.legislature.ca.gov/faces/codedisplayexpand.xhtml?tocCode=EVID",
		siteForTest().IndexURL("EVID"))
}

func TestSectionURLEscapesIdentifiers(t *testing.T) {
	site := siteForTest()
	assert.Equal(t,
		"https://leginfo.legislature.ca.gov/faces/codes_displaySection.xhtml?sectionNum=17404.1&lawCode=BPC",
		site.SectionURL("BPC", "17404.1"))
	assert.Equal(t,
		"https://leginfo.legislature.ca.gov/faces/codes_displaySection.xhtml?sectionNum=73d&lawCode=CCP",
		site.SectionURL("CCP", "73d"))
}

func TestIsTextPageURL(t *testing.T) {
	site := siteForTest()
	assert.True(t, site.IsTextPageURL("https://leginfo.legislature.ca.gov/faces/codes_displayText.xhtml?division=1.&lawCode=EVID"))
	assert.False(t, site.IsTextPageURL("https://leginfo.legislature.ca.gov/faces/codes_displaySection.xhtml?sectionNum=1"))
	assert.False(t, site.IsTextPageURL("https://example.test/unrelated"))

	site.TextPath = ""
	assert.False(t, site.IsTextPageURL("anything"))
}
