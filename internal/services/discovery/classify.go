package discovery

import (
	"regexp"
	"strings"

	"github.com/calegis/calegis/internal/models"
)

// sectionIDRe is the section identifier grammar: digits, an optional
// single decimal group, an optional single trailing letter. Examples:
// 1, 3044, 17404.1, 73d. Do not narrow without evidence.
var sectionIDRe = regexp.MustCompile(`^\d+(?:\.\d+)?[a-z]?$`)

// IsSectionID reports whether s is a valid section identifier
func IsSectionID(s string) bool {
	return sectionIDRe.MatchString(s)
}

// Heading classification uses whole-word matching so that PARTIES, PARTY,
// and DEPARTMENT never classify as PART. Priority runs most specific
// first: DIVISION > PART > TITLE > CHAPTER > ARTICLE.
var headingTypes = []struct {
	nodeType models.NodeType
	token    *regexp.Regexp
}{
	{models.NodeTypeDivision, regexp.MustCompile(`(?i)\bDIVISION\b`)},
	{models.NodeTypePart, regexp.MustCompile(`(?i)\bPART\b`)},
	{models.NodeTypeTitle, regexp.MustCompile(`(?i)\bTITLE\b`)},
	{models.NodeTypeChapter, regexp.MustCompile(`(?i)\bCHAPTER\b`)},
	{models.NodeTypeArticle, regexp.MustCompile(`(?i)\bARTICLE\b`)},
}

// Classify returns the node type of a heading, or NodeTypeSection when no
// hierarchy keyword matches at a word boundary
func Classify(heading string) models.NodeType {
	for _, h := range headingTypes {
		if h.token.MatchString(heading) {
			return h.nodeType
		}
	}
	return models.NodeTypeSection
}

// levelPriority orders hierarchy levels from broadest (smallest) to
// narrowest; used when attaching nodes to the tree
var levelPriority = map[models.NodeType]int{
	models.NodeTypeCode:     0,
	models.NodeTypeDivision: 1,
	models.NodeTypePart:     2,
	models.NodeTypeTitle:    3,
	models.NodeTypeChapter:  4,
	models.NodeTypeArticle:  5,
	models.NodeTypeSection:  6,
}

var headingNumberRe = regexp.MustCompile(`(?i)\b(?:DIVISION|PART|TITLE|CHAPTER|ARTICLE)\s+([0-9]+(?:\.[0-9]+)?[A-Za-z]?)\b`)

// ParseHeading splits a classified heading into its number and title.
// "CHAPTER 3. Disability of Party" yields ("3", "Disability of Party").
func ParseHeading(heading string) (number, title string) {
	m := headingNumberRe.FindStringSubmatchIndex(heading)
	if m == nil {
		return "", strings.TrimSpace(heading)
	}
	number = heading[m[2]:m[3]]
	title = strings.TrimSpace(heading[m[3]:])
	title = strings.TrimLeft(title, ".- ")
	return number, strings.TrimSpace(title)
}
