package models

import (
	"time"
)

// NodeType classifies a heading in the code hierarchy
type NodeType string

const (
	NodeTypeCode     NodeType = "CODE"
	NodeTypeDivision NodeType = "DIVISION"
	NodeTypePart     NodeType = "PART"
	NodeTypeTitle    NodeType = "TITLE"
	NodeTypeChapter  NodeType = "CHAPTER"
	NodeTypeArticle  NodeType = "ARTICLE"
	NodeTypeSection  NodeType = "SECTION"
)

// CodeNode is one node of the hierarchical code tree
type CodeNode struct {
	Type     NodeType    `json:"type"`
	Number   string      `json:"number,omitempty"`
	Title    string      `json:"title,omitempty"`
	Children []*CodeNode `json:"children,omitempty"`
}

// CountLeaves returns the number of SECTION leaves reachable from the node
func (n *CodeNode) CountLeaves() int {
	if n == nil {
		return 0
	}
	if n.Type == NodeTypeSection {
		return 1
	}
	count := 0
	for _, child := range n.Children {
		count += child.CountLeaves()
	}
	return count
}

// CountNodes returns the total number of nodes in the subtree, inclusive
func (n *CodeNode) CountNodes() int {
	if n == nil {
		return 0
	}
	count := 1
	for _, child := range n.Children {
		count += child.CountNodes()
	}
	return count
}

// MaxDepth returns the depth of the deepest node, with the receiver at depth 1
func (n *CodeNode) MaxDepth() int {
	if n == nil {
		return 0
	}
	max := 0
	for _, child := range n.Children {
		if d := child.MaxDepth(); d > max {
			max = d
		}
	}
	return max + 1
}

// HierarchyTags carries the enclosing hierarchy chain of a leaf.
// Empty strings mean the level is absent in the chain.
type HierarchyTags struct {
	Division string `json:"division,omitempty"`
	Part     string `json:"part,omitempty"`
	Title    string `json:"title,omitempty"`
	Chapter  string `json:"chapter,omitempty"`
	Article  string `json:"article,omitempty"`
}

// ManifestEntry is one leaf in the flat URL manifest, in discovery order
type ManifestEntry struct {
	SectionID string        `json:"section_id"`
	URL       string        `json:"url"`
	Hierarchy HierarchyTags `json:"hierarchy"`
}

// Statistics summarizes a discovered code tree
type Statistics struct {
	TotalNodes    int `json:"total_nodes"`
	MaxDepth      int `json:"max_depth"`
	TotalSections int `json:"total_sections"`
}

// StageFlags records which pipeline stages have completed for a code
type StageFlags struct {
	Stage1Done   bool       `json:"stage1_done"`
	Stage1DoneAt *time.Time `json:"stage1_done_at,omitempty"`
	Stage2Done   bool       `json:"stage2_done"`
	Stage2DoneAt *time.Time `json:"stage2_done_at,omitempty"`
	Stage3Done   bool       `json:"stage3_done"`
	Stage3DoneAt *time.Time `json:"stage3_done_at,omitempty"`
}

// CodeArchitecture is the persisted discovery result for one code:
// the hierarchy tree, the flat leaf manifest, and bookkeeping.
//
// Invariants: Statistics.TotalSections == len(URLManifest) == leaves in
// Tree; every MultiVersionSections entry has a manifest leaf.
type CodeArchitecture struct {
	Code                 string          `json:"code"` // storage key
	Tree                 *CodeNode       `json:"tree"`
	URLManifest          []ManifestEntry `json:"url_manifest"`
	Statistics           Statistics      `json:"statistics"`
	MultiVersionSections []string        `json:"multi_version_sections"`
	StageFlags           StageFlags      `json:"stage_flags"`
	SessionID            string          `json:"session_id"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}
