// Package discovery implements Stage 1: crawling a code's index and text
// pages, building the hierarchy tree and the flat URL manifest, and
// seeding leaf section records.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/calegis/calegis/internal/common"
	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
	"github.com/calegis/calegis/internal/services/scraper"
)

// Service runs tree discovery for one code at a time
type Service struct {
	scraper interfaces.Scraper
	storage interfaces.StorageManager
	site    common.SiteConfig
	retry   *scraper.RetryPolicy
	logger  arbor.ILogger
}

// NewService creates a discovery service. The scraper should be the
// static one: index and text pages carry their headings in the raw server
// HTML, no script execution needed.
func NewService(sc interfaces.Scraper, storage interfaces.StorageManager, site common.SiteConfig, logger arbor.ILogger) *Service {
	return &Service{
		scraper: sc,
		storage: storage,
		site:    site,
		retry:   scraper.NewRetryPolicy(),
		logger:  logger,
	}
}

// Run discovers the full architecture of a code and persists it along
// with URL-only leaf records. Text pages that fail after retries are
// skipped; their leaves surface later in reconciliation.
func (s *Service) Run(ctx context.Context, code, sessionID string) (*models.CodeArchitecture, error) {
	start := time.Now()

	indexURL := s.site.IndexURL(code)
	s.logger.Info().Str("code", code).Str("url", indexURL).Msg("Stage 1: discovering code architecture")

	index, err := s.retry.FetchWithRetry(ctx, s.scraper, indexURL, interfaces.FetchOptions{Cache: true}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch code index: %w", err)
	}

	textPages := s.textPageURLs(index)
	if len(textPages) == 0 {
		// Small codes list their sections directly on the index page
		textPages = []string{indexURL}
	}

	s.logger.Info().Str("code", code).Int("text_pages", len(textPages)).Msg("Text pages discovered")

	builder := newTreeBuilder(code, s.site)
	failedPages := 0

	for i, pageURL := range textPages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := s.retry.FetchWithRetry(ctx, s.scraper, pageURL, interfaces.FetchOptions{Cache: true}, s.logger)
		if err != nil {
			failedPages++
			s.logger.Warn().
				Err(err).
				Str("code", code).
				Str("url", pageURL).
				Int("page_index", i).
				Msg("Text page failed after retries; its leaves will surface in reconciliation")
			continue
		}

		if err := builder.consumePage(page.HTML); err != nil {
			failedPages++
			s.logger.Warn().Err(err).Str("url", pageURL).Msg("Text page parse failed")
		}
	}

	arch := builder.architecture(sessionID)

	if err := s.storage.ArchitectureStorage().PutCodeArchitecture(arch); err != nil {
		return nil, fmt.Errorf("failed to persist architecture: %w", err)
	}

	if err := s.seedLeafRecords(code, arch); err != nil {
		return nil, err
	}

	if err := s.storage.ArchitectureStorage().MarkStageDone(code, models.StageDiscovery); err != nil {
		return nil, fmt.Errorf("failed to mark stage 1 done: %w", err)
	}

	s.logger.Info().
		Str("code", code).
		Int("total_sections", arch.Statistics.TotalSections).
		Int("total_nodes", arch.Statistics.TotalNodes).
		Int("max_depth", arch.Statistics.MaxDepth).
		Int("failed_pages", failedPages).
		Float64("duration_sec", time.Since(start).Seconds()).
		Msg("Stage 1 complete")

	return arch, nil
}

// seedLeafRecords bulk-creates URL-only section records. The sparse merge
// guarantees a re-run never erases content extracted by later stages.
func (s *Service) seedLeafRecords(code string, arch *models.CodeArchitecture) error {
	upserts := make([]models.SectionUpsert, 0, len(arch.URLManifest))
	for i, entry := range arch.URLManifest {
		h := entry.Hierarchy
		upserts = append(upserts, models.SectionUpsert{
			SectionID: entry.SectionID,
			Update: models.SectionUpdate{
				URL:      models.StrPtr(entry.URL),
				Seq:      models.IntPtr(i),
				Division: nonEmptyPtr(h.Division),
				Part:     nonEmptyPtr(h.Part),
				Title:    nonEmptyPtr(h.Title),
				Chapter:  nonEmptyPtr(h.Chapter),
				Article:  nonEmptyPtr(h.Article),
			},
		})
	}

	if err := s.storage.SectionStorage().BulkUpsertSections(code, upserts); err != nil {
		return fmt.Errorf("failed to seed leaf records: %w", err)
	}
	return nil
}

// textPageURLs returns the ordered, de-duplicated text-page links from
// the index page
func (s *Service) textPageURLs(index *interfaces.FetchResult) []string {
	seen := make(map[string]struct{})
	var pages []string
	for _, link := range index.Links {
		if !s.site.IsTextPageURL(link) {
			continue
		}
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		pages = append(pages, link)
	}
	return pages
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// treeBuilder accumulates the hierarchy tree and manifest across text
// pages, preserving document order
type treeBuilder struct {
	code     string
	site     common.SiteConfig
	root     *models.CodeNode
	current  map[models.NodeType]*models.CodeNode
	chain    models.HierarchyTags
	manifest []models.ManifestEntry
	seen     map[string]struct{}
}

func newTreeBuilder(code string, site common.SiteConfig) *treeBuilder {
	return &treeBuilder{
		code:    code,
		site:    site,
		root:    &models.CodeNode{Type: models.NodeTypeCode, Number: code},
		current: make(map[models.NodeType]*models.CodeNode),
		seen:    make(map[string]struct{}),
	}
}

// consumePage walks one text page's raw HTML in document order, feeding
// hierarchy headings and section links into the tree
func (b *treeBuilder) consumePage(html string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("failed to parse text page: %w", err)
	}

	// Selector group keeps document order, so hierarchy headings are in
	// effect when the section links under them arrive
	doc.Find("h1, h2, h3, h4, h5, h6, a[href*='sectionNum=']").Each(func(_ int, sel *goquery.Selection) {
		if sel.Is("a") {
			if id := b.sectionIDFromLink(sel); id != "" {
				b.addLeaf(id)
			}
			return
		}
		b.addHeading(sel.Text())
	})

	return nil
}

// sectionIDFromLink validates a section anchor: the sectionNum parameter
// must match the identifier grammar and the lawCode must be ours
func (b *treeBuilder) sectionIDFromLink(sel *goquery.Selection) string {
	href, ok := sel.Attr("href")
	if !ok {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	q := u.Query()
	if law := q.Get("lawCode"); law != "" && law != b.code {
		return ""
	}
	id := q.Get("sectionNum")
	id = strings.TrimSuffix(strings.TrimSpace(id), ".")
	if !IsSectionID(id) {
		return ""
	}
	return id
}

func (b *treeBuilder) addHeading(text string) {
	heading := strings.TrimSpace(text)
	if heading == "" {
		return
	}

	nodeType := Classify(heading)
	if nodeType == models.NodeTypeSection {
		// A bare section heading; leaves come from their anchors
		id := strings.TrimSuffix(heading, ".")
		if IsSectionID(id) {
			b.addLeaf(id)
		}
		return
	}

	number, title := ParseHeading(heading)
	node := &models.CodeNode{Type: nodeType, Number: number, Title: title}

	parent := b.parentFor(nodeType)
	parent.Children = append(parent.Children, node)

	b.current[nodeType] = node
	b.clearDeeperLevels(nodeType)
	b.setChainTag(nodeType, number, heading)
}

// parentFor finds the nearest active node broader than the given level
func (b *treeBuilder) parentFor(nodeType models.NodeType) *models.CodeNode {
	p := levelPriority[nodeType]
	parent := b.root
	best := levelPriority[models.NodeTypeCode]
	for t, node := range b.current {
		if pr := levelPriority[t]; pr < p && pr > best {
			parent = node
			best = pr
		}
	}
	return parent
}

func (b *treeBuilder) clearDeeperLevels(nodeType models.NodeType) {
	p := levelPriority[nodeType]
	for t := range b.current {
		if levelPriority[t] > p {
			delete(b.current, t)
		}
	}
	switch nodeType {
	case models.NodeTypeDivision:
		b.chain.Part, b.chain.Title, b.chain.Chapter, b.chain.Article = "", "", "", ""
	case models.NodeTypePart:
		b.chain.Title, b.chain.Chapter, b.chain.Article = "", "", ""
	case models.NodeTypeTitle:
		b.chain.Chapter, b.chain.Article = "", ""
	case models.NodeTypeChapter:
		b.chain.Article = ""
	}
}

func (b *treeBuilder) setChainTag(nodeType models.NodeType, number, heading string) {
	value := number
	if value == "" {
		value = heading
	}
	switch nodeType {
	case models.NodeTypeDivision:
		b.chain.Division = value
	case models.NodeTypePart:
		b.chain.Part = value
	case models.NodeTypeTitle:
		b.chain.Title = value
	case models.NodeTypeChapter:
		b.chain.Chapter = value
	case models.NodeTypeArticle:
		b.chain.Article = value
	}
}

// addLeaf appends a section leaf to the deepest active node and to the
// manifest, de-duplicating by identifier
func (b *treeBuilder) addLeaf(sectionID string) {
	if _, ok := b.seen[sectionID]; ok {
		return
	}
	b.seen[sectionID] = struct{}{}

	leaf := &models.CodeNode{Type: models.NodeTypeSection, Number: sectionID}
	parent := b.parentFor(models.NodeTypeSection)
	parent.Children = append(parent.Children, leaf)

	b.manifest = append(b.manifest, models.ManifestEntry{
		SectionID: sectionID,
		URL:       b.site.SectionURL(b.code, sectionID),
		Hierarchy: b.chain,
	})
}

// architecture finalizes the discovered tree into a persisted document
func (b *treeBuilder) architecture(sessionID string) *models.CodeArchitecture {
	return &models.CodeArchitecture{
		Code:        b.code,
		Tree:        b.root,
		URLManifest: b.manifest,
		Statistics: models.Statistics{
			TotalNodes:    b.root.CountNodes(),
			MaxDepth:      b.root.MaxDepth(),
			TotalSections: len(b.manifest),
		},
		SessionID: sessionID,
		CreatedAt: time.Now(),
	}
}
