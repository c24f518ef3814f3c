package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calegis/calegis/internal/common"
	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
	"github.com/calegis/calegis/internal/storage/badger"
)

type fakeScraper struct {
	mu        sync.Mutex
	pages     map[string]*interfaces.FetchResult
	failUntil map[string]int // fetches of this URL fail this many times first
	fetches   map[string]int
}

func (f *fakeScraper) Fetch(ctx context.Context, url string, opts interfaces.FetchOptions) (*interfaces.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetches == nil {
		f.fetches = make(map[string]int)
	}
	f.fetches[url]++
	if f.failUntil[url] > 0 {
		f.failUntil[url]--
		return nil, fmt.Errorf("connection reset by peer")
	}
	if page, ok := f.pages[url]; ok {
		return page, nil
	}
	return nil, fmt.Errorf("no fixture for %s", url)
}

func (f *fakeScraper) FetchBatch(ctx context.Context, urls []string, batchSize int, timeout time.Duration) map[string]interfaces.BatchResult {
	results := make(map[string]interfaces.BatchResult, len(urls))
	for _, u := range urls {
		r, err := f.Fetch(ctx, u, interfaces.FetchOptions{})
		results[u] = interfaces.BatchResult{Result: r, Err: err}
	}
	return results
}

func (f *fakeScraper) fetchCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[url]
}

// fakeRendered serves the version-selector flow: the extract pass returns
// onclick targets, click passes return the page for that selector
type fakeRendered struct {
	fakeScraper
	targets    []string
	clickPages map[string]*interfaces.InteractiveResult
}

func (f *fakeRendered) FetchInteractive(ctx context.Context, url string, actions []interfaces.Action) (*interfaces.InteractiveResult, error) {
	for _, a := range actions {
		switch a.Type {
		case interfaces.ActionExtractOnclickTargets:
			return &interfaces.InteractiveResult{URL: url, OnclickTargets: f.targets}, nil
		case interfaces.ActionClick:
			if page, ok := f.clickPages[a.Selector]; ok {
				return page, nil
			}
			return nil, fmt.Errorf("no click fixture for %s", a.Selector)
		}
	}
	return nil, fmt.Errorf("no terminal action")
}

func testSite() common.SiteConfig {
	return common.SiteConfig{
		BaseURL:     "https://example.test",
		TocPath:     "/toc",
		TextPath:    "/text",
		SectionPath: "/sec",
	}
}

func testPipelineConfig() *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Site = testSite()
	cfg.Extractor = common.ExtractorConfig{
		WorkerCount:    2,
		BatchSize:      10,
		RequestTimeout: time.Second,
		MaxAttempts:    1,
	}
	cfg.MultiVersion.SectionTimeout = 5 * time.Second
	cfg.Reconcile.MaxAttempts = 2
	cfg.Retry.Enabled = true
	return cfg
}

func newTestStorage(t *testing.T) interfaces.StorageManager {
	t.Helper()
	manager, err := badger.NewManager(common.GetLogger(), &common.BadgerConfig{Path: t.TempDir() + "/db"})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func contentPage(body string) *interfaces.FetchResult {
	return &interfaces.FetchResult{
		HTML:     `<html><body><div id="codeLawSectionNoHead">` + body + `</div></body></html>`,
		Markdown: body,
	}
}

// threeSectionFixtures seeds an index page, one text page listing sections
// 1-3, and the section pages: 1 plain, 2 multi-version, 3 flaky
func threeSectionFixtures(site common.SiteConfig, code string) (*fakeScraper, *fakeRendered) {
	textURL := site.BaseURL + site.TextPath + "?division=1"
	anchors := make([]string, 0, 3)
	for _, id := range []string{"1", "2", "3"} {
		anchors = append(anchors, fmt.Sprintf(`<a href="/faces/codes_displaySection.xhtml?sectionNum=%s.&lawCode=%s">%s.</a>`, id, code, id))
	}
	textHTML := `<html><body><h3>CHAPTER 1. General Provisions</h3>` + strings.Join(anchors, "\n") + `</body></html>`

	static := &fakeScraper{
		pages: map[string]*interfaces.FetchResult{
			site.IndexURL(code): {HTML: `<html><body></body></html>`, Links: []string{textURL}},
			textURL:             {HTML: textHTML},
			site.SectionURL(code, "1"): contentPage(
				`1. All relevant evidence is admissible. <i>(Enacted by Stats. 1965, Ch. 299.)</i>`),
			site.SectionURL(code, "2"): {HTML: `<html><body>selectFromMultiples</body></html>`},
			site.SectionURL(code, "3"): contentPage(`3. Definitions govern construction.`),
		},
		failUntil: map[string]int{
			site.SectionURL(code, "3"): 1,
		},
	}

	rendered := &fakeRendered{
		targets: []string{`toVersion('20240101')`},
		clickPages: map[string]*interfaces.InteractiveResult{
			`[onclick="toVersion('20240101')"]`: {
				URL:  site.SectionURL(code, "2"),
				HTML: `<html><body><div id="codeLawSectionNoHead">2. Amended text, operative January 1, 2024.</div></body></html>`,
			},
		},
	}
	return static, rendered
}

func TestRunEndToEnd(t *testing.T) {
	code := "EVID"
	cfg := testPipelineConfig()
	storage := newTestStorage(t)
	static, rendered := threeSectionFixtures(cfg.Site, code)

	ctrl := NewController(cfg, storage, static, rendered, common.GetLogger())
	report, err := ctrl.Run(context.Background(), code, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalSections)
	assert.Equal(t, 3, report.CompletedSections)
	assert.Equal(t, 1, report.MultiVersionCount)
	assert.Equal(t, 0, report.FailedSections)
	assert.InDelta(t, 1.0, report.SuccessRate, 0.001)
	assert.False(t, report.Interrupted)
	assert.Equal(t, models.ExitSuccess, report.ExitCode)

	stages := make([]models.Stage, 0, len(report.StageTimings))
	for _, st := range report.StageTimings {
		stages = append(stages, st.Stage)
	}
	assert.Equal(t, []models.Stage{
		models.StageDiscovery,
		models.StageExtraction,
		models.StageMultiVersion,
		models.StageReconcile,
		models.StageRetry,
	}, stages)

	arch, err := storage.ArchitectureStorage().GetCodeArchitecture(code)
	require.NoError(t, err)
	assert.True(t, arch.StageFlags.Stage1Done)
	assert.True(t, arch.StageFlags.Stage2Done)
	assert.True(t, arch.StageFlags.Stage3Done)

	// Section 3 failed in stage 2, was reconciled, and its failure record
	// was closed by the retry pass
	record, err := storage.FailureStorage().LatestFailure(code, "3")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.RetrySucceeded, record.RetryStatus)

	// Multi-version section resolved through the selector
	sec, err := storage.SectionStorage().GetSection(code, "2")
	require.NoError(t, err)
	require.Len(t, sec.Versions, 1)
	assert.Equal(t, models.VersionStatusCurrent, sec.Versions[0].Status)
	assert.Equal(t, "January 1, 2024", sec.Versions[0].OperativeDate)

	// Report persisted
	reports, err := storage.ReportStorage().ListReports(code)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, report.ID, reports[0].ID)
}

func TestRunFreshClearsPriorSections(t *testing.T) {
	code := "EVID"
	cfg := testPipelineConfig()
	storage := newTestStorage(t)
	static, rendered := threeSectionFixtures(cfg.Site, code)

	// Leftover from an earlier aborted run against a different manifest
	require.NoError(t, storage.SectionStorage().UpsertSection(code, "99", models.SectionUpdate{
		URL: models.StrPtr("https://example.test/sec?sectionNum=99&lawCode=EVID"),
	}))

	ctrl := NewController(cfg, storage, static, rendered, common.GetLogger())
	report, err := ctrl.Run(context.Background(), code, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.TotalSections)

	sections, err := storage.SectionStorage().ListSections(code)
	require.NoError(t, err)
	for _, sec := range sections {
		assert.NotEqual(t, "99", sec.SectionID)
	}
}

func TestRunResumeSkipsDiscovery(t *testing.T) {
	code := "EVID"
	cfg := testPipelineConfig()
	storage := newTestStorage(t)
	static, rendered := threeSectionFixtures(cfg.Site, code)

	ctrl := NewController(cfg, storage, static, rendered, common.GetLogger())
	_, err := ctrl.Run(context.Background(), code, Options{})
	require.NoError(t, err)

	indexFetches := static.fetchCount(cfg.Site.IndexURL(code))
	_, err = ctrl.Run(context.Background(), code, Options{Resume: true})
	require.NoError(t, err)

	assert.Equal(t, indexFetches, static.fetchCount(cfg.Site.IndexURL(code)),
		"resume must not re-crawl the index")
	// Completed sections are not refetched either
	assert.Equal(t, 1, static.fetchCount(cfg.Site.SectionURL(code, "1")))
}

func TestRunInterruptedWritesReport(t *testing.T) {
	code := "EVID"
	cfg := testPipelineConfig()
	storage := newTestStorage(t)
	static, rendered := threeSectionFixtures(cfg.Site, code)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ctrl := NewController(cfg, storage, static, rendered, common.GetLogger())
	report, err := ctrl.Run(ctx, code, Options{})
	require.NoError(t, err)

	assert.True(t, report.Interrupted)
	assert.Equal(t, models.ExitInterrupted, report.ExitCode)

	reports, err := storage.ReportStorage().ListReports(code)
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

func TestRunSkipRetryLeavesRecordsOpen(t *testing.T) {
	code := "EVID"
	cfg := testPipelineConfig()
	storage := newTestStorage(t)
	static, rendered := threeSectionFixtures(cfg.Site, code)

	ctrl := NewController(cfg, storage, static, rendered, common.GetLogger())
	report, err := ctrl.Run(context.Background(), code, Options{SkipRetry: true})
	require.NoError(t, err)

	for _, st := range report.StageTimings {
		assert.NotEqual(t, models.StageRetry, st.Stage)
	}

	// Reconciliation fills the section in but only the retry pass closes
	// the failure record
	record, err := storage.FailureStorage().LatestFailure(code, "3")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.NotEqual(t, models.RetrySucceeded, record.RetryStatus)
}
