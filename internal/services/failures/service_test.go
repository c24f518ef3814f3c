package failures

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calegis/calegis/internal/common"
	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
	"github.com/calegis/calegis/internal/services/parser"
	"github.com/calegis/calegis/internal/storage/badger"
)

type fakeScraper struct {
	pages map[string]*interfaces.FetchResult
	errs  map[string]error
}

func (f *fakeScraper) Fetch(ctx context.Context, url string, opts interfaces.FetchOptions) (*interfaces.FetchResult, error) {
	if err, ok := f.errs[url]; ok {
		return nil, err
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

func newTestStorage(t *testing.T) interfaces.StorageManager {
	t.Helper()
	manager, err := badger.NewManager(common.GetLogger(), &common.BadgerConfig{Path: t.TempDir() + "/db"})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func testConfig() common.ExtractorConfig {
	return common.ExtractorConfig{
		WorkerCount:    2,
		BatchSize:      10,
		RequestTimeout: time.Second,
		MaxAttempts:    1,
	}
}

func seedFailure(t *testing.T, storage interfaces.StorageManager, code, id, url string, kind models.FailureType) {
	t.Helper()
	require.NoError(t, storage.SectionStorage().UpsertSection(code, id, models.SectionUpdate{
		URL: models.StrPtr(url),
	}))
	require.NoError(t, storage.ArchitectureStorage().PutCodeArchitecture(&models.CodeArchitecture{Code: code}))
	record := &models.FailureRecord{
		Code:        code,
		SectionID:   id,
		URL:         url,
		FailureType: kind,
		Stage:       models.StageExtraction,
		FailedAt:    time.Now(),
	}
	if !kind.Retriable() {
		record.RetryStatus = models.RetryAbandoned
	}
	require.NoError(t, storage.FailureStorage().LogFailure(record))
}

func contentPage(body string) *interfaces.FetchResult {
	return &interfaces.FetchResult{
		HTML:     `<html><body><div id="codeLawSectionNoHead">` + body + `</div></body></html>`,
		Markdown: body,
	}
}

func TestRetrySucceedsAndClosesRecord(t *testing.T) {
	storage := newTestStorage(t)
	code := "PEN"
	url := "https://example.test/section?sectionNum=12&lawCode=PEN"
	seedFailure(t, storage, code, "12", url, models.FailureNetworkError)

	sc := &fakeScraper{pages: map[string]*interfaces.FetchResult{url: contentPage("recovered body")}}
	svc := NewService(sc, nil, storage, testConfig(), common.GetLogger())

	ok, err := svc.Retry(context.Background(), code, "12")
	require.NoError(t, err)
	assert.True(t, ok)

	sec, err := storage.SectionStorage().GetSection(code, "12")
	require.NoError(t, err)
	assert.True(t, sec.HasContent())

	record, err := storage.FailureStorage().LatestFailure(code, "12")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.RetrySucceeded, record.RetryStatus)
	require.Len(t, record.RetryAttempts, 1)
	assert.True(t, record.RetryAttempts[0].Success)
	assert.NotNil(t, record.ResolvedAt)
}

func TestRetryFailureAppendsTrail(t *testing.T) {
	storage := newTestStorage(t)
	code := "PEN"
	url := "https://example.test/section?sectionNum=13&lawCode=PEN"
	seedFailure(t, storage, code, "13", url, models.FailureNetworkError)

	sc := &fakeScraper{errs: map[string]error{url: fmt.Errorf("still down")}}
	svc := NewService(sc, nil, storage, testConfig(), common.GetLogger())

	ok, err := svc.Retry(context.Background(), code, "13")
	require.NoError(t, err)
	assert.False(t, ok)

	record, err := storage.FailureStorage().LatestFailure(code, "13")
	require.NoError(t, err)
	assert.Equal(t, models.RetryFailed, record.RetryStatus)
	require.Len(t, record.RetryAttempts, 1)
	assert.False(t, record.RetryAttempts[0].Success)
	assert.Contains(t, record.RetryAttempts[0].Details, "still down")
}

func TestRetryRefusesRepealed(t *testing.T) {
	storage := newTestStorage(t)
	code := "PEN"
	seedFailure(t, storage, code, "73", "https://example.test/73", models.FailureRepealed)

	svc := NewService(&fakeScraper{}, nil, storage, testConfig(), common.GetLogger())
	_, err := svc.Retry(context.Background(), code, "73")
	assert.Error(t, err)
}

func TestRetryAllSkipsNonRetriable(t *testing.T) {
	storage := newTestStorage(t)
	code := "PEN"

	okURL := "https://example.test/section?sectionNum=1&lawCode=PEN"
	seedFailure(t, storage, code, "1", okURL, models.FailureTimeout)
	seedFailure(t, storage, code, "73", "https://example.test/73", models.FailureRepealed)

	sc := &fakeScraper{pages: map[string]*interfaces.FetchResult{okURL: contentPage("body")}}
	svc := NewService(sc, nil, storage, testConfig(), common.GetLogger())

	result, err := svc.RetryAll(context.Background(), code, interfaces.FailureFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Skipped)
}

func TestAbandon(t *testing.T) {
	storage := newTestStorage(t)
	code := "PEN"
	seedFailure(t, storage, code, "5", "https://example.test/5", models.FailureEmptyContent)

	svc := NewService(&fakeScraper{}, nil, storage, testConfig(), common.GetLogger())
	require.NoError(t, svc.Abandon(code, "5", "manually reviewed, page is blank upstream"))

	record, err := storage.FailureStorage().LatestFailure(code, "5")
	require.NoError(t, err)
	assert.Equal(t, models.RetryAbandoned, record.RetryStatus)
	require.Len(t, record.RetryAttempts, 1)
	assert.Contains(t, record.RetryAttempts[0].Details, "manually reviewed")
}

func TestRetryAlreadyCompleteSection(t *testing.T) {
	storage := newTestStorage(t)
	code := "PEN"
	url := "https://example.test/section?sectionNum=8&lawCode=PEN"
	seedFailure(t, storage, code, "8", url, models.FailureTimeout)

	// Reconciliation already filled the content in
	require.NoError(t, storage.SectionStorage().UpsertSection(code, "8", models.SectionUpdate{
		Content: models.StrPtr("filled in later"),
	}))

	svc := NewService(&fakeScraper{}, nil, storage, testConfig(), common.GetLogger())
	ok, err := svc.Retry(context.Background(), code, "8")
	require.NoError(t, err)
	assert.True(t, ok, "no refetch needed when the section is already complete")

	record, err := storage.FailureStorage().LatestFailure(code, "8")
	require.NoError(t, err)
	assert.Equal(t, models.RetrySucceeded, record.RetryStatus)
}

func TestClassifyEmpty(t *testing.T) {
	repealed := parser.Result{LegislativeHistory: "(Repealed by Stats. 1991, Ch. 4, Sec. 2.)"}
	assert.Equal(t, models.FailureRepealed, ClassifyEmpty(repealed, ""))

	noHistory := parser.Result{}
	assert.Equal(t, models.FailureRepealed, ClassifyEmpty(noHistory, "<p>Repealed by Stats. 1991, Ch. 4.</p>"))
	assert.Equal(t, models.FailureEmptyContent, ClassifyEmpty(noHistory, "<p>nothing here</p>"))
}
