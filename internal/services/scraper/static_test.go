package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calegis/calegis/internal/common"
	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
)

func testScraperConfig() common.ScraperConfig {
	return common.ScraperConfig{
		UserAgent:      "calegis-test",
		RequestTimeout: 5 * time.Second,
		RequestDelay:   time.Millisecond,
		MaxBodySize:    1 << 20,
	}
}

func TestStaticFetchBuildsResult(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "calegis-test", r.Header.Get("User-Agent"))
		w.Write([]byte(`<html><head><title>Code Index</title></head><body>
			<a href="/faces/codes_displayText.xhtml?division=1">Division 1</a>
			<a href="#top">top</a>
			<a href="mailto:x@example.test">mail</a>
			<p>body text</p>
		</body></html>`))
	}))
	defer srv.Close()

	sc := NewStaticScraper(testScraperConfig(), common.GetLogger())
	result, err := sc.Fetch(context.Background(), srv.URL, interfaces.FetchOptions{Cache: true})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Contains(t, result.HTML, "body text")
	assert.Contains(t, result.Markdown, "body text")
	assert.Equal(t, "Code Index", result.Metadata["title"])

	// Relative links resolve against the final URL; fragments and
	// non-http schemes are dropped
	require.Len(t, result.Links, 1)
	assert.Equal(t, srv.URL+"/faces/codes_displayText.xhtml?division=1", result.Links[0])

	// Second cached fetch is served without touching the server
	_, err = sc.Fetch(context.Background(), srv.URL, interfaces.FetchOptions{Cache: true})
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchWithoutCacheRereadsLivePage(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Write([]byte(`<html><body><div id="codeLawSectionNoHead"> </div></body></html>`))
			return
		}
		w.Write([]byte(`<html><body><div id="codeLawSectionNoHead">real content</div></body></html>`))
	}))
	defer srv.Close()

	sc := NewStaticScraper(testScraperConfig(), common.GetLogger())

	// First fetch sees the transiently empty page
	first, err := sc.Fetch(context.Background(), srv.URL, interfaces.FetchOptions{})
	require.NoError(t, err)
	assert.NotContains(t, first.HTML, "real content")

	// A replay must observe the recovered live page, never a stale copy
	second, err := sc.Fetch(context.Background(), srv.URL, interfaces.FetchOptions{})
	require.NoError(t, err)
	assert.Contains(t, second.HTML, "real content")
	assert.Equal(t, int32(2), hits.Load())
}

func TestStaticFetchStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	sc := NewStaticScraper(testScraperConfig(), common.GetLogger())

	_, err := sc.Fetch(context.Background(), srv.URL+"/missing", interfaces.FetchOptions{})
	require.Error(t, err)
	assert.Equal(t, models.FailureAPIError, Kind(err))
	assert.True(t, IsPermanent(err))

	_, err = sc.Fetch(context.Background(), srv.URL+"/flaky", interfaces.FetchOptions{})
	require.Error(t, err)
	assert.Equal(t, models.FailureAPIError, Kind(err))
	assert.False(t, IsPermanent(err), "5xx responses are retriable")
}

func TestStaticFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("late"))
	}))
	defer srv.Close()

	sc := NewStaticScraper(testScraperConfig(), common.GetLogger())
	_, err := sc.Fetch(context.Background(), srv.URL, interfaces.FetchOptions{Timeout: 10 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, models.FailureTimeout, Kind(err))
}

func TestFetchBatchCoversEveryURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`<html><body><div id="codeLawSectionNoHead">ok</div></body></html>`))
	}))
	defer srv.Close()

	sc := NewStaticScraper(testScraperConfig(), common.GetLogger())
	urls := []string{srv.URL + "/a", srv.URL + "/b", srv.URL + "/bad"}
	results := sc.FetchBatch(context.Background(), urls, 2, time.Second)

	require.Len(t, results, len(urls))
	assert.NoError(t, results[srv.URL+"/a"].Err)
	assert.NoError(t, results[srv.URL+"/b"].Err)
	assert.Error(t, results[srv.URL+"/bad"].Err)
}

func TestFetchBatchCancelsHangingFetch(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/hang" {
			<-release
			return
		}
		w.Write([]byte(`<html><body><div id="codeLawSectionNoHead">ok</div></body></html>`))
	}))
	defer srv.Close()
	defer close(release)

	sc := NewStaticScraper(testScraperConfig(), common.GetLogger())
	urls := []string{srv.URL + "/ok", srv.URL + "/hang"}

	start := time.Now()
	results := sc.FetchBatch(context.Background(), urls, 2, 50*time.Millisecond)
	elapsed := time.Since(start)

	// The hung fetch is cancelled within the hard deadline while the rest
	// of the batch lands normally
	assert.Less(t, elapsed, time.Second)
	require.Len(t, results, 2)
	assert.NoError(t, results[srv.URL+"/ok"].Err)
	hung := results[srv.URL+"/hang"].Err
	require.Error(t, hung)
	assert.Equal(t, models.FailureTimeout, Kind(hung))
}

func TestClearCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("<html><body>x</body></html>"))
	}))
	defer srv.Close()

	sc := NewStaticScraper(testScraperConfig(), common.GetLogger())
	_, err := sc.Fetch(context.Background(), srv.URL, interfaces.FetchOptions{Cache: true})
	require.NoError(t, err)

	sc.ClearCache()
	_, err = sc.Fetch(context.Background(), srv.URL, interfaces.FetchOptions{Cache: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}
