package scraper

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/calegis/calegis/internal/common"
	"github.com/calegis/calegis/internal/interfaces"
)

// StaticScraper fetches pages over plain HTTP and parses the raw server
// HTML with goquery. It is the fast path: adequate for the code index page
// and individual section pages, but not for version-selector pages, which
// need the rendered scraper.
//
// Fetches with FetchOptions.Cache set are cached per instance, so index
// and text pages re-fetched on a resume cost nothing. Section pages stay
// uncached; their replays must observe the live page.
type StaticScraper struct {
	client  *http.Client
	limiter *rate.Limiter
	config  common.ScraperConfig
	logger  arbor.ILogger
	cache   sync.Map // url -> *interfaces.FetchResult
}

// NewStaticScraper creates a static HTTP scraper
func NewStaticScraper(config common.ScraperConfig, logger arbor.ILogger) *StaticScraper {
	delay := config.RequestDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	// The site issues session cookies on the first response and expects
	// them back on subsequent requests
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	return &StaticScraper{
		client: &http.Client{
			Jar: jar,
			// Per-request timeouts come from the fetch context; the client
			// timeout is a backstop only
			Timeout: 0,
		},
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		config:  config,
		logger:  logger,
	}
}

// Fetch retrieves a single URL, producing markdown, HTML, and links
func (s *StaticScraper) Fetch(ctx context.Context, targetURL string, opts interfaces.FetchOptions) (*interfaces.FetchResult, error) {
	if opts.Cache {
		if cached, ok := s.cache.Load(targetURL); ok {
			return cached.(*interfaces.FetchResult), nil
		}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, NewTimeoutError(targetURL, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.config.RequestTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, NewParseError(targetURL, err)
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(targetURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, NewAPIError(targetURL, resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if s.config.MaxBodySize > 0 {
		body = io.LimitReader(resp.Body, int64(s.config.MaxBodySize))
	}

	html, err := io.ReadAll(body)
	if err != nil {
		return nil, classifyTransportError(targetURL, err)
	}

	result, err := s.buildResult(targetURL, resp, string(html))
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)

	if opts.Cache {
		s.cache.Store(targetURL, result)
	}

	s.logger.Debug().
		Str("url", targetURL).
		Int("status", result.StatusCode).
		Int("links", len(result.Links)).
		Float64("duration_sec", result.Duration.Seconds()).
		Msg("Static fetch complete")

	return result, nil
}

// buildResult parses HTML into the fetch result shape
func (s *StaticScraper) buildResult(targetURL string, resp *http.Response, html string) (*interfaces.FetchResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, NewParseError(targetURL, err)
	}

	finalURL := targetURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	result := &interfaces.FetchResult{
		URL:        targetURL,
		FinalURL:   finalURL,
		StatusCode: resp.StatusCode,
		HTML:       html,
		Links:      extractLinks(doc, finalURL),
		Metadata:   map[string]string{},
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		result.Metadata["title"] = title
	}

	converter := md.NewConverter(finalURL, true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		// Conversion failure is not fatal; HTML remains available
		s.logger.Debug().Err(err).Str("url", targetURL).Msg("Markdown conversion failed")
	} else {
		result.Markdown = markdown
	}

	return result, nil
}

// FetchBatch retrieves a set of URLs with bounded parallelism. Every input
// URL gets a map entry. A fetch still in flight after 2x timeout is
// forcibly cancelled and recorded as a timeout; the rest of the batch
// continues.
func (s *StaticScraper) FetchBatch(ctx context.Context, urls []string, batchSize int, timeout time.Duration) map[string]interfaces.BatchResult {
	if batchSize <= 0 {
		batchSize = len(urls)
	}
	if timeout <= 0 {
		timeout = s.config.RequestTimeout
	}

	results := make(map[string]interfaces.BatchResult, len(urls))
	var mu sync.Mutex
	var wg sync.WaitGroup

	sem := make(chan struct{}, batchSize)

	for _, u := range urls {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			// Hard deadline at 2x the request timeout; anything slower is
			// cancelled and recorded as a timeout
			hardCtx, cancel := context.WithTimeout(ctx, 2*timeout)
			defer cancel()

			result, err := s.Fetch(hardCtx, target, interfaces.FetchOptions{Timeout: timeout})
			if err != nil && errors.Is(err, context.DeadlineExceeded) {
				err = NewTimeoutError(target, err)
			}

			mu.Lock()
			results[target] = interfaces.BatchResult{Result: result, Err: err}
			mu.Unlock()
		}(u)
	}

	wg.Wait()
	return results
}

// ClearCache drops the per-run response cache
func (s *StaticScraper) ClearCache() {
	s.cache.Range(func(key, _ any) bool {
		s.cache.Delete(key)
		return true
	})
}

// classifyTransportError maps an HTTP client error to the taxonomy
func classifyTransportError(targetURL string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewTimeoutError(targetURL, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return NewTimeoutError(targetURL, err)
	}
	return NewNetworkError(targetURL, err)
}

// extractLinks collects absolute hrefs in document order, dropping
// fragments and non-http schemes
func extractLinks(doc *goquery.Document, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		link := abs.String()
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})

	return links
}

var _ interfaces.Scraper = (*StaticScraper)(nil)
