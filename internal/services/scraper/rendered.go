package scraper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/calegis/calegis/internal/interfaces"
	"github.com/calegis/calegis/internal/models"
)

// ChromeScraper is the rendered scraper: it executes JavaScript in headless
// Chrome before extraction. Required for version-selector pages, whose
// navigation runs through server-side session state bound to a form
// submission that plain HTTP cannot follow.
type ChromeScraper struct {
	pool           *BrowserPool
	defaultTimeout time.Duration
	logger         arbor.ILogger
}

// NewChromeScraper creates a rendered scraper over an initialized pool
func NewChromeScraper(pool *BrowserPool, defaultTimeout time.Duration, logger arbor.ILogger) *ChromeScraper {
	if defaultTimeout <= 0 {
		defaultTimeout = 90 * time.Second
	}
	return &ChromeScraper{
		pool:           pool,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// Fetch renders a single URL in a fresh tab and returns the rendered DOM
func (s *ChromeScraper) Fetch(ctx context.Context, targetURL string, opts interfaces.FetchOptions) (*interfaces.FetchResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}

	start := time.Now()

	html, finalURL, err := s.render(ctx, targetURL, timeout, nil)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, NewParseError(targetURL, err)
	}

	result := &interfaces.FetchResult{
		URL:        targetURL,
		FinalURL:   finalURL,
		StatusCode: 200,
		HTML:       html,
		Links:      extractLinks(doc, finalURL),
		Metadata:   map[string]string{},
		Duration:   time.Since(start),
	}

	converter := md.NewConverter(finalURL, true, nil)
	if markdown, err := converter.ConvertString(html); err == nil {
		result.Markdown = markdown
	}

	s.logger.Debug().
		Str("url", targetURL).
		Str("final_url", finalURL).
		Float64("duration_sec", result.Duration.Seconds()).
		Msg("Rendered fetch complete")

	return result, nil
}

// FetchBatch renders URLs with bounded parallelism; the pool size bounds
// actual browser concurrency
func (s *ChromeScraper) FetchBatch(ctx context.Context, urls []string, batchSize int, timeout time.Duration) map[string]interfaces.BatchResult {
	if batchSize <= 0 {
		batchSize = 1
	}
	if timeout <= 0 {
		timeout = s.defaultTimeout
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

// FetchInteractive opens the URL in a fresh tab context and executes the
// action sequence against the rendered DOM. Used for version-selector
// pages: wait for render, read onclick targets, click through versions.
func (s *ChromeScraper) FetchInteractive(ctx context.Context, targetURL string, actions []interfaces.Action) (*interfaces.InteractiveResult, error) {
	browserCtx, err := s.pool.Get()
	if err != nil {
		return nil, NewNetworkError(targetURL, err)
	}

	// Fresh tab per interactive fetch; reusing one context bleeds the
	// server-side session state between versions
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()

	runCtx, cancel := context.WithTimeout(tabCtx, s.defaultTimeout)
	defer cancel()

	// Propagate caller cancellation into the chromedp run
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	result := &interfaces.InteractiveResult{URL: targetURL}

	tasks := chromedp.Tasks{
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "en-US,en;q=0.9"}),
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body"),
	}

	for _, action := range actions {
		switch action.Type {
		case interfaces.ActionWait:
			d := action.Duration
			if d <= 0 {
				d = time.Second
			}
			tasks = append(tasks, chromedp.Sleep(d))
		case interfaces.ActionClick:
			tasks = append(tasks, chromedp.Click(action.Selector, chromedp.NodeVisible))
		case interfaces.ActionExtractOnclickTargets:
			selector := action.Selector
			if selector == "" {
				selector = "[onclick]"
			}
			script := `Array.from(document.querySelectorAll(` + jsString(selector) + `))` +
				`.map(el => el.getAttribute('onclick')).filter(v => v !== null)`
			tasks = append(tasks, chromedp.Evaluate(script, &result.OnclickTargets))
		}
	}

	tasks = append(tasks, chromedp.OuterHTML("html", &result.HTML))

	if err := chromedp.Run(runCtx, tasks); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, &Error{Kind: models.FailureMultiVersionTimeout, URL: targetURL, Err: err}
		}
		return nil, NewNetworkError(targetURL, err)
	}

	s.logger.Debug().
		Str("url", targetURL).
		Int("actions", len(actions)).
		Int("onclick_targets", len(result.OnclickTargets)).
		Msg("Interactive fetch complete")

	return result, nil
}

// render navigates a fresh tab and returns the rendered HTML and final URL
func (s *ChromeScraper) render(ctx context.Context, targetURL string, timeout time.Duration, extra chromedp.Tasks) (string, string, error) {
	browserCtx, err := s.pool.Get()
	if err != nil {
		return "", "", NewNetworkError(targetURL, err)
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()

	runCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html, finalURL string
	tasks := chromedp.Tasks{
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "en-US,en;q=0.9"}),
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body"),
	}
	tasks = append(tasks, extra...)
	tasks = append(tasks,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html),
	)

	if err := chromedp.Run(runCtx, tasks); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", "", NewTimeoutError(targetURL, err)
		}
		return "", "", NewNetworkError(targetURL, err)
	}

	if finalURL == "" {
		finalURL = targetURL
	}
	return html, finalURL, nil
}

// jsString quotes a string for safe embedding in an Evaluate script
func jsString(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`)
	return "'" + replacer.Replace(s) + "'"
}

var _ interfaces.RenderedScraper = (*ChromeScraper)(nil)
