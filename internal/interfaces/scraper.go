package interfaces

import (
	"context"
	"time"
)

// FetchOptions controls a single scraper fetch
type FetchOptions struct {
	Timeout time.Duration // per-call timeout; zero uses the scraper default

	// Cache lets the scraper serve and store a per-run cached copy.
	// Index and text pages opt in; section pages never do, because a
	// retry must observe the live page.
	Cache bool
}

// FetchResult is the outcome of fetching one URL
type FetchResult struct {
	URL        string            `json:"url"`
	FinalURL   string            `json:"final_url"` // after redirects; differs from URL on multi-version selectors
	StatusCode int               `json:"status_code"`
	Markdown   string            `json:"markdown"`
	HTML       string            `json:"html"`
	Links      []string          `json:"links"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Duration   time.Duration     `json:"duration"`
}

// BatchResult pairs a fetch outcome with its error for FetchBatch maps
type BatchResult struct {
	Result *FetchResult
	Err    error
}

// Scraper fetches URLs producing markdown/HTML/links. Implementations are
// safe for concurrent use. Fetch is idempotent from the caller's view;
// caching is allowed.
type Scraper interface {
	// Fetch retrieves a single URL. Errors carry the failure taxonomy
	// (network_error, timeout, api_error, parse_error).
	Fetch(ctx context.Context, url string, opts FetchOptions) (*FetchResult, error)

	// FetchBatch retrieves a set of URLs with bounded parallelism. The
	// returned map has an entry for every input URL. Requests still
	// in flight after 2x timeout are cancelled and recorded as timeouts.
	FetchBatch(ctx context.Context, urls []string, batchSize int, timeout time.Duration) map[string]BatchResult
}

// ActionType enumerates interactive browser steps
type ActionType string

const (
	ActionWait                  ActionType = "wait"
	ActionClick                 ActionType = "click"
	ActionExtractOnclickTargets ActionType = "extract_onclick_targets"
)

// Action is one step of an interactive rendered fetch
type Action struct {
	Type     ActionType
	Selector string        // CSS selector for click/extract actions
	Duration time.Duration // wait duration for ActionWait
}

// InteractiveResult is the outcome of a rendered interactive fetch
type InteractiveResult struct {
	URL            string
	HTML           string
	OnclickTargets []string // extracted by ActionExtractOnclickTargets, in DOM order
}

// RenderedScraper executes JavaScript before extraction. It is the only
// path able to resolve session-gated links on version-selector pages.
type RenderedScraper interface {
	Scraper

	// FetchInteractive opens the URL in a fresh browser context and runs
	// the action sequence against the rendered DOM.
	FetchInteractive(ctx context.Context, url string, actions []Action) (*InteractiveResult, error)
}
