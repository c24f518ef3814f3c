package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/calegis/calegis/internal/common"
)

// BrowserPool manages a pool of headless Chrome allocators for the
// rendered scraper. Callers take a browser context round-robin and open a
// fresh tab context per navigation, so session state never bleeds between
// fetches of different versions.
type BrowserPool struct {
	browsers         []context.Context
	browserCancels   []context.CancelFunc
	allocatorCancels []context.CancelFunc
	mu               sync.Mutex
	currentIndex     int
	config           common.MultiVersionConfig
	userAgent        string
	logger           arbor.ILogger
	initialized      bool
	shutdownTimeout  time.Duration // zero means the 30s default
}

// NewBrowserPool creates a browser pool; Init must be called before use
func NewBrowserPool(config common.MultiVersionConfig, userAgent string, logger arbor.ILogger) *BrowserPool {
	return &BrowserPool{
		config:    config,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Init starts the configured number of browser instances. Instances that
// fail their startup probe are skipped; Init fails only when none start.
func (p *BrowserPool) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return fmt.Errorf("browser pool already initialized")
	}

	size := p.config.PoolSize
	if size <= 0 {
		return fmt.Errorf("pool_size must be greater than 0, got %d", size)
	}

	p.logger.Info().
		Int("pool_size", size).
		Bool("headless", p.config.Headless).
		Msg("Initializing browser pool")

	var lastErr error
	for i := 0; i < size; i++ {
		if err := p.createInstance(i); err != nil {
			lastErr = err
			p.logger.Warn().
				Err(err).
				Int("browser_index", i).
				Msg("Failed to create browser instance")
		}
	}

	if len(p.browsers) == 0 {
		p.cleanupLocked()
		return fmt.Errorf("failed to create any browser instances: %w", lastErr)
	}

	p.initialized = true
	p.logger.Info().
		Int("browsers_created", len(p.browsers)).
		Int("requested", size).
		Msg("Browser pool initialized")

	return nil
}

func (p *BrowserPool) createInstance(index int) error {
	start := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.config.Headless),
		chromedp.Flag("disable-gpu", p.config.DisableGPU),
		chromedp.Flag("no-sandbox", p.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(p.userAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	// Startup probe; an instance that cannot open about:blank is useless
	probeCtx, probeCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer probeCancel()

	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return fmt.Errorf("browser instance failed startup probe: %w", err)
	}

	p.browsers = append(p.browsers, browserCtx)
	p.browserCancels = append(p.browserCancels, browserCancel)
	p.allocatorCancels = append(p.allocatorCancels, allocatorCancel)

	p.logger.Debug().
		Int("browser_index", index).
		Float64("startup_sec", time.Since(start).Seconds()).
		Msg("Browser instance created")

	return nil
}

// Get returns a browser context round-robin. Callers must derive a fresh
// tab context (chromedp.NewContext) for each navigation.
func (p *BrowserPool) Get() (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, fmt.Errorf("browser pool not initialized")
	}
	if len(p.browsers) == 0 {
		return nil, fmt.Errorf("no browser instances available")
	}

	index := p.currentIndex % len(p.browsers)
	p.currentIndex = (p.currentIndex + 1) % len(p.browsers)

	return p.browsers[index], nil
}

// Shutdown tears down all browser instances, abandoning stragglers after
// 30s. The pool state is detached under the lock first, so a wedged
// cancellation never races later pool use.
func (p *BrowserPool) Shutdown() error {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return nil
	}

	count := len(p.browsers)
	browserCancels := p.browserCancels
	allocatorCancels := p.allocatorCancels
	p.browsers = nil
	p.browserCancels = nil
	p.allocatorCancels = nil
	p.currentIndex = 0
	p.initialized = false
	p.mu.Unlock()

	p.logger.Info().Int("browser_count", count).Msg("Shutting down browser pool")

	done := make(chan struct{})
	go func() {
		for _, cancel := range browserCancels {
			if cancel != nil {
				cancel()
			}
		}
		for _, cancel := range allocatorCancels {
			if cancel != nil {
				cancel()
			}
		}
		close(done)
	}()

	timeout := p.shutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn().Int("browser_count", count).Msg("Browser pool shutdown timed out; leaving stragglers to process exit")
	}

	return nil
}

// cleanupLocked cancels every browser and allocator (mutex must be held)
func (p *BrowserPool) cleanupLocked() {
	for _, cancel := range p.browserCancels {
		if cancel != nil {
			cancel()
		}
	}
	for _, cancel := range p.allocatorCancels {
		if cancel != nil {
			cancel()
		}
	}
	p.browsers = nil
	p.browserCancels = nil
	p.allocatorCancels = nil
	p.currentIndex = 0
}

// IsInitialized reports whether Init has completed
func (p *BrowserPool) IsInitialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}
