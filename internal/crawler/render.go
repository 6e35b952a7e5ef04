package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// minStaticText is the text length below which a page carrying scripts is
// treated as a client-rendered shell.
const minStaticText = 200

// Renderer loads a page in a browser and returns the rendered HTML.
type Renderer interface {
	Render(ctx context.Context, pageURL string) ([]byte, error)
	Close() error
}

// needsRender reports whether static extraction likely missed the content.
func needsRender(doc *document) bool {
	return doc.scripts > 0 && len([]rune(doc.text)) < minStaticText
}

// RodConfig configures the headless browser.
type RodConfig struct {
	// Bin is the browser binary. Empty lets rod find or download one.
	Bin string

	// Timeout bounds navigation and load of one page. Default: 30s
	Timeout time.Duration
}

// RodRenderer renders pages in headless Chrome with stealth evasions.
// The browser is launched on first use and shared by concurrent renders.
type RodRenderer struct {
	config RodConfig
	logger *zap.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// NewRodRenderer creates a renderer. No browser starts until Render.
func NewRodRenderer(cfg RodConfig, logger *zap.Logger) *RodRenderer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RodRenderer{config: cfg, logger: logger}
}

func (r *RodRenderer) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return r.browser, nil
	}

	l := launcher.New().Headless(true).Set("disable-blink-features", "AutomationControlled")
	if r.config.Bin != "" {
		l = l.Bin(r.config.Bin)
	}
	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}
	r.browser = b
	r.launcher = l
	r.logger.Info("headless browser launched")
	return b, nil
}

// Render navigates to pageURL, waits for load and returns the page HTML.
func (r *RodRenderer) Render(ctx context.Context, pageURL string) ([]byte, error) {
	b, err := r.ensureBrowser()
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("opening tab: %w", err)
	}
	defer func() { _ = page.Close() }()

	navCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()
	p := page.Context(navCtx)

	if err := p.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("navigating to %s: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		r.logger.Debug("page load wait failed", zap.String("url", pageURL), zap.Error(err))
	}
	html, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("reading rendered HTML: %w", err)
	}
	return []byte(html), nil
}

// Close shuts the browser down.
func (r *RodRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.launcher.Kill()
	r.browser = nil
	r.launcher = nil
	return err
}
