package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maltedev/hardware-price-scraper/internal/browser"
	"github.com/playwright-community/playwright-go"
)

// protectionMarkers appear in the URL of anti-bot interstitials.
var protectionMarkers = []string{"qrator", "captcha"}

const scrollScript = `() => {
	const height = document.body ? document.body.scrollHeight : 0;
	window.scrollTo(0, height);
	return height;
}`

// render loads target in a fresh stealth page: home page first for cookies,
// then the target, then scrolls until lazy content stops appearing.
func (s *Scraper) render(ctx context.Context, cfg StoreConfig, target string) (string, error) {
	if s.pages == nil {
		return "", ErrBrowserUnavailable
	}

	opts := browser.PageOptions{
		ExtraHeaders: cfg.Headers,
		Proxy:        s.opts.Proxy,
		Cookies:      s.opts.SessionCookies,
		CookieURL:    cfg.BaseURL,
	}
	if ua, ok := s.fetcher.(userAgentSource); ok {
		opts.UserAgent = ua.UserAgent()
	}

	page, err := s.pages.NewStealthPage(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	if cfg.BaseURL != "" && cfg.BaseURL != target {
		if _, err := page.Goto(cfg.BaseURL, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		}); err != nil {
			return "", fmt.Errorf("failed to open %s: %w", cfg.BaseURL, err)
		}
		if err := pause(ctx, s.opts.Pauses.AfterBootstrap); err != nil {
			return "", err
		}
	}

	if _, err := page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		return "", fmt.Errorf("failed to navigate to %s: %w", target, err)
	}
	if err := pause(ctx, s.opts.Pauses.AfterLoad); err != nil {
		return "", err
	}

	if err := s.autoScroll(ctx, page); err != nil {
		return "", err
	}
	if err := pause(ctx, s.opts.Pauses.AfterScroll); err != nil {
		return "", err
	}

	if marker, found := detectProtection(page.URL()); found {
		return "", fmt.Errorf("%w: %s in %s", ErrProtectionDetected, marker, page.URL())
	}

	html, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	return html, nil
}

// autoScroll jumps to the bottom repeatedly until the document height stops
// growing.
func (s *Scraper) autoScroll(ctx context.Context, page playwright.Page) error {
	last := -1
	for i := 0; i < s.opts.MaxScrollSteps; i++ {
		raw, err := page.Evaluate(scrollScript)
		if err != nil {
			return fmt.Errorf("failed to scroll: %w", err)
		}
		height := toInt(raw)
		if height <= last {
			return nil
		}
		last = height
		if err := pause(ctx, s.opts.Pauses.ScrollStep); err != nil {
			return err
		}
	}
	s.logger.Debug("scroll limit reached", "steps", s.opts.MaxScrollSteps)
	return nil
}

func detectProtection(rawURL string) (string, bool) {
	lower := strings.ToLower(rawURL)
	for _, marker := range protectionMarkers {
		if strings.Contains(lower, marker) {
			return marker, true
		}
	}
	return "", false
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
