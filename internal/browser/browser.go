package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

var ErrExecutablePathRequired = errors.New("browser executable path is required")

// DefaultArgs disable sandboxing and the automation switches Chromium
// exposes to page scripts.
var DefaultArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-accelerated-2d-canvas",
	"--no-first-run",
	"--no-zygote",
	"--disable-gpu",
	"--disable-blink-features=AutomationControlled",
	"--disable-web-security",
	"--disable-features=VizDisplayCompositor",
}

// stealthScript runs before any page script.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['ru-RU', 'ru', 'en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = window.chrome || { runtime: {} };
`

type Options struct {
	ExecutablePath string
	Headless       bool
	Args           []string
	UserDataDir    string
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	Locale         string
	Logger         *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1366,
		ViewportHeight: 768,
		AcceptLanguage: "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7",
		Locale:         "ru-RU",
	}
}

// Proxy routes one page through an upstream proxy.
type Proxy struct {
	Server   string // scheme://host:port
	Username string
	Password string
}

// PageOptions tune a single stealth page.
type PageOptions struct {
	UserAgent    string
	ExtraHeaders map[string]string
	Proxy        *Proxy
	// Cookies are set on CookieURL before the first navigation.
	Cookies   map[string]string
	CookieURL string
}

// Manager owns one lazily launched browser process. Each page gets its own
// context so concurrent scrapes never share navigation state.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	pw         *playwright.Playwright
	browser    playwright.Browser
	persistent playwright.BrowserContext
}

func NewManager(opts Options) (*Manager, error) {
	if opts.ExecutablePath == "" {
		return nil, ErrExecutablePathRequired
	}

	defaults := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaults.UserAgent
	}
	if opts.ViewportWidth <= 0 || opts.ViewportHeight <= 0 {
		opts.ViewportWidth, opts.ViewportHeight = defaults.ViewportWidth, defaults.ViewportHeight
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = defaults.AcceptLanguage
	}
	if opts.Locale == "" {
		opts.Locale = defaults.Locale
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Manager{
		opts:   opts,
		logger: opts.Logger.With("component", "browser"),
	}, nil
}

// LaunchArgs returns the flags passed to Chromium.
func (m *Manager) LaunchArgs() []string {
	args := make([]string, 0, len(DefaultArgs)+len(m.opts.Args))
	args = append(args, DefaultArgs...)
	return append(args, m.opts.Args...)
}

// Launch starts the browser process once; later calls are no-ops.
func (m *Manager) Launch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.launchLocked()
}

func (m *Manager) launchLocked() error {
	if m.browser != nil || m.persistent != nil {
		return nil
	}

	pw, err := playwright.Run(&playwright.RunOptions{SkipInstallBrowsers: true})
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	if m.opts.UserDataDir != "" {
		persistent, err := pw.Chromium.LaunchPersistentContext(m.opts.UserDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
			ExecutablePath: playwright.String(m.opts.ExecutablePath),
			Headless:       playwright.Bool(m.opts.Headless),
			Args:           m.LaunchArgs(),
			UserAgent:      playwright.String(m.opts.UserAgent),
			Locale:         playwright.String(m.opts.Locale),
			Viewport: &playwright.Size{
				Width:  m.opts.ViewportWidth,
				Height: m.opts.ViewportHeight,
			},
		})
		if err != nil {
			pw.Stop()
			return fmt.Errorf("failed to launch persistent browser: %w", err)
		}
		if err := persistent.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
			persistent.Close()
			pw.Stop()
			return fmt.Errorf("failed to add stealth script: %w", err)
		}
		m.pw, m.persistent = pw, persistent
		m.logger.Info("browser launched", "user_data_dir", m.opts.UserDataDir, "headless", m.opts.Headless)
		return nil
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		ExecutablePath: playwright.String(m.opts.ExecutablePath),
		Headless:       playwright.Bool(m.opts.Headless),
		Args:           m.LaunchArgs(),
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	m.pw, m.browser = pw, browser
	m.logger.Info("browser launched", "headless", m.opts.Headless)
	return nil
}

// Page is a stealth page plus the context it owns, if any. Close releases
// both.
type Page struct {
	playwright.Page
	owned playwright.BrowserContext
}

func (p *Page) Close(options ...playwright.PageCloseOptions) error {
	var errs []error
	if p.Page != nil {
		if err := p.Page.Close(options...); err != nil {
			errs = append(errs, fmt.Errorf("failed to close page: %w", err))
		}
	}
	if p.owned != nil {
		if err := p.owned.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	return errors.Join(errs...)
}

// NewStealthPage launches the browser if needed and opens a fingerprint
// masked page. The caller must Close it.
func (m *Manager) NewStealthPage(ctx context.Context, opts PageOptions) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.launchLocked(); err != nil {
		return nil, err
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = m.opts.UserAgent
	}
	headers := map[string]string{"Accept-Language": m.opts.AcceptLanguage}
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}

	bctx := m.persistent
	var owned playwright.BrowserContext
	if bctx == nil {
		contextOpts := playwright.BrowserNewContextOptions{
			UserAgent:        playwright.String(userAgent),
			Locale:           playwright.String(m.opts.Locale),
			ExtraHttpHeaders: headers,
			Viewport: &playwright.Size{
				Width:  m.opts.ViewportWidth,
				Height: m.opts.ViewportHeight,
			},
		}
		if opts.Proxy != nil {
			contextOpts.Proxy = &playwright.Proxy{Server: opts.Proxy.Server}
			if opts.Proxy.Username != "" {
				contextOpts.Proxy.Username = playwright.String(opts.Proxy.Username)
				contextOpts.Proxy.Password = playwright.String(opts.Proxy.Password)
			}
		}

		created, err := m.browser.NewContext(contextOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to create browser context: %w", err)
		}
		if err := created.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
			created.Close()
			return nil, fmt.Errorf("failed to add stealth script: %w", err)
		}
		bctx, owned = created, created
	} else if opts.Proxy != nil {
		m.logger.Warn("per-page proxy ignored for persistent browser profile")
	}

	if len(opts.Cookies) > 0 && opts.CookieURL != "" {
		if err := bctx.AddCookies(toCookies(opts.Cookies, opts.CookieURL)); err != nil {
			m.logger.Warn("failed to set session cookies", "error", err)
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		if owned != nil {
			owned.Close()
		}
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	if owned == nil {
		if err := page.SetExtraHTTPHeaders(headers); err != nil {
			m.logger.Warn("failed to set page headers", "error", err)
		}
	}

	timeout := float64(m.opts.Timeout.Milliseconds())
	page.SetDefaultTimeout(timeout)
	page.SetDefaultNavigationTimeout(timeout)

	return &Page{Page: page, owned: owned}, nil
}

// Timeout is the navigation bound applied to every page.
func (m *Manager) Timeout() time.Duration {
	return m.opts.Timeout
}

func toCookies(cookies map[string]string, rawURL string) []playwright.OptionalCookie {
	out := make([]playwright.OptionalCookie, 0, len(cookies))
	for name, value := range cookies {
		out = append(out, playwright.OptionalCookie{
			Name:  name,
			Value: value,
			URL:   playwright.String(rawURL),
		})
	}
	return out
}

// ProxyServer renders host/port/protocol as the server string Chromium
// expects.
func ProxyServer(protocol, host string, port int) string {
	if protocol == "" {
		protocol = "http"
	}
	u := url.URL{Scheme: protocol, Host: fmt.Sprintf("%s:%d", host, port)}
	return u.String()
}

// Close releases the browser process. The manager can be launched again
// afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error

	if m.persistent != nil {
		if err := m.persistent.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
		m.persistent = nil
	}

	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
		m.browser = nil
	}

	if m.pw != nil {
		if err := m.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
		m.pw = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}
