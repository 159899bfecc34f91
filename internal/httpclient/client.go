package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"
	"h12.io/socks"
)

var (
	ErrUnsupportedProxy = errors.New("unsupported proxy protocol")
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrTooManyRedirects = errors.New("too many redirects")
)

const (
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultTimeout      = 15 * time.Second
	DefaultMaxRedirects = 5

	maxBodyBytes = 20 << 20
)

type ProxyConfig struct {
	Host     string
	Port     int
	Protocol string // http, https, socks4, socks4a, socks5
	Username string
	Password string
}

func (p *ProxyConfig) scheme() string {
	if p.Protocol == "" {
		return "http"
	}
	return strings.ToLower(p.Protocol)
}

// URL renders the proxy as scheme://[user:pass@]host:port.
func (p *ProxyConfig) URL() *url.URL {
	u := &url.URL{
		Scheme: p.scheme(),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

type Options struct {
	Proxy           *ProxyConfig
	Delay           time.Duration
	Timeout         time.Duration
	MaxRedirects    int
	RotateUserAgent bool
	UserAgents      []string
	SessionCookies  map[string]string
	AcceptLanguage  string
	Logger          *slog.Logger
}

// Client performs single browser-like GET requests. It never retries.
type Client struct {
	http      *http.Client
	opts      Options
	userAgent string
	logger    *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func New(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = "ru-RU,ru;q=0.9,en;q=0.8"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != nil {
		if err := configureProxy(transport, opts.Proxy, opts.Timeout); err != nil {
			return nil, err
		}
	}

	maxRedirects := opts.MaxRedirects
	hc := &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, len(via))
			}
			return nil
		},
	}

	ua := DefaultUserAgent
	if len(opts.UserAgents) > 0 {
		ua = opts.UserAgents[0]
	}

	return &Client{
		http:      hc,
		opts:      opts,
		userAgent: ua,
		logger:    opts.Logger.With("component", "http_client"),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func configureProxy(t *http.Transport, p *ProxyConfig, timeout time.Duration) error {
	switch p.scheme() {
	case "http", "https":
		t.Proxy = http.ProxyURL(p.URL())
	case "socks5":
		var auth *proxy.Auth
		if p.Username != "" {
			auth = &proxy.Auth{User: p.Username, Password: p.Password}
		}
		dialer, err := proxy.SOCKS5("tcp", net.JoinHostPort(p.Host, strconv.Itoa(p.Port)), auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create socks5 dialer: %w", err)
		}
		t.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			t.DialContext = cd.DialContext
		} else {
			t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	case "socks4", "socks4a":
		u := p.URL()
		u.RawQuery = url.Values{"timeout": {timeout.String()}}.Encode()
		t.Proxy = nil
		t.DialContext = dialWithContext(socks.Dial(u.String()))
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedProxy, p.Protocol)
	}
	return nil
}

// dialWithContext lets ctx abandon a blocking dial. A connection that
// completes after ctx ended is closed.
func dialWithContext(dial func(network, addr string) (net.Conn, error)) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		type dialed struct {
			conn net.Conn
			err  error
		}
		done := make(chan dialed, 1)
		go func() {
			conn, err := dial(network, addr)
			done <- dialed{conn, err}
		}()

		select {
		case d := <-done:
			return d.conn, d.err
		case <-ctx.Done():
			go func() {
				if d := <-done; d.conn != nil {
					d.conn.Close()
				}
			}()
			return nil, ctx.Err()
		}
	}
}

// UserAgent returns the agent for the next request: the fixed one, or a
// random pick from the pool when rotation is enabled.
func (c *Client) UserAgent() string {
	if !c.opts.RotateUserAgent || len(c.opts.UserAgents) == 0 {
		return c.userAgent
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.UserAgents[c.rng.Intn(len(c.opts.UserAgents))]
}

// DefaultHeaders is the browser-like header set sent with every request.
// Accept-Encoding is left to the transport, which then decodes gzip bodies.
func (c *Client) DefaultHeaders() map[string]string {
	return map[string]string{
		"User-Agent":                c.UserAgent(),
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Accept-Language":           c.opts.AcceptLanguage,
		"DNT":                       "1",
		"Connection":                "keep-alive",
		"Upgrade-Insecure-Requests": "1",
		"Cache-Control":             "no-cache",
		"Pragma":                    "no-cache",
	}
}

// Get fetches rawURL and returns the response body. Extra headers override the
// defaults.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	for k, v := range c.DefaultHeaders() {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, "Accept-Encoding") {
			continue
		}
		req.Header.Set(k, v)
	}
	if cookie := cookieHeader(c.opts.SessionCookies); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	if c.opts.Delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.opts.Delay):
		}
	}

	c.logger.Debug("GET", "url", rawURL)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return "", fmt.Errorf("%w: %d for %s", ErrUnexpectedStatus, resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}

	return string(body), nil
}

func cookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+cookies[name])
	}
	return strings.Join(parts, "; ")
}
