package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.True(t, opts.Headless)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 1366, opts.ViewportWidth)
	assert.Equal(t, 768, opts.ViewportHeight)
	assert.Equal(t, "ru-RU", opts.Locale)
}

func TestNewManagerRequiresExecutablePath(t *testing.T) {
	_, err := NewManager(Options{})
	assert.ErrorIs(t, err, ErrExecutablePathRequired)
}

func TestNewManagerFillsDefaults(t *testing.T) {
	m, err := NewManager(Options{ExecutablePath: "/usr/bin/chromium", Args: []string{"--lang=ru-RU"}})
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, m.Timeout())
	assert.Equal(t, 1366, m.opts.ViewportWidth)

	args := m.LaunchArgs()
	assert.Contains(t, args, "--no-sandbox")
	assert.Contains(t, args, "--disable-blink-features=AutomationControlled")
	assert.Equal(t, "--lang=ru-RU", args[len(args)-1])
}

func TestNewStealthPageHonoursCancelledContext(t *testing.T) {
	m, err := NewManager(Options{ExecutablePath: "/usr/bin/chromium"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = m.NewStealthPage(ctx, PageOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseWithoutLaunch(t *testing.T) {
	m, err := NewManager(Options{ExecutablePath: "/usr/bin/chromium"})
	require.NoError(t, err)

	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
	assert.NoError(t, (&Page{}).Close())
}

func TestProxyServer(t *testing.T) {
	assert.Equal(t, "http://10.0.0.1:3128", ProxyServer("", "10.0.0.1", 3128))
	assert.Equal(t, "socks5://proxy.local:1080", ProxyServer("socks5", "proxy.local", 1080))
}

func TestStealthScriptMasksAutomation(t *testing.T) {
	assert.Contains(t, stealthScript, "'webdriver'")
	assert.Contains(t, stealthScript, "'languages'")
	assert.Contains(t, stealthScript, "'plugins'")
}
