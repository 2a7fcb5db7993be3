package fetcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/price-monitor/internal/proxy"
)

// DefaultHeaders are sent with every browser navigation.
var DefaultHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
	"Cache-Control":   "no-cache",
	"Pragma":          "no-cache",
}

type ChromedpConfig struct {
	// RemoteURL is a CDP websocket endpoint of a hosted browser. Local Chrome is
	// used when it is empty or when the remote browser fails.
	RemoteURL string
	Timeout   time.Duration
	Headers   map[string]string
}

// Chromedp renders pages in headless Chrome.
type Chromedp struct {
	cfg     ChromedpConfig
	proxies *proxy.Manager
	logger  *zap.Logger

	mu         sync.Mutex
	allocators map[string]allocator
}

type allocator struct {
	ctx    context.Context
	cancel context.CancelFunc
}

const remoteKey = "remote"

func NewChromedp(cfg ChromedpConfig, pm *proxy.Manager, l *zap.Logger) *Chromedp {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = DefaultHeaders
	}
	return &Chromedp{
		cfg:        cfg,
		proxies:    pm,
		logger:     l,
		allocators: make(map[string]allocator),
	}
}

func (c *Chromedp) Fetch(ctx context.Context, url string) (string, error) {
	if c.cfg.RemoteURL != "" {
		html, err := c.fetch(ctx, c.remoteAllocator(), url)
		if err == nil || ctx.Err() != nil || errors.Is(err, ErrStatus) {
			return html, err
		}
		c.logger.Warn("remote browser failed, falling back to local chrome", zap.String("url", url), zap.Error(err))
	}
	return c.fetch(ctx, c.localAllocator(), url)
}

func (c *Chromedp) fetch(ctx, allocCtx context.Context, url string) (string, error) {
	// Each fetch gets a fresh browser context so cookies do not leak between targets.
	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, c.cfg.Timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	headers := make(network.Headers, len(c.cfg.Headers))
	for k, v := range c.cfg.Headers {
		headers[k] = v
	}

	err := chromedp.Run(taskCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
		emulation.SetUserAgentOverride(c.proxies.UserAgent()),
	)
	if err != nil {
		return "", classify(ctx, err)
	}

	resp, err := chromedp.RunResponse(taskCtx, chromedp.Navigate(url))
	if err != nil {
		return "", classify(ctx, err)
	}
	if resp != nil && resp.Status >= 400 {
		return "", &StatusError{Code: int(resp.Status)}
	}

	var htmlContent string
	err = chromedp.Run(taskCtx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &htmlContent, chromedp.ByQuery),
	)
	if err != nil {
		return "", classify(ctx, err)
	}
	return htmlContent, nil
}

func (c *Chromedp) remoteAllocator() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.allocators[remoteKey]; ok {
		return a.ctx
	}
	ctx, cancel := chromedp.NewRemoteAllocator(context.Background(), c.cfg.RemoteURL)
	c.allocators[remoteKey] = allocator{ctx: ctx, cancel: cancel}
	return ctx
}

// localAllocator returns the exec allocator for the next proxy. Allocators are
// kept per proxy because Chrome takes the proxy as a launch flag.
func (c *Chromedp) localAllocator() context.Context {
	var proxyServer string
	if u := c.proxies.NextProxy(); u != nil {
		proxyServer = u.Scheme + "://" + u.Host
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.allocators[proxyServer]; ok {
		return a.ctx
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if proxyServer != "" {
		opts = append(opts, chromedp.ProxyServer(proxyServer))
	}
	ctx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	c.allocators[proxyServer] = allocator{ctx: ctx, cancel: cancel}
	return ctx
}

// Close shuts down every browser allocator.
func (c *Chromedp) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, a := range c.allocators {
		a.cancel()
		delete(c.allocators, k)
	}
}
