package fetcher

import (
	"context"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/user/price-monitor/internal/proxy"
)

// Colly fetches static HTML over plain HTTP. It is used for shops that do
// not need a browser to render prices.
type Colly struct {
	timeout time.Duration
	headers map[string]string
	proxies *proxy.Manager
}

func NewColly(timeout time.Duration, pm *proxy.Manager) *Colly {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Colly{timeout: timeout, headers: DefaultHeaders, proxies: pm}
}

func (c *Colly) Fetch(ctx context.Context, url string) (string, error) {
	col := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.UserAgent(c.proxies.UserAgent()),
		colly.AllowURLRevisit(),
	)
	col.SetRequestTimeout(c.timeout)
	col.DisableCookies()
	if c.proxies.Enabled() {
		col.SetProxyFunc(c.proxies.ProxyFunc)
	}

	var (
		body     string
		fetchErr error
	)
	col.OnRequest(func(r *colly.Request) {
		for k, v := range c.headers {
			r.Headers.Set(k, v)
		}
	})
	col.OnResponse(func(r *colly.Response) {
		body = string(r.Body)
	})
	col.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= 400 {
			fetchErr = &StatusError{Code: r.StatusCode}
			return
		}
		fetchErr = err
	})

	if err := col.Visit(url); err != nil && fetchErr == nil {
		fetchErr = err
	}
	if fetchErr != nil {
		return "", classify(ctx, fetchErr)
	}
	return body, nil
}
