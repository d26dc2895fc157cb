package webbank

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/ruiyi-1/KPP-Test/internal/config"
)

// The site serves different markup to unknown agents, so requests carry a
// desktop Chrome identity.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Fetcher retrieves set pages and image assets over plain HTTP. Every page
// fetch is followed by a politeness pause so a full scrape stays gentle on
// the site.
type Fetcher struct {
	client     *resty.Client
	base       string
	politeness time.Duration
	logger     zerolog.Logger
}

func NewFetcher(cfg config.Web, logger zerolog.Logger) *Fetcher {
	client := resty.New()
	client.SetHeader("User-Agent", userAgent)
	client.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	client.SetHeader("Accept-Language", "en-US,en;q=0.9,ms;q=0.8,zh-CN;q=0.7")
	client.SetTimeout(cfg.Timeout)
	client.SetRetryCount(cfg.Retries)
	client.SetRetryWaitTime(2 * time.Second)
	client.SetRetryMaxWaitTime(20 * time.Second)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= http.StatusInternalServerError
	})
	return &Fetcher{
		client:     client,
		base:       cfg.BaseURL,
		politeness: cfg.Politeness,
		logger:     logger,
	}
}

// Page fetches one set page and parses it. The politeness pause runs even
// when parsing fails, since the request already hit the site.
func (f *Fetcher) Page(ctx context.Context, pageURL string) (*goquery.Document, error) {
	res, err := f.client.R().
		SetContext(ctx).
		Get(pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	doc, parseErr := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err := sleep(ctx, f.politeness); err != nil {
		return nil, err
	}
	if res.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", pageURL, res.StatusCode())
	}
	if parseErr != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, parseErr)
	}
	return doc, nil
}

// Image downloads one asset and returns its bytes with the decoded format
// name. Relative URLs resolve against the site base. Bytes that do not
// decode as an image are rejected, which catches the HTML error pages some
// asset URLs serve.
func (f *Fetcher) Image(ctx context.Context, rawURL string) ([]byte, string, error) {
	resolved, err := f.resolve(rawURL)
	if err != nil {
		return nil, "", err
	}
	res, err := f.client.R().
		SetContext(ctx).
		SetHeader("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8").
		SetHeader("Referer", f.base).
		Get(resolved)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image %s: %w", resolved, err)
	}
	if res.StatusCode() != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image %s: status %d", resolved, res.StatusCode())
	}
	body := res.Body()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("image %s: %w", resolved, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("image %s: zero-sized", resolved)
	}
	return body, format, nil
}

func (f *Fetcher) resolve(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("image url %q: %w", rawURL, err)
	}
	if u.IsAbs() {
		return rawURL, nil
	}
	base, err := url.Parse(f.base)
	if err != nil {
		return "", fmt.Errorf("base url %q: %w", f.base, err)
	}
	return base.ResolveReference(u).String(), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
