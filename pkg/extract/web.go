package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"codeberg.org/readeck/go-readability/v2"
	"golang.org/x/sync/singleflight"
)

type webPage struct {
	title string
	text  string
}

// webFetcher fetches URLs and extracts readable article text. Concurrent
// fetches of the same URL collapse into one request and results are cached
// for the lifetime of the client.
type webFetcher struct {
	httpClient *http.Client

	cache   map[string]webPage
	cacheMu sync.RWMutex
	group   singleflight.Group
}

func newWebFetcher(httpClient *http.Client) *webFetcher {
	return &webFetcher{
		httpClient: httpClient,
		cache:      make(map[string]webPage),
	}
}

// ExtractURL fetches the page, extracts the readable article text and asks
// the extraction service for chunk boundaries. The page title becomes the
// result's Title.
func (c *Client) ExtractURL(ctx context.Context, rawURL string) (Result, error) {
	page, err := c.web.fetch(ctx, rawURL)
	if err != nil {
		return failure(err), err
	}

	result, err := c.SegmentText(ctx, page.text)
	if err != nil {
		return result, err
	}
	result.Title = page.title
	return result, nil
}

func (f *webFetcher) fetch(ctx context.Context, rawURL string) (webPage, error) {
	f.cacheMu.RLock()
	if cached, ok := f.cache[rawURL]; ok {
		f.cacheMu.RUnlock()
		return cached, nil
	}
	f.cacheMu.RUnlock()

	result, err, _ := f.group.Do(rawURL, func() (any, error) {
		f.cacheMu.RLock()
		if cached, ok := f.cache[rawURL]; ok {
			f.cacheMu.RUnlock()
			return cached, nil
		}
		f.cacheMu.RUnlock()

		page, err := f.fetchPage(ctx, rawURL)
		if err != nil {
			return webPage{}, err
		}

		f.cacheMu.Lock()
		f.cache[rawURL] = page
		f.cacheMu.Unlock()

		return page, nil
	})
	if err != nil {
		return webPage{}, err
	}
	return result.(webPage), nil
}

func (f *webFetcher) fetchPage(ctx context.Context, rawURL string) (webPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return webPage{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return webPage{}, fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return webPage{}, fmt.Errorf("url returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return webPage{}, fmt.Errorf("failed to parse url: %w", err)
		}
		article, err := readability.FromReader(resp.Body, u)
		if err != nil {
			return webPage{}, fmt.Errorf("failed to parse html: %w", err)
		}
		var builder strings.Builder
		if err := article.RenderText(&builder); err != nil {
			return webPage{}, fmt.Errorf("failed to render article text: %w", err)
		}
		return webPage{title: article.Title(), text: builder.String()}, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return webPage{}, fmt.Errorf("failed to read url body: %w", err)
	}
	return webPage{text: string(raw)}, nil
}
