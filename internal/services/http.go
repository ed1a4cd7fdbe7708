// Package services holds the concrete collaborators behind the built-in
// skills: process launching, messaging, web search and weather.
package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheSize = 64
	maxBody          = 1 << 20
	userAgent        = "lumen/1.0"
)

// getJSON fetches url and returns the body of a 200 response.
func getJSON(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func newCache(size int, ttl time.Duration) *expirable.LRU[string, string] {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return expirable.NewLRU[string, string](size, nil, ttl)
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 15 * time.Second}
}
