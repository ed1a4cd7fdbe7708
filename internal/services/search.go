package services

import (
	"context"
	"fmt"
	log "log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"lumen/internal/skills"
)

const (
	DefaultSearchURL = "https://api.duckduckgo.com/"

	maxSentences      = 3
	minSentenceLength = 30
)

var (
	spaceRun    = regexp.MustCompile(`\s+`)
	ellipsis    = regexp.MustCompile(`\.\.\.+`)
	bracketed   = regexp.MustCompile(`\[.*?\]|\(.*?\)`)
	sentenceEnd = regexp.MustCompile(`([.!?])\s+`)
	loosePunct  = regexp.MustCompile(`\s+([.,!?;:])`)

	noiseWords = []string{
		"read more", "learn more", "click here", "infographic", "google trends",
		"year in search", "most searched", "top 100", "subscribe", "share this",
		"advertisement", "ad:",
	}

	// Sentences ending in one of these were cut mid-phrase and get joined
	// with the next one.
	danglingWords = map[string]bool{
		"of": true, "in": true, "at": true, "on": true, "by": true,
		"after": true, "before": true, "with": true, "for": true, "to": true,
	}
)

type DuckDuckGoConfig struct {
	BaseURL     string
	HTTPClient  *http.Client
	CacheSize   int
	CacheTTL    time.Duration
	MinInterval time.Duration // spacing between upstream requests
}

// DuckDuckGo answers queries from the instant-answer API and trims the result
// to a few speakable sentences.
type DuckDuckGo struct {
	base    string
	client  *http.Client
	cache   *expirable.LRU[string, string]
	limiter *rate.Limiter
}

func NewDuckDuckGo(cfg DuckDuckGoConfig) *DuckDuckGo {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSearchURL
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &DuckDuckGo{
		base:    cfg.BaseURL,
		client:  httpClient(cfg.HTTPClient),
		cache:   newCache(cfg.CacheSize, cfg.CacheTTL),
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (d *DuckDuckGo) Search(ctx context.Context, query string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if key == "" {
		return "", fmt.Errorf("%w: empty query", skills.ErrNoResults)
	}
	if answer, ok := d.cache.Get(key); ok {
		log.Debug("Search cache hit", "query", key)
		return answer, nil
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("duckduckgo: %w", err)
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")

	body, err := getJSON(ctx, d.client, d.base+"?"+q.Encode())
	if err != nil {
		return "", fmt.Errorf("duckduckgo: %w", err)
	}

	answer := Summarize(snippets(body))
	if answer == "" {
		return "", fmt.Errorf("%w for %q", skills.ErrNoResults, query)
	}
	d.cache.Add(key, answer)
	return answer, nil
}

func snippets(body []byte) []string {
	doc := gjson.ParseBytes(body)

	var out []string
	for _, path := range []string{"Answer", "AbstractText", "Definition"} {
		if s := doc.Get(path).String(); s != "" {
			out = append(out, s)
		}
	}
	doc.Get("RelatedTopics.#.Text").ForEach(func(_, v gjson.Result) bool {
		if s := v.String(); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}

// Summarize joins up to three clean sentences from snippets, skipping noise
// and fragments shorter than 30 characters.
func Summarize(snippets []string) string {
	var picked []string
	for _, snip := range snippets {
		if snip == "" || isNoise(snip) {
			continue
		}
		for _, s := range sentences(snip) {
			if isNoise(s) {
				continue
			}
			picked = append(picked, s)
			if len(picked) == maxSentences {
				return strings.Join(picked, " ")
			}
		}
	}
	return strings.Join(picked, " ")
}

func sentences(text string) []string {
	parts := strings.Split(sentenceEnd.ReplaceAllString(text, "$1\n"), "\n")

	var (
		out    []string
		buffer string
	)
	for _, s := range parts {
		s = cleanSnippet(s)
		if s == "" {
			continue
		}
		words := strings.Fields(s)
		last := strings.TrimRight(strings.ToLower(words[len(words)-1]), ".!?")
		if danglingWords[last] {
			buffer += strings.TrimRight(s, ".!?") + " "
			continue
		}
		if buffer != "" {
			s, buffer = buffer+s, ""
		}
		if len(s) >= minSentenceLength {
			out = append(out, s)
		}
	}
	return out
}

func cleanSnippet(s string) string {
	s = spaceRun.ReplaceAllString(s, " ")
	s = ellipsis.ReplaceAllString(s, ".")
	s = bracketed.ReplaceAllString(s, "")
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(loosePunct.ReplaceAllString(s, "$1"))
}

func isNoise(s string) bool {
	s = strings.ToLower(s)
	for _, w := range noiseWords {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
