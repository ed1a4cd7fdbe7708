package skills

import (
	"context"
	log "log/slog"
	"strings"
	"time"

	"lumen/internal/core"
	"lumen/internal/intent"
	"lumen/internal/memory"
)

const DefaultSearchTimeout = 8 * time.Second

// WebSearch answers with a short summary from the Searcher. Question forms
// like "who is" score lower so specific capabilities and memory recall win.
func WebSearch(s Searcher, timeout time.Duration) intent.Capability {
	if timeout <= 0 {
		timeout = DefaultSearchTimeout
	}

	return intent.Capability{
		Name:        NameWebSearch,
		Description: "Search the web and read out a short answer",
		Timeout:     timeout,
		Matchers: []intent.Matcher{
			intent.Prefix("query", 1, "search the web for", "search for", "search", "look up", "google"),
			intent.Prefix("query", 0.6, "who is", "who was", "what is", "what are", "tell me about"),
		},
		Execute: func(ctx context.Context, p core.Params, _ memory.View) (core.Reply, error) {
			query := p.Get("query")
			if query == "" {
				return core.Reply{}, core.NotFound("empty query")
			}

			log.Debug("Searching", "query", query)
			answer, err := s.Search(ctx, query)
			if err != nil {
				return core.Reply{}, fail(err, core.KindServiceUnavailable, "search "+query)
			}
			if strings.TrimSpace(answer) == "" {
				return core.Reply{}, core.NewActionError(core.KindNotFound, "search "+query, ErrNoResults)
			}
			return core.Reply{Text: answer}, nil
		},
		Apologies: map[core.Kind]string{
			core.KindNotFound:           "Sorry, I couldn't find anything useful about that.",
			core.KindTimeout:            "Sorry, the web search took too long.",
			core.KindServiceUnavailable: "Sorry, web search isn't available right now.",
		},
	}
}
