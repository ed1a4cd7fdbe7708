package skills

import (
	"context"
	"fmt"
	"strings"

	"lumen/internal/core"
	"lumen/internal/intent"
	"lumen/internal/memory"
)

// Remember stores personal facts the user states and reads them back. Facts
// travel in the Reply so the dispatcher persists them only on success.
func Remember() intent.Capability {
	return intent.Capability{
		Name:        NameRemember,
		Description: "Remember and recall facts about the user",
		Matchers: []intent.Matcher{
			intent.Pattern(`(?:hi |hello )?my name is (?P<value>.+)|call me (?P<value2>.+)`, 1, map[string]string{"key": "name"}),
			intent.Pattern(`(?:please )?remember (?:that )?my (?P<key>.+?) (?:is|are) (?P<value>.+)`, 1, nil),
			intent.Pattern(`my favou?rite (?P<favorite>.+?) (?:is|are) (?P<value>.+)`, 1, nil),
			intent.Pattern(`what(?:'s| is| are) my (?P<recall>.+)|do you (?:know|remember) my (?P<recall2>.+)`, 1, nil),
			intent.Pattern(`who am i|what do you call me`, 1, map[string]string{"recall": "name"}),
		},
		Execute: func(_ context.Context, p core.Params, view memory.View) (core.Reply, error) {
			if recall := firstOf(p, "recall", "recall2"); recall != "" {
				return recallFact(view, recall)
			}

			key, value := p.Get("key"), firstOf(p, "value", "value2")
			if fav := p.Get("favorite"); fav != "" {
				key = "favorite " + fav
			}
			key = factKey(key)
			if key == "" || value == "" {
				return core.Reply{}, core.NotFound("nothing to remember")
			}

			text := fmt.Sprintf("Got it, your %s is %s.", key, value)
			if key == "name" {
				text = fmt.Sprintf("Nice to meet you, %s. I'll remember that.", value)
			}
			return core.Reply{Text: text, Facts: map[string]string{key: value}}, nil
		},
		Apologies: map[core.Kind]string{
			core.KindNotFound: "I don't know that yet. Tell me and I'll remember it.",
		},
	}
}

func recallFact(view memory.View, what string) (core.Reply, error) {
	key := factKey(what)
	value, ok := view.Fact(key)
	if !ok {
		return core.Reply{}, core.NotFound("no fact " + key)
	}
	if key == "name" {
		return core.Reply{Text: fmt.Sprintf("Your name is %s.", value)}, nil
	}
	return core.Reply{Text: fmt.Sprintf("Your %s is %s.", key, value)}, nil
}

// factKey normalizes a spoken key, mapping "favourite" to "favorite".
func factKey(k string) string {
	k = memory.NormalizeKey(k)
	return strings.Replace(k, "favourite", "favorite", 1)
}

func firstOf(p core.Params, keys ...string) string {
	for _, k := range keys {
		if v := p.Get(k); v != "" {
			return v
		}
	}
	return ""
}
