package skills

import (
	"context"
	"fmt"
	log "log/slog"

	"lumen/internal/core"
	"lumen/internal/intent"
	"lumen/internal/memory"
)

func Messaging(m Messenger) intent.Capability {
	return intent.Capability{
		Name:        NameMessaging,
		Description: "Send a message to a contact",
		Matchers: []intent.Matcher{
			intent.Pattern(`send (?:a )?message to (?P<recipient>.+?),? (?:saying|that says|that) (?P<body>.+)`, 1, nil),
			intent.Pattern(`(?:message|text) (?P<recipient>.+?),? (?:saying|that) (?P<body>.+)`, 0.9, nil),
			// The first word of the recipient is never "me": "tell me about ..." is a question.
			intent.Pattern(`tell (?P<recipient>(?:[^\s,m][^\s,]*|m|m[^\s,e][^\s,]*|me[^\s,]+)(?: [^\s,]+)*?),? (?:that|saying) (?P<body>.+)`, 0.8, nil),
			intent.Pattern(`(?P<again>(?:send|repeat) (?:that|it|the last message|that message) again|resend(?: that| it| the last message)?)`, 1, nil),
		},
		Execute: func(ctx context.Context, p core.Params, view memory.View) (core.Reply, error) {
			recipient, body := p.Get("recipient"), p.Get("body")

			if p.Get("again") != "" {
				last, ok := view.LastTurn(func(t core.Turn) bool {
					return t.Capability == NameMessaging && t.Status == core.StatusOK && t.Params.Get("body") != ""
				})
				if !ok {
					return core.Reply{}, core.NotFound("no earlier message to resend")
				}
				recipient, body = last.Params.Get("recipient"), last.Params.Get("body")
			}

			if recipient == "" || body == "" {
				return core.Reply{}, core.NotFound("missing recipient or body")
			}

			log.Debug("Sending message", "to", recipient, "len", len(body))
			if err := m.SendMessage(ctx, recipient, body); err != nil {
				return core.Reply{}, fail(err, core.KindServiceUnavailable, "send to "+recipient)
			}
			return core.Reply{Text: fmt.Sprintf("Message sent to %s.", recipient)}, nil
		},
		Apologies: map[core.Kind]string{
			core.KindNotFound:           "Sorry, I don't know who to send that to, or there's nothing to send again.",
			core.KindServiceUnavailable: "Sorry, I couldn't reach the messaging service, so nothing was sent.",
		},
	}
}
