package bus

import (
	"context"
	"fmt"
	"io"
	log "log/slog"
	"strings"

	"lumen/internal/core"
)

// Transcribe turns raw audio from the hub into text.
type Transcribe func(ctx context.Context, audio []byte) (string, error)

// Listener reads utterances from the inbox. Audio frames are transcribed
// when a Transcribe func is set and dropped otherwise.
type Listener struct {
	client     *Client
	transcribe Transcribe
	onStop     func()
}

func NewListener(c *Client, t Transcribe, onStop func()) *Listener {
	return &Listener{client: c, transcribe: t, onStop: onStop}
}

func (l *Listener) Next(ctx context.Context) (core.Utterance, error) {
	for {
		var (
			m  Message
			ok bool
		)
		select {
		case m, ok = <-l.client.Inbox():
			if !ok {
				return core.Utterance{}, io.EOF
			}
		case <-ctx.Done():
			return core.Utterance{}, ctx.Err()
		}

		switch m.Kind {
		case KindUtterance:
			if text := strings.TrimSpace(m.Content); text != "" {
				return core.NewUtterance(text, 1), nil
			}
		case KindAudio:
			if l.transcribe == nil {
				log.Warn("Dropping audio frame without transcriber", "from", m.From)
				continue
			}
			text, err := l.transcribe(ctx, m.Audio)
			if err != nil {
				return core.Utterance{}, fmt.Errorf("transcribe audio from %s: %w", m.From, err)
			}
			if text = strings.TrimSpace(text); text != "" {
				return core.NewUtterance(text, 1), nil
			}
		case KindStop:
			if l.onStop != nil {
				l.onStop()
			}
		default:
			log.Debug("Ignoring bus message", "kind", m.Kind, "from", m.From)
		}
	}
}

// Speaker hands replies to a speaking shard and waits for its ack.
type Speaker struct {
	client *Client
	to     string
}

func NewSpeaker(c *Client, to string) *Speaker {
	if to == "" {
		to = Broadcast
	}
	return &Speaker{client: c, to: to}
}

func (s *Speaker) Speak(ctx context.Context, text string) error {
	m := Message{To: s.to, Kind: KindSay, Content: text}
	if s.to == Broadcast {
		return s.client.Send(ctx, m)
	}
	_, err := s.client.Request(ctx, m)
	return err
}
