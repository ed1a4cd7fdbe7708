package services

import (
	"context"
	"fmt"
	"strings"

	"lumen/internal/bus"
	"lumen/internal/skills"
)

// busRequester is the part of bus.Client the messenger needs.
type busRequester interface {
	Request(ctx context.Context, m bus.Message) (bus.Message, error)
}

// BusMessenger hands outgoing messages to a messaging shard on the hub and
// waits for its ack. Recipients outside Contacts are rejected locally when
// Contacts is non-empty.
type BusMessenger struct {
	client   busRequester
	shard    string
	contacts map[string]bool
}

func NewBusMessenger(c *bus.Client, shard string, contacts []string) *BusMessenger {
	return newBusMessenger(c, shard, contacts)
}

func newBusMessenger(c busRequester, shard string, contacts []string) *BusMessenger {
	known := make(map[string]bool, len(contacts))
	for _, name := range contacts {
		known[strings.ToLower(strings.TrimSpace(name))] = true
	}
	return &BusMessenger{client: c, shard: shard, contacts: known}
}

func (b *BusMessenger) SendMessage(ctx context.Context, recipient, body string) error {
	name := strings.ToLower(strings.TrimSpace(recipient))
	if len(b.contacts) > 0 && !b.contacts[name] {
		return fmt.Errorf("%w: %q", skills.ErrUnknownRecipient, recipient)
	}

	_, err := b.client.Request(ctx, bus.Message{
		To:        b.shard,
		Kind:      bus.KindSend,
		Recipient: name,
		Content:   body,
	})
	if err != nil {
		return fmt.Errorf("send via %s: %w", b.shard, err)
	}
	return nil
}
