package services

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"lumen/internal/skills"
)

type DiscordConfig struct {
	Token string
	// Contacts maps a spoken name to a Discord user ID.
	Contacts   map[string]string
	HTTPClient *http.Client
}

// Discord delivers messages as direct messages from a bot account. It only
// uses the REST API; no gateway connection is opened.
type Discord struct {
	session  *discordgo.Session
	contacts map[string]string

	mu       sync.Mutex
	channels map[string]string // user ID -> DM channel ID
}

func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}

	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	if cfg.HTTPClient != nil {
		s.Client = cfg.HTTPClient
	}

	contacts := make(map[string]string, len(cfg.Contacts))
	for name, id := range cfg.Contacts {
		contacts[strings.ToLower(strings.TrimSpace(name))] = id
	}
	return &Discord{session: s, contacts: contacts, channels: map[string]string{}}, nil
}

func (d *Discord) SendMessage(ctx context.Context, recipient, body string) error {
	userID, ok := d.contacts[strings.ToLower(strings.TrimSpace(recipient))]
	if !ok {
		return fmt.Errorf("%w: %q", skills.ErrUnknownRecipient, recipient)
	}

	channelID, err := d.channel(ctx, userID)
	if err != nil {
		return err
	}

	msg, err := d.session.ChannelMessageSend(channelID, body, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord send to %s: %w", recipient, err)
	}
	log.Info("Discord message sent", "recipient", recipient, "message_id", msg.ID)
	return nil
}

func (d *Discord) channel(ctx context.Context, userID string) (string, error) {
	d.mu.Lock()
	id, ok := d.channels[userID]
	d.mu.Unlock()
	if ok {
		return id, nil
	}

	ch, err := d.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord dm channel for %s: %w", userID, err)
	}

	d.mu.Lock()
	d.channels[userID] = ch.ID
	d.mu.Unlock()
	return ch.ID, nil
}
