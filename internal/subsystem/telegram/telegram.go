// Package telegram is a concrete example subsystem: it long-polls a
// Telegram bot and sends each incoming message's text to a Pool
// Instance under a per-chat session id, whose output is published to
// the session router. Nothing is sent back to the Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"strconv"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/clud-dev/clud/internal/instance"
	"github.com/clud-dev/clud/internal/pool"
)

// Config is the start-time configuration for one bot instance,
// unmarshalled from the HTTP mux's `start(name, config)` body.
type Config struct {
	Token string `json:"token"`
}

// Bridge owns the long-poll loop and dispatches inbound chat messages
// into the Pool, keyed by a synthesized session id.
type Bridge struct {
	token   string
	pool    *pool.Pool
	factory instance.Factory
	pub     instance.Publisher
}

// New constructs a Bridge. Run blocks until ctx is cancelled.
func New(cfg Config, p *pool.Pool, factory instance.Factory, publisher instance.Publisher) (*Bridge, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	return &Bridge{token: cfg.Token, pool: p, factory: factory, pub: publisher}, nil
}

// Run satisfies subsystem.Runner.
func (b *Bridge) Run(ctx context.Context) error {
	opts := []tgbot.Option{
		tgbot.WithDefaultHandler(b.handleUpdate),
	}
	client, err := tgbot.New(b.token, opts...)
	if err != nil {
		return fmt.Errorf("telegram: constructing bot client: %w", err)
	}
	client.Start(ctx)
	return nil
}

// handleUpdate forwards one inbound message's text to the chat's
// Instance, creating one on first contact.
func (b *Bridge) handleUpdate(ctx context.Context, client *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	sessionID := "telegram:" + strconv.FormatInt(update.Message.Chat.ID, 10)

	inst, err := b.pool.Acquire(ctx, sessionID, b.factory, b.pub)
	if err != nil {
		return
	}
	_ = inst.Send(update.Message.Text)
}
