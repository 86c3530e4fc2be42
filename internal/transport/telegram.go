package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	tb "gopkg.in/tucnak/telebot.v2"
)

// TelegramOptions parameterise the Telegram sender.
type TelegramOptions struct {
	Token   string
	APIBase string
	Timeout time.Duration
}

// Telegram sends messages through the Bot API. The client is used
// send-only: no poller is attached, commands and keyboards live outside
// this core.
type Telegram struct {
	client *tb.Bot
	logger zerolog.Logger
}

// NewTelegram constructs the sender. Telebot validates the token with a
// getMe call on construction.
func NewTelegram(opts TelegramOptions, logger zerolog.Logger) (*Telegram, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client, err := tb.NewBot(tb.Settings{
		URL:       opts.APIBase,
		Token:     opts.Token,
		ParseMode: tb.ModeMarkdown,
		Client:    &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Telegram{
		client: client,
		logger: logger.With().Str("component", "telegram").Logger(),
	}, nil
}

// Send implements Sender. Unreachable recipients are reported as
// ErrUnreachable so the caller can retire them.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := t.client.Send(tb.ChatID(chatID), text, &tb.SendOptions{DisableWebPagePreview: true})
	if err == nil {
		return nil
	}

	if isUnreachable(err) {
		t.logger.Warn().Err(err).Int64("chat", chatID).Msg("recipient unreachable")
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	t.logger.Warn().Err(err).Int64("chat", chatID).Msg("delivery failed, will retry next tick")
	return err
}

// isUnreachable distinguishes permanently dead chats from transient
// Bot API failures.
func isUnreachable(err error) bool {
	if errors.Is(err, tb.ErrBlockedByUser) ||
		errors.Is(err, tb.ErrUserIsDeactivated) ||
		errors.Is(err, tb.ErrChatNotFound) ||
		errors.Is(err, tb.ErrBotKickedFromGroup) {
		return true
	}

	var apiErr *tb.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusForbidden
	}
	return false
}

var _ Sender = (*Telegram)(nil)
