// ABOUTME: Telegram chat channel using long polling and inline keyboard buttons.
// ABOUTME: Only private chats are bridged; the chat id doubles as the user id.

package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/2389/handoff-bridge/internal/channel"
)

// Name is the identifier prefix for Telegram contacts.
const Name = "telegram"

// Config holds Telegram settings.
type Config struct {
	Token       string
	PollTimeout int
	Debug       bool
}

// API is the subset of the bot API the channel uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Channel is a Telegram chat channel.
type Channel struct {
	api         API
	pollTimeout int
	logger      *slog.Logger
}

// New connects to the Bot API and verifies the token.
func New(cfg Config, logger *slog.Logger) (*Channel, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	api.Debug = cfg.Debug
	logger = logger.With("component", "telegram")
	logger.Info("authorized on telegram", "username", api.Self.UserName)
	return NewWithAPI(api, cfg.PollTimeout, logger), nil
}

// NewWithAPI wraps an existing API client.
func NewWithAPI(api API, pollTimeout int, logger *slog.Logger) *Channel {
	if pollTimeout <= 0 {
		pollTimeout = 30
	}
	return &Channel{api: api, pollTimeout: pollTimeout, logger: logger}
}

// Name returns the contact identifier prefix.
func (c *Channel) Name() string { return Name }

// Run polls for updates and hands each to h on its own goroutine.
func (c *Channel) Run(ctx context.Context, h channel.Handler) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = c.pollTimeout
	updates := c.api.GetUpdatesChan(cfg)

	for {
		select {
		case <-ctx.Done():
			c.api.StopReceivingUpdates()
			return nil
		case upd, ok := <-updates:
			if !ok {
				return errors.New("telegram update channel closed")
			}
			if upd.CallbackQuery != nil {
				if _, err := c.api.Request(tgbotapi.NewCallback(upd.CallbackQuery.ID, "")); err != nil {
					c.logger.Debug("acknowledging callback failed", "error", err)
				}
			}
			u, ok := ToUpdate(upd)
			if !ok {
				continue
			}
			go h(ctx, u)
		}
	}
}

// ToUpdate converts a Bot API update. The bool is false for anything the
// bridge does not handle.
func ToUpdate(upd tgbotapi.Update) (channel.Update, bool) {
	id := strconv.Itoa(upd.UpdateID)

	if cb := upd.CallbackQuery; cb != nil {
		if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil || !cb.Message.Chat.IsPrivate() {
			return channel.Update{}, false
		}
		u := fromUser(id, cb.Message.Chat.ID, cb.From)
		u.Kind = channel.KindAction
		u.Action = cb.Data
		return u, true
	}

	msg := upd.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return channel.Update{}, false
	}
	u := fromUser(id, msg.Chat.ID, msg.From)
	if msg.IsCommand() {
		u.Kind = channel.KindCommand
		u.Command = msg.Command()
		return u, true
	}
	if msg.Text == "" {
		return channel.Update{}, false
	}
	u.Kind = channel.KindText
	u.Text = msg.Text
	return u, true
}

func fromUser(updateID string, chatID int64, from *tgbotapi.User) channel.Update {
	return channel.Update{
		ID:        updateID,
		UserID:    strconv.FormatInt(chatID, 10),
		FirstName: from.FirstName,
		LastName:  from.LastName,
		Username:  from.UserName,
	}
}

// Keyboard renders buttons as a one-per-row inline keyboard.
func Keyboard(buttons []channel.Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Action)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// Send delivers text to the user's private chat.
func (c *Channel) Send(ctx context.Context, userID, text string, buttons ...channel.Button) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", userID, err)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if len(buttons) > 0 {
		msg.ReplyMarkup = Keyboard(buttons)
	}
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

// Typing shows the typing indicator. Failures are only logged.
func (c *Channel) Typing(ctx context.Context, userID string) {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return
	}
	if _, err := c.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		c.logger.Debug("typing indicator failed", "user_id", userID, "error", err)
	}
}

var _ channel.Channel = (*Channel)(nil)
