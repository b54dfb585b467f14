package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rickgao/wallet-watch/internal/model"
)

// ErrNoToken is returned by NewTelegram when the bot token is empty.
var ErrNoToken = errors.New("telegram token is required")

// DefaultTelegramTimeout bounds each Bot API request.
const DefaultTelegramTimeout = 15 * time.Second

// TelegramOption configures a Telegram notifier.
type TelegramOption func(*telegramOptions)

type telegramOptions struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// WithEndpoint overrides the Bot API endpoint format
// (default tgbotapi.APIEndpoint).
func WithEndpoint(endpoint string) TelegramOption {
	return func(o *telegramOptions) { o.endpoint = endpoint }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) TelegramOption {
	return func(o *telegramOptions) { o.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) TelegramOption {
	return func(o *telegramOptions) { o.logger = logger }
}

// Telegram sends notifications as bot messages.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

// NewTelegram authorizes the bot with getMe and returns a notifier.
func NewTelegram(token string, opts ...TelegramOption) (*Telegram, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	o := telegramOptions{
		endpoint:   tgbotapi.APIEndpoint,
		httpClient: &http.Client{Timeout: DefaultTelegramTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, o.endpoint, o.httpClient)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	bot.Debug = false

	o.logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Telegram{bot: bot, logger: o.logger}, nil
}

// Username returns the authorized bot's username.
func (t *Telegram) Username() string {
	return t.bot.Self.UserName
}

// Notify sends message to the chat identified by subscriber. The Bot API
// client has no per-request context, so ctx only bounds how long Notify
// waits; the HTTP client timeout bounds the request itself.
func (t *Telegram) Notify(ctx context.Context, subscriber model.SubscriberID, message string) error {
	msg := tgbotapi.NewMessage(subscriber, message)
	msg.DisableWebPagePreview = true

	errCh := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(msg)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("send to chat %d: %w", subscriber, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send to chat %d: %w", subscriber, ctx.Err())
	}
}
