package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

const (
	// DefaultAPIURL is the public Bot API endpoint
	DefaultAPIURL = "https://api.telegram.org"

	maxCaptionLen = 1024

	defaultRetryAfter = time.Second
)

// Message is one outbound alert. PhotoURL is optional.
type Message struct {
	Text     string
	PhotoURL string
	Silent   bool
}

// Sender delivers a single message to the channel
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// RateLimitError is returned when the channel asks the caller to back off
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// APIError is any other rejection reported by the channel
type APIError struct {
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API error %d: %s", e.StatusCode, e.Description)
}

// exchange records the HTTP status of one Bot API call. The bot library
// only reports what it could decode from the body.
type exchange struct {
	status     int
	retryAfter time.Duration
}

type exchangeKey struct{}

// recordingClient fills the exchange carried by the request context
type recordingClient struct {
	client *http.Client
}

func (c recordingClient) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if ex, ok := req.Context().Value(exchangeKey{}).(*exchange); ok {
		ex.status = resp.StatusCode
		ex.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return resp, nil
}

// TelegramClient sends messages to one chat through the Bot API
type TelegramClient struct {
	bot    *bot.Bot
	token  string
	chatID string
	logger *zap.Logger
}

// NewTelegramClient creates a client bound to a bot token and chat. It does
// not contact the API.
func NewTelegramClient(apiURL, token, chatID string, timeout time.Duration, logger *zap.Logger) (*TelegramClient, error) {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	b, err := bot.New(token,
		bot.WithServerURL(strings.TrimRight(apiURL, "/")),
		bot.WithHTTPClient(timeout, recordingClient{client: &http.Client{Timeout: timeout}}),
		bot.WithSkipGetMe(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramClient{
		bot:    b,
		token:  token,
		chatID: chatID,
		logger: logger,
	}, nil
}

// Send posts msg as a photo with caption when it has an image that fits,
// otherwise as a plain HTML message
func (c *TelegramClient) Send(ctx context.Context, msg Message) error {
	ex := &exchange{}
	callCtx := context.WithValue(ctx, exchangeKey{}, ex)

	var (
		method string
		err    error
	)
	if msg.PhotoURL != "" && len([]rune(msg.Text)) <= maxCaptionLen {
		method = "sendPhoto"
		_, err = c.bot.SendPhoto(callCtx, &bot.SendPhotoParams{
			ChatID:              c.chatID,
			Photo:               &models.InputFileString{Data: msg.PhotoURL},
			Caption:             msg.Text,
			ParseMode:           models.ParseModeHTML,
			DisableNotification: msg.Silent,
		})
	} else {
		method = "sendMessage"
		_, err = c.bot.SendMessage(callCtx, &bot.SendMessageParams{
			ChatID:              c.chatID,
			Text:                msg.Text,
			ParseMode:           models.ParseModeHTML,
			DisableNotification: msg.Silent,
			LinkPreviewOptions:  &models.LinkPreviewOptions{IsDisabled: bot.True()},
		})
	}
	if err != nil {
		return c.classify(ctx, method, ex, err)
	}

	c.logger.Debug("Telegram call succeeded", zap.String("method", method))
	return nil
}

// classify maps a failed call onto RateLimitError or APIError. The HTTP
// status wins over the body, which may not be JSON at all.
func (c *TelegramClient) classify(ctx context.Context, method string, ex *exchange, err error) error {
	var tooMany *bot.TooManyRequestsError
	if errors.As(err, &tooMany) || ex.status == http.StatusTooManyRequests {
		retryAfter := ex.retryAfter
		if tooMany != nil && tooMany.RetryAfter > 0 {
			retryAfter = time.Duration(tooMany.RetryAfter) * time.Second
		}
		if retryAfter <= 0 {
			retryAfter = defaultRetryAfter
		}
		return &RateLimitError{RetryAfter: retryAfter}
	}

	if ctx.Err() != nil {
		return fmt.Errorf("request was cancelled: %w", ctx.Err())
	}

	// the request URL carries the bot token
	description := err.Error()
	if c.token != "" {
		description = strings.ReplaceAll(description, c.token, "<token>")
	}

	if ex.status == 0 {
		return fmt.Errorf("failed to execute %s request: %s", method, description)
	}
	return &APIError{StatusCode: ex.status, Description: description}
}

// parseRetryAfter reads a Retry-After header given in seconds
func parseRetryAfter(value string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
