// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/marketalert/internal/logger"
	"github.com/rewired-gh/marketalert/internal/models"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	loc            *time.Location

	mu       sync.Mutex
	health   models.HealthStatus
	statusFn func() string
}

// NewClient creates a new Telegram client. Times in messages are rendered in loc.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration, loc *time.Location) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	if loc == nil {
		loc = time.Local
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		loc:            loc,
		health:         models.HealthStatus{Healthy: true},
	}, nil
}

// SetStatusFunc installs the text returned by the /status command.
func (c *Client) SetStatusFunc(fn func() string) {
	c.mu.Lock()
	c.statusFn = fn
	c.mu.Unlock()
}

// Health reports whether the last delivery succeeded.
func (c *Client) Health() models.HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

func (c *Client) recordDelivery(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if err == nil {
		c.health.Healthy = true
		c.health.LastSuccess = now
		c.health.ConsecutiveFailures = 0
		return
	}
	c.health.Healthy = false
	c.health.LastError = err.Error()
	c.health.LastFailure = now
	c.health.ConsecutiveFailures++
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	var text string
	switch msg.Command() {
	case "ping":
		text = "Pong"
	case "status":
		c.mu.Lock()
		fn := c.statusFn
		c.mu.Unlock()
		if fn == nil {
			return
		}
		text = fn()
	default:
		return
	}
	if _, err := c.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, text)); err != nil {
		logger.Warn("Failed to reply to /%s: %v", msg.Command(), err)
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			c.recordDelivery(nil)
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			err := fmt.Errorf("cancelled after %d attempts: %w", i+1, ctx.Err())
			c.recordDelivery(err)
			return err
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	err := fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
	c.recordDelivery(err)
	return err
}

// SendStartup announces that the bot is running.
func (c *Client) SendStartup(ctx context.Context, version string) error {
	return c.sendMarkdownV2(ctx, fmt.Sprintf("🤖 Market alert bot %s starting up\\.\\.\\.", escapeMarkdownV2(version)))
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(ctx context.Context, symbol string, cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error* for %s\n`%s`", escapeMarkdownV2(symbol), escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(ctx, text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(ctx context.Context, symbol string, failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* for %s after %d consecutive failure\\(s\\)", escapeMarkdownV2(symbol), failureCount)
	return c.sendMarkdownV2(ctx, text)
}

// SendLevelChange sends the level change and, when present, a separate dual alert message.
func (c *Client) SendLevelChange(ctx context.Context, change models.LevelChange) error {
	if err := c.sendMarkdownV2(ctx, formatLevelChange(change, c.loc)); err != nil {
		return err
	}
	if change.Result.DualAlert.Alert {
		return c.sendMarkdownV2(ctx, formatDualAlert(change))
	}
	return nil
}

// SendCross sends a trend reversal message.
func (c *Client) SendCross(ctx context.Context, notice models.CrossNotice) error {
	return c.sendMarkdownV2(ctx, formatCross(notice, c.loc))
}

func displayName(symbol, name string) string {
	if name == "" {
		return symbol
	}
	return fmt.Sprintf("%s (%s)", name, symbol)
}

func levelDescription(level models.AlertLevel, t models.Thresholds) string {
	var name string
	switch level {
	case models.NoAlert:
		return "Situation returned to normal level (no alert)."
	case models.ExtremeLow:
		name = "Extreme low"
	case models.Low:
		name = "Low"
	case models.High:
		name = "High"
	case models.ExtremeHigh:
		name = "Extreme high"
	default:
		return fmt.Sprintf("Unknown alert level %s.", level)
	}
	pct := strconv.FormatFloat(t.For(level), 'f', -1, 64) + "%"
	return fmt.Sprintf("%s limit threshold (%s) has been reached.", name, pct)
}

func levelEmoji(level models.AlertLevel) string {
	switch level {
	case models.ExtremeHigh:
		return "🔴"
	case models.High:
		return "🟠"
	case models.Low:
		return "🔵"
	case models.ExtremeLow:
		return "🟣"
	default:
		return "🟢"
	}
}

// formatLevelChange formats a level change into a Telegram MarkdownV2 message.
func formatLevelChange(change models.LevelChange, loc *time.Location) string {
	res := change.Result
	var b strings.Builder
	fmt.Fprintf(&b, "%s *Volatility Alert* \\- %s changed alert level\n\n",
		levelEmoji(res.Level), escapeMarkdownV2(displayName(change.Symbol, change.Name)))
	b.WriteString(escapeMarkdownV2(levelDescription(res.Level, change.Thresholds)))

	if res.Level != models.NoAlert {
		when := time.UnixMilli(res.LatestTime).In(loc).Format("2006-01-02 15:04")
		fmt.Fprintf(&b, "\n\n%s: *%s*\\. Latest close: %s\\. Latest date: %s\\.",
			escapeMarkdownV2(change.Symbol),
			escapeMarkdownV2(fmt.Sprintf("%.2f%%", res.Percentage)),
			escapeMarkdownV2(fmt.Sprintf("%.2f", res.LatestClosePrice)),
			escapeMarkdownV2(when))
		if res.AllPoints {
			b.WriteString(" _Market is closed now\\._")
		}
	}
	return b.String()
}

func formatDualAlert(change models.LevelChange) string {
	dual := change.Result.DualAlert
	return fmt.Sprintf("%s *Volatility Alert* \\- %s changed alert level twice within a day: %s\n%s: *%s*",
		levelEmoji(dual.Level),
		escapeMarkdownV2(displayName(change.Symbol, change.Name)),
		escapeMarkdownV2(levelDescription(dual.Level, change.Thresholds)),
		escapeMarkdownV2(change.Symbol),
		escapeMarkdownV2(fmt.Sprintf("%.2f%%", dual.Percentage)))
}

func formatCross(notice models.CrossNotice, loc *time.Location) string {
	ev := notice.Event
	emoji, title := "📈", "Bullish"
	if ev.Type == models.Bearish {
		emoji, title = "📉", "Bearish"
	}
	when := time.UnixMilli(ev.Time).In(loc).Format("2006-01-02 15:04")
	return fmt.Sprintf("%s *%s PPO cross* \\- %s\n\n📅 %s\nClose: %s \\(H %s / L %s\\)\nHistogram: %s → %s",
		emoji, title,
		escapeMarkdownV2(displayName(notice.Symbol, notice.Name)),
		escapeMarkdownV2(when),
		escapeMarkdownV2(fmt.Sprintf("%.2f", ev.Close)),
		escapeMarkdownV2(fmt.Sprintf("%.2f", ev.High)),
		escapeMarkdownV2(fmt.Sprintf("%.2f", ev.Low)),
		escapeMarkdownV2(fmt.Sprintf("%.4f", ev.PrevHistogram)),
		escapeMarkdownV2(fmt.Sprintf("%.4f", ev.Histogram)))
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
