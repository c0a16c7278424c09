package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"poolguard/internal/pipeline"
)

// DefaultAPIURL is the Telegram Bot API base URL
const DefaultAPIURL = "https://api.telegram.org"

var (
	// ErrCooldown is returned when an alert is suppressed by the cooldown
	ErrCooldown = errors.New("cooldown period not yet elapsed")
	// ErrMuted is returned when alerts are muted from the chat
	ErrMuted = errors.New("alerts are muted")
)

// Bot handles Telegram bot operations
type Bot struct {
	apiURL          string
	botToken        string
	chatID          string
	httpClient      *http.Client
	mu              sync.RWMutex
	enabled         bool
	muted           bool
	cooldownTracker map[string]time.Time
	cooldownPeriod  time.Duration
}

// Config holds Telegram bot configuration
type Config struct {
	BotToken string        `yaml:"bot_token"`
	ChatID   string        `yaml:"chat_id"`
	Enabled  bool          `yaml:"enabled"`
	Cooldown time.Duration `yaml:"cooldown"`
	APIURL   string        `yaml:"api_url"`
}

// APIResponse represents the response from the Telegram API
type APIResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// NewBot creates a new Telegram bot instance
func NewBot(config Config) *Bot {
	cooldown := config.Cooldown
	if cooldown == 0 {
		cooldown = 60 * time.Second
	}
	apiURL := strings.TrimSuffix(config.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	return &Bot{
		apiURL:          apiURL,
		botToken:        config.BotToken,
		chatID:          config.ChatID,
		enabled:         config.Enabled,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		cooldownTracker: make(map[string]time.Time),
		cooldownPeriod:  cooldown,
	}
}

// IsEnabled returns whether the bot is enabled
func (b *Bot) IsEnabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

// SetEnabled enables or disables the bot
func (b *Bot) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// SetMuted mutes or unmutes risk alerts. Commands are still answered.
func (b *Bot) SetMuted(muted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.muted = muted
}

// IsMuted returns whether risk alerts are muted
func (b *Bot) IsMuted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.muted
}

// SendMessage sends a text message without cooldown
func (b *Bot) SendMessage(ctx context.Context, message string) error {
	if err := b.ready(); err != nil {
		return err
	}

	payload := map[string]interface{}{
		"chat_id":    b.chatID,
		"text":       message,
		"parse_mode": "HTML",
	}
	return b.sendRequest(ctx, "sendMessage", payload)
}

// SendPhoto sends a photo with optional caption without cooldown
func (b *Bot) SendPhoto(ctx context.Context, photoData []byte, caption string) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.sendPhoto(ctx, photoData, caption)
}

// SendRiskAlert sends a risk alert with the latest frame. Alerts are
// limited to one per cooldown period.
func (b *Bot) SendRiskAlert(ctx context.Context, event pipeline.RiskTransitionEvent, frameData []byte) error {
	if err := b.ready(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.muted {
		b.mu.Unlock()
		return ErrMuted
	}
	if !b.checkCooldown("alert") {
		b.mu.Unlock()
		return ErrCooldown
	}
	b.updateCooldown("alert")
	b.mu.Unlock()

	message := formatAlert(event)

	var err error
	if len(frameData) > 0 {
		err = b.sendPhoto(ctx, frameData, message)
	} else {
		err = b.SendMessage(ctx, message)
	}
	if err != nil {
		// A failed alert must not block the next one
		b.mu.Lock()
		delete(b.cooldownTracker, "alert")
		b.mu.Unlock()
	}
	return err
}

func formatAlert(event pipeline.RiskTransitionEvent) string {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	zoneName, _ := ts.Zone()
	timestamp := fmt.Sprintf("%s %s", ts.Format("2 Jan 2006, 15:04:05"), zoneName)

	return fmt.Sprintf(
		"🚨 <b>Pool Alert!</b>\n\n"+
			"🔴 Risk: %s (was %s)\n"+
			"🕐 Time: %s",
		strings.ToUpper(event.Current.String()),
		event.Previous.String(),
		timestamp,
	)
}

// SendTestMessage sends a test message to verify the bot configuration
func (b *Bot) SendTestMessage(ctx context.Context) error {
	now := time.Now()
	zoneName, _ := now.Zone()
	timestamp := fmt.Sprintf("%s %s", now.Format("2 Jan 2006, 15:04:05"), zoneName)

	return b.SendMessage(ctx, fmt.Sprintf(
		"🤖 <b>PoolGuard Test Message</b>\n\n"+
			"✅ Telegram bot is working correctly!\n"+
			"🕐 Test sent at: %s",
		timestamp,
	))
}

func (b *Bot) ready() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.enabled {
		return fmt.Errorf("telegram bot is disabled")
	}
	if b.botToken == "" || b.chatID == "" {
		return fmt.Errorf("telegram bot token or chat ID not configured")
	}
	return nil
}

func (b *Bot) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", b.apiURL, b.botToken, method)
}

// sendPhoto sends a photo using multipart form data
func (b *Bot) sendPhoto(ctx context.Context, photoData []byte, caption string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", b.chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}

	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "pool_frame.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photoData); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL("sendPhoto"), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	defer resp.Body.Close()

	_, err = handleResponse(resp)
	return err
}

// sendRequest sends a JSON request to the Telegram API
func (b *Bot) sendRequest(ctx context.Context, method string, payload map[string]interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL(method), bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	_, err = handleResponse(resp)
	return err
}

// handleResponse processes a Telegram API response and returns its result
func handleResponse(resp *http.Response) (json.RawMessage, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !apiResp.OK {
		return nil, fmt.Errorf("telegram API error %d: %s", apiResp.ErrorCode, apiResp.Description)
	}
	return apiResp.Result, nil
}

// checkCooldown checks if the cooldown period has elapsed for an action type.
// Callers hold b.mu.
func (b *Bot) checkCooldown(actionType string) bool {
	lastTime, exists := b.cooldownTracker[actionType]
	if !exists {
		return true
	}
	return time.Since(lastTime) >= b.cooldownPeriod
}

func (b *Bot) updateCooldown(actionType string) {
	b.cooldownTracker[actionType] = time.Now()
}

// ValidateConfig validates the Telegram bot configuration
func ValidateConfig(config Config) error {
	if config.Enabled {
		if config.BotToken == "" {
			return fmt.Errorf("telegram bot token is required when enabled")
		}
		if config.ChatID == "" {
			return fmt.Errorf("telegram chat ID is required when enabled")
		}
	}
	if config.Cooldown < 0 {
		return fmt.Errorf("telegram cooldown cannot be negative")
	}
	return nil
}
