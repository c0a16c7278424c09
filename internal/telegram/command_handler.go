package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"poolguard/internal/database"
	"poolguard/internal/pipeline"
)

// AlertLister lists stored risk events
type AlertLister interface {
	ListRiskEvents(since *time.Time, minLevel pipeline.WarningLevel, limit int) ([]*database.RiskEventRecord, error)
}

// Settings persists bot settings across restarts
type Settings interface {
	SaveConfig(key, value string) error
	GetConfig(key string) (string, error)
}

// mutedKey is the settings key holding the alert mute switch
const mutedKey = "telegram_alerts_muted"

// Update represents a Telegram update
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty"`
}

// TelegramMessage is the subset of a Telegram message used for commands
type TelegramMessage struct {
	MessageID int64         `json:"message_id"`
	Chat      *TelegramChat `json:"chat,omitempty"`
	Date      int64         `json:"date"`
	Text      string        `json:"text,omitempty"`
}

// TelegramChat represents a Telegram chat
type TelegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// CommandHandler answers bot commands from the authorized chat
type CommandHandler struct {
	bot          *Bot
	slot         *pipeline.ResultSlot
	stats        func() pipeline.DriverStats
	alerts       AlertLister
	settings     Settings
	lastUpdateID int64
	startTime    time.Time
	pollInterval time.Duration
}

// NewCommandHandler creates a new command handler. stats and alerts may be nil.
func NewCommandHandler(bot *Bot, slot *pipeline.ResultSlot, stats func() pipeline.DriverStats, alerts AlertLister) *CommandHandler {
	return &CommandHandler{
		bot:          bot,
		slot:         slot,
		stats:        stats,
		alerts:       alerts,
		startTime:    time.Now(),
		pollInterval: 2 * time.Second,
	}
}

// SetSettings attaches a settings store and restores the persisted mute state
func (ch *CommandHandler) SetSettings(settings Settings) error {
	ch.settings = settings
	v, err := settings.GetConfig(mutedKey)
	if err != nil {
		return fmt.Errorf("failed to load mute state: %w", err)
	}
	if muted, _ := strconv.ParseBool(v); muted {
		ch.bot.SetMuted(true)
		log.Printf("[Telegram] Alerts muted (restored)")
	}
	return nil
}

// StartPolling polls Telegram for commands until ctx is done
func (ch *CommandHandler) StartPolling(ctx context.Context) error {
	if err := ch.bot.ready(); err != nil {
		return err
	}

	log.Printf("[Telegram] Command polling started")

	ticker := time.NewTicker(ch.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Telegram] Command polling stopped")
			return nil
		case <-ticker.C:
			if err := ch.pollUpdates(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[Telegram] Failed to poll updates: %v", err)
			}
		}
	}
}

// pollUpdates fetches and processes pending updates
func (ch *CommandHandler) pollUpdates(ctx context.Context) error {
	url := fmt.Sprintf("%s?offset=%d&timeout=1", ch.bot.methodURL("getUpdates"), ch.lastUpdateID+1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := ch.bot.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch updates: %w", err)
	}
	defer resp.Body.Close()

	result, err := handleResponse(resp)
	if err != nil {
		return err
	}

	var updates []Update
	if err := json.Unmarshal(result, &updates); err != nil {
		return fmt.Errorf("failed to parse updates: %w", err)
	}

	for _, update := range updates {
		if update.UpdateID > ch.lastUpdateID {
			ch.lastUpdateID = update.UpdateID
		}
		if update.Message != nil {
			ch.handleMessage(ctx, update.Message)
		}
	}
	return nil
}

// handleMessage processes an incoming message
func (ch *CommandHandler) handleMessage(ctx context.Context, msg *TelegramMessage) {
	if msg.Chat == nil {
		return
	}

	// Only the configured chat may issue commands
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if chatID != ch.bot.chatID {
		log.Printf("[Telegram] Ignoring message from unauthorized chat %s", chatID)
		return
	}

	if msg.Text == "" || !strings.HasPrefix(msg.Text, "/") {
		return
	}

	parts := strings.Fields(msg.Text)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	// Strip the bot username suffix (/status@mybot)
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}

	var response string
	switch command {
	case "/start":
		response = ch.handleStart()
	case "/help":
		response = ch.handleHelp()
	case "/status":
		response = ch.handleStatus()
	case "/snapshot":
		ch.handleSnapshot(ctx)
		return
	case "/alerts":
		response = ch.handleAlerts(args)
	case "/mute":
		response = ch.handleMute(true)
	case "/unmute":
		response = ch.handleMute(false)
	case "/test":
		if err := ch.bot.SendTestMessage(ctx); err != nil {
			log.Printf("[Telegram] Failed to send test message: %v", err)
		}
		return
	default:
		response = fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", command)
	}

	if err := ch.bot.SendMessage(ctx, response); err != nil {
		log.Printf("[Telegram] Failed to send reply: %v", err)
	}
}

func (ch *CommandHandler) handleStart() string {
	return "🤖 <b>Welcome to PoolGuard!</b>\n\n" +
		"I'll notify you when a child is at risk near the pool.\n\n" +
		"Use /help to see available commands."
}

func (ch *CommandHandler) handleHelp() string {
	return "📋 <b>Available Commands</b>\n\n" +
		"/status - Current risk level and pipeline status\n" +
		"/snapshot - Latest analyzed frame\n" +
		"/alerts [n] - Recent risk changes\n" +
		"/mute - Stop risk alerts\n" +
		"/unmute - Resume risk alerts\n" +
		"/test - Send a test message\n" +
		"/help - Show this message"
}

func (ch *CommandHandler) handleStatus() string {
	var sb strings.Builder
	sb.WriteString("📊 <b>PoolGuard Status</b>\n\n")
	sb.WriteString(fmt.Sprintf("⏱ Uptime: %s\n", formatDuration(time.Since(ch.startTime))))
	if ch.bot.IsMuted() {
		sb.WriteString("🔕 Alerts muted\n")
	}

	value, ok := ch.slot.Latest()
	if !ok {
		sb.WriteString("⚪ Risk: no analysis yet\n")
	} else {
		sb.WriteString(fmt.Sprintf("%s Risk: %s\n", levelEmoji(value.Result.WarningLevel), value.Result.WarningLevel))
		sb.WriteString(fmt.Sprintf("👶 Children: %d\n", len(value.Result.Children)))
		sb.WriteString(fmt.Sprintf("🕐 Updated: %s ago\n", time.Since(value.UpdatedAt).Round(time.Second)))
	}

	if ch.stats != nil {
		s := ch.stats()
		sb.WriteString(fmt.Sprintf("\n🧠 Evaluated: %d  Cached: %d  Skipped: %d  Errors: %d",
			s.EvaluatorCalls, s.CacheHits, s.GateSkips, s.EvaluatorErrors))
	}
	return sb.String()
}

func (ch *CommandHandler) handleSnapshot(ctx context.Context) {
	value, ok := ch.slot.Latest()
	if !ok || len(value.Image) == 0 {
		ch.bot.SendMessage(ctx, "⚠️ No frame analyzed yet.")
		return
	}

	caption := fmt.Sprintf("📸 <b>Snapshot</b>\n\n%s Risk: %s\n🕐 %s",
		levelEmoji(value.Result.WarningLevel), value.Result.WarningLevel,
		value.UpdatedAt.Format("Jan 2, 2006, 15:04:05"))

	if err := ch.bot.SendPhoto(ctx, value.Image, caption); err != nil {
		ch.bot.SendMessage(ctx, fmt.Sprintf("❌ Failed to send snapshot: %v", err))
	}
}

func (ch *CommandHandler) handleAlerts(args []string) string {
	if ch.alerts == nil {
		return "Alert history is not enabled."
	}

	limit := 5
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 && n <= 20 {
			limit = n
		}
	}

	events, err := ch.alerts.ListRiskEvents(nil, pipeline.WarningLow, limit)
	if err != nil {
		return fmt.Sprintf("❌ Failed to load alerts: %v", err)
	}
	if len(events) == 0 {
		return "📋 <b>Recent Alerts</b>\n\nNo risk changes recorded."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 <b>Recent Alerts</b> (last %d)\n\n", len(events)))
	for i, event := range events {
		sb.WriteString(fmt.Sprintf("%d. %s %s → %s  %s\n", i+1,
			levelEmoji(event.Current), event.Previous, event.Current,
			event.Timestamp.Local().Format("Jan 2, 15:04:05")))
	}
	return sb.String()
}

func (ch *CommandHandler) handleMute(muted bool) string {
	ch.bot.SetMuted(muted)
	if ch.settings != nil {
		if err := ch.settings.SaveConfig(mutedKey, strconv.FormatBool(muted)); err != nil {
			log.Printf("[Telegram] Failed to persist mute state: %v", err)
		}
	}
	if muted {
		return "🔕 Risk alerts muted. Use /unmute to resume."
	}
	return "🔔 Risk alerts resumed."
}

func levelEmoji(level pipeline.WarningLevel) string {
	switch level {
	case pipeline.WarningHigh:
		return "🔴"
	case pipeline.WarningMedium:
		return "🟡"
	default:
		return "🟢"
	}
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
