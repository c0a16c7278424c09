package telegram

import (
	"context"
	"errors"
	"log"
	"time"

	"poolguard/internal/pipeline"
)

// FrameFunc returns the latest published frame, or nil
type FrameFunc func() []byte

// Notifier sends a Telegram alert whenever the risk level rises into high.
// Sending happens on its own goroutine so the inference driver never waits
// on the network.
type Notifier struct {
	bot     *Bot
	frame   FrameFunc
	onSent  func(eventID string)
	queue   chan pipeline.RiskTransitionEvent
	timeout time.Duration
}

// NewNotifier creates a notifier. onSent, when set, is called after each
// delivered alert.
func NewNotifier(bot *Bot, frame FrameFunc, onSent func(eventID string)) *Notifier {
	return &Notifier{
		bot:     bot,
		frame:   frame,
		onSent:  onSent,
		queue:   make(chan pipeline.RiskTransitionEvent, 8),
		timeout: 30 * time.Second,
	}
}

// OnRiskTransition implements pipeline.RiskEventHandler
func (n *Notifier) OnRiskTransition(event pipeline.RiskTransitionEvent) {
	if event.Current != pipeline.WarningHigh || event.Previous >= pipeline.WarningHigh {
		return
	}
	select {
	case n.queue <- event:
	default:
		log.Printf("[Telegram] Alert queue full, dropping event %s", event.ID)
	}
}

// Run delivers queued alerts until ctx is done
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-n.queue:
			n.deliver(ctx, event)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, event pipeline.RiskTransitionEvent) {
	var frame []byte
	if n.frame != nil {
		frame = n.frame()
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	err := n.bot.SendRiskAlert(ctx, event, frame)
	switch {
	case errors.Is(err, ErrCooldown):
		log.Printf("[Telegram] Alert %s suppressed by cooldown", event.ID)
	case errors.Is(err, ErrMuted):
		log.Printf("[Telegram] Alert %s not sent, alerts are muted", event.ID)
	case err != nil:
		log.Printf("[Telegram] Failed to send alert %s: %v", event.ID, err)
	default:
		log.Printf("[Telegram] Alert %s sent (%s -> %s)", event.ID, event.Previous, event.Current)
		if n.onSent != nil {
			n.onSent(event.ID)
		}
	}
}

var _ pipeline.RiskEventHandler = (*Notifier)(nil)
