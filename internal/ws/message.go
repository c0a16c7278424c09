package ws

import (
	"time"

	"poolguard/internal/pipeline"
)

// MessageTypeRiskChange is the type of a risk transition message
const MessageTypeRiskChange = "risk_change"

// RiskMessage is the broadcast form of a risk transition
type RiskMessage struct {
	Type      string    `json:"type"` // "risk_change"
	ID        string    `json:"id"`
	Previous  string    `json:"previous"` // "low", "medium", "high"
	Current   string    `json:"current"`
	FrameSeq  uint64    `json:"frame_seq,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRiskMessage creates a risk message from a transition event
func NewRiskMessage(event pipeline.RiskTransitionEvent) *RiskMessage {
	return &RiskMessage{
		Type:      MessageTypeRiskChange,
		ID:        event.ID,
		Previous:  event.Previous.String(),
		Current:   event.Current.String(),
		FrameSeq:  event.FrameSeq,
		Timestamp: event.Timestamp,
	}
}

// Event converts the message back into a transition event
func (m *RiskMessage) Event() (pipeline.RiskTransitionEvent, error) {
	prev, err := pipeline.ParseWarningLevel(m.Previous)
	if err != nil {
		return pipeline.RiskTransitionEvent{}, err
	}
	cur, err := pipeline.ParseWarningLevel(m.Current)
	if err != nil {
		return pipeline.RiskTransitionEvent{}, err
	}
	return pipeline.RiskTransitionEvent{
		ID:        m.ID,
		Previous:  prev,
		Current:   cur,
		FrameSeq:  m.FrameSeq,
		Timestamp: m.Timestamp,
	}, nil
}
