package services

import (
	"context"
	"errors"
	"time"

	"poolguard/internal/database"
	"poolguard/internal/pipeline"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// ErrAlertNotFound is returned by Get for an unknown ID
var ErrAlertNotFound = errors.New("alert not found")

// AlertStore reads stored risk events
type AlertStore interface {
	ListRiskEvents(since *time.Time, minLevel pipeline.WarningLevel, limit int) ([]*database.RiskEventRecord, error)
	GetRiskEvent(id string) (*database.RiskEventRecord, error)
	CountRiskEvents() (int, error)
}

// Alert is a stored risk transition
type Alert struct {
	ID               string    `json:"id"`
	Previous         string    `json:"previous"`
	Current          string    `json:"current"`
	FrameSeq         uint64    `json:"frame_seq"`
	Timestamp        time.Time `json:"timestamp"`
	NotificationSent bool      `json:"notification_sent"`
}

// AlertsQuery filters the alert history
type AlertsQuery struct {
	Limit    int
	MinLevel pipeline.WarningLevel
	Since    *time.Time
}

// AlertsImplementation implements the alerts service
type AlertsImplementation struct {
	store AlertStore
}

// NewAlertsService creates a new alerts service implementation
func NewAlertsService(store AlertStore) *AlertsImplementation {
	return &AlertsImplementation{store: store}
}

// List returns stored risk transitions newest first
func (a *AlertsImplementation) List(ctx context.Context, q AlertsQuery) ([]*Alert, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultAlertLimit
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}

	records, err := a.store.ListRiskEvents(q.Since, q.MinLevel, limit)
	if err != nil {
		return nil, err
	}

	alerts := make([]*Alert, len(records))
	for i, r := range records {
		alerts[i] = newAlert(r)
	}
	return alerts, nil
}

// Get returns a single stored transition
func (a *AlertsImplementation) Get(ctx context.Context, id string) (*Alert, error) {
	record, err := a.store.GetRiskEvent(id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrAlertNotFound
	}
	return newAlert(record), nil
}

// Count returns the number of stored transitions
func (a *AlertsImplementation) Count(ctx context.Context) (int, error) {
	return a.store.CountRiskEvents()
}

func newAlert(r *database.RiskEventRecord) *Alert {
	return &Alert{
		ID:               r.ID,
		Previous:         r.Previous.String(),
		Current:          r.Current.String(),
		FrameSeq:         r.FrameSeq,
		Timestamp:        r.Timestamp,
		NotificationSent: r.NotificationSent,
	}
}
