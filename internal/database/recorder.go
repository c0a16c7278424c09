package database

import (
	"context"
	"log"
	"time"

	"poolguard/internal/pipeline"
)

// recordOp is one queued write: a transition to insert or an event ID to
// flag as notified
type recordOp struct {
	event    *pipeline.RiskTransitionEvent
	notified string
}

// Recorder persists risk transitions published on the event bus. Writes run
// on the Run goroutine so publishing never waits on sqlite. Inserts and
// notified flags share one queue, so a flag is applied after its insert.
type Recorder struct {
	db        *Database
	retention time.Duration
	lastPrune time.Time
	queue     chan recordOp
}

// NewRecorder creates a recorder. A positive retention prunes older events
// at most once an hour.
func NewRecorder(db *Database, retention time.Duration) *Recorder {
	return &Recorder{
		db:        db,
		retention: retention,
		queue:     make(chan recordOp, 64),
	}
}

// OnRiskTransition implements pipeline.RiskEventHandler
func (r *Recorder) OnRiskTransition(event pipeline.RiskTransitionEvent) {
	r.enqueue(recordOp{event: &event})
}

// MarkNotified queues the notified flag for a recorded event
func (r *Recorder) MarkNotified(id string) {
	r.enqueue(recordOp{notified: id})
}

func (r *Recorder) enqueue(op recordOp) {
	select {
	case r.queue <- op:
	default:
		log.Printf("[Database] Record queue full, dropping write")
	}
}

// Run applies queued writes until ctx is done, then flushes what is left
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case op := <-r.queue:
			r.apply(op)
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case op := <-r.queue:
			r.apply(op)
		default:
			return
		}
	}
}

func (r *Recorder) apply(op recordOp) {
	if op.event == nil {
		if err := r.db.MarkNotified(op.notified); err != nil {
			log.Printf("[Database] Failed to mark risk event %s notified: %v", op.notified, err)
		}
		return
	}

	event := op.event
	record := &RiskEventRecord{
		ID:        event.ID,
		Previous:  event.Previous,
		Current:   event.Current,
		FrameSeq:  event.FrameSeq,
		Timestamp: event.Timestamp,
	}
	if err := r.db.SaveRiskEvent(record); err != nil {
		log.Printf("[Database] Failed to record risk event %s: %v", event.ID, err)
		return
	}

	if r.retention > 0 && time.Since(r.lastPrune) > time.Hour {
		r.lastPrune = time.Now()
		n, err := r.db.DeleteOldRiskEvents(time.Now().Add(-r.retention))
		if err != nil {
			log.Printf("[Database] Failed to prune risk events: %v", err)
		} else if n > 0 {
			log.Printf("[Database] Pruned %d risk events older than %v", n, r.retention)
		}
	}
}

var _ pipeline.RiskEventHandler = (*Recorder)(nil)
