package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/agsys/relay-controller/internal/storage"
)

// Recorder writes events into the history journal and prunes it
type Recorder struct {
	db        *storage.DB
	retention time.Duration
	interval  time.Duration
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewRecorder creates a journal recorder. A zero retention keeps
// everything.
func NewRecorder(db *storage.DB, retention time.Duration) *Recorder {
	return &Recorder{
		db:        db,
		retention: retention,
		interval:  time.Hour,
		stopChan:  make(chan struct{}),
	}
}

// HandleEvent implements Sink
func (r *Recorder) HandleEvent(ev Event) error {
	ts, err := time.Parse(time.RFC3339, ev.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}

	switch p := ev.Payload.(type) {
	case *RelayPayload:
		_, err = r.db.InsertRelayEvent(&storage.RelayEvent{
			RelayID:   p.RelayID,
			PrevState: p.From.String(),
			NewState:  p.To.String(),
			Source:    string(p.Source),
			Timestamp: ts,
		})
	case *SchedulePayload:
		change := &storage.ScheduleChange{
			RelayID:   p.RelayID,
			Action:    p.Action,
			Timestamp: ts,
		}
		if p.Rule != nil {
			data, err := json.Marshal(p.Rule)
			if err != nil {
				return err
			}
			change.RuleJSON = string(data)
		}
		_, err = r.db.InsertScheduleChange(change)
	default:
		return nil
	}
	return err
}

// Start runs the retention loop when a retention is configured
func (r *Recorder) Start(ctx context.Context) {
	if r.retention <= 0 {
		return
	}
	r.wg.Add(1)
	go r.pruneLoop(ctx)
}

// Stop stops the retention loop
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
}

func (r *Recorder) pruneLoop(ctx context.Context) {
	defer r.wg.Done()

	r.prune()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.prune()
		}
	}
}

func (r *Recorder) prune() {
	n, err := r.db.PruneBefore(time.Now().Add(-r.retention).UTC())
	if err != nil {
		log.WithError(err).Error("Failed to prune history")
		return
	}
	if n > 0 {
		log.WithField("rows", n).Info("Pruned history")
	}
}
