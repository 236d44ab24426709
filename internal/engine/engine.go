// Package engine evaluates the weekly schedules on a fixed tick and actuates
// relays when an on or off time is reached.
package engine

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/agsys/relay-controller/internal/relay"
	"github.com/agsys/relay-controller/internal/schedule"
)

// Config holds engine configuration
type Config struct {
	// TickInterval is the evaluation period. Ticks are aligned to multiples
	// of it, so anything up to a minute observes every minute.
	TickInterval time.Duration
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		TickInterval: 30 * time.Second,
	}
}

// Recorder receives engine measurements
type Recorder interface {
	TickObserved(d time.Duration)
	Triggered(relayID string, ev schedule.Event)
	Purged(relayID string)
	Malformed(relayID string)
}

type nopRecorder struct{}

func (nopRecorder) TickObserved(time.Duration)       {}
func (nopRecorder) Triggered(string, schedule.Event) {}
func (nopRecorder) Purged(string)                    {}
func (nopRecorder) Malformed(string)                 {}

// Engine fires schedule events against the relay map
type Engine struct {
	config   Config
	relays   *relay.Map
	store    *schedule.Store
	clock    Clock
	recorder Recorder
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new engine instance
func New(config Config, relays *relay.Map, store *schedule.Store, clock Clock) *Engine {
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultConfig().TickInterval
	}
	return &Engine{
		config:   config,
		relays:   relays,
		store:    store,
		clock:    clock,
		recorder: nopRecorder{},
		stopChan: make(chan struct{}),
	}
}

// SetRecorder installs the measurement sink. Call before Start.
func (e *Engine) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	e.recorder = r
}

// Start runs an immediate evaluation and then ticks in the background
func (e *Engine) Start(ctx context.Context) error {
	e.Tick()

	e.wg.Add(1)
	go e.tickLoop(ctx)

	log.WithField("interval", e.config.TickInterval).Info("Schedule engine started")
	return nil
}

// Stop stops the engine and waits for an in-flight tick to finish
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() { close(e.stopChan) })
	e.wg.Wait()
	log.Info("Schedule engine stopped")
	return nil
}

func (e *Engine) tickLoop(ctx context.Context) {
	defer e.wg.Done()

	timer := time.NewTimer(e.untilNextTick())
	defer timer.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			e.Tick()
			timer.Reset(e.untilNextTick())
		}
	}
}

// untilNextTick returns the delay to the next multiple of the tick interval
func (e *Engine) untilNextTick() time.Duration {
	now := e.clock.Now()
	next := now.Truncate(e.config.TickInterval).Add(e.config.TickInterval)
	return next.Sub(now)
}

// Tick evaluates every rule once against the current time
func (e *Engine) Tick() {
	start := time.Now()
	e.Evaluate(schedule.MomentOf(e.clock.Now()))
	e.recorder.TickObserved(time.Since(start))
}

// Evaluate runs one pass of the rule set at moment m. Reading the rules,
// actuating and recording the gate happen in one store critical section.
func (e *Engine) Evaluate(m schedule.Moment) {
	e.store.Update(func(tx *schedule.Tx) {
		for _, key := range tx.Keys() {
			e.evaluateRule(tx, key, m)
		}
	})
}

func (e *Engine) evaluateRule(tx *schedule.Tx, key string, m schedule.Moment) {
	logger := log.WithField("relay", key)

	r, err := e.relays.Lookup(key)
	if err != nil {
		if err := tx.Remove(key); err != nil {
			logger.WithError(err).Error("Failed to persist purge of stale schedule")
		}
		logger.Warn("Purged schedule for unknown relay")
		e.recorder.Purged(key)
		return
	}

	rule, _ := tx.Rule(key)
	on, off, err := rule.Window(key)
	if err != nil {
		logger.WithError(err).Warn("Skipping malformed schedule")
		e.recorder.Malformed(key)
		return
	}

	now := m.Time.Minutes()
	onAt, offAt := on.Minutes(), off.Minutes()
	wraps := offAt < onAt

	// The off-event of a cycle that crosses midnight belongs to the day the
	// cycle started.
	offDay := m.Weekday
	if wraps {
		offDay = m.Yesterday
	}

	switch {
	case now == onAt && rule.ActiveOn(m.Weekday) && !rule.Gated(m.Date, schedule.EventOn):
		e.fire(tx, r, key, m.Date, schedule.EventOn)
		return
	case onAt != offAt && now == offAt && rule.ActiveOn(offDay) && !rule.Gated(m.Date, schedule.EventOff):
		e.fire(tx, r, key, m.Date, schedule.EventOff)
		return
	}

	if rule.LastTriggeredDate == m.Date && cycleComplete(now, onAt, offAt) {
		if err := tx.ClearGate(key); err != nil {
			logger.WithError(err).Error("Failed to persist trigger gate reset")
		}
		logger.Debug("Trigger gate reset")
	}
}

// cycleComplete reports whether now lies after both events of the day's
// cycle and before the next on-event.
func cycleComplete(now, onAt, offAt int) bool {
	switch {
	case onAt == offAt:
		return now > onAt
	case offAt > onAt:
		return now > offAt
	default:
		return now > offAt && now < onAt
	}
}

func (e *Engine) fire(tx *schedule.Tx, r *relay.Relay, key, date string, ev schedule.Event) {
	logger := log.WithFields(log.Fields{"relay": key, "event": ev})

	want := relay.Off
	if ev == schedule.EventOn {
		want = relay.On
	}

	if r.Status() != want {
		var err error
		if want == relay.On {
			err = r.TurnOn(relay.SourceSchedule)
		} else {
			err = r.TurnOff(relay.SourceSchedule)
		}
		if err != nil {
			logger.WithError(err).Error("Failed to drive relay")
		} else {
			logger.Infof("Schedule turned relay %s", want)
		}
	} else {
		logger.Debugf("Relay already %s", want)
	}

	if err := tx.SetGate(key, date, ev); err != nil {
		logger.WithError(err).Error("Failed to persist trigger gate")
	}
	e.recorder.Triggered(key, ev)
}
