package schedule

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/agsys/relay-controller/internal/document"
	"github.com/agsys/relay-controller/internal/fault"
	"github.com/agsys/relay-controller/internal/relay"
)

// Registry answers whether a relay exists
type Registry interface {
	Has(id relay.ID) bool
}

// Mutation actions reported to observers
const (
	ActionAdd    = "add_schedule"
	ActionDelete = "delete_schedule"
	ActionPurge  = "purge"
)

// Mutation describes a change to the rule set made outside the trigger gate
type Mutation struct {
	RelayID string
	Action  string
	Rule    *Rule // nil for deletions
	At      time.Time
}

// Observer is notified after a rule is added, replaced, deleted or purged
type Observer interface {
	ScheduleChanged(Mutation)
}

// Store maps relay IDs to rules and writes the full set through to its
// document after every mutation.
type Store struct {
	doc    document.Document
	relays Registry

	mu       sync.Mutex
	rules    map[string]Rule
	observer Observer
	onError  func(error)
}

// NewStore returns an empty store; call Load to read the document
func NewStore(doc document.Document, relays Registry) *Store {
	return &Store{
		doc:    doc,
		relays: relays,
		rules:  make(map[string]Rule),
	}
}

// SetObserver installs the mutation observer
func (s *Store) SetObserver(o Observer) {
	s.mu.Lock()
	s.observer = o
	s.mu.Unlock()
}

// OnPersistError installs a hook called for every failed save
func (s *Store) OnPersistError(fn func(error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// Load replaces the in-memory rules with the document contents. A missing
// document is a normal first boot; a corrupt one is logged and returned,
// and in both cases the store is left empty and usable.
func (s *Store) Load() error {
	var rules map[string]Rule
	err := document.ReadJSON(s.doc, &rules)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.rules = make(map[string]Rule)
		if document.IsMissing(err) {
			log.WithField("path", s.doc.Path()).Info("No schedule document, starting empty")
			return nil
		}
		log.WithError(err).Warn("Schedule document unreadable, starting empty")
		return err
	}

	s.rules = canonicalKeys(rules)
	log.WithField("rules", len(s.rules)).Infof("Loaded schedules from %s", s.doc.Path())
	return nil
}

// canonicalKeys rewrites document keys to their canonical relay ID form, so
// "021" is stored as "21". When several keys name the same relay, the one
// already in canonical form wins, else the first in sorted order. Keys that
// do not parse are kept as written and left for the engine to purge.
func canonicalKeys(rules map[string]Rule) map[string]Rule {
	out := make(map[string]Rule, len(rules))
	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	from := make(map[string]string, len(rules))
	for _, k := range keys {
		key := k
		if id, err := relay.ParseID(k); err == nil {
			key = id.String()
		}
		if prev, dup := from[key]; dup {
			if k != key {
				log.WithFields(log.Fields{"key": k, "relay": key, "kept": prev}).Warn("Dropping duplicate schedule for relay")
				continue
			}
			log.WithFields(log.Fields{"key": prev, "relay": key, "kept": k}).Warn("Dropping duplicate schedule for relay")
		} else if k != key {
			log.WithFields(log.Fields{"key": k, "relay": key}).Info("Schedule key rewritten to canonical relay id")
		}
		out[key] = rules[k]
		from[key] = k
	}
	return out
}

// Save rewrites the document from the in-memory rules
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if err := document.WriteJSON(s.doc, s.rules); err != nil {
		log.WithError(err).Error("Failed to persist schedules")
		if s.onError != nil {
			s.onError(err)
		}
		return err
	}
	return nil
}

// Upsert validates rule and replaces any rule for id wholesale. The stored
// rule is returned. A PersistenceError means the rule is in effect but not
// yet durable.
func (s *Store) Upsert(id relay.ID, rule Rule) (Rule, error) {
	if !s.relays.Has(id) {
		return Rule{}, &fault.NotFoundError{Kind: "relay", ID: id.String()}
	}
	normalized, err := Normalize(rule)
	if err != nil {
		return Rule{}, err
	}

	key := id.String()
	s.mu.Lock()
	s.rules[key] = normalized
	err = s.saveLocked()
	obs := s.observer
	s.mu.Unlock()

	stored := normalized.Clone()
	notify(obs, Mutation{RelayID: key, Action: ActionAdd, Rule: &stored, At: time.Now()})
	return normalized.Clone(), err
}

// Delete removes the rule for id
func (s *Store) Delete(id relay.ID) error {
	key := id.String()
	s.mu.Lock()
	if _, ok := s.rules[key]; !ok {
		s.mu.Unlock()
		return &fault.NotFoundError{Kind: "schedule", ID: key}
	}
	delete(s.rules, key)
	err := s.saveLocked()
	obs := s.observer
	s.mu.Unlock()

	notify(obs, Mutation{RelayID: key, Action: ActionDelete, At: time.Now()})
	return err
}

// Get returns a copy of the rule for id
func (s *Store) Get(id relay.ID) (Rule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id.String()]
	return r.Clone(), ok
}

// All returns a deep copy of every rule keyed by relay ID
func (s *Store) All() map[string]Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Rule, len(s.rules))
	for k, r := range s.rules {
		out[k] = r.Clone()
	}
	return out
}

// Len returns the number of rules
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rules)
}

// Update runs fn with exclusive access to the rule set. Everything fn does
// through the Tx, including relay actuation it performs in between, happens
// in one critical section with respect to Upsert and Delete.
func (s *Store) Update(fn func(tx *Tx)) {
	s.mu.Lock()
	tx := &Tx{s: s}
	fn(tx)
	obs := s.observer
	pending := tx.pending
	s.mu.Unlock()

	for _, m := range pending {
		notify(obs, m)
	}
}

func notify(obs Observer, m Mutation) {
	if obs != nil {
		obs.ScheduleChanged(m)
	}
}

// Tx is the view of the store inside Update. Every mutation persists
// immediately.
type Tx struct {
	s       *Store
	pending []Mutation
}

// Keys returns the rule keys in sorted order
func (tx *Tx) Keys() []string {
	keys := make([]string, 0, len(tx.s.rules))
	for k := range tx.s.rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Rule returns a copy of the rule under key
func (tx *Tx) Rule(key string) (Rule, bool) {
	r, ok := tx.s.rules[key]
	return r.Clone(), ok
}

// SetGate records that ev fired on date
func (tx *Tx) SetGate(key, date string, ev Event) error {
	r, ok := tx.s.rules[key]
	if !ok {
		return &fault.NotFoundError{Kind: "schedule", ID: key}
	}
	r.LastTriggeredDate = date
	r.LastTriggeredEvent = ev
	tx.s.rules[key] = r
	return tx.s.saveLocked()
}

// ClearGate empties the trigger gate so the next cycle can fire
func (tx *Tx) ClearGate(key string) error {
	return tx.SetGate(key, "", "")
}

// Remove deletes the rule under key
func (tx *Tx) Remove(key string) error {
	if _, ok := tx.s.rules[key]; !ok {
		return &fault.NotFoundError{Kind: "schedule", ID: key}
	}
	delete(tx.s.rules, key)
	tx.pending = append(tx.pending, Mutation{RelayID: key, Action: ActionPurge, At: time.Now()})
	return tx.s.saveLocked()
}
