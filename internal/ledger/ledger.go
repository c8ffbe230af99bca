// Package ledger owns a user's day-scoped nutrition state: today's entry log
// and totals, the per-day history archive, the profile and its targets.
//
// A Ledger is not safe for concurrent use. Every mutation runs to completion
// and persists the whole state before returning.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pcrpg2df4s-blip/dietweb/internal/kv"
	"github.com/pcrpg2df4s-blip/dietweb/internal/logging"
	"github.com/pcrpg2df4s-blip/dietweb/internal/metrics"
	"github.com/pcrpg2df4s-blip/dietweb/internal/model"
	"github.com/pcrpg2df4s-blip/dietweb/internal/nutrition"
)

// DefaultKeepOnTruncate is how many of the most recent entries survive a
// quota-driven truncation.
const DefaultKeepOnTruncate = 5

// DefaultTargets are shown until onboarding completes.
var DefaultTargets = model.Targets{Calories: 2000, ProteinG: 150, CarbsG: 250, FatG: 70}

// ErrStorageExhausted is returned when the state could not be persisted even
// after truncating old entries. The in-memory state stays valid.
var ErrStorageExhausted = errors.New("ledger: storage exhausted")

// ErrInvalid marks rejected input: bad profiles, entries or duplicate ids.
var ErrInvalid = errors.New("invalid input")

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(log logging.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

func WithKeepOnTruncate(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.keep = n
		}
	}
}

func WithDefaultTargets(t model.Targets) Option {
	return func(l *Ledger) { l.defaults = t }
}

type Ledger struct {
	store    kv.Store
	log      logging.Logger
	now      func() time.Time
	keep     int
	defaults model.Targets
	state    model.LedgerState
}

func New(store kv.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		log:      logging.Nop(),
		now:      time.Now,
		keep:     DefaultKeepOnTruncate,
		defaults: DefaultTargets,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.state = l.fresh(nil)
	return l
}

// Initialize loads the persisted state and rolls it over to today when the
// stored marker is stale. Missing or corrupt data yields a fresh state; only
// storage read failures and ErrStorageExhausted are returned, the latter
// together with a usable state.
func (l *Ledger) Initialize(ctx context.Context) (model.LedgerState, error) {
	state, found, err := l.Load(ctx)
	if err != nil {
		return l.Snapshot(), err
	}
	l.state = state
	if !found {
		l.log.Info(ctx, "no persisted ledger, starting fresh")
	}
	if err := l.Rollover(ctx, l.now()); err != nil {
		return l.Snapshot(), err
	}
	return l.Snapshot(), nil
}

// Snapshot returns a deep copy of the current state.
func (l *Ledger) Snapshot() model.LedgerState {
	return l.state.Clone()
}

// Today is the calendar day the ledger currently considers open.
func (l *Ledger) Today() string {
	return l.state.LastUpdate
}

// SetProfile replaces the profile and recomputes targets from it.
func (l *Ledger) SetProfile(ctx context.Context, p model.Profile) (model.LedgerState, error) {
	now := l.now()
	normalized, err := nutrition.NormalizeProfile(p, now)
	if err != nil {
		metrics.LedgerOperations.WithLabelValues("profile", "invalid").Inc()
		return l.Snapshot(), fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	l.advance(ctx, now)
	l.state.Profile = &normalized
	l.state.Targets = nutrition.ComputeTargets(normalized)
	err = l.Persist(ctx)
	metrics.LedgerOperations.WithLabelValues("profile", metrics.Result(err)).Inc()
	return l.Snapshot(), err
}

// RecordFood validates e, assigns an id and time when absent, appends it to
// today's log and persists.
func (l *Ledger) RecordFood(ctx context.Context, e model.FoodEntry) (model.FoodEntry, error) {
	now := l.now()
	e.Name = strings.TrimSpace(e.Name)
	if err := validateEntry(e); err != nil {
		metrics.LedgerOperations.WithLabelValues("record", "invalid").Inc()
		return model.FoodEntry{}, err
	}
	if e.ConsumedAt.IsZero() {
		e.ConsumedAt = now
	}
	if strings.TrimSpace(e.Source) == "" {
		e.Source = model.SourceManual
	}

	rolled := l.advance(ctx, now)
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return model.FoodEntry{}, errors.Join(fmt.Errorf("generate entry id: %w", err), l.persistIf(ctx, rolled))
		}
		e.ID = id.String()
	} else if l.indexOf(e.ID) >= 0 {
		return model.FoodEntry{}, errors.Join(fmt.Errorf("%w: entry %s already exists", ErrInvalid, e.ID), l.persistIf(ctx, rolled))
	}
	l.state.Entries = append(l.state.Entries, e)
	l.refreshTotals()
	err := l.Persist(ctx)
	metrics.LedgerOperations.WithLabelValues("record", metrics.Result(err)).Inc()
	return e, err
}

// EditFood replaces the values of entry id. Unknown ids are logged and
// ignored. Zero ConsumedAt, empty Thumbnail and empty Source keep the
// existing values.
func (l *Ledger) EditFood(ctx context.Context, id string, values model.FoodEntry) error {
	rolled := l.advance(ctx, l.now())
	idx := l.indexOf(id)
	if idx < 0 {
		l.log.Warn(ctx, "edit of unknown food entry ignored", "id", id)
		metrics.LedgerOperations.WithLabelValues("edit", "missing").Inc()
		return l.persistIf(ctx, rolled)
	}
	values.Name = strings.TrimSpace(values.Name)
	if err := validateEntry(values); err != nil {
		metrics.LedgerOperations.WithLabelValues("edit", "invalid").Inc()
		return errors.Join(err, l.persistIf(ctx, rolled))
	}
	current := l.state.Entries[idx]
	values.ID = current.ID
	if values.ConsumedAt.IsZero() {
		values.ConsumedAt = current.ConsumedAt
	}
	if values.Thumbnail == "" {
		values.Thumbnail = current.Thumbnail
	}
	if strings.TrimSpace(values.Source) == "" {
		values.Source = current.Source
	}
	l.state.Entries[idx] = values
	l.refreshTotals()
	err := l.Persist(ctx)
	metrics.LedgerOperations.WithLabelValues("edit", metrics.Result(err)).Inc()
	return err
}

// DeleteFood removes entry id. Unknown ids are logged and ignored.
func (l *Ledger) DeleteFood(ctx context.Context, id string) error {
	rolled := l.advance(ctx, l.now())
	idx := l.indexOf(id)
	if idx < 0 {
		l.log.Warn(ctx, "delete of unknown food entry ignored", "id", id)
		metrics.LedgerOperations.WithLabelValues("delete", "missing").Inc()
		return l.persistIf(ctx, rolled)
	}
	l.state.Entries = append(l.state.Entries[:idx], l.state.Entries[idx+1:]...)
	l.refreshTotals()
	err := l.Persist(ctx)
	metrics.LedgerOperations.WithLabelValues("delete", metrics.Result(err)).Inc()
	return err
}

// Rollover closes the stored day when it differs from today's date: its
// totals are archived unless history already holds that day, the log and
// totals are reset and the marker moves to today. Calling it again for the
// same day does nothing.
func (l *Ledger) Rollover(ctx context.Context, today time.Time) error {
	if !l.advance(ctx, today) {
		return nil
	}
	err := l.Persist(ctx)
	metrics.LedgerOperations.WithLabelValues("rollover", metrics.Result(err)).Inc()
	return err
}

// Restore replaces the whole state, for imports. The incoming state is
// validated like a persisted record, totals and targets are recomputed, and
// a stale day is rolled over before persisting.
func (l *Ledger) Restore(ctx context.Context, s model.LedgerState) (model.LedgerState, error) {
	next := s.Clone()
	if _, err := time.Parse(model.DateLayout, next.LastUpdate); err != nil {
		return l.Snapshot(), fmt.Errorf("%w: invalid last update date %q", ErrInvalid, next.LastUpdate)
	}
	seen := map[string]bool{}
	for i, e := range next.Entries {
		if strings.TrimSpace(e.ID) == "" || seen[e.ID] {
			return l.Snapshot(), fmt.Errorf("%w: entry %d has a missing or duplicate id", ErrInvalid, i)
		}
		seen[e.ID] = true
		if err := validateEntry(e); err != nil {
			return l.Snapshot(), fmt.Errorf("restore entry %s: %w", e.ID, err)
		}
	}
	for day := range next.History {
		if _, err := time.Parse(model.DateLayout, day); err != nil {
			return l.Snapshot(), fmt.Errorf("%w: invalid history date %q", ErrInvalid, day)
		}
	}
	if next.Profile != nil {
		p, err := nutrition.NormalizeProfile(*next.Profile, l.now())
		if err != nil {
			return l.Snapshot(), fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		next.Profile = &p
		next.Targets = nutrition.ComputeTargets(p)
	} else {
		next.Targets = l.defaults
	}

	l.state = next
	l.refreshTotals()
	l.advance(ctx, l.now())
	err := l.Persist(ctx)
	metrics.LedgerOperations.WithLabelValues("restore", metrics.Result(err)).Inc()
	return l.Snapshot(), err
}

func (l *Ledger) persistIf(ctx context.Context, changed bool) error {
	if !changed {
		return nil
	}
	return l.Persist(ctx)
}

// advance applies the rollover transition in memory and reports whether the
// day changed.
func (l *Ledger) advance(ctx context.Context, today time.Time) bool {
	day := today.Format(model.DateLayout)
	prev := l.state.LastUpdate
	if prev == day {
		return false
	}
	if prev != "" {
		if prev > day {
			l.log.Warn(ctx, "clock moved backwards across a day boundary", "stored", prev, "today", day)
		}
		if _, ok := l.state.History[prev]; !ok {
			l.state.History[prev] = l.state.Today
		}
		metrics.LedgerRollovers.Inc()
		l.log.Info(ctx, "rolled over ledger", "closed", prev, "today", day, "calories", l.state.Today.Calories)
	}
	l.state.Entries = []model.FoodEntry{}
	l.state.Today = model.DayTotals{}
	l.state.LastUpdate = day
	return true
}

// refreshTotals recomputes today's totals from the whole log and mirrors them
// into history under today's key.
func (l *Ledger) refreshTotals() {
	l.state.Today = SumEntries(l.state.Entries)
	if l.state.LastUpdate != "" {
		l.state.History[l.state.LastUpdate] = l.state.Today
	}
}

func (l *Ledger) indexOf(id string) int {
	for i := range l.state.Entries {
		if l.state.Entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *Ledger) fresh(profile *model.Profile) model.LedgerState {
	s := model.LedgerState{
		Profile: profile,
		Targets: l.defaults,
		Entries: []model.FoodEntry{},
		History: map[string]model.DayTotals{},
	}
	if profile != nil {
		s.Targets = nutrition.ComputeTargets(*profile)
	}
	return s
}

func validateEntry(e model.FoodEntry) error {
	if e.Name == "" {
		return fmt.Errorf("%w: entry name is required", ErrInvalid)
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"calories", e.Calories},
		{"protein", e.ProteinG},
		{"carbs", e.CarbsG},
		{"fats", e.FatG},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s must be a finite number", ErrInvalid, f.name)
		}
		if f.value < 0 {
			return fmt.Errorf("%w: %s must be >= 0", ErrInvalid, f.name)
		}
	}
	return nil
}
