package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pcrpg2df4s-blip/dietweb/internal/kv"
	"github.com/pcrpg2df4s-blip/dietweb/internal/metrics"
	"github.com/pcrpg2df4s-blip/dietweb/internal/model"
	"github.com/pcrpg2df4s-blip/dietweb/internal/nutrition"
	"github.com/shopspring/decimal"
)

// Storage keys.
const (
	KeyProfile    = "profile"
	KeyLedger     = "ledger"
	KeyLastUpdate = "lastUpdateDate"
)

// Record is the JSON document stored under KeyLedger. Today is a cache of the
// entry sum and is recomputed on load.
type Record struct {
	Entries []model.FoodEntry          `json:"entries"`
	Today   model.DayTotals            `json:"today"`
	Targets *model.Targets             `json:"targets"`
	History map[string]model.DayTotals `json:"history"`
}

// Persist writes the whole state in one batch. On a quota error it keeps only
// the most recent entries and retries once; if that also fails the profile is
// saved on its own and ErrStorageExhausted is returned without touching the
// in-memory state. The date marker is left as stored so that it keeps
// describing the stored ledger record.
func (l *Ledger) Persist(ctx context.Context) error {
	pairs, err := encodeState(l.state)
	if err != nil {
		return err
	}
	err = l.store.SetMany(ctx, pairs)
	if err == nil {
		return nil
	}
	if !errors.Is(err, kv.ErrQuotaExceeded) {
		return fmt.Errorf("persist ledger: %w", err)
	}

	truncated := l.truncated()
	dropped := len(l.state.Entries) - len(truncated.Entries)
	l.log.Warn(ctx, "storage quota exceeded, truncating food log", "dropped", dropped, "kept", len(truncated.Entries))
	metrics.LedgerTruncations.Inc()

	pairs, err = encodeState(truncated)
	if err != nil {
		return err
	}
	retryErr := l.store.SetMany(ctx, pairs)
	if retryErr == nil {
		l.state = truncated
		return nil
	}

	metrics.LedgerStorageExhausted.Inc()
	if p, ok := pairs[KeyProfile]; ok {
		if err := l.store.SetMany(ctx, map[string]string{KeyProfile: p}); err != nil {
			l.log.Error(ctx, "could not save profile after storage exhaustion", "error", err)
		}
	}
	return fmt.Errorf("persist ledger after truncation: %w", errors.Join(ErrStorageExhausted, retryErr))
}

// truncated returns a copy of the state holding only the most recent entries,
// with totals recomputed.
func (l *Ledger) truncated() model.LedgerState {
	out := l.state.Clone()
	if len(out.Entries) > l.keep {
		out.Entries = out.Entries[len(out.Entries)-l.keep:]
	}
	out.Today = SumEntries(out.Entries)
	if out.LastUpdate != "" {
		out.History[out.LastUpdate] = out.Today
	}
	return out
}

// Load reads the persisted state. found is false when nothing usable is
// stored. Malformed records are logged and discarded rather than returned as
// errors; only storage failures are.
func (l *Ledger) Load(ctx context.Context) (state model.LedgerState, found bool, err error) {
	raw, err := ReadStored(ctx, l.store)
	if err != nil {
		return l.fresh(nil), false, err
	}
	if len(raw) == 0 {
		return l.fresh(nil), false, nil
	}

	var profile *model.Profile
	if v, ok := raw[KeyProfile]; ok {
		p, err := decodeProfile(v)
		if err == nil {
			// Age follows the birthdate, not the day the profile was saved.
			p, err = nutrition.NormalizeProfile(p, l.now())
		}
		if err != nil {
			metrics.LedgerCorruptRecords.Inc()
			l.log.Warn(ctx, "discarding malformed profile record", "error", err)
		} else {
			profile = &p
		}
	}

	if _, ok := raw[KeyLedger]; !ok {
		l.log.Info(ctx, "no ledger record stored, starting a fresh day", "has_profile", profile != nil)
		return l.fresh(profile), profile != nil, nil
	}
	state, err = decodeLedger(raw[KeyLedger], raw[KeyLastUpdate])
	if err != nil {
		metrics.LedgerCorruptRecords.Inc()
		l.log.Warn(ctx, "discarding malformed ledger record", "error", err)
		return l.fresh(profile), profile != nil, nil
	}
	state.Profile = profile
	if profile != nil {
		state.Targets = nutrition.ComputeTargets(*profile)
	}
	return state, true, nil
}

// ReadStored returns the raw persisted values keyed by storage key. Absent
// keys are omitted.
func ReadStored(ctx context.Context, store kv.Store) (map[string]string, error) {
	raw := map[string]string{}
	for _, key := range []string{KeyProfile, KeyLedger, KeyLastUpdate} {
		v, err := store.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		raw[key] = v
	}
	return raw, nil
}

func encodeState(s model.LedgerState) (map[string]string, error) {
	targets := s.Targets
	record := Record{
		Entries: s.Entries,
		Today:   s.Today,
		Targets: &targets,
		History: s.History,
	}
	if record.Entries == nil {
		record.Entries = []model.FoodEntry{}
	}
	if record.History == nil {
		record.History = map[string]model.DayTotals{}
	}
	ledgerJSON, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger record: %w", err)
	}
	pairs := map[string]string{
		KeyLedger:     string(ledgerJSON),
		KeyLastUpdate: s.LastUpdate,
	}
	if s.Profile != nil {
		profileJSON, err := json.Marshal(s.Profile)
		if err != nil {
			return nil, fmt.Errorf("marshal profile: %w", err)
		}
		pairs[KeyProfile] = string(profileJSON)
	}
	return pairs, nil
}

func decodeProfile(raw string) (model.Profile, error) {
	var p model.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("decode profile: %w", err)
	}
	if p.Sex == "" || p.HeightCm <= 0 || p.WeightKg <= 0 || !nutrition.ValidActivity(p.Activity) {
		return p, fmt.Errorf("profile is missing required fields")
	}
	return p, nil
}

func decodeLedger(raw, date string) (model.LedgerState, error) {
	if strings.TrimSpace(raw) == "" {
		return model.LedgerState{}, fmt.Errorf("ledger record is missing")
	}
	date = strings.TrimSpace(date)
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return model.LedgerState{}, fmt.Errorf("invalid last update date %q", date)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return model.LedgerState{}, fmt.Errorf("decode ledger record: %w", err)
	}
	if rec.Targets == nil {
		return model.LedgerState{}, fmt.Errorf("ledger record has no targets")
	}
	seen := map[string]bool{}
	for i, e := range rec.Entries {
		if strings.TrimSpace(e.ID) == "" || seen[e.ID] {
			return model.LedgerState{}, fmt.Errorf("entry %d has a missing or duplicate id", i)
		}
		seen[e.ID] = true
		if err := validateEntry(e); err != nil {
			return model.LedgerState{}, fmt.Errorf("entry %s: %w", e.ID, err)
		}
	}
	for day := range rec.History {
		if _, err := time.Parse(model.DateLayout, day); err != nil {
			return model.LedgerState{}, fmt.Errorf("invalid history date %q", day)
		}
	}

	state := model.LedgerState{
		Targets:    *rec.Targets,
		LastUpdate: date,
		Entries:    rec.Entries,
		History:    rec.History,
	}
	if state.Entries == nil {
		state.Entries = []model.FoodEntry{}
	}
	if state.History == nil {
		state.History = map[string]model.DayTotals{}
	}
	// Stored totals are a cache; the log is authoritative.
	state.Today = SumEntries(state.Entries)
	if _, ok := state.History[date]; ok || len(state.Entries) > 0 {
		state.History[date] = state.Today
	}
	return state, nil
}

// SumEntries totals the log exactly in decimal and converts once at the end.
func SumEntries(entries []model.FoodEntry) model.DayTotals {
	var cal, protein, carbs, fat decimal.Decimal
	for _, e := range entries {
		cal = cal.Add(decimal.NewFromFloat(e.Calories))
		protein = protein.Add(decimal.NewFromFloat(e.ProteinG))
		carbs = carbs.Add(decimal.NewFromFloat(e.CarbsG))
		fat = fat.Add(decimal.NewFromFloat(e.FatG))
	}
	return model.DayTotals{
		Calories: cal.InexactFloat64(),
		ProteinG: protein.InexactFloat64(),
		CarbsG:   carbs.InexactFloat64(),
		FatG:     fat.InexactFloat64(),
	}
}
